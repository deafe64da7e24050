package waste

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadConfig_NotExists(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `mode: synthetic
source:
  timeout: 5s
  maxRetries: 2
cache:
  dir: /tmp/binwatch
neighborhoods:
  needsAttention: [Noord]
metrics:
  ttl: 10m
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ModeSynthetic, cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 2, cfg.Source.MaxRetries)
	assert.Equal(t, DefaultSourceURL, cfg.Source.URL, "unset fields keep defaults")
	assert.Equal(t, "/tmp/binwatch", cfg.Cache.Dir)
	assert.Equal(t, "containers.json", cfg.Cache.TableFile)
	assert.Equal(t, []string{"Noord"}, cfg.Neighborhoods.NeedsAttention)
	assert.Equal(t, TierNeedsAttention, cfg.Neighborhoods.Tier("Noord"))
	assert.Equal(t, TierModerate, cfg.Neighborhoods.Tier("Centrum"))
	assert.Equal(t, 10*time.Minute, cfg.Metrics.TTL)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad mode", "mode: demo\n", "mode must be"},
		{"empty url in live mode", "source:\n  url: \"\"\n", "source.url is required"},
		{"zero retries", "source:\n  maxRetries: 0\n", "maxRetries"},
		{"no neighborhoods", "neighborhoods:\n  known: []\n  recentlyEmptied: []\n  needsAttention: []\n", "at least one neighborhood"},
		{"unknown tier member", "neighborhoods:\n  needsAttention: [Atlantis]\n", "Atlantis"},
		{"inverted generator range", "generator:\n  minContainers: 10\n  maxContainers: 5\n", "generator"},
		{"bad port", "http:\n  port: 70000\n", "http.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "mode: [unclosed\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config YAML")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BINWATCH_MODE", "synthetic")
	t.Setenv("BINWATCH_CACHE_DIR", "/var/cache/binwatch")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")

	cfg, err := LoadConfig(writeConfig(t, "mode: live\n"))
	require.NoError(t, err)

	assert.Equal(t, ModeSynthetic, cfg.Mode)
	assert.Equal(t, "/var/cache/binwatch", cfg.Cache.Dir)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-port")
	cfg := DefaultConfig()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, 8080, cfg.HTTP.Port)
}

func TestLoadConfigOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadConfigOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Neighborhoods.Known, cfg.Neighborhoods.Known)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Mode = ModeSynthetic
	cfg.Generator.Seed = 7

	require.NoError(t, SaveConfig(path, cfg))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ModeSynthetic, loaded.Mode)
	assert.Equal(t, int64(7), loaded.Generator.Seed)
	assert.Equal(t, cfg.Metrics.TTL, loaded.Metrics.TTL)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")), "missing file is not an error")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BINWATCH_TEST_DOTENV=loaded\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("BINWATCH_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("BINWATCH_TEST_DOTENV"))
}

func TestNeighborhoodConfig_Bound(t *testing.T) {
	b := testHoods().Bound()
	assert.True(t, b.Min.Lon() < 4.9041 && b.Max.Lon() > 4.9041)
	assert.True(t, b.Min.Lat() < 52.3676 && b.Max.Lat() > 52.3676)
}
