package main

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwv/binwatch/waste"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryBody = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "GLA-0001",
     "geometry": {"type": "Point", "coordinates": [4.8897, 52.3740]},
     "properties": {"fractie_omschrijving": "Glas", "stadsdeel_naam": "Centrum"}},
    {"type": "Feature", "id": "RES-0002",
     "geometry": {"type": "Point", "coordinates": [4.9200, 52.3600]},
     "properties": {"fractie_omschrijving": "Rest", "stadsdeel_naam": "Oost"}}
  ]
}`

// isolateEnv clears the variables that would otherwise leak host settings into a test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_PATH", "BINWATCH_MODE", "BINWATCH_SOURCE_URL", "BINWATCH_CACHE_DIR",
		"HTTP_PORT", "MQTT_BROKER", "MQTT_PUBLISH_PREFIX", "MQTT_CLIENT_ID",
	} {
		t.Setenv(key, "")
	}
}

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// testApp returns an App writing to a buffer with its config loaded from body.
func testApp(t *testing.T, body string) (*App, *bytes.Buffer) {
	t.Helper()
	isolateEnv(t)
	var out bytes.Buffer
	app := NewApp()
	app.out = &out
	app.ConfigFile = writeTestConfig(t, body)
	return app, &out
}

func syntheticConfig(t *testing.T) string {
	return fmt.Sprintf("mode: synthetic\ncache:\n  dir: %s\ngenerator:\n  seed: 7\n", t.TempDir())
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	if app == nil {
		t.Fatal("NewApp returned nil")
		return
	}
	if app.ConfigFile != defaultConfigFile {
		t.Errorf("ConfigFile = %s, want %s", app.ConfigFile, defaultConfigFile)
	}
	if app.out == nil {
		t.Error("output writer should be initialized")
	}
	if app.Session != nil || app.Config != nil {
		t.Error("nothing should be loaded before a run mode starts")
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile:   "test-config.yaml",
		EnvFile:      "test.env",
		Synthetic:    true,
		OutputFile:   "out.svg",
		RenderFormat: "svg",
		MaxRoutes:    3,
		HttpPort:     9090,
		MqttMode:     true,
		HttpMode:     true,
	})

	assert.Equal(t, "test-config.yaml", app.ConfigFile)
	assert.Equal(t, "test.env", app.EnvFile)
	assert.True(t, app.Synthetic)
	assert.Equal(t, "out.svg", app.OutputFile)
	assert.Equal(t, "svg", app.RenderFormat)
	assert.Equal(t, 3, app.MaxRoutes)
	assert.Equal(t, 9090, app.HttpPort)
	assert.True(t, app.MqttMode)
	assert.True(t, app.HttpMode)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	isolateEnv(t)
	app := NewApp()
	app.ConfigFile = filepath.Join(t.TempDir(), "absent.yaml")
	app.Synthetic = true
	app.HttpPort = 9191

	cfg, err := app.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, waste.ModeSynthetic, cfg.Mode)
	assert.Equal(t, 9191, cfg.HTTP.Port)
	assert.Equal(t, waste.DefaultSourceURL, cfg.Source.URL)
	assert.Same(t, cfg, app.Config, "config is loaded once")
}

func TestLoadConfig_ConfigPathEnv(t *testing.T) {
	isolateEnv(t)
	path := writeTestConfig(t, "http:\n  port: 7070\n")
	t.Setenv("CONFIG_PATH", path)

	app := NewApp()
	cfg, err := app.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTP.Port)
}

func TestLoadConfig_ExplicitFlagBeatsConfigPath(t *testing.T) {
	isolateEnv(t)
	t.Setenv("CONFIG_PATH", writeTestConfig(t, "http:\n  port: 7070\n"))

	app := NewApp()
	app.ConfigFile = writeTestConfig(t, "http:\n  port: 6060\n")
	cfg, err := app.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.HTTP.Port)
}

func TestLoadConfig_Invalid(t *testing.T) {
	app, _ := testApp(t, "mode: sometimes\n")
	_, err := app.loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestLoadConfig_DotEnv(t *testing.T) {
	isolateEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("HTTP_PORT=5050\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("HTTP_PORT") })
	os.Unsetenv("HTTP_PORT")

	app := NewApp()
	app.ConfigFile = filepath.Join(t.TempDir(), "absent.yaml")
	app.EnvFile = envFile
	cfg, err := app.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5050, cfg.HTTP.Port)
}

func TestRunFetch_Live(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		w.Write([]byte(registryBody))
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	app, out := testApp(t, fmt.Sprintf("source:\n  url: %s\n  maxRetries: 1\ncache:\n  dir: %s\n", server.URL, cacheDir))

	require.NoError(t, app.RunFetch())

	got := out.String()
	assert.Contains(t, got, "Source:     live")
	assert.Contains(t, got, "Containers: 2 (0 dropped)")
	assert.Contains(t, got, "Areas:      2 (Centrum, Oost)")
	assert.FileExists(t, filepath.Join(cacheDir, "containers.json"))
	assert.FileExists(t, filepath.Join(cacheDir, "containers_raw.geojson"))
}

func TestRunFetch_NoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	app, out := testApp(t, fmt.Sprintf(
		"fallbackToSynthetic: false\nsource:\n  url: %s\n  maxRetries: 1\ncache:\n  dir: %s\n", server.URL, t.TempDir()))

	err := app.RunFetch()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no container data available")
	assert.Contains(t, out.String(), "Source:     none")
	assert.Contains(t, out.String(), "status 503")
}

func TestRunFetch_FallsBackToSynthetic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	app, out := testApp(t, fmt.Sprintf(
		"source:\n  url: %s\n  maxRetries: 1\ncache:\n  dir: %s\ngenerator:\n  seed: 3\n", server.URL, t.TempDir()))

	require.NoError(t, app.RunFetch())
	assert.Contains(t, out.String(), "Source:     synthetic")
	assert.Contains(t, out.String(), "Error:")
}

func TestRunRender(t *testing.T) {
	tests := []struct {
		name   string
		output string
		format string
		check  func(t *testing.T, data []byte)
	}{
		{
			name:   "svg by extension",
			output: "routes.svg",
			check: func(t *testing.T, data []byte) {
				assert.Contains(t, string(data), "<svg")
			},
		},
		{
			name:   "png by flag",
			output: "routes.out",
			format: "PNG",
			check: func(t *testing.T, data []byte) {
				_, err := png.Decode(bytes.NewReader(data))
				assert.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, out := testApp(t, syntheticConfig(t))
			app.OutputFile = filepath.Join(t.TempDir(), tt.output)
			app.RenderFormat = tt.format
			app.MaxRoutes = 3

			require.NoError(t, app.RunRender())

			data, err := os.ReadFile(app.OutputFile)
			require.NoError(t, err)
			tt.check(t, data)
			assert.Contains(t, out.String(), "(synthetic data) to "+app.OutputFile)
		})
	}
}

func TestRunRender_BadFormat(t *testing.T) {
	app, _ := testApp(t, syntheticConfig(t))
	app.OutputFile = filepath.Join(t.TempDir(), "routes.gif")
	app.RenderFormat = "gif"

	err := app.RunRender()
	require.Error(t, err)
	assert.NoFileExists(t, app.OutputFile)
}

func TestRenderFormat(t *testing.T) {
	tests := []struct {
		format, output, want string
		wantErr              bool
	}{
		{"", "map.svg", "svg", false},
		{"", "map.SVG", "svg", false},
		{"", "map.png", "png", false},
		{"", "", "png", false},
		{" svg ", "map.png", "svg", false},
		{"raster", "map.png", "", true},
	}
	for _, tt := range tests {
		got, err := renderFormat(tt.format, tt.output)
		if tt.wantErr {
			assert.Error(t, err, "renderFormat(%q, %q)", tt.format, tt.output)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got, "renderFormat(%q, %q)", tt.format, tt.output)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	app, out := testApp(t, syntheticConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.serve(ctx))

	got := out.String()
	assert.Contains(t, got, "Service Running")
	assert.Contains(t, got, "Service stopped")
	require.NotNil(t, app.Session)
	assert.Equal(t, waste.SourceSynthetic, app.Session.Status().Source)
}

func TestServe_MQTTWithoutBroker(t *testing.T) {
	app, _ := testApp(t, syntheticConfig(t))
	app.MqttMode = true

	err := app.serve(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "MQTT broker not configured"))
}

func TestHandleRefreshRequest(t *testing.T) {
	app, _ := testApp(t, syntheticConfig(t))

	// before the session exists the request is dropped
	app.handleRefreshRequest(true)

	s, err := app.session()
	require.NoError(t, err)
	app.handleRefreshRequest(false)
	assert.Equal(t, waste.SourceSynthetic, s.Status().Source)
}

func TestSession_UsesPublisher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(registryBody))
	}))
	defer server.Close()

	app, _ := testApp(t, fmt.Sprintf("source:\n  url: %s\n  maxRetries: 1\ncache:\n  dir: %s\n", server.URL, t.TempDir()))
	client := waste.NewMockClient()
	client.SetConnected(true)
	app.Publisher = waste.NewPublisher(client, "city")

	require.NoError(t, app.RunFetch())
	assert.Len(t, client.MessagesOn("city/refresh"), 1)
}
