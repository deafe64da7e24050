package waste

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/apex/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads the configuration from a YAML file. Values missing from the
// file keep their DefaultConfig value; environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	ApplyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigOrDefault loads path when it exists and falls back to defaults
// (plus environment overrides) otherwise.
func LoadConfigOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadConfig(path)
		}
		log.Infof("config %s not found, using defaults", path)
	}

	config := DefaultConfig()
	ApplyEnvOverrides(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file into the process
// environment. A missing file is not an error; existing variables win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides applies BINWATCH_*, HTTP_PORT and MQTT_* variables on top of cfg.
func ApplyEnvOverrides(cfg *Config) {
	envString("BINWATCH_MODE", &cfg.Mode)
	envString("BINWATCH_SOURCE_URL", &cfg.Source.URL)
	envString("BINWATCH_CACHE_DIR", &cfg.Cache.Dir)
	envString("MQTT_BROKER", &cfg.MQTT.Broker)
	envString("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	envString("MQTT_USERNAME", &cfg.MQTT.Username)
	envString("MQTT_PASSWORD", &cfg.MQTT.Password)
	envString("MQTT_PUBLISH_PREFIX", &cfg.MQTT.PublishPrefix)

	if v := os.Getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Warnf("ignoring invalid HTTP_PORT %q", v)
		} else {
			cfg.HTTP.Port = port
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks required fields and cross-field constraints.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModeSynthetic:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeLive, ModeSynthetic, c.Mode)
	}
	if c.Mode == ModeLive && c.Source.URL == "" {
		return fmt.Errorf("source.url is required in live mode")
	}
	if c.Source.Timeout < 0 {
		return fmt.Errorf("source.timeout must not be negative")
	}
	if c.Source.MaxRetries < 1 {
		return fmt.Errorf("source.maxRetries must be at least 1")
	}
	if c.Cache.Dir == "" || c.Cache.RawFile == "" || c.Cache.TableFile == "" {
		return fmt.Errorf("cache.dir, cache.rawFile and cache.tableFile are required")
	}

	if len(c.Neighborhoods.Known) == 0 {
		return fmt.Errorf("at least one neighborhood must be defined")
	}
	for _, name := range c.Neighborhoods.RecentlyEmptied {
		if !c.Neighborhoods.IsKnown(name) {
			return fmt.Errorf("neighborhoods.recentlyEmptied: %q is not a known neighborhood", name)
		}
	}
	for _, name := range c.Neighborhoods.NeedsAttention {
		if !c.Neighborhoods.IsKnown(name) {
			return fmt.Errorf("neighborhoods.needsAttention: %q is not a known neighborhood", name)
		}
	}

	g := c.Generator
	if g.MinContainers < 1 || g.MaxContainers < g.MinContainers {
		return fmt.Errorf("generator: need 1 <= minContainers <= maxContainers, got %d..%d", g.MinContainers, g.MaxContainers)
	}
	if g.ComplaintCount < 0 || g.HistoryDays < 0 {
		return fmt.Errorf("generator.complaintCount and generator.historyDays must not be negative")
	}

	if c.Metrics.TTL < 0 {
		return fmt.Errorf("metrics.ttl must not be negative")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	return nil
}
