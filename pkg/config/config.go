// Package config loads the tool configuration from an optional YAML
// file with environment overrides. Every field has a working default;
// a missing config file is not an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full tool configuration.
type Config struct {
	// Host names the traffic shapes of the observed service.
	Host HostConfig `yaml:"host"`

	// Fetch configures the active profile fetcher.
	Fetch FetchConfig `yaml:"fetch"`

	// Browser configures the live capture session.
	Browser BrowserConfig `yaml:"browser"`

	// Bridge is the websocket listen address; empty disables it.
	Bridge ListenConfig `yaml:"bridge"`

	// Metrics is the Prometheus listen address; empty disables it.
	Metrics ListenConfig `yaml:"metrics"`

	// OTLP configures trace export; empty endpoint disables it.
	OTLP OTLPConfig `yaml:"otlp"`

	// Store configures identity cache persistence.
	Store StoreConfig `yaml:"store"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level"`
}

// HostConfig holds the observed service's URL shapes.
type HostConfig struct {
	BaseURL       string `yaml:"base_url"`
	ProfilePath   string `yaml:"profile_path"`
	RouteBulkPath string `yaml:"route_bulk_path"`
}

// FetchConfig holds the active fetch parameters.
type FetchConfig struct {
	Endpoint  string `yaml:"endpoint"`
	DocID     string `yaml:"doc_id"`
	UserAgent string `yaml:"user_agent"`
	PerMinute int    `yaml:"per_minute"`
}

// BrowserConfig holds the live capture parameters.
type BrowserConfig struct {
	ChromiumPath     string        `yaml:"chromium_path"`
	UserDataDir      string        `yaml:"user_data_dir"`
	Proxy            string        `yaml:"proxy"`
	Headless         bool          `yaml:"headless"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// ListenConfig holds one optional listener.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// OTLPConfig holds the trace exporter parameters.
type OTLPConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// StoreConfig holds cache persistence parameters.
type StoreConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			BaseURL:       "https://www.threads.com",
			ProfilePath:   "/api/graphql",
			RouteBulkPath: "/ajax/bulk-route-definitions",
		},
		Fetch: FetchConfig{
			PerMinute: 6,
		},
		Browser: BrowserConfig{
			SnapshotInterval: 30 * time.Second,
		},
		Store: StoreConfig{
			TTL: 24 * time.Hour,
		},
		OTLP: OTLPConfig{
			Insecure: true,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or absent), then environment overrides.
// A .env file in the working directory is honored first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No config file is the common case.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays TAPMINER_* environment variables. Only the knobs
// that change between deployments get a variable.
func (c *Config) applyEnv() {
	setString(&c.Host.BaseURL, "TAPMINER_BASE_URL")
	setString(&c.Fetch.DocID, "TAPMINER_DOC_ID")
	setString(&c.Fetch.UserAgent, "TAPMINER_USER_AGENT")
	setInt(&c.Fetch.PerMinute, "TAPMINER_FETCH_PER_MINUTE")
	setString(&c.Browser.ChromiumPath, "TAPMINER_CHROMIUM_PATH")
	setString(&c.Browser.UserDataDir, "TAPMINER_USER_DATA_DIR")
	setString(&c.Browser.Proxy, "TAPMINER_PROXY")
	setBool(&c.Browser.Headless, "TAPMINER_HEADLESS")
	setString(&c.Bridge.Addr, "TAPMINER_BRIDGE_ADDR")
	setString(&c.Metrics.Addr, "TAPMINER_METRICS_ADDR")
	setString(&c.OTLP.Endpoint, "TAPMINER_OTLP_ENDPOINT")
	setString(&c.Store.Path, "TAPMINER_STORE_PATH")
	setString(&c.LogLevel, "TAPMINER_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
