package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://www.threads.com", cfg.Host.BaseURL)
	assert.Equal(t, "/api/graphql", cfg.Host.ProfilePath)
	assert.Equal(t, 6, cfg.Fetch.PerMinute)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/api/graphql", cfg.Host.ProfilePath)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host:
  base_url: https://staging.example.com
fetch:
  per_minute: 2
  doc_id: "12345"
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://staging.example.com", cfg.Host.BaseURL)
	assert.Equal(t, 2, cfg.Fetch.PerMinute)
	assert.Equal(t, "12345", cfg.Fetch.DocID)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched fields keep their defaults.
	assert.Equal(t, "/api/graphql", cfg.Host.ProfilePath)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch:\n  per_minute: 2\n"), 0o644))

	t.Setenv("TAPMINER_FETCH_PER_MINUTE", "9")
	t.Setenv("TAPMINER_HEADLESS", "true")
	t.Setenv("TAPMINER_BRIDGE_ADDR", "127.0.0.1:9555")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Fetch.PerMinute)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "127.0.0.1:9555", cfg.Bridge.Addr)
}

func TestLoad_IgnoresMalformedEnvValues(t *testing.T) {
	t.Setenv("TAPMINER_FETCH_PER_MINUTE", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Fetch.PerMinute)
}
