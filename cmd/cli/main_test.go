package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tapminer/tapminer/pkg/config"
)

func TestIsResponseBody(t *testing.T) {
	assert.True(t, isResponseBody([]byte(`{"data":{}}`)))
	assert.True(t, isResponseBody([]byte("  \n[1,2,3]")))
	assert.True(t, isResponseBody([]byte(`for (;;);{"data":{}}`)))
	assert.False(t, isResponseBody([]byte("<html><body></body></html>")))
	assert.False(t, isResponseBody([]byte("plain text")))
}

func TestEngineConfigDerivesAbsoluteEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Host.BaseURL = "https://host.example/"

	ec := engineConfig(cfg, newLogger("info"))
	assert.Equal(t, "https://host.example/api/graphql", ec.Fetcher.Endpoint)

	cfg.Fetch.Endpoint = "https://other.example/endpoint"
	ec = engineConfig(cfg, newLogger("info"))
	assert.Equal(t, "https://other.example/endpoint", ec.Fetcher.Endpoint)
}

func TestApplyWatchFlagsOnlySetFlagsWin(t *testing.T) {
	cfg := config.Default()
	cfg.Bridge.Addr = "127.0.0.1:1111"

	flags := flag.NewFlagSet("watch", flag.ContinueOnError)
	flags.Bool("headless", false, "")
	flags.String("chromium", "", "")
	flags.String("bridge", "", "")
	flags.String("store", "", "")
	assert.NoError(t, flags.Parse([]string{"-chromium", "/usr/bin/chromium"}))

	applyWatchFlags(cfg, flags, false)

	assert.Equal(t, "/usr/bin/chromium", cfg.Browser.ChromiumPath)
	// Unset flags leave the file config alone.
	assert.Equal(t, "127.0.0.1:1111", cfg.Bridge.Addr)
}
