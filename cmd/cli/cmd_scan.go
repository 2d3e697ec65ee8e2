package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tapminer/tapminer/pkg/config"
	"github.com/tapminer/tapminer/pkg/engine"
	"github.com/tapminer/tapminer/pkg/jsonutil"
	"github.com/tapminer/tapminer/pkg/profile"
	"github.com/tapminer/tapminer/pkg/store"
	"github.com/tapminer/tapminer/pkg/ui"
)

// runScan mines a saved artifact from disk or stdin: page markup goes
// through the page scanner, JSON response bodies through the same
// observation path live traffic takes. Discovered identities print to
// stdout as JSON and merge into the persistent cache.
func runScan() {
	flags := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := flags.String("config", "", "Config file (YAML)")
	filePath := flags.String("file", "-", "Input file, - for stdin")
	sourceURL := flags.String("url", "", "URL the artifact came from (routes JSON to the right extractor)")
	noColor := flags.Bool("no-color", false, "Disable colored output")
	flags.Parse(os.Args[2:])

	ui.SetNoColor(*noColor)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config", err)
	}
	log := newLogger(cfg.LogLevel)

	var data []byte
	if *filePath == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*filePath)
	}
	if err != nil {
		fatal("read input", err)
	}

	eng := engine.New(nil, engineConfig(cfg, log))
	eng.Dispatcher().Register(ui.NewPrinter(nil))

	cache := store.NewIdentityCache(0, cfg.Store.TTL)
	if cfg.Store.Path != "" {
		if err := cache.Load(cfg.Store.Path); err != nil {
			ui.PrintWarning(fmt.Sprintf("identity cache unreadable: %v", err))
		}
		eng.Preseed(cache.Snapshot())
	}
	eng.Dispatcher().Register(cache)

	if isResponseBody(data) {
		eng.ObserveResponse(*sourceURL, 200, data)
	} else {
		eng.ScanPage(string(data))
	}
	eng.FlushDiscoveries()

	if cfg.Store.Path != "" {
		if err := cache.Save(cfg.Store.Path); err != nil {
			ui.PrintWarning(fmt.Sprintf("identity cache not saved: %v", err))
		}
	}

	out, err := jsonutil.MarshalIndent(eng.Identities(), "  ")
	if err != nil {
		fatal("encode", err)
	}
	fmt.Println(string(out))
}

// isResponseBody distinguishes a captured JSON response from page
// markup. Guard-prefixed bodies are always responses; otherwise the
// first non-space byte decides.
func isResponseBody(data []byte) bool {
	text := strings.TrimSpace(string(data))
	if stripped := profile.StripGuard(text); stripped != text {
		return true
	}
	return strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[")
}
