package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tapminer/tapminer/pkg/config"
	"github.com/tapminer/tapminer/pkg/engine"
	"github.com/tapminer/tapminer/pkg/fetcher"
	"github.com/tapminer/tapminer/pkg/jsonutil"
	"github.com/tapminer/tapminer/pkg/store"
	"github.com/tapminer/tapminer/pkg/ui"
)

// runFetch performs one active profile fetch. Active fetches need
// session tokens, which only come from observed traffic; the -page
// flag lets a saved logged-in page stand in for a live session.
func runFetch() {
	flags := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := flags.String("config", "", "Config file (YAML)")
	targetID := flags.String("id", "", "Numeric target identifier")
	username := flags.String("u", "", "Username to resolve and fetch")
	pagePath := flags.String("page", "", "Saved page carrying session tokens")
	docID := flags.String("doc-id", "", "Override the profile document id")
	timeout := flags.Duration("timeout", 30*time.Second, "Fetch timeout")
	noColor := flags.Bool("no-color", false, "Disable colored output")
	flags.Parse(os.Args[2:])

	ui.SetNoColor(*noColor)

	if *targetID == "" && *username == "" {
		ui.PrintError("one of -id or -u is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if *docID != "" {
		cfg.Fetch.DocID = *docID
	}
	log := newLogger(cfg.LogLevel)

	eng := engine.New(nil, engineConfig(cfg, log))

	cache := store.NewIdentityCache(0, cfg.Store.TTL)
	if cfg.Store.Path != "" {
		if err := cache.Load(cfg.Store.Path); err != nil {
			ui.PrintWarning(fmt.Sprintf("identity cache unreadable: %v", err))
		}
		eng.Preseed(cache.Snapshot())
	}

	if *pagePath != "" {
		page, err := os.ReadFile(*pagePath)
		if err != nil {
			fatal("page file", err)
		}
		eng.ScanPage(string(page))
		if _, ok := eng.Tokens(); !ok {
			ui.PrintWarning("no session tokens found in page; fetch will likely fail")
		}
	}

	id := *targetID
	if id == "" {
		resolved, ok := eng.Lookup(*username)
		if !ok {
			ui.PrintError(fmt.Sprintf("username %q not in the identity cache; run watch or scan first", *username))
			os.Exit(1)
		}
		id = resolved
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rec, err := eng.FetchProfile(ctx, id)
	switch {
	case errors.Is(err, fetcher.ErrNoSession):
		ui.PrintError("no session tokens captured; pass -page or run watch first")
		os.Exit(1)
	case errors.Is(err, fetcher.ErrRateLimited):
		ui.PrintWarning("rate limited; wait before retrying")
		os.Exit(2)
	case err != nil:
		fatal("fetch", err)
	}

	out, err := jsonutil.MarshalIndent(rec, "  ")
	if err != nil {
		fatal("encode", err)
	}
	fmt.Println(string(out))
}
