package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tapminer/tapminer/pkg/config"
	"github.com/tapminer/tapminer/pkg/jsonutil"
	"github.com/tapminer/tapminer/pkg/store"
	"github.com/tapminer/tapminer/pkg/ui"
)

// runLookup resolves usernames against the persisted identity cache
// without opening a browser.
func runLookup() {
	flags := flag.NewFlagSet("lookup", flag.ExitOnError)
	configPath := flags.String("config", "", "Config file (YAML)")
	username := flags.String("u", "", "Username to resolve")
	all := flags.Bool("all", false, "Dump every cached pair as JSON")
	flags.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if cfg.Store.Path == "" {
		ui.PrintError("no identity cache configured; set store.path")
		os.Exit(1)
	}

	cache := store.NewIdentityCache(0, cfg.Store.TTL)
	if err := cache.Load(cfg.Store.Path); err != nil {
		fatal("identity cache", err)
	}

	if *all {
		out, err := jsonutil.MarshalIndent(cache.Snapshot(), "  ")
		if err != nil {
			fatal("encode", err)
		}
		fmt.Println(string(out))
		return
	}

	if *username == "" {
		ui.PrintError("-u is required (or -all)")
		os.Exit(1)
	}
	id, ok := cache.Get(*username)
	if !ok {
		ui.PrintError(fmt.Sprintf("%q not found among %d cached identities", *username, cache.Len()))
		os.Exit(1)
	}
	fmt.Println(id)
}
