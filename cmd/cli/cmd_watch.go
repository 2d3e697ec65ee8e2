package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tapminer/tapminer/pkg/bridge"
	"github.com/tapminer/tapminer/pkg/browser"
	"github.com/tapminer/tapminer/pkg/config"
	"github.com/tapminer/tapminer/pkg/dispatch"
	"github.com/tapminer/tapminer/pkg/engine"
	"github.com/tapminer/tapminer/pkg/fetcher"
	"github.com/tapminer/tapminer/pkg/store"
	"github.com/tapminer/tapminer/pkg/ui"
)

// runWatch opens a browser, taps its traffic, and mines everything the
// user's session produces until interrupted.
func runWatch() {
	flags := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := flags.String("config", "", "Config file (YAML)")
	startURL := flags.String("url", "", "Start URL (default: configured host)")
	headless := flags.Bool("headless", false, "Run the browser headless")
	flags.String("chromium", "", "Chromium binary path")
	flags.String("profile-dir", "", "Browser profile directory (carries login state)")
	flags.String("proxy", "", "Proxy server for the browser")
	flags.String("store", "", "Identity cache file (default: configured store path)")
	flags.String("bridge", "", "Websocket bridge listen address, e.g. 127.0.0.1:8765")
	flags.String("metrics", "", "Prometheus metrics listen address")
	otlpEndpoint := flags.String("otlp", "", "OTLP trace collector endpoint")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	silent := flags.Bool("silent", false, "Suppress banner and live output")
	noColor := flags.Bool("no-color", false, "Disable colored output")
	flags.Parse(os.Args[2:])

	ui.SetSilent(*silent)
	ui.SetNoColor(*noColor)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config", err)
	}
	applyWatchFlags(cfg, flags, *headless)

	log := newLogger(cfg.LogLevel)

	ui.PrintBanner()
	ui.PrintConfigBanner(map[string]string{
		"Host":            cfg.Host.BaseURL,
		"Profile Path":    cfg.Host.ProfilePath,
		"Bulk Route Path": cfg.Host.RouteBulkPath,
		"Fetch Rate":      fmt.Sprintf("%d/min", cfg.Fetch.PerMinute),
		"Chromium":        cfg.Browser.ChromiumPath,
		"Proxy":           cfg.Browser.Proxy,
		"Bridge":          cfg.Bridge.Addr,
		"Metrics":         cfg.Metrics.Addr,
		"Store":           cfg.Store.Path,
	})

	eng := engine.New(nil, engineConfig(cfg, log))

	// Console output and persistence hang off the event boundary.
	// Silent runs swap the pretty printer for structured log lines.
	if *silent {
		eng.Dispatcher().Register(dispatch.NewLoggerHook(log))
	} else {
		eng.Dispatcher().Register(ui.NewPrinter(nil))
	}

	cache := store.NewIdentityCache(0, cfg.Store.TTL)
	if cfg.Store.Path != "" {
		if err := cache.Load(cfg.Store.Path); err != nil {
			ui.PrintWarning(fmt.Sprintf("identity cache unreadable: %v", err))
		}
		if n := eng.Preseed(cache.Snapshot()); n > 0 {
			ui.PrintInfo(fmt.Sprintf("pre-seeded %d cached identities", n))
		}
	}
	eng.Dispatcher().Register(cache)

	var bridgeSrv *bridge.Server
	var bridgeHTTP *http.Server
	if cfg.Bridge.Addr != "" {
		bridgeSrv = bridge.NewServer(eng, log)
		eng.Dispatcher().Register(bridgeSrv)
		bridgeHTTP = &http.Server{Addr: cfg.Bridge.Addr, Handler: bridgeSrv}
		go func() {
			if err := bridgeHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				ui.PrintError(fmt.Sprintf("bridge listener: %v", err))
			}
		}()
		ui.PrintInfo("bridge listening on " + cfg.Bridge.Addr)
	}

	var metricsHTTP *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsHTTP = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				ui.PrintError(fmt.Sprintf("metrics listener: %v", err))
			}
		}()
	}

	var otelHook *dispatch.OTelHook
	if *otlpEndpoint != "" || cfg.OTLP.Endpoint != "" {
		endpoint := cfg.OTLP.Endpoint
		if *otlpEndpoint != "" {
			endpoint = *otlpEndpoint
		}
		otelHook, err = dispatch.NewOTelHook(dispatch.OTelOptions{
			Endpoint: endpoint,
			Insecure: cfg.OTLP.Insecure,
		})
		if err != nil {
			ui.PrintWarning(fmt.Sprintf("tracing disabled: %v", err))
		} else {
			eng.Dispatcher().Register(otelHook)
			ui.PrintInfo("exporting traces to " + otelHook.Endpoint())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := browser.NewSession(browser.Config{
		ChromiumPath:     cfg.Browser.ChromiumPath,
		UserDataDir:      cfg.Browser.UserDataDir,
		Proxy:            cfg.Browser.Proxy,
		Headless:         cfg.Browser.Headless,
		UserAgent:        cfg.Fetch.UserAgent,
		SnapshotInterval: cfg.Browser.SnapshotInterval,
		Logger:           log,
	}, eng, eng)

	target := cfg.Host.BaseURL
	if *startURL != "" {
		target = *startURL
	}
	ui.PrintInfo("opening " + target)

	runErr := session.Run(ctx, target)

	// Orderly teardown: pending discoveries first, then persistence,
	// then the listeners.
	eng.FlushDiscoveries()
	if cfg.Store.Path != "" {
		if err := cache.Save(cfg.Store.Path); err != nil {
			ui.PrintWarning(fmt.Sprintf("identity cache not saved: %v", err))
		} else {
			ui.PrintSuccess(fmt.Sprintf("saved %d identities to %s", cache.Len(), cfg.Store.Path))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if bridgeHTTP != nil {
		bridgeSrv.Close()
		bridgeHTTP.Shutdown(shutdownCtx)
	}
	if metricsHTTP != nil {
		metricsHTTP.Shutdown(shutdownCtx)
	}
	if otelHook != nil {
		otelHook.Close()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fatal("capture session", runErr)
	}
}

// applyWatchFlags folds watch's flag overrides into the loaded config.
// Only flags the user actually set win over the file.
func applyWatchFlags(cfg *config.Config, flags *flag.FlagSet, headless bool) {
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "headless":
			cfg.Browser.Headless = headless
		case "chromium":
			cfg.Browser.ChromiumPath = f.Value.String()
		case "profile-dir":
			cfg.Browser.UserDataDir = f.Value.String()
		case "proxy":
			cfg.Browser.Proxy = f.Value.String()
		case "store":
			cfg.Store.Path = f.Value.String()
		case "bridge":
			cfg.Bridge.Addr = f.Value.String()
		case "metrics":
			cfg.Metrics.Addr = f.Value.String()
		case "log-level":
			cfg.LogLevel = f.Value.String()
		}
	})
}

// engineConfig maps the file config onto the engine's own config. The
// active-fetch endpoint becomes absolute here; inside the engine it is
// host-relative.
func engineConfig(cfg *config.Config, log *slog.Logger) engine.Config {
	endpoint := cfg.Fetch.Endpoint
	if endpoint == "" {
		endpoint = strings.TrimSuffix(cfg.Host.BaseURL, "/") + cfg.Host.ProfilePath
	}
	return engine.Config{
		ProfilePath:   cfg.Host.ProfilePath,
		RouteBulkPath: cfg.Host.RouteBulkPath,
		Fetcher: fetcher.Config{
			Endpoint:  endpoint,
			DocID:     cfg.Fetch.DocID,
			UserAgent: cfg.Fetch.UserAgent,
			PerMinute: cfg.Fetch.PerMinute,
		},
		Logger: log,
	}
}
