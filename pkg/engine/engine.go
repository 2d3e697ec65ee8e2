// Package engine owns the shared state of the mining system — the
// identity map and the session token bag — and wires the extractors
// around a single observation point. One Engine corresponds to one
// observed session; components receive exactly the capabilities they
// need instead of reaching for ambient globals.
package engine

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tapminer/tapminer/pkg/dispatch"
	"github.com/tapminer/tapminer/pkg/fetcher"
	"github.com/tapminer/tapminer/pkg/httpclient"
	"github.com/tapminer/tapminer/pkg/identity"
	"github.com/tapminer/tapminer/pkg/jsonutil"
	"github.com/tapminer/tapminer/pkg/metrics"
	"github.com/tapminer/tapminer/pkg/profile"
	"github.com/tapminer/tapminer/pkg/session"
	"github.com/tapminer/tapminer/pkg/tap"
)

// Config configures an Engine.
type Config struct {
	// ProfilePath marks response URLs carrying the profile payload.
	ProfilePath string

	// RouteBulkPath marks response URLs carrying bulk route
	// definitions, the high-yield identity source.
	RouteBulkPath string

	// Debounce overrides the discovery broadcast idle window.
	// Zero keeps the 1-second default.
	Debounce time.Duration

	// Fetcher configures the active fetch path.
	Fetcher fetcher.Config

	// Logger may be nil.
	Logger *slog.Logger
}

func (c *Config) withDefaults() {
	if c.ProfilePath == "" {
		c.ProfilePath = "/api/graphql"
	}
	if c.RouteBulkPath == "" {
		c.RouteBulkPath = "/ajax/bulk-route-definitions"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Fetcher.Endpoint == "" {
		c.Fetcher.Endpoint = c.ProfilePath
	}
}

// Engine is the root object of the mining system.
type Engine struct {
	cfg    Config
	log    *slog.Logger
	ids    *identity.Map
	bag    *session.Bag
	miner  *identity.Miner
	tokens *session.Extractor
	disp   *dispatch.Dispatcher
	bcast  *identity.Broadcaster
	fetch  *fetcher.Fetcher
}

// New creates an engine. baseClient issues the active fetches and must
// not be tapped; nil uses the shared default client.
func New(baseClient *http.Client, cfg Config) *Engine {
	cfg.withDefaults()
	if baseClient == nil {
		baseClient = httpclient.Default()
	}

	e := &Engine{
		cfg:  cfg,
		log:  cfg.Logger,
		ids:  identity.NewMap(),
		bag:  session.NewBag(),
		disp: dispatch.New(cfg.Logger),
	}
	e.bcast = identity.NewBroadcasterWithClock(cfg.Debounce, nil, func(pairs map[string]string) {
		e.disp.Dispatch(context.Background(), dispatch.NewIdentitiesEvent(pairs))
	})
	e.miner = identity.NewMiner(e.ids, cfg.Logger, e.bcast.Add)
	e.tokens = session.NewExtractor(e.bag, cfg.Logger)
	e.fetch = fetcher.New(baseClient, e.bag, e.ids, e.disp, cfg.Fetcher, cfg.Logger)
	return e
}

// Dispatcher exposes the event boundary for hook registration.
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.disp }

// WrapClient taps a client so its traffic feeds this engine.
func (e *Engine) WrapClient(client *http.Client) *http.Client {
	return tap.WrapClient(client, e.log, e)
}

// ObserveRequest implements tap.Observer: outgoing form bodies are the
// passive token source.
func (e *Engine) ObserveRequest(_, _ string, header http.Header, body []byte) {
	if len(body) == 0 {
		return
	}
	if mt, _, err := mime.ParseMediaType(header.Get("Content-Type")); err != nil || mt != "application/x-www-form-urlencoded" {
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return
	}
	e.tokens.CaptureFromRequestBody(form)
}

// ObserveResponse implements tap.Observer: every response body is
// mined for identities, and matching URLs additionally feed the
// profile parser and the bulk-route extractor. All failures degrade to
// "nothing discovered this time".
func (e *Engine) ObserveResponse(rawURL string, status int, body []byte) {
	if status == http.StatusTooManyRequests {
		metrics.RateLimitHits.Inc()
		e.disp.Dispatch(context.Background(), dispatch.NewRateLimitEvent(rawURL, ""))
		return
	}
	if len(body) == 0 {
		return
	}
	text := profile.StripGuard(string(body))

	if strings.Contains(rawURL, e.cfg.ProfilePath) {
		e.mineProfile(rawURL, text)
	}

	var tree any
	if err := jsonutil.UnmarshalString(text, &tree); err != nil {
		metrics.ParseFailures.WithLabelValues("response").Inc()
		e.log.Debug("unparseable response body", slog.String("url", rawURL))
		return
	}
	if strings.Contains(rawURL, e.cfg.RouteBulkPath) {
		e.miner.ExtractFromRouteBulk(routePayload(tree))
	}
	e.miner.ExtractFromTree(tree)
}

func (e *Engine) mineProfile(rawURL, text string) {
	rec, err := profile.Parse(text)
	if err != nil {
		metrics.ParseFailures.WithLabelValues("profile").Inc()
		e.log.Debug("profile response unparseable", slog.String("url", rawURL))
		return
	}
	// The passive path only emits records with a confirmed handle.
	if rec.Username == "" {
		return
	}
	metrics.ProfilesExtracted.Inc()
	e.disp.Dispatch(context.Background(), dispatch.NewProfileEvent(*rec, "passive", ""))
}

// routePayload locates the route-key map inside the bulk response,
// which nests under payload/payloads on current deploys but has moved
// before. The root object is the fallback.
func routePayload(tree any) map[string]any {
	root, ok := tree.(map[string]any)
	if !ok {
		return nil
	}
	if payload, ok := root["payload"].(map[string]any); ok {
		if payloads, ok := payload["payloads"].(map[string]any); ok {
			return payloads
		}
	}
	return root
}

// FetchProfile triggers an active fetch for targetID.
func (e *Engine) FetchProfile(ctx context.Context, targetID string) (*profile.Record, error) {
	return e.fetch.FetchProfile(ctx, targetID)
}

// Identities returns a copy of the current identity map.
func (e *Engine) Identities() map[string]string { return e.ids.Snapshot() }

// Lookup resolves a username to its identifier.
func (e *Engine) Lookup(username string) (string, bool) { return e.ids.Get(username) }

// Tokens returns a copy of the current token bag; ok is false before
// the first capture.
func (e *Engine) Tokens() (session.TokenBag, bool) { return e.bag.Get() }

// Preseed adopts persisted pairs for usernames not yet known.
func (e *Engine) Preseed(pairs map[string]string) int { return e.ids.Preseed(pairs) }

// ScanPageTokens runs the token page-scan over page markup.
func (e *Engine) ScanPageTokens(page string) bool { return e.tokens.ScanPage(page) }

// ScanPageIdentities runs the identity page-scan over page markup.
func (e *Engine) ScanPageIdentities(page string) int { return e.miner.ScanPage(page) }

// ScanPage runs both page-scan routines.
func (e *Engine) ScanPage(page string) {
	e.ScanPageTokens(page)
	e.ScanPageIdentities(page)
}

// FlushDiscoveries delivers any pending discovery batch immediately.
// Call at shutdown so the trailing debounce window loses nothing.
func (e *Engine) FlushDiscoveries() { e.bcast.Flush() }
