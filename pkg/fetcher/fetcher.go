// Package fetcher proactively requests profile data for a target
// identifier, reproducing the ambient request context captured from
// organic traffic. It uses the unwrapped HTTP client so its own
// synthetic traffic is never re-observed by the tap.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tapminer/tapminer/pkg/dispatch"
	"github.com/tapminer/tapminer/pkg/identity"
	"github.com/tapminer/tapminer/pkg/iohelper"
	"github.com/tapminer/tapminer/pkg/metrics"
	"github.com/tapminer/tapminer/pkg/profile"
	"github.com/tapminer/tapminer/pkg/session"
)

var (
	// ErrNoSession means no token bag has been captured yet. The
	// recovery is to observe organic traffic first, not to retry.
	ErrNoSession = errors.New("no session tokens captured yet")

	// ErrRateLimited is the distinguished 429 outcome. Callers must
	// back off; an immediate retry will fail again.
	ErrRateLimited = errors.New("rate limited by host service")

	// ErrEmptyProfile means the response parsed but yielded nothing
	// worth emitting.
	ErrEmptyProfile = errors.New("profile response carried no extractable fields")
)

// Config configures the fetcher.
type Config struct {
	// Endpoint is the internal profile endpoint, the same one the
	// passive parser consumes.
	Endpoint string

	// DocID selects the "about this profile" document on the endpoint.
	DocID string

	// UserAgent is sent on synthetic requests so they blend in with
	// the organic ones.
	UserAgent string

	// PerMinute caps synthetic requests per minute (default: 6).
	PerMinute int
}

// Fetcher issues active profile fetches.
type Fetcher struct {
	client  *http.Client
	bag     *session.Bag
	ids     *identity.Map
	disp    *dispatch.Dispatcher
	limiter *rate.Limiter
	tracer  trace.Tracer
	log     *slog.Logger
	cfg     Config
}

// New creates a fetcher. client must be the plain (untapped) client.
// logger may be nil.
func New(client *http.Client, bag *session.Bag, ids *identity.Map, disp *dispatch.Dispatcher, cfg Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 6
	}
	if cfg.DocID == "" {
		cfg.DocID = "23996318473300828"
	}
	return &Fetcher{
		client:  client,
		bag:     bag,
		ids:     ids,
		disp:    disp,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), 1),
		tracer:  otel.Tracer("tapminer/fetcher"),
		log:     logger,
		cfg:     cfg,
	}
}

// FetchProfile requests profile data for targetID and emits the
// resulting record. No retries at this layer: rate limiting, network
// errors, and parse failures are each surfaced exactly once.
func (f *Fetcher) FetchProfile(ctx context.Context, targetID string) (*profile.Record, error) {
	bag, ok := f.bag.Get()
	if !ok {
		f.log.Warn("active fetch skipped: no session tokens; observe organic traffic first")
		return nil, ErrNoSession
	}

	ctx, span := f.tracer.Start(ctx, "fetch_profile",
		trace.WithAttributes(attribute.String("target.id", targetID)))
	defer span.End()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := bag.FormValues()
	form.Set("doc_id", f.cfg.DocID)
	form.Set("variables", `{"userID":"`+targetID+`"}`)
	// Fresh per-request nonce and request-scoped session identifier.
	form.Set("client_mutation_id", uuid.NewString())
	form.Set("session_id", requestSessionID())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if bag.LSD != "" {
		req.Header.Set("X-FB-LSD", bag.LSD)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		f.log.Warn("active fetch failed", slog.String("error", err.Error()))
		return nil, err
	}
	defer iohelper.DrainAndClose(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		// Distinguished outcome: no body parse, dedicated event.
		metrics.RateLimitHits.Inc()
		span.SetStatus(codes.Error, "rate limited")
		f.disp.Dispatch(ctx, dispatch.NewRateLimitEvent(f.cfg.Endpoint, targetID))
		return nil, ErrRateLimited
	}

	body, err := iohelper.ReadBodyDefault(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	rec, err := profile.Parse(string(body))
	if err != nil {
		metrics.ParseFailures.WithLabelValues("fetch").Inc()
		span.RecordError(err)
		f.log.Warn("profile response unparseable", slog.String("target", targetID))
		return nil, err
	}

	if rec.Username == "" {
		if name, ok := f.ids.ReverseLookup(targetID); ok {
			rec.Username = name
		}
	}
	if rec.Empty() {
		f.log.Warn("profile extraction yielded nothing", slog.String("target", targetID))
		return nil, ErrEmptyProfile
	}
	if rec.Username == "" {
		// Joined/location are useful even without a confirmed handle.
		rec.Username = "user" + targetID
		rec.IDOnly = true
	} else {
		f.ids.Add(rec.Username, targetID)
	}

	metrics.ProfilesExtracted.Inc()
	f.disp.Dispatch(ctx, dispatch.NewProfileEvent(*rec, "fetch", targetID))
	return rec, nil
}

// requestSessionID builds the short triplet-form session identifier
// the host expects, from random material.
func requestSessionID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[0:6] + ":" + raw[6:12] + ":" + raw[12:18]
}
