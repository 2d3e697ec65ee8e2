// Package browser drives a real Chrome session over the DevTools
// protocol and feeds its traffic into the mining observers. This is
// the live capture source: the user browses, the session watches, and
// everything the page sends or receives passes through the same
// observation interface the tapped HTTP client uses.
package browser

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/tapminer/tapminer/pkg/tap"
)

// PageScanner receives periodic markup snapshots of the live page.
type PageScanner interface {
	ScanPage(page string)
}

// Config configures a capture session.
type Config struct {
	// ChromiumPath overrides the browser binary discovery.
	ChromiumPath string

	// UserDataDir points at an existing profile so the session carries
	// the user's login state.
	UserDataDir string

	// Proxy is an optional proxy server for the browser.
	Proxy string

	// Headless hides the browser window. The default is visible: the
	// user drives the session, the capture only watches.
	Headless bool

	// UserAgent overrides the browser's user agent when non-empty.
	UserAgent string

	// SnapshotInterval controls how often the page markup is scanned.
	// Zero disables snapshots.
	SnapshotInterval time.Duration

	// BodyFetchTimeout bounds each response body retrieval (default 15s).
	BodyFetchTimeout time.Duration

	// Logger may be nil.
	Logger *slog.Logger
}

// responseState correlates the response metadata that arrives before
// the body is retrievable.
type responseState struct {
	url      string
	status   int
	mimeType string
}

// Session captures one browser's traffic.
type Session struct {
	cfg      Config
	log      *slog.Logger
	observer tap.Observer
	scanner  PageScanner

	mu        sync.Mutex
	responses map[network.RequestID]*responseState

	bodyWG sync.WaitGroup
}

// valueOnlyContext carries CDP target values without cancellation, so
// body fetches for already-received responses survive session teardown
// long enough to complete.
type valueOnlyContext struct{ context.Context }

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }

// NewSession creates a capture session feeding observer and scanner.
// scanner may be nil when page snapshots are not wanted.
func NewSession(cfg Config, observer tap.Observer, scanner PageScanner) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BodyFetchTimeout <= 0 {
		cfg.BodyFetchTimeout = 15 * time.Second
	}
	return &Session{
		cfg:       cfg,
		log:       cfg.Logger,
		observer:  observer,
		scanner:   scanner,
		responses: make(map[network.RequestID]*responseState),
	}
}

// Run opens the browser at startURL and captures until ctx is
// cancelled. It blocks for the life of the session.
func (s *Session) Run(ctx context.Context, startURL string) error {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", s.cfg.Headless))
	if s.cfg.ChromiumPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ChromiumPath))
	}
	if s.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(s.cfg.UserDataDir))
	}
	if s.cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(s.cfg.Proxy))
	}
	if s.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	chromedp.ListenTarget(browserCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			s.handleRequest(e)
		case *network.EventResponseReceived:
			s.handleResponseReceived(e)
		case *network.EventLoadingFinished:
			s.handleLoadingFinished(browserCtx, e)
		case *network.EventLoadingFailed:
			s.drop(e.RequestID)
		}
	})

	if err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(startURL),
	); err != nil {
		return err
	}
	s.log.Info("browser capture started", slog.String("url", startURL))

	var snapshots <-chan time.Time
	if s.cfg.SnapshotInterval > 0 && s.scanner != nil {
		ticker := time.NewTicker(s.cfg.SnapshotInterval)
		defer ticker.Stop()
		snapshots = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.waitForBodies()
			return ctx.Err()
		case <-browserCtx.Done():
			s.waitForBodies()
			return browserCtx.Err()
		case <-snapshots:
			s.snapshotPage(browserCtx)
		}
	}
}

// handleRequest forwards request post data to the observer. Requests
// without a body carry no tokens, so they are skipped outright.
func (s *Session) handleRequest(e *network.EventRequestWillBeSent) {
	if !e.Request.HasPostData || len(e.Request.PostDataEntries) == 0 {
		return
	}
	var body []byte
	for _, entry := range e.Request.PostDataEntries {
		body = append(body, decodePostData(entry.Bytes)...)
	}
	s.observer.ObserveRequest(e.Request.Method, e.Request.URL,
		cdpHeaders(e.Request.Headers), body)
}

// decodePostData unwraps one post-data entry. The protocol carries
// entry bytes base64-encoded; anything that does not decode is passed
// through raw.
func decodePostData(data string) []byte {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return []byte(data)
	}
	return decoded
}

func (s *Session) handleResponseReceived(e *network.EventResponseReceived) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[e.RequestID] = &responseState{
		url:      e.Response.URL,
		status:   int(e.Response.Status),
		mimeType: e.Response.MimeType,
	}
}

// handleLoadingFinished retrieves the finished body off the event
// goroutine and forwards it. Non-text responses carry nothing minable.
func (s *Session) handleLoadingFinished(browserCtx context.Context, e *network.EventLoadingFinished) {
	s.mu.Lock()
	state, ok := s.responses[e.RequestID]
	delete(s.responses, e.RequestID)
	s.mu.Unlock()
	if !ok {
		return
	}
	if state.status == http.StatusTooManyRequests {
		s.observer.ObserveResponse(state.url, state.status, nil)
		return
	}
	if !isTextMime(state.mimeType) {
		return
	}

	s.bodyWG.Add(1)
	go func() {
		defer s.bodyWG.Done()
		// Detached context: the body belongs to a response that already
		// happened, so session cancellation must not abort the read.
		ctx, cancel := context.WithTimeout(valueOnlyContext{browserCtx}, s.cfg.BodyFetchTimeout)
		defer cancel()

		body, err := network.GetResponseBody(e.RequestID).Do(ctx)
		if err != nil {
			if browserCtx.Err() == nil {
				s.log.Debug("response body fetch failed",
					slog.String("url", state.url),
					slog.String("error", err.Error()))
			}
			return
		}
		s.observer.ObserveResponse(state.url, state.status, body)
	}()
}

func (s *Session) drop(id network.RequestID) {
	s.mu.Lock()
	delete(s.responses, id)
	s.mu.Unlock()
}

// snapshotPage runs the page-scan extractors over the current markup,
// picking up tokens and identities that never crossed the network
// during this capture window.
func (s *Session) snapshotPage(browserCtx context.Context) {
	var page string
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &page)); err != nil {
		s.log.Debug("page snapshot failed", slog.String("error", err.Error()))
		return
	}
	s.scanner.ScanPage(page)
}

func (s *Session) waitForBodies() {
	done := make(chan struct{})
	go func() {
		s.bodyWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.BodyFetchTimeout):
		s.log.Warn("timed out waiting for pending response bodies")
	}
}

// cdpHeaders converts DevTools headers to http.Header.
func cdpHeaders(h network.Headers) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if str, ok := v.(string); ok {
			out.Set(k, str)
		}
	}
	return out
}

func isTextMime(mimeType string) bool {
	m := strings.ToLower(mimeType)
	return strings.HasPrefix(m, "text/") ||
		strings.Contains(m, "json") ||
		strings.Contains(m, "javascript") ||
		strings.Contains(m, "xml") ||
		strings.Contains(m, "x-www-form-urlencoded")
}
