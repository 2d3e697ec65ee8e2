// Package tap wraps an http.RoundTripper so every outbound request and
// its response body pass through observation hooks before and after
// reaching the application. Observation is strictly additive: the
// request is forwarded untouched, the consumer still reads the full
// response body, and no observer failure ever escapes to the caller.
package tap

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spaolacci/murmur3"

	"github.com/tapminer/tapminer/pkg/iohelper"
	"github.com/tapminer/tapminer/pkg/metrics"
)

// Observer receives observation callbacks. Implementations must treat
// the byte slices as read-only; they are shared with other observers.
type Observer interface {
	// ObserveRequest is invoked before the request is sent. body is
	// the outgoing body, possibly nil.
	ObserveRequest(method, url string, header http.Header, body []byte)

	// ObserveResponse is invoked after the response arrives with the
	// complete body.
	ObserveResponse(url string, status int, body []byte)
}

// dedupeSize bounds how many response fingerprints are remembered.
const dedupeSize = 1024

// Transport is the observing RoundTripper.
type Transport struct {
	base      http.RoundTripper
	observers []Observer
	log       *slog.Logger
	maxBody   int64
	seen      *lru.Cache[uint64, struct{}]
}

// New wraps base with observation. A nil base falls back to
// http.DefaultTransport; logger may be nil.
func New(base http.RoundTripper, logger *slog.Logger, observers ...Observer) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	seen, _ := lru.New[uint64, struct{}](dedupeSize)
	return &Transport{
		base:      base,
		observers: observers,
		log:       logger,
		maxBody:   iohelper.DefaultMaxBodySize,
		seen:      seen,
	}
}

// WrapClient returns a copy of client whose transport observes
// traffic. The original client is untouched.
func WrapClient(client *http.Client, logger *slog.Logger, observers ...Observer) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &http.Client{
		Transport:     New(client.Transport, logger, observers...),
		CheckRedirect: client.CheckRedirect,
		Jar:           client.Jar,
		Timeout:       client.Timeout,
	}
}

// RoundTrip implements http.RoundTripper. All arguments are forwarded
// unchanged; the response identity seen by the caller is preserved
// except for the body reader, which is replaced by an equivalent one
// after a single buffered read.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqBody := t.snapshotRequestBody(req)
	t.notifyRequest(req.Method, req.URL.String(), req.Header.Clone(), reqBody)

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}

	body, complete := t.siphonResponseBody(resp)
	if complete && !t.alreadySeen(req.URL.Path, body) {
		metrics.ResponsesObserved.Inc()
		t.notifyResponse(req.URL.String(), resp.StatusCode, body)
	}
	return resp, nil
}

// snapshotRequestBody captures the outgoing body without consuming it.
// GetBody gives a fresh reader when available; otherwise the body is
// buffered and restored. Only form-sized bodies are observed, but the
// forwarded request always carries the complete body either way.
func (t *Transport) snapshotRequestBody(req *http.Request) []byte {
	if req.Body == nil {
		return nil
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil
		}
		defer rc.Close()
		data, err := iohelper.ReadBody(rc, iohelper.SmallMaxBodySize+1)
		if err != nil {
			return nil
		}
		// Oversized bodies are skipped entirely rather than observed
		// truncated; a token cut mid-value must never enter the bag.
		if int64(len(data)) > iohelper.SmallMaxBodySize {
			return nil
		}
		return data
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		// Forward what was read plus the original error so the base
		// transport surfaces it instead of us.
		req.Body = io.NopCloser(&erroredReader{data: data, err: err})
		return nil
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	if int64(len(data)) > iohelper.SmallMaxBodySize {
		return nil
	}
	return data
}

// siphonResponseBody reads the body once and hands the consumer an
// equivalent reader. Bodies exceeding the observation limit are passed
// through unobserved: the consumer sees a stitched reader carrying the
// prefix already read plus the live remainder.
func (t *Transport) siphonResponseBody(resp *http.Response) ([]byte, bool) {
	if resp.Body == nil {
		return nil, false
	}
	buf, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		resp.Body.Close()
		resp.Body = io.NopCloser(&erroredReader{data: buf, err: err})
		return nil, false
	}
	if int64(len(buf)) > t.maxBody {
		resp.Body = &stitchedBody{
			Reader: io.MultiReader(bytes.NewReader(buf), resp.Body),
			closer: resp.Body,
		}
		return nil, false
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, true
}

// alreadySeen fingerprints path+body and reports whether an identical
// payload was observed recently. SPAs re-fetch identical payloads in
// bursts; re-mining them is wasted work.
func (t *Transport) alreadySeen(path string, body []byte) bool {
	if len(body) == 0 {
		return false
	}
	h := murmur3.New64()
	_, _ = h.Write([]byte(path))
	_, _ = h.Write(body)
	key := h.Sum64()
	if _, ok := t.seen.Get(key); ok {
		return true
	}
	t.seen.Add(key, struct{}{})
	return false
}

func (t *Transport) notifyRequest(method, url string, header http.Header, body []byte) {
	for _, o := range t.observers {
		t.safely(func() { o.ObserveRequest(method, url, header, body) })
	}
}

func (t *Transport) notifyResponse(url string, status int, body []byte) {
	for _, o := range t.observers {
		t.safely(func() { o.ObserveResponse(url, status, body) })
	}
}

// safely keeps observer failures inside the tap boundary.
func (t *Transport) safely(f func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("traffic observer panicked", slog.Any("panic", r))
		}
	}()
	f()
}

// erroredReader replays buffered data, then the original read error.
type erroredReader struct {
	data []byte
	err  error
}

func (r *erroredReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

// stitchedBody joins a buffered prefix with the live remainder while
// keeping the original closer.
type stitchedBody struct {
	io.Reader
	closer io.Closer
}

func (s *stitchedBody) Close() error { return s.closer.Close() }
