package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapminer/tapminer/pkg/dispatch"
)

type captureHook struct {
	mu     sync.Mutex
	events []dispatch.Event
}

func (h *captureHook) OnEvent(_ context.Context, ev dispatch.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *captureHook) EventTypes() []dispatch.EventType { return nil }

func (h *captureHook) ofType(t dispatch.EventType) []dispatch.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []dispatch.Event
	for _, ev := range h.events {
		if ev.EventType() == t {
			out = append(out, ev)
		}
	}
	return out
}

// newTestEngine mounts handler on a test server and returns an engine
// whose tapped client talks to it, plus the server base URL and a hook
// capturing every dispatched event.
func newTestEngine(t *testing.T, handler http.Handler) (*Engine, *http.Client, string, *captureHook) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	eng := New(srv.Client(), Config{})
	hook := &captureHook{}
	eng.Dispatcher().Register(hook)
	return eng, eng.WrapClient(srv.Client()), srv.URL, hook
}

func get(t *testing.T, client *http.Client, rawURL string) {
	t.Helper()
	resp, err := client.Get(rawURL)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func TestEngine_CapturesTokensFromOutgoingForms(t *testing.T) {
	eng, client, base, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
	}))

	_, ok := eng.Tokens()
	assert.False(t, ok, "bag should be empty before any traffic")

	form := url.Values{
		"fb_dtsg": {"token-abc"},
		"lsd":     {"lsd-1"},
		"__user":  {"42"},
	}
	resp, err := client.PostForm(base+"/api/graphql", form)
	require.NoError(t, err)
	resp.Body.Close()

	bag, ok := eng.Tokens()
	require.True(t, ok)
	assert.Equal(t, "token-abc", bag.DTSG)
	assert.Equal(t, "lsd-1", bag.LSD)
	assert.Equal(t, "42", bag.UserID)
}

func TestEngine_IgnoresNonFormRequestBodies(t *testing.T) {
	eng, client, base, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
	}))

	resp, err := client.Post(base+"/upload", "application/json",
		strings.NewReader(`{"fb_dtsg":"not-a-form"}`))
	require.NoError(t, err)
	resp.Body.Close()

	_, ok := eng.Tokens()
	assert.False(t, ok)
}

func TestEngine_MinesIdentitiesFromResponses(t *testing.T) {
	body := `{"data":{"viewer":{"user":{"pk":"9090","username":"mined.handle"}}}}`
	eng, client, base, hook := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))

	get(t, client, base+"/feed")

	id, ok := eng.Lookup("mined.handle")
	require.True(t, ok)
	assert.Equal(t, "9090", id)

	eng.FlushDiscoveries()
	events := hook.ofType(dispatch.EventIdentitiesDiscovered)
	require.Len(t, events, 1)
	pairs := events[0].(*dispatch.IdentitiesEvent).Pairs
	assert.Equal(t, "9090", pairs["mined.handle"])
}

func TestEngine_RouteBulkResponses(t *testing.T) {
	body := `{"payload":{"payloads":{
		"/@dora.explorer?__bulk": {"rootView":{"props":{"user_id":"314159"}}},
		"/settings": {"rootView":{"props":{}}}
	}}}`
	eng, client, base, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))

	get(t, client, base+"/ajax/bulk-route-definitions/?routes=x")

	id, ok := eng.Lookup("dora.explorer")
	require.True(t, ok)
	assert.Equal(t, "314159", id)
}

func TestEngine_PassiveProfileExtraction(t *testing.T) {
	body := `for (;;);{"tree":{"children":[
		{"type":"rich_text","children":[{"type":"text_span","text":"Jane Doe (@jane.doe)"}]},
		{"type":"text","style":"semibold","text":"Name"},
		{"type":"text","style":"normal","text":"Jane Doe"},
		{"type":"text","style":"semibold","text":"Joined"},
		{"type":"text","style":"normal","text":"March 2020"}
	]}}`
	_, client, base, hook := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))

	get(t, client, base+"/api/graphql/")

	events := hook.ofType(dispatch.EventProfileExtracted)
	require.Len(t, events, 1)
	ev := events[0].(*dispatch.ProfileEvent)
	assert.Equal(t, "passive", ev.Source)
	assert.Equal(t, "jane.doe", ev.Profile.Username)
	assert.Equal(t, "March 2020", ev.Profile.Joined)
}

func TestEngine_AnonymousProfileNotEmitted(t *testing.T) {
	// Parseable labels but no handle anywhere in the tree.
	body := `{"tree":{"children":[
		{"type":"text","style":"semibold","text":"Name"},
		{"type":"text","style":"normal","text":"Someone"},
		{"type":"text","style":"semibold","text":"Joined"},
		{"type":"text","style":"normal","text":"March 2020"}
	]}}`
	_, client, base, hook := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))

	get(t, client, base+"/api/graphql/")

	assert.Empty(t, hook.ofType(dispatch.EventProfileExtracted))
}

func TestEngine_RateLimitedResponse(t *testing.T) {
	_, client, base, hook := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	get(t, client, base+"/api/graphql/")

	events := hook.ofType(dispatch.EventRateLimited)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].(*dispatch.RateLimitEvent).URL, "/api/graphql")
}

func TestEngine_ScanPage(t *testing.T) {
	eng := New(nil, Config{})
	page := `<html><script>
		{"DTSGInitialData":{"token":"scanned-dtsg"},"LSD":{"token":"scanned-lsd"}}
		{"pk":"55555","username":"page.person"}
	</script></html>`

	eng.ScanPage(page)

	bag, ok := eng.Tokens()
	require.True(t, ok)
	assert.Equal(t, "scanned-dtsg", bag.DTSG)
	assert.Equal(t, "scanned-lsd", bag.LSD)

	id, ok := eng.Lookup("page.person")
	require.True(t, ok)
	assert.Equal(t, "55555", id)
}

func TestEngine_Preseed(t *testing.T) {
	eng := New(nil, Config{})
	n := eng.Preseed(map[string]string{"cached.user": "777", "bad name!": "1"})
	assert.Equal(t, 1, n)

	id, ok := eng.Lookup("cached.user")
	require.True(t, ok)
	assert.Equal(t, "777", id)

	// Preseed never overwrites an existing entry.
	assert.Equal(t, 0, eng.Preseed(map[string]string{"cached.user": "888"}))
	id, _ = eng.Lookup("cached.user")
	assert.Equal(t, "777", id)
}
