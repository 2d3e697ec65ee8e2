package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/tapminer/tapminer/pkg/profile"
)

func testOTelOptions() OTelOptions {
	return OTelOptions{
		Endpoint:          "localhost:4317",
		Insecure:          true,
		ShutdownTimeout:   100 * time.Millisecond,
		ConnectionTimeout: 100 * time.Millisecond,
	}
}

// skipIfNoOTLPCollector skips the test if no OTLP collector is
// listening, so the suite passes without infrastructure.
func skipIfNoOTLPCollector(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "localhost:4317", 100*time.Millisecond)
	if err != nil {
		t.Skipf("Skipping: no OTLP collector at localhost:4317: %v", err)
	}
	conn.Close()
}

func TestOTelHook_NewWithDefaults(t *testing.T) {
	skipIfNoOTLPCollector(t)

	hook, err := NewOTelHook(testOTelOptions())
	if err != nil {
		t.Fatalf("NewOTelHook failed: %v", err)
	}
	defer hook.Close()

	if hook.Endpoint() != "localhost:4317" {
		t.Errorf("expected endpoint 'localhost:4317', got %q", hook.Endpoint())
	}
}

func TestOTelHook_RecordsSessionEvents(t *testing.T) {
	skipIfNoOTLPCollector(t)

	hook, err := NewOTelHook(testOTelOptions())
	if err != nil {
		t.Fatalf("NewOTelHook failed: %v", err)
	}
	defer hook.Close()

	ctx := context.Background()
	events := []Event{
		NewIdentitiesEvent(map[string]string{"jane.doe": "1234"}),
		NewProfileEvent(profile.Record{Username: "jane.doe"}, "passive", ""),
		NewRateLimitEvent("https://example.com/api/graphql", "1234"),
	}
	for _, ev := range events {
		if err := hook.OnEvent(ctx, ev); err != nil {
			t.Errorf("OnEvent(%s) failed: %v", ev.EventType(), err)
		}
	}
}

func TestOTelHook_IgnoresEventsAfterClose(t *testing.T) {
	skipIfNoOTLPCollector(t)

	hook, err := NewOTelHook(testOTelOptions())
	if err != nil {
		t.Fatalf("NewOTelHook failed: %v", err)
	}
	if err := hook.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err = hook.OnEvent(context.Background(), NewRateLimitEvent("u", ""))
	if err != nil {
		t.Errorf("expected no error after close, got: %v", err)
	}
}

func TestOTelHook_CloseIsIdempotent(t *testing.T) {
	skipIfNoOTLPCollector(t)

	hook, err := NewOTelHook(testOTelOptions())
	if err != nil {
		t.Fatalf("NewOTelHook failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := hook.Close(); err != nil {
			t.Errorf("Close %d failed: %v", i, err)
		}
	}
}
