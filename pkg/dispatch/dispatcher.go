package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// Hook consumes events. Hooks are never allowed to fail the producer:
// errors are logged and swallowed, matching the engine's rule that no
// consumer may disturb the observation path.
type Hook interface {
	// OnEvent is called for each matching event.
	OnEvent(ctx context.Context, event Event) error

	// EventTypes returns the event types this hook handles.
	// Nil or empty means all events.
	EventTypes() []EventType
}

// Dispatcher fans events out to registered hooks. Safe for concurrent
// use.
type Dispatcher struct {
	mu    sync.RWMutex
	hooks []Hook
	log   *slog.Logger
}

// New creates an empty dispatcher. logger may be nil.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{log: logger}
}

// Register adds a hook.
func (d *Dispatcher) Register(h Hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, h)
}

// Dispatch delivers event to every hook whose filter matches. Hook
// errors and panics are contained here; Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	d.mu.RLock()
	hooks := make([]Hook, len(d.hooks))
	copy(hooks, d.hooks)
	d.mu.RUnlock()

	for _, h := range hooks {
		if !hookWants(h, event.EventType()) {
			continue
		}
		d.deliver(ctx, h, event)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, h Hook, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event hook panicked",
				slog.String("event", string(event.EventType())),
				slog.Any("panic", r))
		}
	}()
	if err := h.OnEvent(ctx, event); err != nil {
		d.log.Warn("event hook failed",
			slog.String("event", string(event.EventType())),
			slog.String("error", err.Error()))
	}
}

func hookWants(h Hook, t EventType) bool {
	types := h.EventTypes()
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// HookFunc adapts a function to the Hook interface, receiving all
// event types.
type HookFunc func(ctx context.Context, event Event) error

func (f HookFunc) OnEvent(ctx context.Context, event Event) error { return f(ctx, event) }
func (f HookFunc) EventTypes() []EventType                        { return nil }
