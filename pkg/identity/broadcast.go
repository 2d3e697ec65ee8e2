package identity

import (
	"sync"
	"time"
)

// DefaultDebounce is the trailing idle window for discovery batching.
const DefaultDebounce = time.Second

// Clock abstracts timer creation so the debounce window is testable
// without real sleeps.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the stoppable handle a Clock hands back.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Broadcaster coalesces a burst of discoveries into a single batch
// delivered after the burst's trailing idle gap. This is a debounce,
// not a rate limiter: every new discovery re-arms the timer, with no
// cap on how long a continuous burst can defer delivery.
type Broadcaster struct {
	mu      sync.Mutex
	clock   Clock
	idle    time.Duration
	timer   Timer
	pending map[string]string
	emit    func(pairs map[string]string)
}

// NewBroadcaster creates a broadcaster with the default 1s idle window
// and the wall clock. emit receives each coalesced batch.
func NewBroadcaster(emit func(pairs map[string]string)) *Broadcaster {
	return NewBroadcasterWithClock(DefaultDebounce, realClock{}, emit)
}

// NewBroadcasterWithClock creates a broadcaster with an explicit idle
// window and clock. Zero idle falls back to DefaultDebounce.
func NewBroadcasterWithClock(idle time.Duration, clock Clock, emit func(pairs map[string]string)) *Broadcaster {
	if idle <= 0 {
		idle = DefaultDebounce
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Broadcaster{
		clock:   clock,
		idle:    idle,
		pending: make(map[string]string),
		emit:    emit,
	}
}

// Add records a discovered pair and re-arms the idle timer.
func (b *Broadcaster) Add(username, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[username] = id
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = b.clock.AfterFunc(b.idle, b.flush)
}

func (b *Broadcaster) flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[string]string)
	b.timer = nil
	b.mu.Unlock()
	if len(batch) > 0 && b.emit != nil {
		b.emit(batch)
	}
}

// Flush delivers anything pending immediately. Used at shutdown so a
// trailing batch is not lost to the idle window.
func (b *Broadcaster) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
	b.flush()
}

// Pending returns the number of pairs awaiting delivery.
func (b *Broadcaster) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
