package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock hands out timers that only fire when the test advances it.
type fakeClock struct {
	timers []*fakeTimer
}

type fakeTimer struct {
	f       func()
	stopped bool
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fire runs the most recently armed, unstopped timer.
func (c *fakeClock) fire() {
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].stopped {
			c.timers[i].stopped = true
			c.timers[i].f()
			return
		}
	}
}

func TestBroadcaster_CoalescesBurstIntoOneBatch(t *testing.T) {
	clock := &fakeClock{}
	var batches []map[string]string
	b := NewBroadcasterWithClock(time.Second, clock, func(pairs map[string]string) {
		batches = append(batches, pairs)
	})

	b.Add("a", "1")
	b.Add("b", "2")
	b.Add("c", "3")

	assert.Empty(t, batches, "nothing delivered before the idle gap elapses")
	// Every Add re-armed the timer; all but the last are stopped.
	assert.Len(t, clock.timers, 3)
	assert.True(t, clock.timers[0].stopped)
	assert.True(t, clock.timers[1].stopped)

	clock.fire()

	assert.Len(t, batches, 1)
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, batches[0])
	assert.Equal(t, 0, b.Pending())
}

func TestBroadcaster_NewBurstAfterDeliveryStartsFresh(t *testing.T) {
	clock := &fakeClock{}
	var batches []map[string]string
	b := NewBroadcasterWithClock(time.Second, clock, func(pairs map[string]string) {
		batches = append(batches, pairs)
	})

	b.Add("a", "1")
	clock.fire()
	b.Add("b", "2")
	clock.fire()

	assert.Len(t, batches, 2)
	assert.Equal(t, map[string]string{"a": "1"}, batches[0])
	assert.Equal(t, map[string]string{"b": "2"}, batches[1])
}

func TestBroadcaster_FlushDeliversPendingImmediately(t *testing.T) {
	clock := &fakeClock{}
	var batches []map[string]string
	b := NewBroadcasterWithClock(time.Second, clock, func(pairs map[string]string) {
		batches = append(batches, pairs)
	})

	b.Add("a", "1")
	b.Flush()

	assert.Len(t, batches, 1)
	// A flush with nothing pending emits nothing.
	b.Flush()
	assert.Len(t, batches, 1)
}

func TestBroadcaster_DefaultsIdleWindow(t *testing.T) {
	b := NewBroadcasterWithClock(0, nil, nil)
	assert.Equal(t, DefaultDebounce, b.idle)
}

func TestNewBroadcaster_RealClockFlushableWithoutWaiting(t *testing.T) {
	var batches []map[string]string
	b := NewBroadcaster(func(pairs map[string]string) {
		batches = append(batches, pairs)
	})

	b.Add("a", "1")
	assert.Equal(t, 1, b.Pending())
	b.Flush()

	assert.Len(t, batches, 1)
	assert.Equal(t, map[string]string{"a": "1"}, batches[0])
}
