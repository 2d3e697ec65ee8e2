// Package dispatch is the engine's outbound event boundary. Extracted
// profile records, rate-limit observations, and debounced identity
// batches flow through a dispatcher to registered hooks, decoupling
// the mining core from whoever consumes the facts (logging, storage,
// the websocket bridge).
package dispatch

import (
	"time"

	"github.com/tapminer/tapminer/pkg/profile"
)

// EventType discriminates the outbound event kinds.
type EventType string

const (
	// EventProfileExtracted carries a freshly extracted profile record.
	EventProfileExtracted EventType = "profile_extracted"
	// EventRateLimited signals a 429 from the host service. Callers
	// must back off; this is deliberately not a generic failure.
	EventRateLimited EventType = "rate_limited"
	// EventIdentitiesDiscovered carries a debounced batch of newly
	// discovered username/id pairs.
	EventIdentitiesDiscovered EventType = "identities_discovered"
)

// Event is the common interface of all outbound events.
type Event interface {
	EventType() EventType
	Timestamp() time.Time
}

// BaseEvent supplies the shared envelope fields.
type BaseEvent struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
}

func (e BaseEvent) EventType() EventType { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(t EventType) BaseEvent {
	return BaseEvent{Type: t, Time: time.Now()}
}

// ProfileEvent is emitted for every externally observable profile
// record, whether passively mined or actively fetched.
type ProfileEvent struct {
	BaseEvent
	Profile profile.Record `json:"profile"`
	// Source is "passive" or "fetch".
	Source string `json:"source"`
	// TargetID is set on the fetch path.
	TargetID string `json:"targetId,omitempty"`
}

// NewProfileEvent builds a profile event.
func NewProfileEvent(rec profile.Record, source, targetID string) *ProfileEvent {
	return &ProfileEvent{
		BaseEvent: newBase(EventProfileExtracted),
		Profile:   rec,
		Source:    source,
		TargetID:  targetID,
	}
}

// RateLimitEvent is emitted when the host service answers 429.
type RateLimitEvent struct {
	BaseEvent
	URL      string `json:"url,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

// NewRateLimitEvent builds a rate-limit event.
func NewRateLimitEvent(url, targetID string) *RateLimitEvent {
	return &RateLimitEvent{BaseEvent: newBase(EventRateLimited), URL: url, TargetID: targetID}
}

// IdentitiesEvent carries one debounced discovery batch.
type IdentitiesEvent struct {
	BaseEvent
	Pairs map[string]string `json:"pairs"`
}

// NewIdentitiesEvent builds an identity-batch event.
func NewIdentitiesEvent(pairs map[string]string) *IdentitiesEvent {
	return &IdentitiesEvent{BaseEvent: newBase(EventIdentitiesDiscovered), Pairs: pairs}
}
