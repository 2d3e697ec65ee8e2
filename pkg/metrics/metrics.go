// Package metrics exposes Prometheus counters for the mining engine.
// Counters only: the engine is passive, so rates and totals are what
// operators watch (discovery yield, parse failure rate, 429 pressure).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResponsesObserved counts response bodies seen by the tap.
	ResponsesObserved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tapminer",
		Name:      "responses_observed_total",
		Help:      "Response bodies passed through the traffic tap.",
	})

	// IdentitiesDiscovered counts new username/id pairs inserted.
	IdentitiesDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tapminer",
		Name:      "identities_discovered_total",
		Help:      "New username to id mappings discovered.",
	})

	// ProfilesExtracted counts profile records emitted externally.
	ProfilesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tapminer",
		Name:      "profiles_extracted_total",
		Help:      "Profile records extracted and emitted.",
	})

	// ParseFailures counts swallowed parse errors by source.
	ParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tapminer",
		Name:      "parse_failures_total",
		Help:      "Payloads that could not be parsed, by source.",
	}, []string{"source"})

	// RateLimitHits counts 429 responses observed or received.
	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tapminer",
		Name:      "rate_limit_hits_total",
		Help:      "Rate-limited responses from the host service.",
	})
)
