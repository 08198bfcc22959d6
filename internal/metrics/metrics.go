package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchCycles counts completed fetch cycles by data source and outcome.
	FetchCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_fetch_cycles_total",
			Help: "Completed fetch cycles by source (live, cache, none) and outcome",
		},
		[]string{"source", "outcome"},
	)

	// FetchDuration observes how long a fetch cycle took end to end.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discovery_fetch_duration_seconds",
			Help:    "Duration of discovery fetch cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// StaleDiscards counts fetch results dropped because a newer cycle was issued.
	StaleDiscards = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_stale_results_discarded_total",
			Help: "Fetch results discarded because their sequence number was not the latest",
		},
	)

	// CoalescedTriggers counts movement triggers ignored while a fetch was in flight.
	CoalescedTriggers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_triggers_coalesced_total",
			Help: "Movement triggers ignored because a fetch was already in flight",
		},
	)

	// CacheWriteFailures counts best-effort cache writes that failed.
	CacheWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_cache_write_failures_total",
			Help: "Failed batched writes of fetched attractions to the offline cache",
		},
	)

	// ProviderRequests counts Places Provider calls by outcome (ok, error, rejected).
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "places_provider_requests_total",
			Help: "Places provider calls by outcome",
		},
		[]string{"outcome"},
	)

	// MalformedCandidates counts provider records skipped during decoding.
	MalformedCandidates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "places_malformed_candidates_total",
			Help: "Provider records skipped because they lacked an id or point geometry",
		},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "places_circuit_breaker_state",
			Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	// ActiveSessions is the number of open discovery sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "discovery_active_sessions",
			Help: "Number of open discovery sessions",
		},
	)
)
