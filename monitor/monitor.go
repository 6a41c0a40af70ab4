// Package monitor is the passive observability layer: per-request outcome,
// latency, provider failures, cache behavior, and rate-limit rejections. It
// never influences control flow. Counters are exported through Prometheus
// and mirrored in a read-only aggregate for dashboards.
package monitor

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/toolscout/genflow"
)

// Outcome classifies a finished generate call.
type Outcome string

const (
	OutcomeHit   Outcome = "hit"
	OutcomeMiss  Outcome = "miss"
	OutcomeStale Outcome = "stale"
	OutcomeError Outcome = "error"
)

// Monitor records orchestrator observations. Safe for concurrent use.
type Monitor struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	providerFailures *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec

	// Aggregates served by Stats without touching the Prometheus registry.
	requests   atomic.Int64
	hits       atomic.Int64
	misses     atomic.Int64
	stales     atomic.Int64
	errors     atomic.Int64
	rejections atomic.Int64
}

// Stats is a point-in-time snapshot of the aggregate counters.
type Stats struct {
	Requests    int64   `json:"requests"`
	CacheHits   int64   `json:"cache_hits"`
	CacheMisses int64   `json:"cache_misses"`
	StaleServed int64   `json:"stale_served"`
	Errors      int64   `json:"errors"`
	RateLimited int64   `json:"rate_limited"`
	HitRate     float64 `json:"hit_rate"`
}

func New() *Monitor {
	registry := prometheus.NewRegistry()

	m := &Monitor{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genflow_requests_total",
			Help: "Generate calls by outcome and content kind.",
		}, []string{"outcome", "kind"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genflow_generation_latency_seconds",
			Help:    "Provider dispatch latency by provider.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider"}),
		providerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genflow_provider_failures_total",
			Help: "Absorbed provider failures by provider and class.",
		}, []string{"provider", "class"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genflow_rate_limited_total",
			Help: "Admission rejections by caller tier.",
		}, []string{"tier"}),
	}

	registry.MustRegister(m.requestsTotal, m.requestLatency, m.providerFailures, m.rateLimited)
	return m
}

// Gatherer exposes the underlying registry for the host's /metrics endpoint.
func (m *Monitor) Gatherer() prometheus.Gatherer {
	return m.registry
}

// RecordRequest records one finished generate call.
func (m *Monitor) RecordRequest(outcome Outcome, kind genflow.ContentKind, providerID string, latency time.Duration) {
	m.requestsTotal.WithLabelValues(string(outcome), string(kind)).Inc()
	if providerID != "" && latency > 0 {
		m.requestLatency.WithLabelValues(providerID).Observe(latency.Seconds())
	}

	m.requests.Add(1)
	switch outcome {
	case OutcomeHit:
		m.hits.Add(1)
	case OutcomeMiss:
		m.misses.Add(1)
	case OutcomeStale:
		m.stales.Add(1)
	case OutcomeError:
		m.errors.Add(1)
	}
}

// RecordProviderFailure records an absorbed provider failure, so no failure
// disappears even when the fallback chain recovers.
func (m *Monitor) RecordProviderFailure(providerID string, class genflow.FailureClass) {
	m.providerFailures.WithLabelValues(providerID, string(class)).Inc()
}

// RecordRateLimited records an admission rejection.
func (m *Monitor) RecordRateLimited(tier genflow.Tier) {
	m.rateLimited.WithLabelValues(string(tier)).Inc()
	m.rejections.Add(1)
}

// Snapshot returns the aggregate counters.
func (m *Monitor) Snapshot() Stats {
	stats := Stats{
		Requests:    m.requests.Load(),
		CacheHits:   m.hits.Load(),
		CacheMisses: m.misses.Load(),
		StaleServed: m.stales.Load(),
		Errors:      m.errors.Load(),
		RateLimited: m.rejections.Load(),
	}
	if lookups := stats.CacheHits + stats.CacheMisses; lookups > 0 {
		stats.HitRate = float64(stats.CacheHits) / float64(lookups)
	}
	return stats
}
