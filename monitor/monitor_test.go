package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/toolscout/genflow"
)

func TestSnapshot(t *testing.T) {
	m := New()

	m.RecordRequest(OutcomeHit, genflow.KindReview, "", 0)
	m.RecordRequest(OutcomeHit, genflow.KindReview, "", 0)
	m.RecordRequest(OutcomeMiss, genflow.KindArticle, "openai", 800*time.Millisecond)
	m.RecordRequest(OutcomeStale, genflow.KindReview, "openai", 0)
	m.RecordRequest(OutcomeError, genflow.KindComparison, "", 0)
	m.RecordRateLimited(genflow.TierAnonymous)

	stats := m.Snapshot()
	assert.Equal(t, int64(5), stats.Requests)
	assert.Equal(t, int64(2), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.StaleServed)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(1), stats.RateLimited)

	// Hit rate only counts cache lookups, not stale or error outcomes.
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestSnapshotEmpty(t *testing.T) {
	stats := New().Snapshot()
	assert.Equal(t, int64(0), stats.Requests)
	assert.Equal(t, 0.0, stats.HitRate)
}

func TestPrometheusCounters(t *testing.T) {
	m := New()

	m.RecordRequest(OutcomeMiss, genflow.KindReview, "openai", time.Second)
	m.RecordProviderFailure("openai", genflow.FailureTransient)
	m.RecordProviderFailure("openai", genflow.FailureTransient)
	m.RecordProviderFailure("claude", genflow.FailureQuotaExceeded)
	m.RecordRateLimited(genflow.TierPremium)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("miss", "review")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.providerFailures.WithLabelValues("openai", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerFailures.WithLabelValues("claude", "quota_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("premium")))

	// The registry only carries this monitor's collectors.
	families, err := m.Gatherer().Gather()
	assert.NoError(t, err)
	for _, family := range families {
		assert.Contains(t, family.GetName(), "genflow_")
	}
}

func TestCacheHitLatencyNotObserved(t *testing.T) {
	m := New()

	// Hits have no provider dispatch, so nothing lands in the histogram.
	m.RecordRequest(OutcomeHit, genflow.KindReview, "", 0)
	count := testutil.CollectAndCount(m.requestLatency)
	assert.Equal(t, 0, count)
}
