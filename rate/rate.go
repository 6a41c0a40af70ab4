// Package rate implements tiered admission control. Every request passes
// through Admit before any provider work happens; decisions are O(1), local,
// and never touch the network.
package rate

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/toolscout/genflow"
)

// TierLimits holds the two ceilings of one caller tier: a sustained hourly
// ceiling and a burst per-minute ceiling.
type TierLimits struct {
	RequestsPerHour int
	BurstPerMinute  int
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool

	// RetryAfter is the time until the nearer violated window resets. Zero
	// when allowed.
	RetryAfter time.Duration
}

// bucket tracks one caller's sliding windows. Windows roll over lazily on
// first access past the boundary; there is no background sweep that could
// race with admission checks.
type bucket struct {
	mu          sync.Mutex
	hourStart   time.Time
	hourCount   int
	minuteStart time.Time
	minuteCount int
}

// Limiter is the per-caller-tier rate limiter.
type Limiter struct {
	mu      sync.RWMutex
	limits  map[genflow.Tier]TierLimits
	buckets map[string]*bucket

	clock  clock.Clock
	logger *zap.SugaredLogger
}

func NewLimiter(limits map[genflow.Tier]TierLimits, logger *zap.SugaredLogger) *Limiter {
	return newLimiterWithClock(limits, logger, clock.New())
}

func newLimiterWithClock(limits map[genflow.Tier]TierLimits, logger *zap.SugaredLogger, clk clock.Clock) *Limiter {
	copied := make(map[genflow.Tier]TierLimits, len(limits))
	for tier, l := range limits {
		copied[tier] = l
	}
	return &Limiter{
		limits:  copied,
		buckets: make(map[string]*bucket),
		clock:   clk,
		logger:  logger,
	}
}

// Admit checks both ceilings for the caller and either admits the request or
// returns the time until the nearer violated window resets.
func (l *Limiter) Admit(identity string, tier genflow.Tier) Decision {
	limits := l.limitsFor(tier)
	b := l.bucketFor(identity)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.clock.Now()

	// Lazy rollover.
	if now.Sub(b.hourStart) >= time.Hour {
		b.hourStart = now
		b.hourCount = 0
	}
	if now.Sub(b.minuteStart) >= time.Minute {
		b.minuteStart = now
		b.minuteCount = 0
	}

	var retryAfter time.Duration
	if b.minuteCount >= limits.BurstPerMinute {
		retryAfter = b.minuteStart.Add(time.Minute).Sub(now)
	}
	if b.hourCount >= limits.RequestsPerHour {
		hourlyRetry := b.hourStart.Add(time.Hour).Sub(now)
		if retryAfter == 0 || hourlyRetry < retryAfter {
			retryAfter = hourlyRetry
		}
	}
	if retryAfter > 0 {
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	b.hourCount++
	b.minuteCount++
	return Decision{Allowed: true}
}

// UpdateLimits swaps the tier ceilings, used on config hot reload. Existing
// bucket counters are kept; only the ceilings change.
func (l *Limiter) UpdateLimits(limits map[genflow.Tier]TierLimits) {
	copied := make(map[genflow.Tier]TierLimits, len(limits))
	for tier, tl := range limits {
		copied[tier] = tl
	}
	l.mu.Lock()
	l.limits = copied
	l.mu.Unlock()
	l.logger.Infow("Rate limits updated", "tiers", len(copied))
}

// Sweep drops buckets whose windows have fully elapsed. It takes the same
// locks as Admit, so it cannot race an admission check.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identity, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.hourStart) >= time.Hour && now.Sub(b.minuteStart) >= time.Minute
		b.mu.Unlock()
		if idle {
			delete(l.buckets, identity)
			removed++
		}
	}
	return removed
}

func (l *Limiter) limitsFor(tier genflow.Tier) TierLimits {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limits, ok := l.limits[tier]; ok {
		return limits
	}
	// Unknown tiers get the most restrictive ceilings.
	if limits, ok := l.limits[genflow.TierAnonymous]; ok {
		return limits
	}
	return TierLimits{RequestsPerHour: 10, BurstPerMinute: 5}
}

func (l *Limiter) bucketFor(identity string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[identity]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[identity]; ok {
		return b
	}
	now := l.clock.Now()
	b = &bucket{hourStart: now, minuteStart: now}
	l.buckets[identity] = b
	return b
}
