// Package cost tracks per-provider spend against a ceiling per fixed time
// window. The router consults Reserve before dispatch so an over-budget
// provider is never selected; Commit records what the call actually cost.
package cost

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// window accumulates one provider's spend for the current period.
type window struct {
	mu    sync.Mutex
	start time.Time
	spend float64
}

// Tracker is the cost accountant. One window per provider id, rolled over
// lazily on access and periodically by the scheduler.
type Tracker struct {
	mu      sync.RWMutex
	windows map[string]*window
	budgets map[string]float64

	windowLen time.Duration
	clock     clock.Clock
	logger    *zap.SugaredLogger
}

// NewTracker creates a tracker with the given per-provider budget ceilings
// and window length (daily is typical).
func NewTracker(budgets map[string]float64, windowLen time.Duration, logger *zap.SugaredLogger) *Tracker {
	return newTrackerWithClock(budgets, windowLen, logger, clock.New())
}

func newTrackerWithClock(budgets map[string]float64, windowLen time.Duration, logger *zap.SugaredLogger, clk clock.Clock) *Tracker {
	copied := make(map[string]float64, len(budgets))
	for id, budget := range budgets {
		copied[id] = budget
	}
	return &Tracker{
		windows:   make(map[string]*window),
		budgets:   copied,
		windowLen: windowLen,
		clock:     clk,
		logger:    logger,
	}
}

// Estimate returns the projected cost of a call given the provider's price
// per 1K tokens and the request's token ceiling.
func Estimate(costPer1K float64, maxTokens int32) float64 {
	return costPer1K * float64(maxTokens) / 1000
}

// Reserve reports whether the provider's window has room for an estimated
// cost. It does not hold the amount; Commit records the actual spend.
func (t *Tracker) Reserve(providerID string, estimated float64) bool {
	budget, bounded := t.budgetFor(providerID)
	if !bounded {
		return true
	}

	w := t.windowFor(providerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	t.rolloverLocked(w)
	return w.spend+estimated <= budget
}

// Commit adds the actual cost of a completed call to the window. Actual cost
// may differ from the estimate; a commit that lands past the ceiling is
// logged so the overrun is never silent, and the provider is excluded from
// selection until rollover.
func (t *Tracker) Commit(providerID string, actual float64) {
	w := t.windowFor(providerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	t.rolloverLocked(w)
	w.spend += actual

	if budget, bounded := t.budgetFor(providerID); bounded && w.spend > budget {
		t.logger.Warnw("Provider spend exceeded window budget",
			"provider", providerID, "spend", w.spend, "budget", budget)
	}
}

// WindowSpend returns the provider's spend in the current window.
func (t *Tracker) WindowSpend(providerID string) float64 {
	w := t.windowFor(providerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	t.rolloverLocked(w)
	return w.spend
}

// Rollover resets every window. Called by the scheduler at the window
// period; lazy per-window rollover covers missed ticks.
func (t *Tracker) Rollover() {
	now := t.clock.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	for id, w := range t.windows {
		w.mu.Lock()
		if w.spend > 0 {
			t.logger.Infow("Cost window rolled over", "provider", id, "spend", w.spend)
		}
		w.start = now
		w.spend = 0
		w.mu.Unlock()
	}
}

func (t *Tracker) budgetFor(providerID string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	budget, ok := t.budgets[providerID]
	return budget, ok && budget > 0
}

func (t *Tracker) windowFor(providerID string) *window {
	t.mu.RLock()
	w, ok := t.windows[providerID]
	t.mu.RUnlock()
	if ok {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.windows[providerID]; ok {
		return w
	}
	w = &window{start: t.clock.Now()}
	t.windows[providerID] = w
	return w
}

// rolloverLocked resets the window in place when its period has elapsed.
// Caller holds w.mu.
func (t *Tracker) rolloverLocked(w *window) {
	now := t.clock.Now()
	if now.Sub(w.start) >= t.windowLen {
		w.start = now
		w.spend = 0
	}
}
