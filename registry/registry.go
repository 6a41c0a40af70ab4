// Package registry keeps the catalogue of generation providers and their
// health state. Profiles are registered once at startup and never removed;
// unavailable providers are marked exhausted or unauthorized instead.
package registry

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/toolscout/genflow/provider"
)

// Health is a provider's availability state. Transitions are monotonic
// within a cost window: a profile only moves toward less available states
// until the window rolls over or a probe explicitly succeeds.
type Health string

const (
	HealthHealthy      Health = "healthy"
	HealthDegraded     Health = "degraded"
	HealthExhausted    Health = "exhausted"
	HealthUnauthorized Health = "unauthorized"
)

// severity orders health states for the monotonic-transition check.
func severity(h Health) int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthExhausted:
		return 2
	case HealthUnauthorized:
		return 3
	}
	return 0
}

// Profile describes one registered provider. Pricing and rank come from
// configuration; health and latency are observed at runtime.
type Profile struct {
	// Stable provider id, e.g. "openai-gpt4o".
	ID string

	// Cost in USD per 1K tokens.
	CostPer1K float64

	// Quality rank, higher is better. Ties are broken by cost, then by
	// declaration order.
	QualityRank int

	// Spend ceiling per cost window in USD.
	WindowBudget float64

	// Engine that dispatches calls for this provider.
	Engine provider.Engine

	mu         sync.Mutex
	health     Health
	avgLatency time.Duration
}

// Health returns the current availability state.
func (p *Profile) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// AvgLatency returns the observed latency EWMA.
func (p *Profile) AvgLatency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avgLatency
}

// advance moves health toward a less available state. It is a no-op when the
// profile is already at or past the target, which makes concurrent marks for
// the same failure idempotent.
func (p *Profile) advance(target Health) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if severity(target) <= severity(p.health) {
		return false
	}
	p.health = target
	return true
}

// Registry is the shared provider catalogue. Candidates preserves
// declaration order, which is the documented tie-break for routing.
type Registry struct {
	mu       sync.RWMutex
	profiles []*Profile
	byID     map[string]*Profile
	logger   *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		byID:   make(map[string]*Profile),
		logger: logger,
	}
}

// Register adds a profile. Ids must be unique.
func (r *Registry) Register(profile *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[profile.ID]; exists {
		return fmt.Errorf("provider %q already registered", profile.ID)
	}
	profile.health = HealthHealthy
	r.profiles = append(r.profiles, profile)
	r.byID[profile.ID] = profile
	return nil
}

// Candidates returns all profiles in declaration order. The slice is a copy;
// the profiles are shared.
func (r *Registry) Candidates() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]*Profile, len(r.profiles))
	copy(candidates, r.profiles)
	return candidates
}

// Get returns the profile for id, or nil.
func (r *Registry) Get(id string) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// MarkExhausted records a quota or budget exhaustion for the remainder of
// the window. Unauthorized profiles stay unauthorized.
func (r *Registry) MarkExhausted(id string) {
	if p := r.Get(id); p != nil && p.advance(HealthExhausted) {
		r.logger.Warnw("Provider exhausted for current window", "provider", id)
	}
}

// MarkUnauthorized records rejected credentials. This state survives window
// rollovers and is only cleared by reconfiguration.
func (r *Registry) MarkUnauthorized(id string) {
	if p := r.Get(id); p != nil && p.advance(HealthUnauthorized) {
		r.logger.Errorw("Provider credentials rejected", "provider", id)
	}
}

// MarkDegraded records a failing probe on an otherwise healthy provider.
func (r *Registry) MarkDegraded(id string) {
	if p := r.Get(id); p != nil && p.advance(HealthDegraded) {
		r.logger.Warnw("Provider degraded", "provider", id)
	}
}

// MarkHealthy restores a provider after an explicitly successful probe. It
// never clears an unauthorized state.
func (r *Registry) MarkHealthy(id string) {
	p := r.Get(id)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.health == HealthUnauthorized || p.health == HealthHealthy {
		return
	}
	p.health = HealthHealthy
	r.logger.Infow("Provider back to healthy", "provider", id)
}

// ResetForWindow clears exhaustion on window rollover. Unauthorized profiles
// keep their state until credentials are reconfigured.
func (r *Registry) ResetForWindow() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.profiles {
		p.mu.Lock()
		if p.health == HealthExhausted || p.health == HealthDegraded {
			p.health = HealthHealthy
		}
		p.mu.Unlock()
	}
}

// ObserveLatency folds one observed dispatch latency into the profile's
// exponentially weighted moving average.
func (r *Registry) ObserveLatency(id string, latency time.Duration) {
	p := r.Get(id)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.avgLatency == 0 {
		p.avgLatency = latency
		return
	}
	const alpha = 0.2
	p.avgLatency = time.Duration(float64(p.avgLatency)*(1-alpha) + float64(latency)*alpha)
}
