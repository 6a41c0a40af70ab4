// Package router executes the fallback chain for one generation request:
// build the candidate list, order it, and attempt providers strictly in
// order until one succeeds or the chain is exhausted.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/toolscout/genflow"
	"github.com/toolscout/genflow/cost"
	"github.com/toolscout/genflow/monitor"
	"github.com/toolscout/genflow/provider"
	"github.com/toolscout/genflow/registry"
)

const tracerName = "github.com/toolscout/genflow/router"

// Config holds the router's dispatch tunables.
type Config struct {
	// Per-attempt timeout for one provider call.
	AttemptTimeout time.Duration

	// Backoff before the single retry after a transient failure.
	RetryBackoff time.Duration
}

// Router selects and executes providers for a request.
type Router struct {
	registry *registry.Registry
	tracker  *cost.Tracker
	monitor  *monitor.Monitor
	config   Config

	clock  clock.Clock
	tracer trace.Tracer
	logger *zap.SugaredLogger
}

func New(reg *registry.Registry, tracker *cost.Tracker, mon *monitor.Monitor, config Config, logger *zap.SugaredLogger) *Router {
	return newWithClock(reg, tracker, mon, config, logger, clock.New())
}

func newWithClock(reg *registry.Registry, tracker *cost.Tracker, mon *monitor.Monitor, config Config, logger *zap.SugaredLogger, clk clock.Clock) *Router {
	return &Router{
		registry: reg,
		tracker:  tracker,
		monitor:  mon,
		config:   config,
		clock:    clk,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// Route runs the fallback chain. It returns the first successful result, a
// *genflow.AllProvidersError with the ordered attempt log when the chain is
// exhausted, or genflow.ErrDeadline when the caller's deadline elapses
// between attempts.
func (r *Router) Route(ctx context.Context, request *genflow.GenerationRequest) (*genflow.GenerationResult, error) {
	ctx, span := r.tracer.Start(ctx, "router.Route", trace.WithAttributes(
		attribute.String("content.kind", string(request.Kind)),
	))
	defer span.End()

	candidates := r.candidates(request)
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	attempts := make([]genflow.Attempt, 0, len(candidates))

	for _, profile := range candidates {
		if err := ctx.Err(); err != nil {
			span.RecordError(genflow.ErrDeadline)
			return nil, genflow.ErrDeadline
		}

		result, attempt := r.tryProvider(ctx, profile, request)
		if result != nil {
			span.SetAttributes(attribute.String("provider.selected", profile.ID))
			return result, nil
		}
		attempts = append(attempts, *attempt)
	}

	err := &genflow.AllProvidersError{Attempts: attempts}
	span.RecordError(err)
	return nil, err
}

// candidates filters out unavailable or over-budget providers and orders the
// rest by quality rank descending, then cost ascending. The sort is stable,
// so equal-(rank, cost) providers keep their declaration order.
func (r *Router) candidates(request *genflow.GenerationRequest) []*registry.Profile {
	var eligible []*registry.Profile
	for _, profile := range r.registry.Candidates() {
		switch profile.Health() {
		case registry.HealthExhausted, registry.HealthUnauthorized:
			continue
		}
		estimated := cost.Estimate(profile.CostPer1K, request.MaxTokens)
		if !r.tracker.Reserve(profile.ID, estimated) {
			r.logger.Debugw("Provider excluded by cost window",
				"provider", profile.ID, "estimated", estimated)
			continue
		}
		eligible = append(eligible, profile)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].QualityRank != eligible[j].QualityRank {
			return eligible[i].QualityRank > eligible[j].QualityRank
		}
		return eligible[i].CostPer1K < eligible[j].CostPer1K
	})
	return eligible
}

// tryProvider runs one candidate: a bounded attempt, plus one retry after a
// short backoff when the failure is transient or malformed. Quota and
// credential failures mark the provider's health and advance the chain
// immediately.
func (r *Router) tryProvider(ctx context.Context, profile *registry.Profile, request *genflow.GenerationRequest) (*genflow.GenerationResult, *genflow.Attempt) {
	started := r.clock.Now()

	result, err := r.attempt(ctx, profile, request)
	if err == nil {
		return result, nil
	}

	class := provider.Classify(err)
	retried := false

	switch class {
	case genflow.FailureQuotaExceeded:
		r.registry.MarkExhausted(profile.ID)
	case genflow.FailureUnauthorized:
		r.registry.MarkUnauthorized(profile.ID)
	case genflow.FailureMalformed, genflow.FailureTransient:
		if class == genflow.FailureMalformed {
			r.logger.Warnw("Provider returned malformed response",
				"provider", profile.ID, "error", err)
		}
		// The first failure is counted even when the retry succeeds; no
		// absorbed failure goes unrecorded.
		r.monitor.RecordProviderFailure(profile.ID, class)
		retried = true
		if backoffErr := r.backoff(ctx); backoffErr == nil {
			result, err = r.attempt(ctx, profile, request)
			if err == nil {
				return result, nil
			}
			class = provider.Classify(err)
		}
	}

	r.monitor.RecordProviderFailure(profile.ID, class)
	r.logger.Warnw("Provider attempt failed",
		"provider", profile.ID, "class", class, "retried", retried, "error", err)

	return nil, &genflow.Attempt{
		ProviderID: profile.ID,
		Class:      class,
		Error:      err.Error(),
		Elapsed:    r.clock.Now().Sub(started),
		Retried:    retried,
	}
}

// attempt performs a single bounded provider call and converts the raw
// response into a result with its actual cost committed.
func (r *Router) attempt(ctx context.Context, profile *registry.Profile, request *genflow.GenerationRequest) (*genflow.GenerationResult, error) {
	ctx, span := r.tracer.Start(ctx, "router.attempt", trace.WithAttributes(
		attribute.String("provider.id", profile.ID),
	))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
	defer cancel()

	started := r.clock.Now()
	raw, err := profile.Engine.Generate(attemptCtx, request.Prompt, provider.Params{
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
	})
	elapsed := r.clock.Now().Sub(started)

	if err != nil {
		// A blown per-attempt timeout routes like any other transient
		// network failure.
		if errors.Is(err, context.DeadlineExceeded) {
			err = &provider.TransientError{Cause: err}
		}
		span.RecordError(err)
		return nil, err
	}
	if raw == nil || raw.Content == "" {
		err := fmt.Errorf("%w: empty content", provider.ErrMalformedResponse)
		span.RecordError(err)
		return nil, err
	}

	actualCost := profile.CostPer1K * float64(raw.TokenCount) / 1000
	r.tracker.Commit(profile.ID, actualCost)
	r.registry.ObserveLatency(profile.ID, elapsed)

	return &genflow.GenerationResult{
		Content:     raw.Content,
		TokenCount:  raw.TokenCount,
		ProviderID:  profile.ID,
		Cost:        actualCost,
		CacheStatus: genflow.CacheMiss,
		Latency:     elapsed,
		Placeholder: raw.Placeholder,
	}, nil
}

// backoff waits the configured retry backoff unless the caller's context
// expires first.
func (r *Router) backoff(ctx context.Context) error {
	if r.config.RetryBackoff <= 0 {
		return nil
	}
	timer := r.clock.Timer(r.config.RetryBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
