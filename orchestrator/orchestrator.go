// Package orchestrator ties the core together: admission control, cache
// lookup with single-flight dedup, fallback routing, cost accounting, and
// observation. It exposes the one inbound operation of the system, Generate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/toolscout/genflow"
	"github.com/toolscout/genflow/cache"
	"github.com/toolscout/genflow/config"
	"github.com/toolscout/genflow/monitor"
	"github.com/toolscout/genflow/rate"
	"github.com/toolscout/genflow/registry"
	"github.com/toolscout/genflow/router"
	"github.com/toolscout/genflow/sched"
)

const tracerName = "github.com/toolscout/genflow/orchestrator"

// Orchestrator is the generation-request orchestration core. All
// collaborators arrive through the constructor so each can be replaced by a
// test double.
type Orchestrator struct {
	cfg atomic.Pointer[config.Config]

	limiter  *rate.Limiter
	cache    *cache.Cache
	router   *router.Router
	registry *registry.Registry
	tracker  costRoller
	monitor  *monitor.Monitor

	clock  clock.Clock
	tracer trace.Tracer
	logger *zap.SugaredLogger
}

// costRoller is the slice of the cost tracker the orchestrator drives from
// its rollover job.
type costRoller interface {
	Rollover()
}

func New(
	cfg *config.Config,
	limiter *rate.Limiter,
	responseCache *cache.Cache,
	fallbackRouter *router.Router,
	reg *registry.Registry,
	tracker costRoller,
	mon *monitor.Monitor,
	logger *zap.SugaredLogger,
) *Orchestrator {
	o := &Orchestrator{
		limiter:  limiter,
		cache:    responseCache,
		router:   fallbackRouter,
		registry: reg,
		tracker:  tracker,
		monitor:  mon,
		clock:    clock.New(),
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
	o.cfg.Store(cfg)
	return o
}

// Generate runs one content-generation request through the core:
// admission, cache lookup, fallback routing on a miss, and observation.
// Outcomes crossing this boundary are a result, *genflow.RateLimitError,
// *genflow.AllProvidersError, or genflow.ErrDeadline.
func (o *Orchestrator) Generate(ctx context.Context, request *genflow.GenerationRequest) (*genflow.GenerationResult, error) {
	if err := validate(request); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.Generate", trace.WithAttributes(
		attribute.String("content.kind", string(request.Kind)),
		attribute.String("caller.tier", string(request.CallerTier)),
	))
	defer span.End()

	if decision := o.limiter.Admit(request.CallerID, request.CallerTier); !decision.Allowed {
		o.monitor.RecordRateLimited(request.CallerTier)
		span.SetAttributes(attribute.Bool("rate_limited", true))
		return nil, &genflow.RateLimitError{RetryAfter: decision.RetryAfter}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Load().ParsedOverallTimeout())
		defer cancel()
	}

	fingerprint := request.Fingerprint()
	started := o.clock.Now()

	result, err := o.cache.GetOrCompute(ctx, fingerprint, request.Kind, func(flightCtx context.Context) (*genflow.GenerationResult, error) {
		return o.router.Route(flightCtx, request)
	})
	if err != nil {
		return o.degrade(ctx, span, request, fingerprint, err)
	}

	outcome := monitor.OutcomeMiss
	if result.CacheStatus == genflow.CacheHit {
		outcome = monitor.OutcomeHit
	}
	o.monitor.RecordRequest(outcome, request.Kind, result.ProviderID, result.Latency)
	span.SetAttributes(
		attribute.String("cache.status", string(result.CacheStatus)),
		attribute.String("provider.id", result.ProviderID),
	)

	o.logger.Infow("Generation served",
		"kind", request.Kind,
		"cache", result.CacheStatus,
		"provider", result.ProviderID,
		"elapsed", o.clock.Now().Sub(started),
	)
	return result, nil
}

// degrade handles a failed computation: deadline errors pass through as
// genflow.ErrDeadline, and a total provider failure falls back to an expired
// cache entry when one is still around, clearly tagged as stale.
func (o *Orchestrator) degrade(ctx context.Context, span trace.Span, request *genflow.GenerationRequest, fingerprint string, err error) (*genflow.GenerationResult, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, genflow.ErrDeadline) {
		o.monitor.RecordRequest(monitor.OutcomeError, request.Kind, "", 0)
		span.RecordError(genflow.ErrDeadline)
		return nil, genflow.ErrDeadline
	}

	var allFailed *genflow.AllProvidersError
	if errors.As(err, &allFailed) {
		if stale, ok := o.cache.Stale(ctx, fingerprint); ok {
			o.monitor.RecordRequest(monitor.OutcomeStale, request.Kind, stale.ProviderID, 0)
			span.SetAttributes(attribute.Bool("served_stale", true))
			o.logger.Warnw("Serving stale content, all providers failed",
				"kind", request.Kind, "attempts", len(allFailed.Attempts))
			return stale, nil
		}
	}

	o.monitor.RecordRequest(monitor.OutcomeError, request.Kind, "", 0)
	span.RecordError(err)
	return nil, err
}

// Reload atomically swaps the configuration snapshot and pushes the
// hot-reloadable pieces into the components that cache them.
func (o *Orchestrator) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("rejecting config reload: %v", err)
	}
	o.cfg.Store(cfg)
	o.limiter.UpdateLimits(cfg.TierLimits())
	o.cache.UpdateTTLs(cfg.TTLByKind(), cfg.ParsedDefaultCacheTTL())
	o.logger.Infow("Configuration reloaded")
	return nil
}

// Jobs returns the background jobs the scheduler should run: cache sweep,
// provider health probes, and cost-window rollover.
func (o *Orchestrator) Jobs() []sched.Job {
	cfg := o.cfg.Load()
	return []sched.Job{
		{
			Name:  "cache-sweep",
			Every: cfg.ParsedSweepInterval(),
			Run: func(ctx context.Context) error {
				removed := o.cache.Sweep()
				o.limiter.Sweep()
				if removed > 0 {
					o.logger.Debugw("Cache sweep finished", "removed", removed)
				}
				return nil
			},
		},
		{
			Name:  "health-probe",
			Every: cfg.ParsedProbeInterval(),
			Run:   o.probeProviders,
		},
		{
			Name:  "cost-rollover",
			Every: cfg.ParsedCostWindow(),
			Run: func(ctx context.Context) error {
				o.tracker.Rollover()
				o.registry.ResetForWindow()
				o.logger.Infow("Cost window rolled over")
				return nil
			},
		},
	}
}

// probeProviders checks every profile. Only an explicit probe success
// restores an exhausted or degraded provider; unauthorized profiles are left
// alone until credentials change.
func (o *Orchestrator) probeProviders(ctx context.Context) error {
	for _, profile := range o.registry.Candidates() {
		health := profile.Health()
		if health == registry.HealthUnauthorized {
			continue
		}
		if err := profile.Engine.Probe(ctx); err != nil {
			if health == registry.HealthHealthy {
				o.registry.MarkDegraded(profile.ID)
			}
			continue
		}
		if health != registry.HealthHealthy {
			o.registry.MarkHealthy(profile.ID)
		}
	}
	return nil
}

func validate(request *genflow.GenerationRequest) error {
	if request == nil || request.Prompt == "" {
		return fmt.Errorf("prompt must not be empty")
	}
	if !request.Kind.Valid() {
		return fmt.Errorf("unsupported content kind %q", request.Kind)
	}
	if !request.CallerTier.Valid() {
		return fmt.Errorf("unknown caller tier %q", request.CallerTier)
	}
	if request.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	return nil
}
