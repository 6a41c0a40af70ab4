// Package cache implements the content-addressed response cache. Entries are
// keyed by request fingerprint, expire on a per-content-kind TTL, and
// concurrent requests for an unresolved fingerprint share a single in-flight
// computation.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/toolscout/genflow"
)

// Store is the byte-level backend. Load returns (nil, nil) on a miss and may
// keep returning a value past its TTL; logical expiry lives in the envelope.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// sweeper is implemented by stores that need explicit expired-entry removal.
// The valkey store expires server-side and does not implement it.
type sweeper interface {
	Sweep() int
}

// envelope is the stored form of a result. ExpiresAt is the logical expiry;
// the physical store TTL is longer so expired entries remain readable for
// stale fallback until swept.
type envelope struct {
	Result    *genflow.GenerationResult `json:"result"`
	CreatedAt int64                     `json:"created_at"`
	ExpiresAt int64                     `json:"expires_at"`
}

// Cache is the response cache. All methods are safe for concurrent use.
type Cache struct {
	store Store

	ttlMu      sync.RWMutex
	ttlByKind  map[genflow.ContentKind]time.Duration
	defaultTTL time.Duration

	group  singleflight.Group
	clock  clock.Clock
	logger *zap.SugaredLogger
}

func New(store Store, ttlByKind map[genflow.ContentKind]time.Duration, defaultTTL time.Duration, logger *zap.SugaredLogger) *Cache {
	return newWithClock(store, ttlByKind, defaultTTL, logger, clock.New())
}

func newWithClock(store Store, ttlByKind map[genflow.ContentKind]time.Duration, defaultTTL time.Duration, logger *zap.SugaredLogger, clk clock.Clock) *Cache {
	copied := make(map[genflow.ContentKind]time.Duration, len(ttlByKind))
	for kind, ttl := range ttlByKind {
		copied[kind] = ttl
	}
	return &Cache{
		store:      store,
		ttlByKind:  copied,
		defaultTTL: defaultTTL,
		clock:      clk,
		logger:     logger,
	}
}

// Get returns a copy of the live entry for the fingerprint, if any. Expired
// entries count as misses.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*genflow.GenerationResult, bool) {
	env, err := c.load(ctx, fingerprint)
	if err != nil || env == nil {
		return nil, false
	}
	if env.ExpiresAt <= c.clock.Now().UnixNano() {
		return nil, false
	}
	result := env.Result.Clone()
	result.CacheStatus = genflow.CacheHit
	result.Latency = 0
	return result, true
}

// Stale returns a copy of an expired entry for the fingerprint, if the store
// still holds one. Used to serve degraded content when every provider fails.
func (c *Cache) Stale(ctx context.Context, fingerprint string) (*genflow.GenerationResult, bool) {
	env, err := c.load(ctx, fingerprint)
	if err != nil || env == nil {
		return nil, false
	}
	result := env.Result.Clone()
	result.CacheStatus = genflow.CacheStale
	result.Latency = 0
	return result, true
}

// GetOrCompute returns the cached result for the fingerprint or invokes
// compute exactly once, no matter how many callers arrive concurrently with
// the same fingerprint. All waiters observe the same terminal outcome. On
// failure nothing is stored and the flight is forgotten, so the next caller
// retries instead of inheriting a cached failure. A caller whose context
// expires stops waiting, but the shared flight keeps running for the others.
func (c *Cache) GetOrCompute(
	ctx context.Context,
	fingerprint string,
	kind genflow.ContentKind,
	compute func(ctx context.Context) (*genflow.GenerationResult, error),
) (*genflow.GenerationResult, error) {
	if result, ok := c.Get(ctx, fingerprint); ok {
		return result, nil
	}

	ch := c.group.DoChan(fingerprint, func() (any, error) {
		// The flight is shared by every waiter, so it must not die with the
		// first caller's context.
		flightCtx := context.WithoutCancel(ctx)

		result, err := compute(flightCtx)
		if err != nil {
			// The group drops the key once this call returns, so the next
			// caller starts a fresh computation instead of inheriting the
			// failure.
			return nil, err
		}

		if err := c.save(flightCtx, fingerprint, kind, result); err != nil {
			c.logger.Warnw("Failed to store generation result", "fingerprint", fingerprint, "error", err)
		}
		return result, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := res.Val.(*genflow.GenerationResult).Clone()
		result.CacheStatus = genflow.CacheMiss
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sweep removes entries past their physical TTL. Safe to run concurrently
// with live traffic; it never touches an in-flight computation.
func (c *Cache) Sweep() int {
	if s, ok := c.store.(sweeper); ok {
		return s.Sweep()
	}
	return 0
}

// UpdateTTLs swaps the per-kind TTL table, used on config hot reload. Only
// future stores are affected.
func (c *Cache) UpdateTTLs(ttlByKind map[genflow.ContentKind]time.Duration, defaultTTL time.Duration) {
	copied := make(map[genflow.ContentKind]time.Duration, len(ttlByKind))
	for kind, ttl := range ttlByKind {
		copied[kind] = ttl
	}
	c.ttlMu.Lock()
	c.ttlByKind = copied
	c.defaultTTL = defaultTTL
	c.ttlMu.Unlock()
}

func (c *Cache) ttlFor(kind genflow.ContentKind) time.Duration {
	c.ttlMu.RLock()
	defer c.ttlMu.RUnlock()
	if ttl, ok := c.ttlByKind[kind]; ok {
		return ttl
	}
	return c.defaultTTL
}

func (c *Cache) load(ctx context.Context, fingerprint string) (*envelope, error) {
	raw, err := c.store.Load(ctx, fingerprint)
	if err != nil {
		c.logger.Warnw("Cache load failed", "fingerprint", fingerprint, "error", err)
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %v", err)
	}
	if env.Result == nil {
		return nil, nil
	}
	return &env, nil
}

func (c *Cache) save(ctx context.Context, fingerprint string, kind genflow.ContentKind, result *genflow.GenerationResult) error {
	ttl := c.ttlFor(kind)
	now := c.clock.Now()

	frozen := result.Clone()
	frozen.CacheStatus = genflow.CacheMiss

	raw, err := json.Marshal(envelope{
		Result:    frozen,
		CreatedAt: now.UnixNano(),
		ExpiresAt: now.Add(ttl).UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %v", err)
	}

	// Physical TTL is twice the logical one so the entry stays available for
	// stale fallback after expiry.
	return c.store.Save(ctx, fingerprint, raw, 2*ttl)
}
