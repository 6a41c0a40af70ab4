package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T, ids ...string) *Registry {
	registry := New(zap.NewNop().Sugar())
	for _, id := range ids {
		assert.NoError(t, registry.Register(&Profile{ID: id}))
	}
	return registry
}

func TestRegister(t *testing.T) {
	registry := newTestRegistry(t, "openai", "claude")

	assert.Error(t, registry.Register(&Profile{ID: "openai"}))
	assert.Nil(t, registry.Get("missing"))
	assert.Equal(t, HealthHealthy, registry.Get("openai").Health())
}

func TestCandidatesPreserveDeclarationOrder(t *testing.T) {
	registry := newTestRegistry(t, "first", "second", "third")

	candidates := registry.Candidates()
	assert.Equal(t, 3, len(candidates))
	assert.Equal(t, "first", candidates[0].ID)
	assert.Equal(t, "second", candidates[1].ID)
	assert.Equal(t, "third", candidates[2].ID)
}

func TestHealthTransitions(t *testing.T) {
	t.Run("marks only move toward less available states", func(t *testing.T) {
		registry := newTestRegistry(t, "openai")

		registry.MarkExhausted("openai")
		assert.Equal(t, HealthExhausted, registry.Get("openai").Health())

		// A later, milder failure never walks the state back.
		registry.MarkDegraded("openai")
		assert.Equal(t, HealthExhausted, registry.Get("openai").Health())

		registry.MarkUnauthorized("openai")
		assert.Equal(t, HealthUnauthorized, registry.Get("openai").Health())
	})

	t.Run("repeated marks are idempotent", func(t *testing.T) {
		registry := newTestRegistry(t, "openai")

		registry.MarkExhausted("openai")
		registry.MarkExhausted("openai")
		assert.Equal(t, HealthExhausted, registry.Get("openai").Health())
	})

	t.Run("probe success restores exhausted and degraded providers", func(t *testing.T) {
		registry := newTestRegistry(t, "openai", "claude")

		registry.MarkExhausted("openai")
		registry.MarkDegraded("claude")
		registry.MarkHealthy("openai")
		registry.MarkHealthy("claude")

		assert.Equal(t, HealthHealthy, registry.Get("openai").Health())
		assert.Equal(t, HealthHealthy, registry.Get("claude").Health())
	})

	t.Run("probe success never clears unauthorized", func(t *testing.T) {
		registry := newTestRegistry(t, "openai")

		registry.MarkUnauthorized("openai")
		registry.MarkHealthy("openai")
		assert.Equal(t, HealthUnauthorized, registry.Get("openai").Health())
	})

	t.Run("marks on unknown providers are ignored", func(t *testing.T) {
		registry := newTestRegistry(t)

		registry.MarkExhausted("ghost")
		registry.MarkUnauthorized("ghost")
		registry.MarkHealthy("ghost")
	})
}

func TestResetForWindow(t *testing.T) {
	registry := newTestRegistry(t, "exhausted", "degraded", "unauthorized")

	registry.MarkExhausted("exhausted")
	registry.MarkDegraded("degraded")
	registry.MarkUnauthorized("unauthorized")

	registry.ResetForWindow()

	assert.Equal(t, HealthHealthy, registry.Get("exhausted").Health())
	assert.Equal(t, HealthHealthy, registry.Get("degraded").Health())
	assert.Equal(t, HealthUnauthorized, registry.Get("unauthorized").Health())
}

func TestObserveLatency(t *testing.T) {
	registry := newTestRegistry(t, "openai")

	registry.ObserveLatency("openai", time.Second)
	assert.Equal(t, time.Second, registry.Get("openai").AvgLatency())

	// EWMA with alpha 0.2: 0.8*1s + 0.2*2s = 1.2s.
	registry.ObserveLatency("openai", 2*time.Second)
	assert.Equal(t, 1200*time.Millisecond, registry.Get("openai").AvgLatency())

	registry.ObserveLatency("missing", time.Second)
}
