package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/toolscout/genflow"
	"github.com/toolscout/genflow/cache"
	"github.com/toolscout/genflow/config"
	"github.com/toolscout/genflow/cost"
	"github.com/toolscout/genflow/monitor"
	"github.com/toolscout/genflow/orchestrator"
	"github.com/toolscout/genflow/provider"
	"github.com/toolscout/genflow/rate"
	"github.com/toolscout/genflow/registry"
	"github.com/toolscout/genflow/router"
)

type fixedEngine struct {
	id  string
	raw *provider.Raw
	err error
}

func (e *fixedEngine) Generate(ctx context.Context, prompt string, params provider.Params) (*provider.Raw, error) {
	return e.raw, e.err
}

func (e *fixedEngine) Probe(ctx context.Context) error { return nil }

func (e *fixedEngine) ID() string { return e.id }

func newTestHandler(t *testing.T, burst int, engine *fixedEngine) http.Handler {
	logger := zap.NewNop().Sugar()
	cfg := &config.Config{
		Tiers: map[string]config.TierConfig{
			string(genflow.TierAuthenticated): {RequestsPerHour: 1000, BurstPerMinute: burst},
		},
	}

	reg := registry.New(logger)
	assert.NoError(t, reg.Register(&registry.Profile{ID: engine.id, QualityRank: 1, Engine: engine}))

	mon := monitor.New()
	tracker := cost.NewTracker(nil, 24*time.Hour, logger)
	responseCache := cache.New(cache.NewMemoryStore(0), nil, 24*time.Hour, logger)
	limiter := rate.NewLimiter(cfg.TierLimits(), logger)
	fallbackRouter := router.New(reg, tracker, mon, router.Config{
		AttemptTimeout: time.Second,
		RetryBackoff:   0,
	}, logger)

	orch := orchestrator.New(cfg, limiter, responseCache, fallbackRouter, reg, tracker, mon, logger)
	return New(orch, mon, logger).Handler()
}

func postGenerate(t *testing.T, handler http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	assert.NoError(t, err)

	request := httptest.NewRequest(http.MethodPost, "/v1/generate", bytes.NewReader(encoded))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func validBody() map[string]any {
	return map[string]any{
		"prompt":      "review the standing desk",
		"kind":        "review",
		"caller_id":   "user-1",
		"caller_tier": "authenticated",
		"max_tokens":  500,
	}
}

func TestHandleGenerate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		handler := newTestHandler(t, 100, &fixedEngine{
			id:  "openai",
			raw: &provider.Raw{Content: "a thorough review", TokenCount: 150},
		})

		recorder := postGenerate(t, handler, validBody())
		assert.Equal(t, http.StatusOK, recorder.Code)

		var result genflow.GenerationResult
		assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
		assert.Equal(t, "a thorough review", result.Content)
		assert.Equal(t, "openai", result.ProviderID)
		assert.Equal(t, genflow.CacheMiss, result.CacheStatus)
	})

	t.Run("invalid json body", func(t *testing.T) {
		handler := newTestHandler(t, 100, &fixedEngine{id: "openai"})

		request := httptest.NewRequest(http.MethodPost, "/v1/generate", bytes.NewReader([]byte("{broken")))
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("missing caller id", func(t *testing.T) {
		handler := newTestHandler(t, 100, &fixedEngine{id: "openai"})

		body := validBody()
		delete(body, "caller_id")
		recorder := postGenerate(t, handler, body)
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		handler := newTestHandler(t, 100, &fixedEngine{id: "openai"})

		body := validBody()
		body["kind"] = "poem"
		recorder := postGenerate(t, handler, body)
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		handler := newTestHandler(t, 1, &fixedEngine{
			id:  "openai",
			raw: &provider.Raw{Content: "ok", TokenCount: 10},
		})

		first := postGenerate(t, handler, validBody())
		assert.Equal(t, http.StatusOK, first.Code)

		body := validBody()
		body["prompt"] = "a different prompt"
		second := postGenerate(t, handler, body)
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.NotEmpty(t, second.Header().Get("Retry-After"))

		var response errorResponse
		assert.NoError(t, json.Unmarshal(second.Body.Bytes(), &response))
		assert.True(t, response.RetryAfter > 0)
	})

	t.Run("all providers failed", func(t *testing.T) {
		handler := newTestHandler(t, 100, &fixedEngine{
			id:  "openai",
			err: provider.ErrQuotaExceeded,
		})

		recorder := postGenerate(t, handler, validBody())
		assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)

		var response errorResponse
		assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, 1, len(response.Attempts))
		assert.Equal(t, "openai", response.Attempts[0].ProviderID)
		assert.Equal(t, genflow.FailureQuotaExceeded, response.Attempts[0].Class)
	})
}

func TestHandleStats(t *testing.T) {
	handler := newTestHandler(t, 100, &fixedEngine{
		id:  "openai",
		raw: &provider.Raw{Content: "ok", TokenCount: 10},
	})

	postGenerate(t, handler, validBody())
	postGenerate(t, handler, validBody())

	request := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)

	var stats monitor.Stats
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Requests)
	assert.Equal(t, int64(1), stats.CacheHits)
}

func TestHandleMetrics(t *testing.T) {
	handler := newTestHandler(t, 100, &fixedEngine{
		id:  "openai",
		raw: &provider.Raw{Content: "ok", TokenCount: 10},
	})
	postGenerate(t, handler, validBody())

	request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "genflow_requests_total")
}

func TestHandleHealth(t *testing.T) {
	handler := newTestHandler(t, 100, &fixedEngine{id: "openai"})

	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
}
