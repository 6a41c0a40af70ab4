// Package server is the thin HTTP surface the surrounding content
// application talks to. It translates between JSON and the orchestrator's
// Generate operation and maps the core error taxonomy onto status codes.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/toolscout/genflow"
	"github.com/toolscout/genflow/monitor"
	"github.com/toolscout/genflow/orchestrator"
)

// Server hosts the orchestrator over HTTP.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	monitor      *monitor.Monitor
	logger       *zap.SugaredLogger
}

func New(orch *orchestrator.Orchestrator, mon *monitor.Monitor, logger *zap.SugaredLogger) *Server {
	return &Server{
		orchestrator: orch,
		monitor:      mon,
		logger:       logger,
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/v1/generate", s.handleGenerate).Methods(http.MethodPost)
	router.HandleFunc("/v1/stats", s.handleStats).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.monitor.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return cors.Default().Handler(router)
}

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	Kind        string  `json:"kind"`
	CallerID    string  `json:"caller_id"`
	CallerTier  string  `json:"caller_tier"`
	MaxTokens   int32   `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

type errorResponse struct {
	Error      string            `json:"error"`
	RetryAfter float64           `json:"retry_after_seconds,omitempty"`
	Attempts   []genflow.Attempt `json:"attempts,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if body.CallerID == "" {
		s.writeError(w, http.StatusBadRequest, errorResponse{Error: "caller_id is required"})
		return
	}

	request := &genflow.GenerationRequest{
		Prompt:      body.Prompt,
		Kind:        genflow.ContentKind(body.Kind),
		CallerID:    body.CallerID,
		CallerTier:  genflow.Tier(body.CallerTier),
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
	}

	result, err := s.orchestrator.Generate(r.Context(), request)
	if err != nil {
		s.writeGenerateError(w, requestID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Warnw("Failed to encode response", "request_id", requestID, "error", err)
	}
}

// writeGenerateError maps the core taxonomy onto HTTP: rate limit to 429
// with Retry-After, exhausted providers to 503, deadline to 504, anything
// else (validation) to 400.
func (s *Server) writeGenerateError(w http.ResponseWriter, requestID string, err error) {
	var rateLimited *genflow.RateLimitError
	if errors.As(err, &rateLimited) {
		seconds := int(rateLimited.RetryAfter/time.Second) + 1
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		s.writeError(w, http.StatusTooManyRequests, errorResponse{
			Error:      err.Error(),
			RetryAfter: rateLimited.RetryAfter.Seconds(),
		})
		return
	}

	var allFailed *genflow.AllProvidersError
	if errors.As(err, &allFailed) {
		s.logger.Errorw("All providers failed", "request_id", requestID, "attempts", len(allFailed.Attempts))
		s.writeError(w, http.StatusServiceUnavailable, errorResponse{
			Error:    err.Error(),
			Attempts: allFailed.Attempts,
		})
		return
	}

	if errors.Is(err, genflow.ErrDeadline) {
		s.writeError(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
		return
	}

	s.writeError(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.monitor.Snapshot()); err != nil {
		s.logger.Warnw("Failed to encode stats", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (s *Server) writeError(w http.ResponseWriter, status int, body errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warnw("Failed to encode error response", "error", err)
	}
}
