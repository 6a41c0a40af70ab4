package genflow

import (
	"errors"
	"fmt"
	"time"
)

// FailureClass classifies a provider failure for routing decisions and for
// the attempt log surfaced to callers.
type FailureClass string

const (
	// FailureQuotaExceeded means the provider rejected the call because its
	// quota is spent for the current window.
	FailureQuotaExceeded FailureClass = "quota_exceeded"

	// FailureUnauthorized means the provider rejected the credentials.
	FailureUnauthorized FailureClass = "unauthorized"

	// FailureTransient covers network errors and per-attempt timeouts.
	FailureTransient FailureClass = "transient"

	// FailureMalformed means the provider answered with content that fails
	// basic validation (empty or truncated). Routed like a transient failure
	// but logged distinctly.
	FailureMalformed FailureClass = "malformed_response"
)

// Attempt records one provider dispatch inside a fallback chain.
type Attempt struct {
	ProviderID string        `json:"provider_id"`
	Class      FailureClass  `json:"class"`
	Error      string        `json:"error"`
	Elapsed    time.Duration `json:"elapsed"`
	Retried    bool          `json:"retried"`
}

// RateLimitError is returned when the caller's tier ceiling is hit. It is
// never retried internally.
type RateLimitError struct {
	// Time remaining until the violated window resets.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// AllProvidersError is returned when every candidate provider failed or was
// excluded. Attempts holds the ordered per-provider failure log.
type AllProvidersError struct {
	Attempts []Attempt
}

func (e *AllProvidersError) Error() string {
	if len(e.Attempts) == 0 {
		return "no providers available"
	}
	return fmt.Sprintf("all %d providers failed, last: %s (%s)",
		len(e.Attempts),
		e.Attempts[len(e.Attempts)-1].ProviderID,
		e.Attempts[len(e.Attempts)-1].Class)
}

// ErrDeadline is returned when the caller-level deadline elapses regardless
// of remaining fallback candidates. Distinct from AllProvidersError.
var ErrDeadline = errors.New("generation deadline exceeded")
