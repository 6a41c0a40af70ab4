// Package provider defines the classified contract between the orchestration
// core and external generation providers. The core never sees a provider's
// request or response shapes beyond this contract.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/toolscout/genflow"
)

// Params carries the model-affecting parameters of one generation call.
type Params struct {
	MaxTokens   int32
	Temperature float32
}

// Raw is a provider response reduced to what the core needs.
type Raw struct {
	// Generated text.
	Content string

	// Total tokens billed for the call.
	TokenCount int32

	// Placeholder is set by the offline engine so stand-in content stays
	// distinguishable from generated content.
	Placeholder bool
}

// Engine is a thin adapter over one external generation provider. Generate
// must honor ctx cancellation; the router applies a per-attempt timeout.
type Engine interface {
	// Generate dispatches the prompt and returns the raw response or a
	// classified error (ErrQuotaExceeded, ErrUnauthorized,
	// ErrMalformedResponse, or a *TransientError).
	Generate(ctx context.Context, prompt string, params Params) (*Raw, error)

	// Probe performs a lightweight health check against the provider.
	Probe(ctx context.Context) error

	// ID returns the provider id as configured in the registry.
	ID() string
}

var (
	// ErrQuotaExceeded means the provider's own quota is spent.
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrUnauthorized means the provider rejected the credentials.
	ErrUnauthorized = errors.New("provider unauthorized")

	// ErrMalformedResponse means the provider answered with empty or
	// truncated content.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// TransientError wraps network failures and timeouts that are worth one
// bounded retry against the same provider.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// Classify maps a provider error onto the routing failure taxonomy. Unknown
// errors and context timeouts count as transient.
func Classify(err error) genflow.FailureClass {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return genflow.FailureQuotaExceeded
	case errors.Is(err, ErrUnauthorized):
		return genflow.FailureUnauthorized
	case errors.Is(err, ErrMalformedResponse):
		return genflow.FailureMalformed
	default:
		return genflow.FailureTransient
	}
}
