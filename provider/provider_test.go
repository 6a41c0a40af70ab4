package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/toolscout/genflow"
)

func TestClassify(t *testing.T) {
	t.Run("sentinel errors map onto their class", func(t *testing.T) {
		assert.Equal(t, genflow.FailureQuotaExceeded, Classify(ErrQuotaExceeded))
		assert.Equal(t, genflow.FailureUnauthorized, Classify(ErrUnauthorized))
		assert.Equal(t, genflow.FailureMalformed, Classify(ErrMalformedResponse))
	})

	t.Run("wrapped sentinels keep their class", func(t *testing.T) {
		assert.Equal(t, genflow.FailureQuotaExceeded, Classify(fmt.Errorf("%w: HTTP 429", ErrQuotaExceeded)))
		assert.Equal(t, genflow.FailureUnauthorized, Classify(fmt.Errorf("%w: key revoked", ErrUnauthorized)))
	})

	t.Run("everything else is transient", func(t *testing.T) {
		assert.Equal(t, genflow.FailureTransient, Classify(&TransientError{Cause: errors.New("connection reset")}))
		assert.Equal(t, genflow.FailureTransient, Classify(context.DeadlineExceeded))
		assert.Equal(t, genflow.FailureTransient, Classify(errors.New("who knows")))
	})
}

func TestTransientErrorUnwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	err := &TransientError{Cause: cause}

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "transient provider error")
}
