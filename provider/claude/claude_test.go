package claude

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"

	"github.com/toolscout/genflow/provider"
)

type fakeClient struct {
	message *anthropic.Message
	err     error

	gotParams anthropic.MessageNewParams
}

func (f *fakeClient) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.gotParams = params
	return f.message, f.err
}

func textMessage(text string, inputTokens, outputTokens int64) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: text},
		},
		Usage: anthropic.Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		},
	}
}

func newTestEngine(client anthropicClient) *Engine {
	return &Engine{id: "claude", model: anthropic.Model("claude-sonnet-4-0"), client: client}
}

func TestGenerate(t *testing.T) {
	t.Run("successful message", func(t *testing.T) {
		fake := &fakeClient{message: textMessage("a considered comparison", 120, 300)}
		engine := newTestEngine(fake)

		raw, err := engine.Generate(context.Background(), "compare the desks", provider.Params{
			MaxTokens:   500,
			Temperature: 0.4,
		})

		assert.NoError(t, err)
		assert.Equal(t, "a considered comparison", raw.Content)
		assert.Equal(t, int32(420), raw.TokenCount)
		assert.Equal(t, int64(500), fake.gotParams.MaxTokens)
		assert.True(t, fake.gotParams.Temperature.Valid())
	})

	t.Run("zero temperature is left unset", func(t *testing.T) {
		fake := &fakeClient{message: textMessage("content", 1, 1)}
		engine := newTestEngine(fake)

		_, err := engine.Generate(context.Background(), "prompt", provider.Params{MaxTokens: 10})
		assert.NoError(t, err)
		assert.False(t, fake.gotParams.Temperature.Valid())
	})

	t.Run("non-text blocks only are malformed", func(t *testing.T) {
		fake := &fakeClient{message: &anthropic.Message{
			Content: []anthropic.ContentBlockUnion{{Type: "tool_use"}},
		}}
		engine := newTestEngine(fake)

		_, err := engine.Generate(context.Background(), "prompt", provider.Params{MaxTokens: 10})
		assert.ErrorIs(t, err, provider.ErrMalformedResponse)
	})

	t.Run("api errors map onto the failure taxonomy", func(t *testing.T) {
		cases := []struct {
			status int
			target error
		}{
			{http.StatusTooManyRequests, provider.ErrQuotaExceeded},
			{http.StatusUnauthorized, provider.ErrUnauthorized},
			{http.StatusForbidden, provider.ErrUnauthorized},
		}
		for _, tc := range cases {
			fake := &fakeClient{err: &anthropic.Error{StatusCode: tc.status}}
			engine := newTestEngine(fake)

			_, err := engine.Generate(context.Background(), "prompt", provider.Params{MaxTokens: 10})
			assert.ErrorIs(t, err, tc.target, "status %d", tc.status)
		}
	})

	t.Run("other failures are transient", func(t *testing.T) {
		fake := &fakeClient{err: errors.New("connection reset")}
		engine := newTestEngine(fake)

		_, err := engine.Generate(context.Background(), "prompt", provider.Params{MaxTokens: 10})
		var transient *provider.TransientError
		assert.ErrorAs(t, err, &transient)
	})
}

func TestProbe(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		fake := &fakeClient{message: textMessage("pong", 1, 1)}
		engine := newTestEngine(fake)

		assert.NoError(t, engine.Probe(context.Background()))
		assert.Equal(t, int64(1), fake.gotParams.MaxTokens)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		fake := &fakeClient{err: &anthropic.Error{StatusCode: http.StatusUnauthorized}}
		engine := newTestEngine(fake)

		assert.ErrorIs(t, engine.Probe(context.Background()), provider.ErrUnauthorized)
	})
}
