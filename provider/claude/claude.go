// Package claude implements the provider contract on top of the official
// Anthropic SDK.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/toolscout/genflow/provider"
)

type anthropicClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Engine calls the Anthropic messages API with a fixed model.
type Engine struct {
	id     string
	model  anthropic.Model
	client anthropicClient
}

func NewEngine(id string, apiKey string, model string) *Engine {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Engine{
		id:     id,
		model:  anthropic.Model(model),
		client: &client.Messages,
	}
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Generate(ctx context.Context, prompt string, params provider.Params) (*provider.Raw, error) {
	newParams := anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: int64(params.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if params.Temperature > 0 {
		newParams.Temperature = anthropic.Float(float64(params.Temperature))
	}

	message, err := e.client.New(ctx, newParams)
	if err != nil {
		return nil, classify(err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(content.String()) == "" {
		return nil, provider.ErrMalformedResponse
	}

	return &provider.Raw{
		Content:    content.String(),
		TokenCount: int32(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

// Probe sends a minimal one-token message, the same shape the upstream
// gateway uses for its latency pings.
func (e *Engine) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := e.client.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Ping")),
		},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", provider.ErrQuotaExceeded, err)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %v", provider.ErrUnauthorized, err)
		}
	}
	return &provider.TransientError{Cause: err}
}
