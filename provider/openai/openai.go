// Package openai implements the provider contract over any OpenAI-compatible
// chat-completions endpoint, which covers OpenAI itself and the various
// hosted gateways that speak the same protocol.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/toolscout/genflow/provider"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int32         `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int32 `json:"total_tokens"`
	} `json:"usage"`
}

// Engine calls one OpenAI-compatible endpoint with a fixed model.
type Engine struct {
	id         string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewEngine returns an adapter for the endpoint at baseURL, e.g.
// "https://api.openai.com/v1". The per-attempt timeout comes from the
// caller's context, so the underlying client carries none of its own.
func NewEngine(id string, baseURL string, apiKey string, model string) *Engine {
	return &Engine{
		id:         id,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Generate(ctx context.Context, prompt string, params provider.Params) (*provider.Raw, error) {
	body, err := json.Marshal(chatRequest{
		Model:       e.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &provider.TransientError{Cause: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return nil, provider.ErrMalformedResponse
	}

	content := completion.Choices[0].Message.Content
	tokens := completion.Usage.TotalTokens
	if tokens == 0 {
		// Some compatible endpoints omit usage; fall back to a rough
		// 4-chars-per-token estimate.
		tokens = int32(len(prompt)+len(content)) / 4
	}

	return &provider.Raw{Content: content, TokenCount: tokens}, nil
}

// Probe lists models, which is the cheapest authenticated call the protocol
// offers.
func (e *Engine) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return &provider.TransientError{Cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classifyStatus(resp.StatusCode)
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", provider.ErrQuotaExceeded, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", provider.ErrUnauthorized, status)
	case status >= 500:
		return &provider.TransientError{Cause: fmt.Errorf("HTTP %d", status)}
	default:
		return &provider.TransientError{Cause: fmt.Errorf("unexpected HTTP %d", status)}
	}
}
