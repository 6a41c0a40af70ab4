// Package mock implements a deterministic offline engine. It participates in
// the fallback chain like any other provider, so degraded mode is a routing
// outcome rather than a separate code path; its results are tagged as
// placeholders.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/toolscout/genflow"
	"github.com/toolscout/genflow/provider"
)

// Engine always succeeds with placeholder content derived from the prompt,
// so repeated calls for the same prompt stay byte-identical.
type Engine struct {
	id string
}

func NewEngine(id string) *Engine {
	return &Engine{id: id}
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Generate(ctx context.Context, prompt string, params provider.Params) (*provider.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, &provider.TransientError{Cause: err}
	}

	sum := sha256.Sum256([]byte(genflow.NormalizePrompt(prompt)))
	content := fmt.Sprintf(
		"[placeholder %s] This content is a deterministic stand-in generated while no provider was reachable.",
		hex.EncodeToString(sum[:4]),
	)

	return &provider.Raw{
		Content:     content,
		TokenCount:  int32(len(content) / 4),
		Placeholder: true,
	}, nil
}

func (e *Engine) Probe(ctx context.Context) error {
	return nil
}
