// Package genflow contains the shared domain types of the content-generation
// orchestration core: requests, results, caller tiers, and the fingerprint
// that keys caching and request de-duplication.
package genflow

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ContentKind classifies what the caller wants generated. The kind affects
// cache TTLs (comparisons age faster than explanations) and is part of the
// request fingerprint.
type ContentKind string

const (
	KindReview      ContentKind = "review"
	KindComparison  ContentKind = "comparison"
	KindArticle     ContentKind = "article"
	KindExplanation ContentKind = "explanation"
)

// Valid reports whether the kind is one of the supported content kinds.
func (k ContentKind) Valid() bool {
	switch k {
	case KindReview, KindComparison, KindArticle, KindExplanation:
		return true
	}
	return false
}

// Tier classifies the caller for rate limiting. Each tier has strictly larger
// ceilings than the previous one.
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
	TierPremium       Tier = "premium"
	TierStaff         Tier = "staff"
)

// Valid reports whether the tier is one of the known caller tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierAnonymous, TierAuthenticated, TierPremium, TierStaff:
		return true
	}
	return false
}

// GenerationRequest describes one content-generation call. It is immutable
// once created; the orchestrator never writes to it.
type GenerationRequest struct {
	// Prompt text to send to a provider.
	Prompt string `json:"prompt"`

	// Kind of content being generated.
	Kind ContentKind `json:"kind"`

	// Identity of the caller, e.g. a user id or an IP for anonymous traffic.
	CallerID string `json:"caller_id"`

	// Rate-limit tier of the caller.
	CallerTier Tier `json:"caller_tier"`

	// Upper bound on generated tokens.
	MaxTokens int32 `json:"max_tokens"`

	// Sampling temperature passed through to the provider.
	Temperature float32 `json:"temperature"`
}

// fingerprintPayload is the canonical form hashed into a fingerprint. Only
// model-affecting parameters belong here; the caller identity must not, so
// that identical prompts from different callers share one cache entry.
type fingerprintPayload struct {
	Prompt      string      `json:"prompt"`
	Kind        ContentKind `json:"kind"`
	MaxTokens   int32       `json:"max_tokens"`
	Temperature float32     `json:"temperature"`
}

// Fingerprint returns a stable hash over the normalized prompt and the
// model-affecting parameters. It is the cache key and the dedup key.
func (r *GenerationRequest) Fingerprint() string {
	payload, err := json.Marshal(fingerprintPayload{
		Prompt:      NormalizePrompt(r.Prompt),
		Kind:        r.Kind,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	})
	if err != nil {
		// Marshaling a flat struct of scalars cannot fail; fall back to the
		// raw prompt so the key is still deterministic.
		payload = []byte(r.Prompt)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// NormalizePrompt lowercases the prompt and collapses runs of whitespace so
// that cosmetically different prompts map to the same fingerprint.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
}

// CacheStatus records how a result relates to the response cache.
type CacheStatus string

const (
	// CacheHit means the result was served from a live cache entry.
	CacheHit CacheStatus = "hit"

	// CacheMiss means the result came from a fresh provider dispatch.
	CacheMiss CacheStatus = "miss"

	// CacheStale means an expired entry was served because every provider
	// failed; the content is real but past its TTL.
	CacheStale CacheStatus = "stale"
)

// GenerationResult is the outcome of a successful generation. Cached values
// are frozen copies; callers always receive their own copy.
type GenerationResult struct {
	// Generated content text.
	Content string `json:"content"`

	// Total tokens billed by the provider.
	TokenCount int32 `json:"token_count"`

	// Id of the provider that produced the content.
	ProviderID string `json:"provider_id"`

	// Actual cost incurred in USD.
	Cost float64 `json:"cost"`

	// How the response cache was involved.
	CacheStatus CacheStatus `json:"cache_status"`

	// Wall time of the provider dispatch that produced the content. Zero for
	// cache hits.
	Latency time.Duration `json:"latency"`

	// Placeholder marks deterministic stand-in content from the offline
	// engine, so callers can tell generated from stand-in text.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Clone returns an independent copy of the result.
func (r *GenerationResult) Clone() *GenerationResult {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
