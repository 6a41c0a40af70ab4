package genflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	base := &GenerationRequest{
		Prompt:      "Compare Figma and Sketch for UI design",
		Kind:        KindComparison,
		CallerID:    "user-1",
		CallerTier:  TierPremium,
		MaxTokens:   512,
		Temperature: 0.7,
	}

	t.Run("stable across calls", func(t *testing.T) {
		assert.Equal(t, base.Fingerprint(), base.Fingerprint())
	})

	t.Run("ignores caller identity", func(t *testing.T) {
		other := *base
		other.CallerID = "user-2"
		other.CallerTier = TierAnonymous
		assert.Equal(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("normalizes whitespace and case", func(t *testing.T) {
		other := *base
		other.Prompt = "  compare   FIGMA and\tSketch for UI design "
		assert.Equal(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("differs on prompt", func(t *testing.T) {
		other := *base
		other.Prompt = "Compare Figma and Adobe XD for UI design"
		assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("differs on model-affecting parameters", func(t *testing.T) {
		byTokens := *base
		byTokens.MaxTokens = 1024
		assert.NotEqual(t, base.Fingerprint(), byTokens.Fingerprint())

		byTemperature := *base
		byTemperature.Temperature = 0.2
		assert.NotEqual(t, base.Fingerprint(), byTemperature.Fingerprint())

		byKind := *base
		byKind.Kind = KindArticle
		assert.NotEqual(t, base.Fingerprint(), byKind.Fingerprint())
	})
}

func TestGenerationResultClone(t *testing.T) {
	original := &GenerationResult{
		Content:     "some content",
		TokenCount:  42,
		ProviderID:  "openai",
		Cost:        0.0021,
		CacheStatus: CacheMiss,
	}

	clone := original.Clone()
	clone.Content = "changed"
	clone.CacheStatus = CacheHit

	assert.Equal(t, "some content", original.Content)
	assert.Equal(t, CacheMiss, original.CacheStatus)
	assert.Nil(t, (*GenerationResult)(nil).Clone())
}

func TestTierAndKindValidation(t *testing.T) {
	assert.True(t, TierAnonymous.Valid())
	assert.True(t, TierStaff.Valid())
	assert.False(t, Tier("vip").Valid())

	assert.True(t, KindReview.Valid())
	assert.False(t, ContentKind("poem").Valid())
}
