package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectDimensionFromModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"BAAI/bge-large-en-v1.5", 1024},
		{"all-MiniLM-L6-v2", 384},
		{"unknown-model", 384},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDimensionFromModel(tt.model))
		})
	}
}

func TestNewProvider(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Provider: "carrier-pigeon"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("tei requires base URL", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Provider: "tei"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("tei provider", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{
			Provider: "tei",
			BaseURL:  "http://localhost:8080",
			Model:    "BAAI/bge-small-en-v1.5",
		})
		require.NoError(t, err)
		assert.Equal(t, 384, p.Dimension())
		assert.NoError(t, p.Close())
	})

	t.Run("hash provider", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{Provider: "hash", Dimension: 64})
		require.NoError(t, err)
		assert.Equal(t, 64, p.Dimension())
	})

	t.Run("dimension override wins", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{
			Provider:  "tei",
			BaseURL:   "http://localhost:8080",
			Model:     "text-embedding-3-small",
			Dimension: 256,
		})
		require.NoError(t, err)
		assert.Equal(t, 256, p.Dimension())
	})

	t.Run("openai requires key or base URL", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Provider: "openai"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestHashProvider(t *testing.T) {
	p := NewHashProvider(32)
	ctx := context.Background()

	t.Run("deterministic", func(t *testing.T) {
		a, err := p.EmbedQuery(ctx, "same text")
		require.NoError(t, err)
		b, err := p.EmbedQuery(ctx, "same text")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("distinct texts differ", func(t *testing.T) {
		a, err := p.EmbedQuery(ctx, "alpha")
		require.NoError(t, err)
		b, err := p.EmbedQuery(ctx, "beta")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("unit vectors", func(t *testing.T) {
		v, err := p.EmbedQuery(ctx, "normalize me")
		require.NoError(t, err)
		require.Len(t, v, 32)

		var sumSq float64
		for _, x := range v {
			sumSq += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, sumSq, 1e-4)
	})

	t.Run("batch matches query", func(t *testing.T) {
		vectors, err := p.EmbedDocuments(ctx, []string{"alpha", "beta"})
		require.NoError(t, err)
		require.Len(t, vectors, 2)

		single, err := p.EmbedQuery(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, single, vectors[0])
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := p.EmbedDocuments(ctx, nil)
		assert.ErrorIs(t, err, ErrEmptyInput)

		_, err = p.EmbedQuery(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyInput)
	})
}
