// Package embeddings provides embedding generation via multiple providers.
package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/entityrag/internal/index"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
type Provider interface {
	index.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "openai", "tei" or "hash".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL overrides the API endpoint (OpenAI-compatible servers, TEI).
	BaseURL string
	// APIKey authenticates against the API (required for OpenAI).
	APIKey string
	// Dimension overrides the model-derived embedding dimension.
	Dimension int
}

// detectDimensionFromModel returns the embedding dimension for a model
// name, falling back to 384 for unknown models.
func detectDimensionFromModel(model string) int {
	switch {
	case strings.Contains(model, "text-embedding-3-large"):
		return 3072
	case strings.Contains(model, "text-embedding-3-small"), strings.Contains(model, "text-embedding-ada"):
		return 1536
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "small"), strings.Contains(model, "mini"):
		return 384
	default:
		return 384
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	dim := cfg.Dimension
	if dim == 0 {
		dim = detectDimensionFromModel(cfg.Model)
	}

	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(OpenAIConfig{
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Dimension: dim,
		})
	case "tei":
		svc, err := NewService(Config{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		return &teiProvider{Service: svc, dimension: dim}, nil
	case "hash":
		return NewHashProvider(dim), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// teiProvider wraps Service to implement Provider.
type teiProvider struct {
	*Service
	dimension int
}

func (t *teiProvider) Dimension() int {
	return t.dimension
}

// Close is a no-op for TEI since it uses plain HTTP.
func (t *teiProvider) Close() error {
	return nil
}
