package embeddings

import (
	"context"
	"fmt"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	// Model is the embedding model.
	// Default: "text-embedding-3-small"
	Model string

	// BaseURL overrides the OpenAI endpoint. Any OpenAI-compatible
	// server works, including TEI's /v1 surface.
	BaseURL string

	// APIKey authenticates requests.
	APIKey string

	// Dimension is the embedding dimension of the model.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *OpenAIConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		c.Dimension = detectDimensionFromModel(c.Model)
	}
}

// Validate validates the configuration.
func (c *OpenAIConfig) Validate() error {
	if c.APIKey == "" && c.BaseURL == "" {
		return fmt.Errorf("%w: api key required for the OpenAI endpoint", ErrInvalidConfig)
	}
	return nil
}

// OpenAIProvider generates embeddings through langchaingo's OpenAI
// client. The same client talks to any OpenAI-compatible server when
// BaseURL is set.
type OpenAIProvider struct {
	embedder *lcembeddings.EmbedderImpl
	config   OpenAIConfig
	metrics  *Metrics
}

// NewOpenAIProvider creates an OpenAIProvider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for servers that ignore it.
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAIProvider{
		embedder: embedder,
		config:   config,
		metrics:  NewMetrics(zap.NewNop()),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
		return nil, genErr
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}
	return vector, nil
}

// Dimension returns the embedding dimension of the configured model.
func (p *OpenAIProvider) Dimension() int {
	return p.config.Dimension
}

// Close is a no-op; the client is stateless HTTP.
func (p *OpenAIProvider) Close() error {
	return nil
}

// Ensure OpenAIProvider implements Provider.
var _ Provider = (*OpenAIProvider)(nil)
