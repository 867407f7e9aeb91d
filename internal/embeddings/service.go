package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds configuration for the TEI embedding service.
type Config struct {
	// BaseURL is the base URL of the TEI server.
	BaseURL string

	// Model is the embedding model the server runs, used for metric
	// labels only; TEI itself serves a single model.
	Model string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// Service generates embeddings against a TEI (Text Embeddings
// Inference) server's native /embed endpoint.
type Service struct {
	config  Config
	client  *http.Client
	metrics *Metrics
}

// NewService creates a new TEI embedding service.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &Service{
		config:  config,
		client:  &http.Client{Timeout: 60 * time.Second},
		metrics: NewMetrics(nil),
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := s.embed(ctx, texts)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
		return nil, genErr
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := s.embed(ctx, text)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		return nil, genErr
	}
	return vectors[0], nil
}

// embed posts inputs (a string or a []string) to /embed. TEI responds
// with one vector per input either way.
func (s *Service) embed(ctx context.Context, inputs interface{}) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, nil
}
