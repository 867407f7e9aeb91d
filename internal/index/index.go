// Package index provides per-entity vector indexes with durable snapshots.
package index

import (
	"context"
	"errors"
)

// Sentinel errors for index operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyEntries indicates empty or nil entries.
	ErrEmptyEntries = errors.New("empty or nil entries")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")
)

// Entry is one indexed unit of text. Embedding may be precomputed; when
// empty the index embeds Text itself.
type Entry struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Hit is one search result, ordered by descending similarity.
type Hit struct {
	ID       string
	Text     string
	Score    float32
	Metadata map[string]string
}

// Embedder generates vector embeddings from text.
//
// Implementations can use local inference services (TEI) or cloud APIs
// (OpenAI). Some models embed queries and documents differently, hence
// the split interface.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per
	// input, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index is a vector index over one entity's chunks.
//
// Mutations happen in memory; Save persists the whole index as a single
// snapshot file through an atomic replace, so a crash mid-save leaves
// the previous snapshot intact. Callers serialize Add/Remove/Save per
// entity; Search may run concurrently with other searches.
type Index interface {
	// Add embeds (when needed) and inserts entries.
	Add(ctx context.Context, entries []Entry) error

	// Search returns up to k entries most similar to query, optionally
	// restricted to entries whose metadata matches every where pair.
	Search(ctx context.Context, query string, k int, where map[string]string) ([]Hit, error)

	// Remove deletes entries by ID. Unknown IDs are ignored.
	Remove(ctx context.Context, ids ...string) error

	// Count returns the number of indexed entries.
	Count() int

	// Reset drops every entry, leaving an empty index.
	Reset(ctx context.Context) error

	// Save persists the in-memory index to its snapshot file.
	Save(ctx context.Context) error

	// Close releases resources without persisting.
	Close() error
}
