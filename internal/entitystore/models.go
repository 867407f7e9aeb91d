// Package entitystore provides per-entity isolated vector stores with
// concurrent ingestion, search and crash-safe persistence.
package entitystore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Sentinel errors for entity store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidEntityID indicates an entity ID that fails validation.
	ErrInvalidEntityID = errors.New("invalid entity id")

	// ErrEmptyInput indicates empty or unusable input content.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidChunk indicates a chunk record missing required fields.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrDocumentNotFound is returned when a doc_id is unknown to the
	// entity.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrChunkNotFound is returned when a chunk lookup misses.
	ErrChunkNotFound = errors.New("chunk not found")
)

// entityIDPattern bounds entity IDs to filesystem-safe names, since the
// entity ID becomes a directory and shard file name.
var entityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// ValidateEntityID validates an entity identifier.
func ValidateEntityID(entityID string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity id cannot be empty", ErrInvalidEntityID)
	}
	if !entityIDPattern.MatchString(entityID) {
		return fmt.Errorf("%w: entity id must match pattern %s, got %q", ErrInvalidEntityID, entityIDPattern.String(), entityID)
	}
	return nil
}

// Chunk is one unit of embedded text belonging to a document.
//
// ChunkID is unique within an entity; re-submitting an existing ChunkID
// is skipped, not an error. OrderIndex is the chunk's stable position
// within its document and drives chunk navigation.
type Chunk struct {
	ChunkID    string            `json:"chunk_id"`
	DocID      string            `json:"doc_id"`
	OrderIndex int               `json:"chunk_order_index"`
	Text       string            `json:"text"`
	TokenCount int               `json:"token_count"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Validate checks the required fields of a caller-supplied chunk.
func (c Chunk) Validate() error {
	if c.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidChunk)
	}
	if c.OrderIndex < 0 {
		return fmt.Errorf("%w: chunk_order_index cannot be negative", ErrInvalidChunk)
	}
	return nil
}

// DocumentInfo describes one ingested document.
type DocumentInfo struct {
	DocID       string `json:"doc_id"`
	EntityID    string `json:"entity_id"`
	Name        string `json:"doc_name"`
	ContentHash string `json:"content_hash,omitempty"`
	ChunkCount  int    `json:"chunk_count"`
	CreatedAt   string `json:"created_at"`
}

// FileInput is one document submitted for ingestion.
type FileInput struct {
	// Name is the source file name, kept for listing and result
	// attribution.
	Name string

	// Data is the raw content to hash, chunk and index.
	Data []byte

	// Extra is caller-supplied metadata copied onto every chunk.
	Extra map[string]string
}

// AddResult reports the outcome of a single document ingestion.
type AddResult struct {
	DocID       string `json:"doc_id"`
	EntityID    string `json:"entity_id"`
	ChunkCount  int    `json:"chunk_count"`
	IsDuplicate bool   `json:"is_duplicate"`
}

// BatchResult reports the outcome of a chunk batch ingestion. A batch
// mixing new and already-indexed chunks is normal: duplicates are
// skipped individually and counted, never treated as an error.
type BatchResult struct {
	DocID        string   `json:"doc_id"`
	Indexed      int      `json:"indexed"`
	Duplicates   int      `json:"duplicates"`
	DuplicateIDs []string `json:"duplicate_ids,omitempty"`
}

// SearchResult is one search hit.
type SearchResult struct {
	ChunkID    string            `json:"chunk_id"`
	DocID      string            `json:"doc_id"`
	OrderIndex int               `json:"chunk_order_index"`
	Text       string            `json:"text"`
	Score      float32           `json:"score"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Stats describes one entity's store. Counts may be slightly stale
// under concurrent writes.
type Stats struct {
	EntityID    string `json:"entity_id"`
	Documents   int    `json:"documents"`
	Chunks      int    `json:"chunks"`
	IndexExists bool   `json:"index_exists"`
}

// contentHash returns the hex SHA-256 of raw document bytes, used for
// whole-document duplicate detection.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// newDocID generates a short document identifier.
func newDocID() string {
	return "doc_" + uuid.NewString()[:13]
}

// chunkIDFor derives the chunk identifier for a document position.
func chunkIDFor(docID string, orderIndex int) string {
	return fmt.Sprintf("chunk_%s_%d", docID, orderIndex)
}
