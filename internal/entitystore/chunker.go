package entitystore

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Chunker splits raw document bytes into ordered text chunks with token
// counts. Implementations may fail on unsupported or corrupt input;
// that failure aborts an add cleanly before any index mutation.
type Chunker interface {
	Chunk(name string, data []byte) ([]Chunk, error)
}

// FixedSizeChunker splits plain text into fixed-size word windows with
// overlap. Token counts are approximated by word counts.
type FixedSizeChunker struct {
	// ChunkSize is the window size in words. Default: 400
	ChunkSize int

	// Overlap is the number of words shared between consecutive
	// chunks. Default: 50
	Overlap int
}

// DefaultChunker returns a chunker with the default window sizing.
func DefaultChunker() *FixedSizeChunker {
	return &FixedSizeChunker{ChunkSize: 400, Overlap: 50}
}

// NewFixedSizeChunker creates a FixedSizeChunker.
func NewFixedSizeChunker(chunkSize, overlap int) (*FixedSizeChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, overlap, chunkSize)
	}
	return &FixedSizeChunker{ChunkSize: chunkSize, Overlap: overlap}, nil
}

// Chunk splits data into ordered chunks. Only text content is
// supported; invalid UTF-8 is rejected as unsupported input.
func (c *FixedSizeChunker) Chunk(name string, data []byte) ([]Chunk, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s has no content", ErrEmptyInput, name)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", ErrEmptyInput, name)
	}

	words := strings.Fields(string(data))
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: %s has no content", ErrEmptyInput, name)
	}

	step := c.ChunkSize - c.Overlap
	var chunks []Chunk
	for start := 0; start < len(words); start += step {
		end := start + c.ChunkSize
		if end > len(words) {
			end = len(words)
		}
		window := words[start:end]
		chunks = append(chunks, Chunk{
			OrderIndex: len(chunks),
			Text:       strings.Join(window, " "),
			TokenCount: len(window),
		})
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

// Ensure FixedSizeChunker implements Chunker.
var _ Chunker = (*FixedSizeChunker)(nil)
