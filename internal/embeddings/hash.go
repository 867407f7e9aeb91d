package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// HashProvider generates deterministic pseudo-embeddings from a text's
// SHA-256 digest. There is no semantic signal in the vectors; identical
// texts map to identical unit vectors and different texts almost never
// collide, which is what offline development and tests need.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a HashProvider with the given dimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashProvider{dimension: dimension}
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.makeEmbedding(text)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return p.makeEmbedding(text), nil
}

// makeEmbedding expands the digest into a normalized vector by hashing
// a per-position counter with the text digest as seed.
func (p *HashProvider) makeEmbedding(text string) []float32 {
	seed := sha256.Sum256([]byte(text))

	vector := make([]float32, p.dimension)
	var sumSq float64
	var block [32]byte
	for i := 0; i < p.dimension; i++ {
		if i%4 == 0 {
			var counter [8]byte
			binary.BigEndian.PutUint64(counter[:], uint64(i/4))
			block = sha256.Sum256(append(seed[:], counter[:]...))
		}
		bits := binary.BigEndian.Uint64(block[(i%4)*8 : (i%4)*8+8])
		// Map to [-1, 1).
		vector[i] = float32(int64(bits)) / float32(math.MaxInt64)
		sumSq += float64(vector[i]) * float64(vector[i])
	}

	norm := float32(math.Sqrt(sumSq))
	if norm > 0 {
		for i := range vector {
			vector[i] /= norm
		}
	}
	return vector
}

// Dimension returns the configured dimension.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *HashProvider) Close() error {
	return nil
}

// Ensure HashProvider implements Provider.
var _ Provider = (*HashProvider)(nil)
