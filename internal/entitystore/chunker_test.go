package entitystore_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/entityrag/internal/entitystore"
)

func TestNewFixedSizeChunker(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
		wantError bool
	}{
		{"valid", 400, 50, false},
		{"zero overlap", 10, 0, false},
		{"zero chunk size", 0, 0, true},
		{"negative overlap", 10, -1, true},
		{"overlap equals chunk size", 10, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := entitystore.NewFixedSizeChunker(tt.chunkSize, tt.overlap)
			if tt.wantError {
				assert.ErrorIs(t, err, entitystore.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFixedSizeChunker_Chunk(t *testing.T) {
	t.Run("splits into disjoint windows", func(t *testing.T) {
		c, err := entitystore.NewFixedSizeChunker(3, 0)
		require.NoError(t, err)

		chunks, err := c.Chunk("doc.txt", []byte("w1 w2 w3 w4 w5 w6 w7 w8"))
		require.NoError(t, err)
		require.Len(t, chunks, 3)

		assert.Equal(t, "w1 w2 w3", chunks[0].Text)
		assert.Equal(t, "w4 w5 w6", chunks[1].Text)
		assert.Equal(t, "w7 w8", chunks[2].Text)
		assert.Equal(t, 2, chunks[2].OrderIndex)
		assert.Equal(t, 2, chunks[2].TokenCount)
	})

	t.Run("overlapping windows share words", func(t *testing.T) {
		c, err := entitystore.NewFixedSizeChunker(4, 2)
		require.NoError(t, err)

		chunks, err := c.Chunk("doc.txt", []byte("a b c d e f"))
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "a b c d", chunks[0].Text)
		assert.Equal(t, "c d e f", chunks[1].Text)
	})

	t.Run("single window for short input", func(t *testing.T) {
		c := entitystore.DefaultChunker()
		chunks, err := c.Chunk("doc.txt", []byte("just a few words"))
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, 4, chunks[0].TokenCount)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		c := entitystore.DefaultChunker()
		_, err := c.Chunk("doc.txt", nil)
		assert.ErrorIs(t, err, entitystore.ErrEmptyInput)

		_, err = c.Chunk("doc.txt", []byte("   \n\t "))
		assert.ErrorIs(t, err, entitystore.ErrEmptyInput)
	})

	t.Run("rejects binary input", func(t *testing.T) {
		c := entitystore.DefaultChunker()
		_, err := c.Chunk("doc.bin", []byte{0xff, 0xfe, 0x00, 0x81})
		assert.ErrorIs(t, err, entitystore.ErrEmptyInput)
	})

	t.Run("long input yields bounded chunks", func(t *testing.T) {
		c := entitystore.DefaultChunker()
		text := strings.Repeat("word ", 1000)
		chunks, err := c.Chunk("doc.txt", []byte(text))
		require.NoError(t, err)
		assert.Greater(t, len(chunks), 1)
		for _, chunk := range chunks {
			assert.LessOrEqual(t, chunk.TokenCount, 400)
		}
	})
}
