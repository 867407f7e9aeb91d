package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdate_Apply(t *testing.T) {
	t.Run("set replaces and creates fields", func(t *testing.T) {
		r := Record{"a": "old"}
		modified := Update{Set: map[string]any{"a": "new", "b": 1}}.apply(r)

		assert.True(t, modified)
		assert.Equal(t, "new", r["a"])
		assert.Equal(t, 1, r["b"])
	})

	t.Run("set dotted path creates nested maps", func(t *testing.T) {
		r := Record{}
		Update{Set: map[string]any{"meta.source": "upload"}}.apply(r)

		meta, ok := r["meta"].(map[string]any)
		assert.True(t, ok)
		assert.Equal(t, "upload", meta["source"])
	})

	t.Run("unset removes present field", func(t *testing.T) {
		r := Record{"a": "x", "b": "y"}
		modified := Update{Unset: []string{"a", "missing"}}.apply(r)

		assert.True(t, modified)
		assert.NotContains(t, r, "a")
		assert.Contains(t, r, "b")
	})

	t.Run("unset missing field reports no change", func(t *testing.T) {
		r := Record{"b": "y"}
		assert.False(t, Update{Unset: []string{"a"}}.apply(r))
	})

	t.Run("inc adds to numeric field", func(t *testing.T) {
		r := Record{"count": float64(3)}
		Update{Inc: map[string]float64{"count": 2}}.apply(r)
		assert.Equal(t, float64(5), r["count"])
	})

	t.Run("inc initializes missing field", func(t *testing.T) {
		r := Record{}
		Update{Inc: map[string]float64{"count": 4}}.apply(r)
		assert.Equal(t, float64(4), r["count"])
	})

	t.Run("inc resets non-numeric field", func(t *testing.T) {
		r := Record{"count": "oops"}
		Update{Inc: map[string]float64{"count": 4}}.apply(r)
		assert.Equal(t, float64(4), r["count"])
	})

	t.Run("addToSet appends when absent", func(t *testing.T) {
		r := Record{"tags": []any{"a"}}
		modified := Update{AddToSet: map[string]any{"tags": "b"}}.apply(r)

		assert.True(t, modified)
		assert.Equal(t, []any{"a", "b"}, r["tags"])
	})

	t.Run("addToSet is a no-op when present", func(t *testing.T) {
		r := Record{"tags": []any{"a", "b"}}
		modified := Update{AddToSet: map[string]any{"tags": "b"}}.apply(r)

		assert.False(t, modified)
		assert.Equal(t, []any{"a", "b"}, r["tags"])
	})

	t.Run("addToSet wraps scalar into list", func(t *testing.T) {
		r := Record{"tags": "a"}
		Update{AddToSet: map[string]any{"tags": "b"}}.apply(r)
		assert.Equal(t, []any{"a", "b"}, r["tags"])
	})

	t.Run("setOnInsert is ignored on apply", func(t *testing.T) {
		r := Record{"a": "old"}
		modified := Update{SetOnInsert: map[string]any{"a": "new"}}.apply(r)

		assert.False(t, modified)
		assert.Equal(t, "old", r["a"])
	})
}

func TestUpdate_NewRecord(t *testing.T) {
	u := Update{
		Set:         map[string]any{"doc_name": "report.txt"},
		Inc:         map[string]float64{"chunk_count": 3},
		AddToSet:    map[string]any{"tags": "new"},
		SetOnInsert: map[string]any{"created_at": "2026-01-01"},
	}
	r := u.newRecord(And(Eq("entity_id", "acme"), Eq("doc_id", "doc_1")))

	assert.Equal(t, "acme", r["entity_id"])
	assert.Equal(t, "doc_1", r["doc_id"])
	assert.Equal(t, "report.txt", r["doc_name"])
	assert.Equal(t, float64(3), r["chunk_count"])
	assert.Equal(t, []any{"new"}, r["tags"])
	assert.Equal(t, "2026-01-01", r["created_at"])
}
