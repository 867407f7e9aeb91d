package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_Matches(t *testing.T) {
	record := Record{
		"entity_id": "acme",
		"doc_id":    "doc_1",
		"count":     float64(7),
		"tags":      []any{"alpha", "beta"},
		"metadata": map[string]any{
			"source": "upload",
			"tokens": float64(120),
		},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"all", All(), true},
		{"eq match", Eq("entity_id", "acme"), true},
		{"eq mismatch", Eq("entity_id", "other"), false},
		{"eq missing field", Eq("nope", "x"), false},
		{"eq numeric coercion", Eq("count", 7), true},
		{"eq list contains", Eq("tags", "beta"), true},
		{"eq list missing", Eq("tags", "gamma"), false},
		{"ne mismatch", Ne("entity_id", "other"), true},
		{"ne match", Ne("entity_id", "acme"), false},
		{"ne missing field", Ne("nope", "x"), true},
		{"exists true", Exists("doc_id", true), true},
		{"exists false", Exists("nope", false), true},
		{"exists wrong", Exists("doc_id", false), false},
		{"gt", Gt("count", 5), true},
		{"gt equal", Gt("count", 7), false},
		{"gte equal", Gte("count", 7), true},
		{"lt", Lt("count", 10), true},
		{"lte boundary", Lte("count", 7), true},
		{"lt missing field", Lt("nope", 10), false},
		{"in match", In("entity_id", "other", "acme"), true},
		{"in mismatch", In("entity_id", "other", "third"), false},
		{"and all match", And(Eq("entity_id", "acme"), Gt("count", 5)), true},
		{"and partial", And(Eq("entity_id", "acme"), Gt("count", 100)), false},
		{"or one match", Or(Eq("entity_id", "other"), Eq("doc_id", "doc_1")), true},
		{"or none", Or(Eq("entity_id", "other"), Eq("doc_id", "doc_2")), false},
		{"dotted path", Eq("metadata.source", "upload"), true},
		{"dotted path numeric", Gte("metadata.tokens", 100), true},
		{"dotted path missing", Eq("metadata.missing", "x"), false},
		{"string comparison", Gt("entity_id", "abc"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(record))
		})
	}
}

func TestShardKeys(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"eq on shard field", Eq("entity_id", "acme"), []string{"acme"}},
		{"eq on other field", Eq("doc_id", "doc_1"), nil},
		{"eq non-string value", Eq("entity_id", 7), nil},
		{"in on shard field", In("entity_id", "a", "b"), []string{"a", "b"}},
		{"and with shard eq", And(Eq("doc_id", "d"), Eq("entity_id", "acme")), []string{"acme"}},
		{"and without shard", And(Eq("doc_id", "d"), Gt("count", 1)), nil},
		{"or all pinned", Or(Eq("entity_id", "a"), Eq("entity_id", "b")), []string{"a", "b"}},
		{"or partially pinned", Or(Eq("entity_id", "a"), Eq("doc_id", "d")), nil},
		{"all", All(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shardKeys(tt.filter, "entity_id"))
		})
	}
}

func TestEqualityFields(t *testing.T) {
	fields := equalityFields(And(
		Eq("entity_id", "acme"),
		Eq("doc_id", "doc_1"),
		Gt("count", 1),
		Eq("metadata.source", "upload"), // dotted paths are not seeded
	))

	assert.Equal(t, map[string]any{
		"entity_id": "acme",
		"doc_id":    "doc_1",
	}, fields)
}
