package storage

import (
	"strings"
)

// Record is one stored record. Field access supports dotted paths into
// nested maps (e.g. "metadata.source").
type Record map[string]any

// Filter selects records. Filters form a small closed expression tree so
// the evaluator stays auditable; there is no free-form query document.
type Filter interface {
	// Matches reports whether r satisfies the filter.
	Matches(r Record) bool
}

// All matches every record.
func All() Filter { return allFilter{} }

// Eq matches records whose field equals value. For list-valued fields it
// matches when the list contains value.
func Eq(field string, value any) Filter { return eqFilter{field, value} }

// Ne matches records whose field does not equal value.
func Ne(field string, value any) Filter { return neFilter{field, value} }

// Exists matches records where the field's presence equals want.
func Exists(field string, want bool) Filter { return existsFilter{field, want} }

// Gt matches records whose field is strictly greater than value.
func Gt(field string, value any) Filter { return cmpFilter{field, value, cmpGt} }

// Gte matches records whose field is greater than or equal to value.
func Gte(field string, value any) Filter { return cmpFilter{field, value, cmpGte} }

// Lt matches records whose field is strictly less than value.
func Lt(field string, value any) Filter { return cmpFilter{field, value, cmpLt} }

// Lte matches records whose field is less than or equal to value.
func Lte(field string, value any) Filter { return cmpFilter{field, value, cmpLte} }

// In matches records whose field equals one of values.
func In(field string, values ...any) Filter { return inFilter{field, values} }

// And matches records satisfying every child filter.
func And(filters ...Filter) Filter { return andFilter{filters} }

// Or matches records satisfying at least one child filter.
func Or(filters ...Filter) Filter { return orFilter{filters} }

type allFilter struct{}

func (allFilter) Matches(Record) bool { return true }

type eqFilter struct {
	field string
	value any
}

func (f eqFilter) Matches(r Record) bool {
	got, ok := fieldValue(r, f.field)
	if !ok {
		return false
	}
	if list, isList := got.([]any); isList {
		for _, item := range list {
			if valuesEqual(item, f.value) {
				return true
			}
		}
		return false
	}
	return valuesEqual(got, f.value)
}

type neFilter struct {
	field string
	value any
}

func (f neFilter) Matches(r Record) bool {
	got, ok := fieldValue(r, f.field)
	if !ok {
		return true
	}
	return !valuesEqual(got, f.value)
}

type existsFilter struct {
	field string
	want  bool
}

func (f existsFilter) Matches(r Record) bool {
	_, ok := fieldValue(r, f.field)
	return ok == f.want
}

type cmpOp int

const (
	cmpGt cmpOp = iota
	cmpGte
	cmpLt
	cmpLte
)

type cmpFilter struct {
	field string
	value any
	op    cmpOp
}

func (f cmpFilter) Matches(r Record) bool {
	got, ok := fieldValue(r, f.field)
	if !ok {
		return false
	}
	cmp, ok := compareValues(got, f.value)
	if !ok {
		return false
	}
	switch f.op {
	case cmpGt:
		return cmp > 0
	case cmpGte:
		return cmp >= 0
	case cmpLt:
		return cmp < 0
	default:
		return cmp <= 0
	}
}

type inFilter struct {
	field  string
	values []any
}

func (f inFilter) Matches(r Record) bool {
	got, ok := fieldValue(r, f.field)
	if !ok {
		return false
	}
	for _, v := range f.values {
		if valuesEqual(got, v) {
			return true
		}
	}
	return false
}

type andFilter struct {
	filters []Filter
}

func (f andFilter) Matches(r Record) bool {
	for _, child := range f.filters {
		if !child.Matches(r) {
			return false
		}
	}
	return true
}

type orFilter struct {
	filters []Filter
}

func (f orFilter) Matches(r Record) bool {
	for _, child := range f.filters {
		if child.Matches(r) {
			return true
		}
	}
	return false
}

// fieldValue resolves a dotted path into nested maps. The second return
// value reports whether the field is present.
func fieldValue(r Record, field string) (any, bool) {
	parts := strings.Split(field, ".")
	var current any = map[string]any(r)

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			if rec, isRec := current.(Record); isRec {
				m = map[string]any(rec)
			} else {
				return nil, false
			}
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// valuesEqual compares two values, coercing numeric types so that a
// JSON-decoded float64 matches an in-memory int.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

// compareValues orders two values. Numbers order numerically, strings
// lexically. Returns ok=false for incomparable types.
func compareValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// shardKeys derives the exact shard files a filter can touch, or nil when
// the filter does not pin the shard field and a full scatter is required.
func shardKeys(f Filter, field string) []string {
	switch ft := f.(type) {
	case eqFilter:
		if ft.field == field {
			if s, ok := ft.value.(string); ok {
				return []string{s}
			}
		}
	case inFilter:
		if ft.field == field {
			keys := make([]string, 0, len(ft.values))
			for _, v := range ft.values {
				s, ok := v.(string)
				if !ok {
					return nil
				}
				keys = append(keys, s)
			}
			return keys
		}
	case andFilter:
		for _, child := range ft.filters {
			if keys := shardKeys(child, field); keys != nil {
				return keys
			}
		}
	case orFilter:
		var keys []string
		for _, child := range ft.filters {
			childKeys := shardKeys(child, field)
			if childKeys == nil {
				return nil
			}
			keys = append(keys, childKeys...)
		}
		return keys
	}
	return nil
}

// equalityFields collects the top-level equality constraints of a filter.
// Used to seed upserted records with their filter fields.
func equalityFields(f Filter) map[string]any {
	fields := make(map[string]any)
	collectEqualityFields(f, fields)
	return fields
}

func collectEqualityFields(f Filter, out map[string]any) {
	switch ft := f.(type) {
	case eqFilter:
		if !strings.Contains(ft.field, ".") {
			out[ft.field] = ft.value
		}
	case andFilter:
		for _, child := range ft.filters {
			collectEqualityFields(child, out)
		}
	}
}
