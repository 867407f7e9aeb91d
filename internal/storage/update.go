package storage

import "strings"

// Update describes a closed set of mutation operators applied to a record.
// Zero-value fields are skipped, so callers populate only what they need.
type Update struct {
	// Set replaces fields (dotted paths create nested maps).
	Set map[string]any

	// Unset removes fields (dotted paths supported).
	Unset []string

	// Inc adds to numeric fields, initializing missing or non-numeric
	// fields to the increment value.
	Inc map[string]float64

	// AddToSet appends a value to a list field if not already present.
	AddToSet map[string]any

	// SetOnInsert sets fields only when the update creates a new record
	// through an upsert.
	SetOnInsert map[string]any
}

// apply mutates r in place and reports whether anything changed.
// SetOnInsert is intentionally ignored here; it only participates in
// newRecord.
func (u Update) apply(r Record) bool {
	modified := false

	for field, value := range u.Set {
		setField(r, field, value)
		modified = true
	}

	for _, field := range u.Unset {
		if unsetField(r, field) {
			modified = true
		}
	}

	for field, inc := range u.Inc {
		current := 0.0
		if got, ok := fieldValue(r, field); ok {
			if f, isNum := toFloat(got); isNum {
				current = f
			}
		}
		setField(r, field, current+inc)
		modified = true
	}

	for field, value := range u.AddToSet {
		list := listField(r, field)
		found := false
		for _, item := range list {
			if valuesEqual(item, value) {
				found = true
				break
			}
		}
		if !found {
			setField(r, field, append(list, value))
			modified = true
		}
	}

	return modified
}

// newRecord builds the record inserted by an upsert that matched nothing:
// the filter's equality fields merged with SetOnInsert, Set, Inc, and
// AddToSet.
func (u Update) newRecord(f Filter) Record {
	r := Record{}
	for field, value := range equalityFields(f) {
		setField(r, field, value)
	}
	for field, value := range u.SetOnInsert {
		setField(r, field, value)
	}
	for field, value := range u.Set {
		setField(r, field, value)
	}
	for field, inc := range u.Inc {
		setField(r, field, inc)
	}
	for field, value := range u.AddToSet {
		setField(r, field, []any{value})
	}
	return r
}

// setField writes value at a dotted path, creating intermediate maps.
func setField(r Record, field string, value any) {
	parts := strings.Split(field, ".")
	current := map[string]any(r)

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// unsetField removes the value at a dotted path and reports whether a
// value was removed.
func unsetField(r Record, field string) bool {
	parts := strings.Split(field, ".")
	current := map[string]any(r)

	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			return false
		}
		current = next
	}

	last := parts[len(parts)-1]
	if _, ok := current[last]; !ok {
		return false
	}
	delete(current, last)
	return true
}

// listField returns the list at field, wrapping a scalar value into a
// one-element list and treating a missing field as empty.
func listField(r Record, field string) []any {
	got, ok := fieldValue(r, field)
	if !ok {
		return nil
	}
	if list, isList := got.([]any); isList {
		return list
	}
	return []any{got}
}
