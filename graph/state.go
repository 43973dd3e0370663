package graph

import (
	"encoding/json"
	"fmt"
	"sort"
)

// State is the shared state of a run: field name to JSON-compatible value.
//
// After every merge the engine stores values in JSON-normalised form
// (objects become map[string]any, arrays []any, numbers float64), so state
// read back from any store looks exactly like state produced in memory. Use
// Get to decode a field into a concrete type.
type State map[string]any

// MergePolicy decides how an update to a field combines with its current
// value.
type MergePolicy int

const (
	// Overwrite replaces the current value (last write wins).
	Overwrite MergePolicy = iota

	// Append concatenates a sequence update onto the current sequence,
	// preserving order and duplicates.
	Append
)

func (p MergePolicy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// Field declares one state field and its merge policy.
type Field struct {
	Name   string
	Policy MergePolicy
}

// OverwriteField declares a last-write-wins field.
func OverwriteField(name string) Field {
	return Field{Name: name, Policy: Overwrite}
}

// AppendField declares a sequence field that accumulates updates.
func AppendField(name string) Field {
	return Field{Name: name, Policy: Append}
}

// Schema is the fixed per-field merge policy table of a graph.
type Schema struct {
	fields map[string]MergePolicy
}

// NewSchema builds a Schema. A repeated name keeps the last policy.
func NewSchema(fields ...Field) Schema {
	s := Schema{fields: make(map[string]MergePolicy, len(fields))}
	for _, f := range fields {
		s.fields[f.Name] = f.Policy
	}
	return s
}

// Policy returns the merge policy of name and whether it is declared.
func (s Schema) Policy(name string) (MergePolicy, bool) {
	p, ok := s.fields[name]
	return p, ok
}

// Fields returns the declared field names, sorted.
func (s Schema) Fields() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge applies update to current and returns the new state. current is not
// modified. Fields absent from update are carried over unchanged.
//
// It fails with ErrUnknownField when update names an undeclared field and
// with ErrInvalidUpdate when an append field receives a non-sequence.
func (s Schema) Merge(current, update State) (State, error) {
	next := make(State, len(current)+len(update))
	for k, v := range current {
		next[k] = v
	}
	if len(update) == 0 {
		return next, nil
	}

	normalized, err := normalizeState(update)
	if err != nil {
		return nil, err
	}

	// Deterministic order keeps error messages stable.
	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := normalized[k]
		policy, ok := s.fields[k]
		if !ok {
			return nil, engineErr("UNKNOWN_FIELD", ErrUnknownField, "field %q is not declared in the state schema", k)
		}
		switch policy {
		case Append:
			if v == nil {
				continue
			}
			items, ok := v.([]any)
			if !ok {
				return nil, engineErr("INVALID_UPDATE", ErrInvalidUpdate, "append field %q needs a sequence, got %T", k, update[k])
			}
			var existing []any
			if prev, ok := next[k].([]any); ok {
				existing = prev
			}
			merged := make([]any, 0, len(existing)+len(items))
			merged = append(merged, existing...)
			merged = append(merged, items...)
			next[k] = merged
		default:
			next[k] = v
		}
	}
	return next, nil
}

// normalizeState round-trips s through JSON. It also deep-copies, so nodes
// cannot mutate stored state through retained references.
func normalizeState(s State) (State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, engineErr("INVALID_UPDATE", ErrInvalidUpdate, "state is not JSON-serialisable: %v", err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, engineErr("INVALID_UPDATE", ErrInvalidUpdate, "state is not JSON-serialisable: %v", err)
	}
	return out, nil
}

// Get decodes field key of s into T. A missing key yields the zero value.
//
//	approve, err := graph.Get[records.Approval](state, "approve")
func Get[T any](s State, key string) (T, error) {
	var out T
	v, ok := s[key]
	if !ok || v == nil {
		return out, nil
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	if err := Decode(v, &out); err != nil {
		return out, fmt.Errorf("decode field %q: %w", key, err)
	}
	return out, nil
}

// Decode converts a JSON-normalised value into out, typically a struct
// pointer.
func Decode(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Strings returns the string elements of a sequence field, skipping
// non-string entries.
func Strings(s State, key string) []string {
	items, _ := s[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	return out
}
