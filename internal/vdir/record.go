package vdir

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Value holds one field's data: a single string, or an ordered list of
// strings when the same field occurred more than once. The two shapes stay
// distinct so a single-valued field marshals to a JSON string rather than
// a one-element array.
type Value struct {
	items []string
	list  bool
}

// Single wraps one string.
func Single(s string) Value { return Value{items: []string{s}} }

// Multi wraps an ordered list of strings.
func Multi(items ...string) Value {
	return Value{items: append([]string(nil), items...), list: true}
}

// IsList reports whether the value holds a list.
func (v Value) IsList() bool { return v.list }

// Strings returns the value's entries in order. A single value yields one
// element.
func (v Value) Strings() []string { return append([]string(nil), v.items...) }

// First returns the first entry, or "" for an empty value.
func (v Value) First() string {
	if len(v.items) == 0 {
		return ""
	}
	return v.items[0]
}

// grow implements the occurrence-count promotion rule: a second occurrence
// turns scalar storage into a two-element list, later ones append.
func (v Value) grow(s string) Value {
	return Value{items: append(v.items, s), list: true}
}

// MarshalJSON renders a single value as a string and a list as an array.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.list {
		return json.Marshal(v.items)
	}
	return json.Marshal(v.First())
}

// UnmarshalJSON accepts a JSON string or an array of strings. Any other
// shape is a *ValidationError.
func (v *Value) UnmarshalJSON(data []byte) error {
	// json.Unmarshal treats null as a no-op against a string target, so it
	// has to be rejected up front.
	if string(bytes.TrimSpace(data)) == "null" {
		return &ValidationError{Reason: "field value must be a string or an array of strings"}
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Single(s)
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err == nil {
		*v = Multi(items...)
		return nil
	}
	return &ValidationError{Reason: "field value must be a string or an array of strings"}
}

// Record is a decoded component: field name -> value, preserving the order
// in which field names first appeared in the source text.
type Record struct {
	names  []string
	fields map[string]Value
}

// Decode parses raw folded record text into a Record. Logical lines
// without a ':' are skipped silently.
//
// BEGIN: and END: delimiter lines contain a ':' and therefore decode as
// ordinary BEGIN/END fields carrying the component type as their value.
// JSON consumers of the decoder already rely on seeing those keys, so the
// decoder keeps them; callers that do not want them filter downstream.
//
// Decode never fails: a record with zero usable lines decodes to an empty
// Record.
func Decode(text string) *Record {
	r := &Record{fields: make(map[string]Value)}
	for _, line := range Unfold(text) {
		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}
		r.add(fieldName(line), line[i+1:])
	}
	return r
}

func (r *Record) add(name, value string) {
	if existing, ok := r.fields[name]; ok {
		r.fields[name] = existing.grow(value)
		return
	}
	r.names = append(r.names, name)
	r.fields[name] = Single(value)
}

// Get returns the value stored under name.
func (r *Record) Get(name string) (Value, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Names returns the field names in first-occurrence order.
func (r *Record) Names() []string { return append([]string(nil), r.names...) }

// Len returns the number of distinct field names.
func (r *Record) Len() int { return len(r.names) }

// MarshalJSON writes the record as a JSON object with fields in
// first-occurrence order, scalar or array per field.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.fields[name])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
