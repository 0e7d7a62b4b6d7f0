package vdir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports an update specification that cannot be
// interpreted as field -> string | []string.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "vdir: invalid update set: " + e.Reason
}

// UpdateSet is an ordered field -> Value mapping describing a patch. Keys
// apply in insertion order; setting an existing key replaces its value but
// keeps its position.
type UpdateSet struct {
	names  []string
	values map[string]Value
}

// NewUpdateSet returns an empty update set.
func NewUpdateSet() *UpdateSet {
	return &UpdateSet{values: make(map[string]Value)}
}

// Set stores v under name.
func (u *UpdateSet) Set(name string, v Value) {
	if _, ok := u.values[name]; !ok {
		u.names = append(u.names, name)
	}
	u.values[name] = v
}

// Has reports whether name is an update key.
func (u *UpdateSet) Has(name string) bool {
	_, ok := u.values[name]
	return ok
}

// Len returns the number of update keys.
func (u *UpdateSet) Len() int { return len(u.names) }

// Names returns the update keys in insertion order.
func (u *UpdateSet) Names() []string { return append([]string(nil), u.names...) }

// Get returns the value stored under name.
func (u *UpdateSet) Get(name string) (Value, bool) {
	v, ok := u.values[name]
	return v, ok
}

// ParseUpdates decodes a JSON object into an UpdateSet, preserving the
// object's key order. Values must be strings or arrays of strings;
// anything else fails with a *ValidationError and no partial result.
func ParseUpdates(data []byte) (*UpdateSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, &ValidationError{Reason: "not a JSON object"}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &ValidationError{Reason: fmt.Sprintf("expected a JSON object, got %v", tok)}
	}

	u := NewUpdateSet()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, &ValidationError{Reason: "truncated JSON object"}
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, &ValidationError{Reason: "object key is not a string"}
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, &ValidationError{Reason: "malformed JSON value for " + key}
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, &ValidationError{Reason: key + ": " + ve.Reason}
			}
			return nil, err
		}
		u.Set(key, v)
	}

	if _, err := dec.Token(); err != nil {
		return nil, &ValidationError{Reason: "unterminated JSON object"}
	}
	return u, nil
}

// Patch rewrites original so that every field named in updates is replaced
// and everything else passes through untouched. All logical lines whose
// derived field name is an update key are dropped, however many there
// were; the replacement lines (one key:value line per value, lists in list
// order, keys in the update set's insertion order) are inserted
// immediately before the component's END tag.
//
// kind names the component being edited and supplies the terminator. The
// insertion point is the last kept line equal to kind's END tag, so a
// VEVENT inside a VCALENDAR wrapper gets its new lines inside the event,
// not after END:VCALENDAR. If that tag is absent the last line starting
// with "END:" anchors the insert instead, and if there is no END line at
// all the terminator is appended after the new lines. Lines following the
// terminator (wrapper footers, trailing blanks) stay where they were.
//
// The output joins logical lines with \n; folded input comes out unfolded,
// and no re-folding of long lines is performed. With an empty update set
// Patch returns the unfolded rejoin of original unchanged.
func Patch(original string, updates *UpdateSet, kind Component) string {
	lines := Unfold(original)
	if updates == nil || updates.Len() == 0 {
		return strings.Join(lines, "\n")
	}

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if updates.Has(fieldName(line)) {
			continue
		}
		kept = append(kept, line)
	}

	idx := insertionIndex(kept, kind)

	out := make([]string, 0, len(kept)+updates.Len()+1)
	if idx >= 0 {
		out = append(out, kept[:idx]...)
	} else {
		out = append(out, kept...)
	}
	for _, name := range updates.names {
		v := updates.values[name]
		for _, item := range v.items {
			out = append(out, name+":"+item)
		}
	}
	if idx >= 0 {
		out = append(out, kept[idx:]...)
	} else {
		out = append(out, kind.EndTag())
	}
	return strings.Join(out, "\n")
}

// insertionIndex locates the line the replacements go in front of: the
// component's own END tag, or failing that the last END: line.
func insertionIndex(lines []string, kind Component) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == kind.EndTag() {
			return i
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "END:") {
			return i
		}
	}
	return -1
}
