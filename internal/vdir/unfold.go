// Package vdir implements the line-oriented key:value record format shared
// by iCalendar components (VEVENT, VTODO) and vCards: folded lines,
// property parameters, and group prefixes in the style of RFC 5545 and
// RFC 6350.
//
// The codec is deliberately shallow. Values are kept verbatim (no
// unescaping of \n, \, or \; sequences), unknown properties pass through
// untouched, and no grammar validation happens. That keeps decode and
// patch lossless for content the codec does not understand, such as binary
// PHOTO payloads or X- properties.
package vdir

import "strings"

// Component identifies the record type being decoded or patched.
type Component string

const (
	VEvent Component = "VEVENT"
	VTodo  Component = "VTODO"
	VCard  Component = "VCARD"
)

// BeginTag returns the BEGIN delimiter line for the component.
func (c Component) BeginTag() string { return "BEGIN:" + string(c) }

// EndTag returns the END delimiter line for the component.
func (c Component) EndTag() string { return "END:" + string(c) }

// Unfold splits raw record text into logical lines. A physical line
// starting with a single space or tab continues the previous logical line:
// the marker character is dropped and the remainder appended verbatim. A
// trailing \r is stripped from every physical line before the continuation
// check, since network line endings are not continuation markers. A
// continuation with nothing to continue is discarded.
//
// Unfold never fails; empty input yields an empty sequence.
func Unfold(text string) []string {
	physical := strings.Split(text, "\n")
	if n := len(physical); n > 0 && physical[n-1] == "" {
		// A final newline produces one empty trailing element; it is not a
		// logical line.
		physical = physical[:n-1]
	}

	var logical []string
	for _, line := range physical {
		line = strings.TrimSuffix(line, "\r")
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if len(logical) > 0 {
				logical[len(logical)-1] += line[1:]
			}
			continue
		}
		logical = append(logical, line)
	}
	return logical
}

// fieldName derives the bare property name from a logical line: the text
// before the first ':', minus parameters (everything after the first ';')
// and minus a group prefix (everything through the first '.'). So
// "item1.EMAIL;TYPE=HOME:a@x" yields "EMAIL". Names keep their original
// case; no normalization is applied.
func fieldName(line string) string {
	name := line
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
