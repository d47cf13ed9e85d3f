package http11

import (
	"io"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// HeaderMap stores header fields in arrival order.
//
// Lookups and removals are case-insensitive (RFC 7230 §3.2). Repeated
// names are kept as separate entries and serialized in insertion order.
// No stored name or value contains CR or LF: Add and Set refuse them, so a
// HeaderMap can be written to the wire without further escaping.
//
// The zero value is an empty map ready to use.
type HeaderMap struct {
	fields []headerField
}

type headerField struct {
	name  string
	value string
}

// validField rejects names that are not RFC 7230 tokens and values with
// control characters other than HTAB. CR and LF fall in both classes.
func validField(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) {
		return parseError(InvalidHeader, "invalid field name "+quoteForError(name))
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return parseError(InvalidHeader, "invalid value for "+name)
	}
	return nil
}

// quoteForError keeps attacker-controlled names short in error messages.
func quoteForError(s string) string {
	if len(s) > 32 {
		s = s[:32] + "..."
	}
	return `"` + strings.ToValidUTF8(s, "?") + `"`
}

// Get returns the first value stored under name, or "".
func (h *HeaderMap) Get(name string) string {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			return h.fields[i].value
		}
	}
	return ""
}

// Values returns every value stored under name, in insertion order.
func (h *HeaderMap) Values(name string) []string {
	var vals []string
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			vals = append(vals, h.fields[i].value)
		}
	}
	return vals
}

// Has reports whether at least one entry is stored under name.
func (h *HeaderMap) Has(name string) bool {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			return true
		}
	}
	return false
}

// HasToken reports whether any value of name contains token as an element
// of a comma-separated list, e.g. HasToken("Connection", "upgrade").
func (h *HeaderMap) HasToken(name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h.Values(name), token)
}

// Add appends an entry without touching existing entries with the same name.
func (h *HeaderMap) Add(name, value string) error {
	if err := validField(name, value); err != nil {
		return err
	}
	h.fields = append(h.fields, headerField{name: name, value: value})
	return nil
}

// Set replaces every entry stored under name with a single entry. The new
// entry takes the position of the first replaced one, or is appended.
func (h *HeaderMap) Set(name, value string) error {
	if err := validField(name, value); err != nil {
		return err
	}
	h.set(name, value)
	return nil
}

func (h *HeaderMap) set(name, value string) {
	idx := -1
	out := h.fields[:0]
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			if idx >= 0 {
				continue
			}
			idx = len(out)
			f = headerField{name: name, value: value}
		}
		out = append(out, f)
	}
	h.fields = out
	if idx < 0 {
		h.fields = append(h.fields, headerField{name: name, value: value})
	}
}

// Del removes every entry stored under name.
func (h *HeaderMap) Del(name string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.name, name) {
			out = append(out, f)
		}
	}
	clear(h.fields[len(out):])
	h.fields = out
}

// Len returns the number of entries, counting repeated names separately.
func (h *HeaderMap) Len() int {
	return len(h.fields)
}

// VisitAll calls fn for each entry in insertion order until fn returns false.
func (h *HeaderMap) VisitAll(fn func(name, value string) bool) {
	for _, f := range h.fields {
		if !fn(f.name, f.value) {
			return
		}
	}
}

// Clone returns a deep copy.
func (h *HeaderMap) Clone() HeaderMap {
	if len(h.fields) == 0 {
		return HeaderMap{}
	}
	fields := make([]headerField, len(h.fields))
	copy(fields, h.fields)
	return HeaderMap{fields: fields}
}

// Reset removes all entries, keeping the allocated storage.
func (h *HeaderMap) Reset() {
	clear(h.fields)
	h.fields = h.fields[:0]
}

// WriteTo serializes each entry as "Name: value\r\n". The terminating blank
// line is not written.
func (h *HeaderMap) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, f := range h.fields {
		for _, s := range [...]string{f.name, colonSpace, f.value, crlf} {
			n, err := io.WriteString(w, s)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// writeExcept serializes every entry whose name is not in skip.
func (h *HeaderMap) writeExcept(w io.Writer, skip ...string) {
	for _, f := range h.fields {
		skipped := false
		for _, s := range skip {
			if strings.EqualFold(f.name, s) {
				skipped = true
				break
			}
		}
		if skipped {
			continue
		}
		io.WriteString(w, f.name)
		io.WriteString(w, colonSpace)
		io.WriteString(w, f.value)
		io.WriteString(w, crlf)
	}
}
