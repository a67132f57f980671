package httpcodec

import (
	"bytes"
	"strings"
)

// Field is one header line as it was received.
type Field struct {
	Name  string
	Value string
}

// Headers keeps header fields in the order they were received. Lookups are
// case-insensitive and, for repeated fields, the last value wins.
type Headers struct {
	fields []Field
}

func NewHeaders() *Headers {
	return &Headers{}
}

// Get returns the last value of a header
func (h *Headers) Get(name string) (string, bool) {
	for i := len(h.fields) - 1; i >= 0; i-- {
		if strings.EqualFold(h.fields[i].Name, name) {
			return h.fields[i].Value, true
		}
	}

	return "", false
}

// Values returns every value of a header in received order
func (h *Headers) Values(name string) []string {
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}

	return values
}

func (h *Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Add appends a field, keeping any earlier one with the same name
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set replaces every field with that name by a single one
func (h *Headers) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

func (h *Headers) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}

	h.fields = kept
}

func (h *Headers) Len() int {
	return len(h.fields)
}

// Each calls fn for every field in received order
func (h *Headers) Each(fn func(name, value string)) {
	for _, f := range h.fields {
		fn(f.Name, f.Value)
	}
}

func (h *Headers) Fields() []Field {
	return append([]Field(nil), h.fields...)
}

// ParseLine adds the field of a single `name: value` line, without its CRLF.
func (h *Headers) ParseLine(line []byte) error {
	if len(line) == 0 {
		return ErrMalformedHeader
	}

	// Obsolete line folding is rejected
	if line[0] == ' ' || line[0] == '\t' {
		return ErrMalformedHeader
	}

	colon := bytes.IndexByte(line, ':')
	if colon < 1 {
		return ErrMalformedHeader
	}

	name := line[:colon]
	for _, b := range name {
		if !isTokenChar(b) {
			return ErrMalformedHeader
		}
	}

	h.Add(string(name), string(bytes.TrimSpace(line[colon+1:])))
	return nil
}

func isTokenChar(b byte) bool {
	return (b >= 'A' && b <= 'Z') ||
		(b >= 'a' && b <= 'z') ||
		(b >= '0' && b <= '9') ||
		strings.IndexByte("!#$%&'*+-.^_`|~", b) >= 0
}
