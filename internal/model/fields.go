package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Field is a single name/value pair of a header or query multimap.
type Field struct {
	Name  string
	Value string
}

// Fields is an order-preserving multimap. Names are compared exactly as
// received; no canonicalisation is applied.
type Fields []Field

// Get returns the first value stored under name, or "".
func (f Fields) Get(name string) string {
	for _, kv := range f {
		if kv.Name == name {
			return kv.Value
		}
	}
	return ""
}

// GetFold is Get with a case-insensitive name comparison, used for HTTP headers.
func (f Fields) GetFold(name string) string {
	for _, kv := range f {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value
		}
	}
	return ""
}

// Values returns all values stored under name in insertion order.
func (f Fields) Values(name string) []string {
	var out []string
	for _, kv := range f {
		if kv.Name == name {
			out = append(out, kv.Value)
		}
	}
	return out
}

// Add appends a pair.
func (f *Fields) Add(name, value string) {
	*f = append(*f, Field{Name: name, Value: value})
}

// DelFold removes every pair whose name matches case-insensitively.
func (f *Fields) DelFold(name string) {
	out := (*f)[:0]
	for _, kv := range *f {
		if !strings.EqualFold(kv.Name, name) {
			out = append(out, kv)
		}
	}
	*f = out
}

// Clone returns a copy that shares no backing storage with f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	copy(out, f)
	return out
}

// names returns the distinct names in first-appearance order.
func (f Fields) names() []string {
	seen := make(map[string]bool, len(f))
	var out []string
	for _, kv := range f {
		if !seen[kv.Name] {
			seen[kv.Name] = true
			out = append(out, kv.Name)
		}
	}
	return out
}

// FieldsFromHeader converts an http.Header. net/http does not keep the wire
// order of header lines, so names are sorted to keep the result stable.
func FieldsFromHeader(h http.Header) Fields {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out Fields
	for _, k := range keys {
		for _, v := range h[k] {
			out.Add(k, v)
		}
	}
	return out
}

// Header converts f into an http.Header, preserving per-name value order.
func (f Fields) Header() http.Header {
	h := make(http.Header, len(f))
	for _, kv := range f {
		h[kv.Name] = append(h[kv.Name], kv.Value)
	}
	return h
}

// ParseQuery splits a raw query string into ordered pairs. Malformed escapes
// are kept verbatim rather than dropped.
func ParseQuery(raw string) Fields {
	var out Fields
	for raw != "" {
		var part string
		part, raw, _ = strings.Cut(raw, "&")
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		if n, err := url.QueryUnescape(name); err == nil {
			name = n
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		out.Add(name, value)
	}
	return out
}

// EncodeQuery is the inverse of ParseQuery and keeps pair order.
func (f Fields) EncodeQuery() string {
	var b strings.Builder
	for i, kv := range f {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// MarshalJSON encodes f as a JSON object keyed by name in first-appearance
// order. A name with one value maps to a string, a repeated name to an array.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range f.names() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')

		vals := f.Values(name)
		var v []byte
		if len(vals) == 1 {
			v, err = json.Marshal(vals[0])
		} else {
			v, err = json.Marshal(vals)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the object form produced by MarshalJSON, keeping the
// document order of keys. null leaves f empty.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}

	out := Fields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("fields: expected string key, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("fields: value of %q: %w", name, err)
		}
		var one string
		if err := json.Unmarshal(raw, &one); err == nil {
			out.Add(name, one)
			continue
		}
		var many []string
		if err := json.Unmarshal(raw, &many); err != nil {
			return fmt.Errorf("fields: value of %q must be a string or an array of strings", name)
		}
		for _, v := range many {
			out.Add(name, v)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}
