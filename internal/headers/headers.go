// Package headers canonicalizes header collections for the output document.
package headers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Separator joins the values of a header name that appears more than once.
const Separator = ";"

// Field is a single header as received from the host.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered header collection. Names may repeat and may differ in case.
type Fields []Field

// Map is a normalized header collection: lower-case names, one value per name.
type Map map[string]string

// Normalize lower-cases names and merges repeated names into a single value,
// keeping first-seen order.
func Normalize(fields Fields) Map {
	out := make(Map, len(fields))
	for _, f := range fields {
		k := strings.ToLower(f.Name)
		if prev, ok := out[k]; ok {
			out[k] = prev + Separator + f.Value
			continue
		}
		out[k] = f.Value
	}
	return out
}

// merge joins two collections the way Normalize joins repeated names:
// values in b are appended after values in a.
func merge(a, b Map) Map {
	fields := append(a.Fields(), b.Fields()...)
	return Normalize(fields)
}

// Fields returns the map as a name-sorted field list.
func (m Map) Fields() Fields {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(Fields, 0, len(names))
	for _, k := range names {
		out = append(out, Field{Name: k, Value: m[k]})
	}
	return out
}

// Get looks up name case-insensitively.
func (m Map) Get(name string) (string, bool) {
	if v, ok := m[strings.ToLower(name)]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// UnmarshalJSON decodes a JSON object of string values, keeping key order.
// Non-string values are kept in their JSON text form.
func (f *Fields) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read headers: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("headers: expected object, got %v", tok)
	}

	var out Fields
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read header name: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("headers: unexpected key %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("read header %q: %w", name, err)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			value = string(raw)
		}
		out = append(out, Field{Name: name, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read headers: %w", err)
	}
	*f = out
	return nil
}
