package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Evidence is an insertion-ordered, string-keyed bag of detector facts.
// It marshals to a JSON object with keys in insertion order and keeps the
// document order of top-level keys when unmarshaled.
type Evidence struct {
	keys []string
	vals map[string]any
}

// NewEvidence returns an empty evidence map.
func NewEvidence() Evidence {
	return Evidence{vals: make(map[string]any)}
}

// Set stores v under k. Re-setting an existing key keeps its position.
func (e *Evidence) Set(k string, v any) *Evidence {
	if e.vals == nil {
		e.vals = make(map[string]any)
	}
	if _, ok := e.vals[k]; !ok {
		e.keys = append(e.keys, k)
	}
	e.vals[k] = v
	return e
}

// Get returns the value stored under k.
func (e Evidence) Get(k string) (any, bool) {
	v, ok := e.vals[k]
	return v, ok
}

// Keys returns the keys in insertion order.
func (e Evidence) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// Len returns the number of keys.
func (e Evidence) Len() int { return len(e.keys) }

// MarshalJSON implements json.Marshaler.
func (e Evidence) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range e.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(e.vals[k])
		if err != nil {
			return nil, fmt.Errorf("evidence key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Evidence) UnmarshalJSON(data []byte) error {
	*e = NewEvidence()
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("evidence must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("evidence key must be a string, got %T", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("evidence key %q: %w", key, err)
		}
		e.Set(key, v)
	}
	_, err = dec.Token()
	return err
}
