package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotObject is returned when an operation needs a JSON object at the top level.
var ErrNotObject = errors.New("document is not a JSON object")

// Document is a fetched JSON value. Raw holds the bytes exactly as fetched so
// a create can send them unmodified.
type Document struct {
	Raw   []byte
	Value any
}

// Parse decodes data as a single JSON value. Numbers are kept as json.Number
// so re-encoding does not change them.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decoding JSON: unexpected data after top-level value")
	}

	return &Document{Raw: data, Value: v}, nil
}

// IdentifierValue returns identifier[0].value when it is a non-empty string.
func (d *Document) IdentifierValue() (string, bool) {
	obj, ok := d.Value.(map[string]any)
	if !ok {
		return "", false
	}
	ids, ok := obj["identifier"].([]any)
	if !ok || len(ids) == 0 {
		return "", false
	}
	first, ok := ids[0].(map[string]any)
	if !ok {
		return "", false
	}
	value, ok := first["value"].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// WithID returns the document encoded with its top-level "id" set to id.
// The receiver is not modified.
func (d *Document) WithID(id string) ([]byte, error) {
	obj, ok := d.Value.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	out := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	out["id"] = id

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
