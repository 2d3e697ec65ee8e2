// Package jsonutil wraps github.com/go-json-experiment/json behind the
// small surface the mining engine needs. Response payloads arrive in
// bursts and are parsed speculatively, so the hot path matters; the
// experiment codec is 2-3x faster than encoding/json for decode-heavy
// workloads like ours.
package jsonutil

import (
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Unmarshal parses the JSON-encoded data and stores the result in v.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// UnmarshalString parses a JSON string.
func UnmarshalString(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndent returns the indented JSON encoding of v.
func MarshalIndent(v any, indent string) ([]byte, error) {
	return json.Marshal(v, jsontext.WithIndent(indent))
}

// Valid reports whether data is a valid JSON encoding. Used to cheaply
// reject near-JSON script content before attempting a full parse.
func Valid(data []byte) bool {
	return jsontext.Value(data).IsValid()
}

// UnmarshalRead decodes a single JSON value from r into v.
func UnmarshalRead(r io.Reader, v any) error {
	return json.UnmarshalRead(r, v)
}
