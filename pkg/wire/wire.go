// Package wire encodes actions and observations as JSON text messages.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned when a payload is not a JSON object.
var ErrMalformedMessage = errors.New("malformed message")

// Encode marshals a mapping to a single JSON object. It fails if a value
// cannot be encoded; run the mapping through Serializable first when the
// values come from a driver.
func Encode[M ~map[string]any](m M) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(m)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a JSON object. Anything else, including a bare array or
// number, wraps ErrMalformedMessage.
func Decode(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedMessage)
	}
	return m, nil
}

// Serializable returns a copy of m in which every value that cannot be
// encoded is replaced by its fmt representation, together with the keys
// that were replaced.
func Serializable[M ~map[string]any](m M) (M, []string) {
	out := make(M, len(m))
	var coerced []string
	for k, v := range m {
		if _, err := json.Marshal(v); err != nil {
			out[k] = fmt.Sprint(v)
			coerced = append(coerced, k)
			continue
		}
		out[k] = v
	}
	return out, coerced
}
