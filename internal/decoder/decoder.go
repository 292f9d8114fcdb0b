// Package decoder turns untrusted LLM text output into schema-legal values.
// The pipeline is sanitize → structural repair → tolerant field decoding;
// nothing in this package panics or returns an error past RepairJSON's
// unrecoverable sentinel.
package decoder

import (
	gojson "github.com/goccy/go-json"
)

// Decode sanitizes and repairs raw model output and parses it into a generic
// JSON value. The only possible error is ErrUnrecoverable, which callers
// translate into an all-defaults object.
func Decode(raw string) (any, error) {
	sanitized, _ := SanitizeControlChars(raw)

	repaired, err := RepairJSON(sanitized)
	if err != nil {
		return nil, err
	}

	var v any
	if err := gojson.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, ErrUnrecoverable
	}
	return v, nil
}

// AsObject coerces v into a member map. Anything that is not a JSON object
// yields an empty map, so lookups on it simply miss and decoders fall back
// to their defaults.
func AsObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
