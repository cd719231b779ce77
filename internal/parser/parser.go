// Package parser recovers JSON objects from free-form model replies.
//
// Models are told to answer with JSON only but often wrap the object in prose
// or markdown fences. Parsing never fails loudly: a reply without a usable
// object yields nil and the caller falls back to its default.
package parser

import (
	"encoding/json"
	"strings"
)

// Parse returns the JSON object contained in text, or nil when there is none.
func Parse(text string) map[string]any {
	m, ok := Decode[map[string]any](text)
	if !ok || m == nil {
		return nil
	}
	return m
}

// Decode unmarshals the JSON object contained in text into a fresh T.
// It first tries the whole (trimmed) text, then the span from the first '{'
// to the last '}'. The span scan does not track nesting or string literals.
func Decode[T any](text string) (T, bool) {
	if v, ok := unmarshal[T](strings.TrimSpace(text)); ok {
		return v, true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		var zero T
		return zero, false
	}
	return unmarshal[T](text[start : end+1])
}

func unmarshal[T any](s string) (T, bool) {
	var v T
	if s == "" {
		return v, false
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}
