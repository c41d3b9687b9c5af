// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"encoding/json"
	"strings"
)

// ParseFailure carries model output that could not be parsed.
type ParseFailure struct {
	Raw    string `json:"raw"`
	Reason string `json:"error"`
}

// Outcome is the result of parsing model output as T: either a value or a
// ParseFailure, never both.
type Outcome[T any] struct {
	Value   T
	Failure *ParseFailure
}

// OK reports whether the output parsed.
func (o Outcome[T]) OK() bool {
	return o.Failure == nil
}

// MarshalJSON renders the value, or {"error", "raw"} for a failure.
func (o Outcome[T]) MarshalJSON() ([]byte, error) {
	if o.Failure != nil {
		return json.Marshal(o.Failure)
	}
	return json.Marshal(o.Value)
}

// ParseJSON extracts a T from free-form model output. Markdown code fences
// are removed and a strict parse is attempted; failing that, the text from
// the first '{' to the last '}' is parsed. Anything else yields a failure
// outcome carrying the raw text.
func ParseJSON[T any](raw string) Outcome[T] {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return Outcome[T]{Failure: &ParseFailure{Raw: raw, Reason: "empty response"}}
	}

	var v T
	err := json.Unmarshal([]byte(cleaned), &v)
	if err == nil {
		return Outcome[T]{Value: v}
	}

	start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		var inner T
		if json.Unmarshal([]byte(cleaned[start:end+1]), &inner) == nil {
			return Outcome[T]{Value: inner}
		}
	}
	return Outcome[T]{Failure: &ParseFailure{Raw: raw, Reason: "invalid JSON: " + err.Error()}}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
