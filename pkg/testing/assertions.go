// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"math"
	"strings"
	"testing"

	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/llm"
)

// Assertions provides assertion helpers for testing.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

func (a *Assertions) fail(format string, args ...any) {
	a.t.Helper()
	a.t.Errorf(format, args...)
	a.failed = true
}

// AssertEqual asserts that two values are equal.
func (a *Assertions) AssertEqual(expected, actual any, msg string) {
	a.t.Helper()
	if expected != actual {
		a.fail("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertTrue asserts that value is true.
func (a *Assertions) AssertTrue(value bool, msg string) {
	a.t.Helper()
	if !value {
		a.fail("%s: expected true", msg)
	}
}

// AssertContains asserts that s contains substr.
func (a *Assertions) AssertContains(s, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.fail("%s: %q does not contain %q", msg, s, substr)
	}
}

// AssertNoError asserts that err is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.fail("%s: unexpected error: %v", msg, err)
	}
}

// AssertErrorCode asserts that err carries code.
func (a *Assertions) AssertErrorCode(err error, code errors.ErrorCode, msg string) {
	a.t.Helper()
	if !errors.HasCode(err, code) {
		a.fail("%s: expected error code %s, got %v", msg, code, err)
	}
}

// AssertInDelta asserts that two floats differ by at most delta.
func (a *Assertions) AssertInDelta(expected, actual, delta float64, msg string) {
	a.t.Helper()
	if math.IsNaN(actual) || math.Abs(expected-actual) > delta {
		a.fail("%s: expected %v ± %v, got %v", msg, expected, delta, actual)
	}
}

// AssertDescending asserts that scores never increase.
func (a *Assertions) AssertDescending(scores []float64, msg string) {
	a.t.Helper()
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[i-1] {
			a.fail("%s: score %d (%v) is greater than score %d (%v)", msg, i, scores[i], i-1, scores[i-1])
			return
		}
	}
}

// RequestAssertions provides fluent assertions for captured chat requests.
type RequestAssertions struct {
	a   *Assertions
	req *llm.ChatRequest
}

// AssertRequest starts assertions on req.
func (a *Assertions) AssertRequest(req *llm.ChatRequest) *RequestAssertions {
	a.t.Helper()
	if req == nil {
		a.fail("expected a captured request")
	}
	return &RequestAssertions{a: a, req: req}
}

// HasModel asserts the requested model.
func (r *RequestAssertions) HasModel(model string) *RequestAssertions {
	r.a.t.Helper()
	if r.req != nil && r.req.Model != model {
		r.a.fail("expected model %q, got %q", model, r.req.Model)
	}
	return r
}

// HasMessageCount asserts the number of messages.
func (r *RequestAssertions) HasMessageCount(count int) *RequestAssertions {
	r.a.t.Helper()
	if r.req != nil && len(r.req.Messages) != count {
		r.a.fail("expected %d messages, got %d", count, len(r.req.Messages))
	}
	return r
}

// HasSystemMessage asserts a system message containing substr.
func (r *RequestAssertions) HasSystemMessage(substr string) *RequestAssertions {
	r.a.t.Helper()
	if !r.hasMessage(llm.RoleSystem, substr) {
		r.a.fail("no system message contains %q", substr)
	}
	return r
}

// HasUserMessage asserts a user message containing substr.
func (r *RequestAssertions) HasUserMessage(substr string) *RequestAssertions {
	r.a.t.Helper()
	if !r.hasMessage(llm.RoleUser, substr) {
		r.a.fail("no user message contains %q", substr)
	}
	return r
}

// WantsJSON asserts that the request asked for JSON output.
func (r *RequestAssertions) WantsJSON() *RequestAssertions {
	r.a.t.Helper()
	if r.req != nil && !r.req.JSON {
		r.a.fail("expected a JSON-mode request")
	}
	return r
}

func (r *RequestAssertions) hasMessage(role llm.Role, substr string) bool {
	if r.req == nil {
		return false
	}
	for _, m := range r.req.Messages {
		if m.Role == role && strings.Contains(m.Content, substr) {
			return true
		}
	}
	return false
}

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// RequireEqual fails the test immediately if the values differ.
func RequireEqual(t *testing.T, expected, actual any, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}
