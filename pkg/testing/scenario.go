// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides test doubles and helpers for mathqa components:
// a scripted embedder, a scripted chat provider, declarative scenarios and
// assertion helpers.
//
// Example usage:
//
//	scenario := testing.NewScenario("validate arithmetic").
//	    WithInput("2+2=?").
//	    ExpectOutput(testing.Contains(`"is_valid":true`)).
//	    ExpectNoError()
//
//	result := scenario.Run(t, runner)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/mathqa/pkg/errors"
)

// Scenario defines a single input run through a Runner and the
// expectations on its output.
type Scenario struct {
	name          string
	description   string
	input         string
	context       context.Context
	timeout       time.Duration
	expectations  []Expectation
	setupFuncs    []func() error
	teardownFuncs []func() error
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *ScenarioResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Output   string
	Error    error
	Duration time.Duration
}

// Runner turns an input into an output, e.g. a question into a rendered
// validation or a list of matches.
type Runner interface {
	Run(ctx context.Context, input string) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, input string) (string, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}

// NewScenario creates a new test scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// Name returns the scenario name.
func (s *Scenario) Name() string { return s.name }

// WithDescription sets the scenario description.
func (s *Scenario) WithDescription(desc string) *Scenario {
	s.description = desc
	return s
}

// WithInput sets the input passed to the runner.
func (s *Scenario) WithInput(input string) *Scenario {
	s.input = input
	return s
}

// WithContext sets the parent context.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout bounds the run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithSetup adds a function run before the scenario.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a function run after the scenario.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// Expect adds an expectation.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectOutput expects the output to match.
func (s *Scenario) ExpectOutput(matcher StringMatcher) *Scenario {
	return s.Expect(&outputExpectation{matcher: matcher})
}

// ExpectNoError expects the run to succeed.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects the run to fail with a matching message.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectErrorCode expects the run to fail with the given error code.
func (s *Scenario) ExpectErrorCode(code errors.ErrorCode) *Scenario {
	return s.Expect(&errorCodeExpectation{code: code})
}

// ExpectMaxDuration expects the run to complete within d.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run executes the scenario against runner.
func (s *Scenario) Run(t *testing.T, runner Runner) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}
	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	start := time.Now()
	output, err := runner.Run(ctx, s.input)
	return &ScenarioResult{
		Output:   output,
		Error:    err,
		Duration: time.Since(start),
	}
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()
	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains matches strings containing substr.
func Contains(substr string) StringMatcher {
	return &funcMatcher{
		match: func(s string) bool { return strings.Contains(s, substr) },
		desc:  fmt.Sprintf("contains %q", substr),
	}
}

// Equals matches the exact string.
func Equals(expected string) StringMatcher {
	return &funcMatcher{
		match: func(s string) bool { return s == expected },
		desc:  fmt.Sprintf("equals %q", expected),
	}
}

// Regex matches strings against a regular expression. An invalid pattern
// never matches.
func Regex(pattern string) StringMatcher {
	re, err := regexp.Compile(pattern)
	return &funcMatcher{
		match: func(s string) bool { return err == nil && re.MatchString(s) },
		desc:  fmt.Sprintf("matches /%s/", pattern),
	}
}

// HasPrefix matches strings starting with prefix.
func HasPrefix(prefix string) StringMatcher {
	return &funcMatcher{
		match: func(s string) bool { return strings.HasPrefix(s, prefix) },
		desc:  fmt.Sprintf("has prefix %q", prefix),
	}
}

type funcMatcher struct {
	match func(string) bool
	desc  string
}

func (m *funcMatcher) Match(s string) bool { return m.match(s) }
func (m *funcMatcher) Description() string { return m.desc }

type outputExpectation struct {
	matcher StringMatcher
}

func (e *outputExpectation) Check(r *ScenarioResult) error {
	if !e.matcher.Match(r.Output) {
		return fmt.Errorf("output %q does not match", r.Output)
	}
	return nil
}

func (e *outputExpectation) Description() string {
	return "output " + e.matcher.Description()
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("unexpected error: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string { return "no error" }

type errorExpectation struct {
	matcher StringMatcher
}

func (e *errorExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("expected an error")
	}
	if !e.matcher.Match(r.Error.Error()) {
		return fmt.Errorf("error %q does not match", r.Error)
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return "error " + e.matcher.Description()
}

type errorCodeExpectation struct {
	code errors.ErrorCode
}

func (e *errorCodeExpectation) Check(r *ScenarioResult) error {
	if got := errors.CodeOf(r.Error); got != e.code {
		return fmt.Errorf("got code %q (%v)", got, r.Error)
	}
	return nil
}

func (e *errorCodeExpectation) Description() string {
	return "error code " + string(e.code)
}

type maxDurationExpectation struct {
	max time.Duration
}

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("took %v", r.Duration)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("duration <= %v", e.max)
}
