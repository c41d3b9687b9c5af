// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package flows implements the LLM-backed validation and refinement of math
// questions. Each flow is a single prompt followed by best-effort JSON
// extraction; only provider failures are errors.
package flows

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/llm"
	"github.com/jllopis/mathqa/pkg/resilience"
	"github.com/jllopis/mathqa/pkg/telemetry"
)

// Validation is the verdict on a candidate question.
type Validation struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason"`
}

// Refinement is a rewritten question.
type Refinement struct {
	RevisedQuestion string   `json:"revised_question"`
	IssuesFixed     []string `json:"issues_fixed"`
}

const validatePrompt = `Determine if this is a valid math question.
Respond ONLY with JSON:

{
  "is_valid": true or false,
  "reason": "short explanation"
}

Question: %s
`

const refinePrompt = `Refine the following math question. Respond ONLY with JSON:

{
  "revised_question": "...",
  "issues_fixed": ["...", "..."]
}

Question: %s

Feedback: %s
`

// Flows runs prompts against one provider and model.
type Flows struct {
	provider     llm.Provider
	providerName string
	model        string
	temperature  float64
	tracer       trace.Tracer
	logger       *slog.Logger
	breaker      *resilience.CircuitBreaker
}

// Option configures Flows.
type Option func(*Flows)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(f *Flows) { f.temperature = t }
}

// WithProviderName labels spans with the backend name.
func WithProviderName(name string) Option {
	return func(f *Flows) { f.providerName = name }
}

// WithLogger sets the logger used to report unparseable output.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flows) { f.logger = l }
}

// WithBreaker routes provider calls through cb, so a failing provider is
// not called again until the breaker's cooldown passes.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(f *Flows) { f.breaker = cb }
}

// New returns flows calling model through provider.
func New(provider llm.Provider, model string, opts ...Option) *Flows {
	f := &Flows{
		provider: provider,
		model:    model,
		tracer:   otel.Tracer("mathqa/flows"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Validate asks whether question is a well-formed math question.
func (f *Flows) Validate(ctx context.Context, question string) (Outcome[Validation], error) {
	if strings.TrimSpace(question) == "" {
		return Outcome[Validation]{}, errors.New(errors.CodeInvalidInput, "question is empty", nil)
	}
	raw, err := f.complete(ctx, "validate", fmt.Sprintf(validatePrompt, question))
	if err != nil {
		return Outcome[Validation]{}, err
	}
	out := ParseJSON[Validation](raw)
	f.reportFailure(ctx, "validate", out.Failure)
	return out, nil
}

// Refine rewrites question, taking optional feedback into account.
func (f *Flows) Refine(ctx context.Context, question, feedback string) (Outcome[Refinement], error) {
	if strings.TrimSpace(question) == "" {
		return Outcome[Refinement]{}, errors.New(errors.CodeInvalidInput, "question is empty", nil)
	}
	raw, err := f.complete(ctx, "refine", fmt.Sprintf(refinePrompt, question, feedback))
	if err != nil {
		return Outcome[Refinement]{}, err
	}
	out := ParseJSON[Refinement](raw)
	f.reportFailure(ctx, "refine", out.Failure)
	return out, nil
}

func (f *Flows) complete(ctx context.Context, flow, prompt string) (string, error) {
	ctx, span := f.tracer.Start(ctx, "flows."+flow,
		trace.WithAttributes(telemetry.LLMAttributes(f.providerName, f.model, flow)...))
	defer span.End()

	req := llm.ChatRequest{
		Model:       f.model,
		Messages:    []llm.Message{llm.User(prompt)},
		Temperature: f.temperature,
		JSON:        true,
	}
	var resp *llm.ChatResponse
	call := func(ctx context.Context) (err error) {
		resp, err = f.provider.Chat(ctx, req)
		return err
	}
	var err error
	if f.breaker != nil {
		err = f.breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		err = errors.Wrap(errors.CodeLLMError, flow+" call failed", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return resp.Content, nil
}

func (f *Flows) reportFailure(ctx context.Context, flow string, pf *ParseFailure) {
	if pf == nil || f.logger == nil {
		return
	}
	f.logger.WarnContext(ctx, "model output was not valid JSON",
		"flow", flow, "reason", pf.Reason, "raw_len", len(pf.Raw))
}
