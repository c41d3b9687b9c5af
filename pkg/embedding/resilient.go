// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"context"
	"time"

	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/resilience"
)

// ProviderError normalises a failed embed call. Errors already coded as
// EMBEDDING_PROVIDER_ERROR pass through as a copy the caller may annotate;
// cancellation of the caller's own
// context is reported as CONTEXT_LOST; everything else becomes an
// EMBEDDING_PROVIDER_ERROR wrapping the cause.
func ProviderError(ctx context.Context, err error) *errors.Error {
	if errors.HasCode(err, errors.CodeEmbedding) {
		return errors.As(err).Clone()
	}
	if ctx.Err() != nil {
		return errors.New(errors.CodeContextLost, "embedding canceled", err)
	}
	recoverable := resilience.IsRecoverable(err)
	return errors.New(errors.CodeEmbedding, "embedding provider failed", err).
		WithRecoverable(recoverable)
}

// Resilient bounds every embed attempt with a timeout and retries
// recoverable failures with exponential backoff.
type Resilient struct {
	next    Embedder
	timeout time.Duration
	retry   resilience.RetryConfig
}

// ResilientOption configures a Resilient embedder.
type ResilientOption func(*Resilient)

// WithAttemptTimeout sets the per-attempt timeout. Zero disables it.
func WithAttemptTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) {
		r.timeout = d
	}
}

// WithRetry sets the retry policy.
func WithRetry(rc resilience.RetryConfig) ResilientOption {
	return func(r *Resilient) {
		r.retry = rc
	}
}

// NewResilient wraps next. Defaults: 30s per attempt, 3 attempts.
func NewResilient(next Embedder, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		next:    next,
		timeout: 30 * time.Second,
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Embed implements Embedder.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	attempts := 0
	vec, err := resilience.Retry(ctx, r.retry, func(attempt int) ([]float32, error) {
		attempts = attempt
		return resilience.WithTimeout(ctx, r.timeout, func(ctx context.Context) ([]float32, error) {
			return r.next.Embed(ctx, text)
		})
	})
	if err != nil {
		return nil, ProviderError(ctx, err).WithContext("attempts", attempts)
	}
	return vec, nil
}

// Dimension implements Embedder.
func (r *Resilient) Dimension() int {
	return r.next.Dimension()
}

// Model reports the wrapped embedder's model.
func (r *Resilient) Model() string {
	return ModelOf(r.next)
}
