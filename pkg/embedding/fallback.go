// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Failure policies selectable through configuration.
const (
	// PolicyFail surfaces every provider failure to the caller.
	PolicyFail = "fail"
	// PolicyZero substitutes a zero vector for a failed call. Records
	// embedded this way score 0.0 against every query.
	PolicyZero = "zero"
)

// ZeroFallback is the opt-in degraded policy: a failed embed call yields a
// zero vector of the known dimensionality instead of an error. The
// dimensionality comes from the wrapped embedder, or is learned from the
// first successful call. Until it is known, failures are returned as-is.
type ZeroFallback struct {
	next      Embedder
	dim       atomic.Int64
	fallbacks atomic.Int64
	logger    *slog.Logger
}

// NewZeroFallback wraps next. logger may be nil.
func NewZeroFallback(next Embedder, logger *slog.Logger) *ZeroFallback {
	z := &ZeroFallback{next: next, logger: logger}
	z.dim.Store(int64(next.Dimension()))
	return z
}

// Embed implements Embedder.
func (z *ZeroFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := z.next.Embed(ctx, text)
	if err == nil {
		z.dim.CompareAndSwap(0, int64(len(vec)))
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	dim := z.dim.Load()
	if dim == 0 {
		return nil, fmt.Errorf("zero-vector fallback unavailable, dimension unknown: %w", err)
	}
	z.fallbacks.Add(1)
	if z.logger != nil {
		z.logger.WarnContext(ctx, "embedding failed, substituting zero vector",
			"error", err, "dimension", dim)
	}
	return make([]float32, dim), nil
}

// Dimension implements Embedder.
func (z *ZeroFallback) Dimension() int {
	return int(z.dim.Load())
}

// Fallbacks returns how many zero vectors have been substituted.
func (z *ZeroFallback) Fallbacks() int64 {
	return z.fallbacks.Load()
}

// Model reports the wrapped embedder's model.
func (z *ZeroFallback) Model() string {
	return ModelOf(z.next)
}
