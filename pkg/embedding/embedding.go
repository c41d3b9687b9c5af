// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package embedding defines the embedding provider contract consumed by the
// similarity index, plus decorators for retries and degraded operation.
package embedding

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	// Embed converts a text string into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector length, or 0 when it is not known
	// until the first successful call.
	Dimension() int
}

// ModelNamer is implemented by embedders that can report their model.
type ModelNamer interface {
	Model() string
}

// ModelOf returns the model name of e, or "" when e does not report one.
func ModelOf(e Embedder) string {
	if m, ok := e.(ModelNamer); ok {
		return m.Model()
	}
	return ""
}

// DefaultConcurrency bounds EmbedAll when no limit is given.
const DefaultConcurrency = 8

// EmbedAll embeds texts with at most concurrency calls in flight. The
// result is in the same order as texts regardless of completion order.
// The first failure cancels outstanding calls and is returned.
func EmbedAll(ctx context.Context, e Embedder, texts []string, concurrency int) ([][]float32, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gctx, texts[i])
			if err != nil {
				return ProviderError(ctx, err).WithContext("position", i)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
