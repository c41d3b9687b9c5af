// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jllopis/mathqa/pkg/embedding"
)

// ScriptedEmbedder is an embedding.Embedder for tests. Texts registered with
// On return their scripted vector; any other text falls back to the
// deterministic hash embedder of the same dimension.
type ScriptedEmbedder struct {
	mu       sync.Mutex
	dim      int
	vectors  map[string][]float32
	failures map[string]error
	failAll  error
	delay    time.Duration
	calls    []string
	fallback *embedding.Hash
}

// NewScriptedEmbedder creates an embedder producing dim-length vectors.
func NewScriptedEmbedder(dim int) *ScriptedEmbedder {
	return &ScriptedEmbedder{
		dim:      dim,
		vectors:  make(map[string][]float32),
		failures: make(map[string]error),
		fallback: embedding.NewHash(dim),
	}
}

// On scripts the vector returned for text. The vector must have the
// embedder's dimension.
func (e *ScriptedEmbedder) On(text string, vec ...float32) *ScriptedEmbedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(vec) != e.dim {
		panic(fmt.Sprintf("scripted vector for %q has %d dims, want %d", text, len(vec), e.dim))
	}
	e.vectors[text] = vec
	return e
}

// FailOn makes every call for text fail with err.
func (e *ScriptedEmbedder) FailOn(text string, err error) *ScriptedEmbedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[text] = err
	return e
}

// FailAll makes every call fail with err. A nil err restores normal
// behavior.
func (e *ScriptedEmbedder) FailAll(err error) *ScriptedEmbedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failAll = err
	return e
}

// WithDelay holds every call for d, or until the context ends.
func (e *ScriptedEmbedder) WithDelay(d time.Duration) *ScriptedEmbedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
	return e
}

// Embed implements embedding.Embedder.
func (e *ScriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	delay := e.delay
	err := e.failAll
	if err == nil {
		err = e.failures[text]
	}
	vec, scripted := e.vectors[text]
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if scripted {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	return e.fallback.Embed(ctx, text)
}

// Dimension implements embedding.Embedder.
func (e *ScriptedEmbedder) Dimension() int {
	return e.dim
}

// Model implements embedding.ModelNamer.
func (e *ScriptedEmbedder) Model() string {
	return "scripted"
}

// Calls returns the texts embedded so far, in call order.
func (e *ScriptedEmbedder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallCount returns the number of Embed calls made.
func (e *ScriptedEmbedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// Reset forgets recorded calls.
func (e *ScriptedEmbedder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}
