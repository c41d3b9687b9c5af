// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is an offline embedder based on feature hashing of lower-cased word
// tokens. Texts sharing words land close together; it has no notion of
// meaning beyond that. Intended for development and demos.
type Hash struct {
	dim int
}

// NewHash returns a Hash embedder producing vectors of length dim.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 256
	}
	return &Hash{dim: dim}
}

// Embed implements Embedder. Text without word characters maps to the zero
// vector.
func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, tok := range tokenize(text) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%h.dim] += sign
	}
	normalize(vec)
	return vec, nil
}

// Dimension implements Embedder.
func (h *Hash) Dimension() int {
	return h.dim
}

// Model implements ModelNamer.
func (h *Hash) Model() string {
	return "hash"
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize scales v to unit length in place; the zero vector is left as is.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
