// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package index

import "math"

// Cosine returns the cosine similarity of a and b. When either vector has
// zero magnitude the similarity is 0. Vectors of different length compare
// over the shorter prefix.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// magnitude returns the Euclidean norm of v.
func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// scoreAgainst computes the cosine of query (with norm qn) against a stored
// vector with precomputed norm vn.
func scoreAgainst(query []float32, qn float64, vec []float32, vn float64) float64 {
	if qn == 0 || vn == 0 {
		return 0
	}
	var dot float64
	for i := range vec {
		dot += float64(query[i]) * float64(vec[i])
	}
	return dot / (qn * vn)
}
