// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package index

import "github.com/jllopis/mathqa/pkg/corpus"

// Match is the wire form of a result returned to clients.
type Match struct {
	Score float64       `json:"score"`
	Meta  corpus.Record `json:"meta"`
}

// Matches keeps the results scoring at least threshold, in order. The
// result is never nil.
func Matches(results []Result, threshold float64) []Match {
	out := make([]Match, 0, len(results))
	for _, r := range results {
		if r.Score >= threshold {
			out = append(out, Match{Score: r.Score, Meta: r.Record})
		}
	}
	return out
}
