// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot defines the persisted state of a similarity index and the
// stores that hold it.
package snapshot

import (
	"context"
	"time"

	"github.com/jllopis/mathqa/pkg/corpus"
	"github.com/jllopis/mathqa/pkg/errors"
)

// Snapshot is the complete persisted state of an index. Records[i] belongs
// to Vectors[i].
type Snapshot struct {
	Model     string          `json:"model,omitempty"`
	Dimension int             `json:"dimension"`
	CreatedAt time.Time       `json:"created_at"`
	Records   []corpus.Record `json:"records"`
	Vectors   [][]float32     `json:"vectors"`
}

// Store holds exactly one named snapshot at a time.
type Store interface {
	// Save replaces the stored snapshot. A failed Save leaves the previous
	// snapshot loadable.
	Save(ctx context.Context, snap *Snapshot) error
	// Load returns the stored snapshot, failing with INDEX_NOT_FOUND when
	// there is none and CORRUPT_INDEX when it cannot be trusted.
	Load(ctx context.Context) (*Snapshot, error)
	// Name identifies the store in logs and health output.
	Name() string
}

// New assembles a snapshot and checks its invariants. The dimension is
// taken from the first vector.
func New(model string, records []corpus.Record, vectors [][]float32, createdAt time.Time) (*Snapshot, error) {
	s := &Snapshot{
		Model:     model,
		CreatedAt: createdAt.UTC(),
		Records:   records,
		Vectors:   vectors,
	}
	if len(vectors) > 0 {
		s.Dimension = len(vectors[0])
	}
	if s.Records == nil {
		s.Records = []corpus.Record{}
	}
	if s.Vectors == nil {
		s.Vectors = [][]float32{}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.Records)
}

// Validate checks the parallel-array and dimension invariants.
func (s *Snapshot) Validate() error {
	if s == nil {
		return errors.New(errors.CodeCorruptIndex, "snapshot is empty", nil)
	}
	if len(s.Records) != len(s.Vectors) {
		return errors.Newf(errors.CodeCorruptIndex, "snapshot has %d records but %d vectors",
			len(s.Records), len(s.Vectors))
	}
	if len(s.Vectors) > 0 && s.Dimension <= 0 {
		return errors.Newf(errors.CodeCorruptIndex, "snapshot dimension %d is invalid", s.Dimension)
	}
	for i, v := range s.Vectors {
		if len(v) != s.Dimension {
			return errors.Newf(errors.CodeCorruptIndex, "vector %d has dimension %d, expected %d",
				i, len(v), s.Dimension).WithContext("position", i)
		}
	}
	return nil
}
