// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package corpus loads the question corpus a similarity index is built from.
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is one question of the corpus. Fields other than "id" and
// "question" are kept verbatim in Metadata.
type Record struct {
	ID       string
	Question string
	Metadata map[string]any

	// numericID is set when the id was a JSON number, so it is written
	// back as a number.
	numericID bool
}

// NewRecord returns a record with a string id.
func NewRecord(id, question string, metadata map[string]any) Record {
	return Record{ID: id, Question: question, Metadata: metadata}
}

// NumericRecord returns a record whose id is the integer n.
func NumericRecord(n int, question string, metadata map[string]any) Record {
	return Record{ID: strconv.Itoa(n), Question: question, Metadata: metadata, numericID: true}
}

// NumericID reports whether the id is emitted as a JSON number.
func (r Record) NumericID() bool {
	return r.numericID
}

// MarshalJSON flattens the record back into a single JSON object.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		out[k] = v
	}
	if r.numericID {
		out["id"] = json.Number(r.ID)
	} else if r.ID != "" {
		out["id"] = r.ID
	}
	out["question"] = r.Question
	return json.Marshal(out)
}

// UnmarshalJSON accepts an object with a "question" string, an optional
// string or integer "id" and arbitrary extra fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("record is null")
	}

	q, ok := raw["question"].(string)
	if !ok {
		return fmt.Errorf("record has no string \"question\" field")
	}
	rec := Record{Question: q}

	switch id := raw["id"].(type) {
	case nil:
	case string:
		rec.ID = id
	case json.Number:
		if _, err := id.Int64(); err != nil {
			return fmt.Errorf("record id %q is not an integer", id.String())
		}
		rec.ID = id.String()
		rec.numericID = true
	default:
		return fmt.Errorf("record id must be a string or integer, got %T", id)
	}

	delete(raw, "id")
	delete(raw, "question")
	if len(raw) > 0 {
		rec.Metadata = raw
	}
	*r = rec
	return nil
}
