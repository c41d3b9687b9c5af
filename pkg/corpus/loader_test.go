// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package corpus

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jllopis/mathqa/pkg/errors"
)

func TestLoadJSON(t *testing.T) {
	recs, err := Load(filepath.Join("testdata", "questions.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}

	if recs[1].ID != "2" || !recs[1].NumericID() {
		t.Errorf("expected numeric id 2, got %q (numeric=%v)", recs[1].ID, recs[1].NumericID())
	}
	if recs[1].Question != "What is the derivative of x^2?" {
		t.Errorf("unexpected question %q", recs[1].Question)
	}
	if recs[1].Metadata["topic"] != "calculus" {
		t.Errorf("expected topic metadata, got %v", recs[1].Metadata)
	}
	// Missing id defaults to the position in the corpus.
	if recs[2].ID != "2" || !recs[2].NumericID() {
		t.Errorf("expected positional id 2, got %q", recs[2].ID)
	}
	if recs[2].Metadata != nil {
		t.Errorf("expected no metadata, got %v", recs[2].Metadata)
	}
}

func TestLoadYAML(t *testing.T) {
	recs, err := Load(filepath.Join("testdata", "questions.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID != "q-1" || recs[0].NumericID() {
		t.Errorf("expected string id q-1, got %q", recs[0].ID)
	}
	tags, ok := recs[0].Metadata["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Errorf("expected two tags, got %v", recs[0].Metadata["tags"])
	}
	if recs[1].ID != "1" {
		t.Errorf("expected positional id 1, got %q", recs[1].ID)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join("testdata", "nope.json")},
		{"empty path", ""},
		{"no question field", filepath.Join("testdata", "missing_question.json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			if !errors.HasCode(err, errors.CodeCorpus) {
				t.Fatalf("expected CORPUS_ERROR, got %v", err)
			}
		})
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"question": `},
		{"object instead of array", `{"question": "x"}`},
		{"array of strings", `["2+2"]`},
		{"empty question", `[{"question": ""}]`},
		{"blank question", `[{"question": "   "}]`},
		{"fractional id", `[{"id": 1.5, "question": "x"}]`},
		{"bool id", `[{"id": true, "question": "x"}]`},
		{"empty string id", `[{"id": "", "question": "x"}]`},
		{"empty document", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data), FormatJSON); !errors.HasCode(err, errors.CodeCorpus) {
				t.Fatalf("expected CORPUS_ERROR, got %v", err)
			}
		})
	}
}

func TestParseEmptyCorpus(t *testing.T) {
	recs, err := Parse([]byte(`[]`), FormatJSON)
	if err != nil {
		t.Fatalf("empty corpus must be valid: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", recs)
	}
}

func TestRead(t *testing.T) {
	recs, err := Read(strings.NewReader(`- question: "1+1?"`), FormatYAML)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Question != "1+1?" {
		t.Fatalf("unexpected records %#v", recs)
	}
}

func TestRecordJSONRoundTrip(t *testing.T) {
	recs, err := Load(filepath.Join("testdata", "questions.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	data, err := json.Marshal(recs)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"id":1`) {
		t.Errorf("expected numeric id to stay numeric, got %s", data)
	}

	var back []Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(recs, back) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", back, recs)
	}
}

func TestQuestions(t *testing.T) {
	recs := []Record{NewRecord("a", "first", nil), NumericRecord(7, "second", nil)}
	got := Questions(recs)
	if !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Fatalf("unexpected questions %v", got)
	}
}
