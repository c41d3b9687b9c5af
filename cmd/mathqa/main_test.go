// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jllopis/mathqa/internal/app"
	"github.com/jllopis/mathqa/pkg/errors"
)

func writeWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	corpus := `[
		{"id": 1, "question": "What is the derivative of x squared?"},
		{"id": 2, "question": "Solve 2x + 3 = 7 for x"}
	]`
	if err := os.WriteFile(filepath.Join(dir, "questions.json"), []byte(corpus), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := `
log:
  level: error
llm:
  provider: mock
embedding:
  provider: hash
  dimension: 32
index:
  corpus_path: ` + filepath.Join(dir, "questions.json") + `
  path: ` + filepath.Join(dir, "index.json") + `
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestBuildAndQuery(t *testing.T) {
	cfg := writeWorkspace(t)

	out, err := run(t, "--config", cfg, "--json", "build")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var report buildReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode build output %q: %v", out, err)
	}
	if report.Records != 2 || report.Dimension != 32 || report.Store != "file" {
		t.Fatalf("unexpected build report %+v", report)
	}

	out, err = run(t, "--config", cfg, "--json", "query", "--threshold", "0.99", "What", "is", "the", "derivative", "of", "x", "squared?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var res struct {
		Similar []struct {
			Score float64        `json:"score"`
			Meta  map[string]any `json:"meta"`
		} `json:"similar"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode query output %q: %v", out, err)
	}
	if len(res.Similar) != 1 || res.Similar[0].Meta["question"] != "What is the derivative of x squared?" {
		t.Fatalf("expected the exact question only, got %+v", res.Similar)
	}
}

func TestBuildFromStdin(t *testing.T) {
	cfg := writeWorkspace(t)
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader("- question: \"What is 7 * 6?\"\n"))
	root.SetArgs([]string{"--config", cfg, "--json", "build", "--corpus", "-", "--format", "yaml"})
	if err := root.Execute(); err != nil {
		t.Fatalf("build: %v", err)
	}
	var report buildReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode build output %q: %v", out.String(), err)
	}
	if report.Records != 1 || report.Corpus != "-" {
		t.Fatalf("unexpected build report %+v", report)
	}

	_, err := run(t, "--config", cfg, "build", "--corpus", "-", "--format", "xml")
	if !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected invalid input for unknown format, got %v", err)
	}
}

func TestRemoteCommands(t *testing.T) {
	cfg := writeWorkspace(t)
	a, err := app.New(app.Options{ConfigPath: cfg})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	remote := srv.URL + "/mcp"

	out, err := run(t, "--remote", remote, "--json", "query", "--threshold", "0.99", "Solve 2x + 3 = 7 for x")
	if err != nil {
		t.Fatalf("remote query: %v", err)
	}
	var res struct {
		Similar []struct {
			Meta map[string]any `json:"meta"`
		} `json:"similar"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode remote query output %q: %v", out, err)
	}
	if len(res.Similar) != 1 || res.Similar[0].Meta["question"] != "Solve 2x + 3 = 7 for x" {
		t.Fatalf("unexpected remote matches %+v", res.Similar)
	}

	out, err = run(t, "--remote", remote, "--json", "validate", "What is 2+2?")
	if err != nil {
		t.Fatalf("remote validate: %v", err)
	}
	if !strings.Contains(out, `"is_valid"`) {
		t.Fatalf("unexpected remote validate output %q", out)
	}

	if _, err := run(t, "--remote", "http://127.0.0.1:1/mcp", "query", "x"); !errors.HasCode(err, errors.CodeInternal) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestQueryTableOutput(t *testing.T) {
	cfg := writeWorkspace(t)
	out, err := run(t, "--config", cfg, "query", "--threshold", "-1", "--top", "2", "solve for x")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(out, "SCORE") || !strings.Contains(out, "Solve 2x + 3 = 7 for x") {
		t.Fatalf("unexpected table output:\n%s", out)
	}
}

func TestSetOverridesConfig(t *testing.T) {
	cfg := writeWorkspace(t)
	_, err := run(t, "--config", cfg, "--set", "embedding.provider=word2vec", "build")
	var cliErr *CLIError
	if !stderrors.As(err, &cliErr) || cliErr.Cause.Code != errors.CodeInvalidInput {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(cliErr.Hint, cfg) {
		t.Errorf("expected hint to name the config file, got %q", cliErr.Hint)
	}
}

func TestValidateUsesLLM(t *testing.T) {
	cfg := writeWorkspace(t)
	out, err := run(t, "--config", cfg, "--json", "validate", "2+2=?")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if v["is_valid"] != true {
		t.Fatalf("unexpected validation %v", v)
	}
}

func TestRefineWithMockProvider(t *testing.T) {
	cfg := writeWorkspace(t)
	// The mock provider answers with a validation object, which still parses
	// as a refinement with empty fields.
	out, err := run(t, "--config", cfg, "refine", "--feedback", "be precise", "2+2")
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if !strings.Contains(out, "revised_question") {
		t.Fatalf("unexpected refine output:\n%s", out)
	}
}

func TestEnvFile(t *testing.T) {
	cfg := writeWorkspace(t)
	envFile := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envFile, []byte("MATHQA_SIMILARITY_TOP_K=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("MATHQA_SIMILARITY_TOP_K") })

	out, err := run(t, "--config", cfg, "--env-file", envFile, "--json", "query", "--threshold", "-1", "x")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var res struct {
		Similar []json.RawMessage `json:"similar"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(res.Similar) != 1 {
		t.Fatalf("expected top_k from env file to apply, got %d results", len(res.Similar))
	}
}

func TestMissingEnvFile(t *testing.T) {
	_, err := run(t, "--env-file", filepath.Join(t.TempDir(), "nope.env"), "build")
	if err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestPrintError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		json bool
		want []string
	}{
		{
			"typed with hint",
			errors.New(errors.CodeIndexNotFound, "no snapshot", nil),
			false,
			[]string{"INDEX_NOT_FOUND", "no snapshot", "mathqa build"},
		},
		{
			"untyped",
			stderrors.New("boom"),
			false,
			[]string{"INTERNAL_ERROR", "boom"},
		},
		{
			"json",
			errors.New(errors.CodeLLMError, "chat failed", nil),
			true,
			[]string{`"code":"LLM_ERROR"`, `"hint":"check the llm provider`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printError(&buf, tt.err, tt.json)
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("expected %q in output:\n%s", want, buf.String())
				}
			}
		})
	}
}
