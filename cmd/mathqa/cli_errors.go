// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/jllopis/mathqa/pkg/errors"
)

// CLIError wraps a typed error with a hint for the operator.
type CLIError struct {
	Cause *errors.Error
	Hint  string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Cause: e, Hint: hint}
}

// Error returns the formatted error message with its hint.
func (e *CLIError) Error() string {
	if e.Cause == nil {
		return "unknown error"
	}
	msg := e.Cause.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

func newConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)
	hint := "check the configuration values and environment overrides"
	if configPath != "" {
		hint = fmt.Sprintf("check %s and any --set overrides", configPath)
	}
	return NewCLIError(e, hint)
}

// hintFor suggests the next step for an error code.
func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeCorpus:
		return "check index.corpus_path and the corpus file format"
	case errors.CodeIndexNotFound:
		return "run 'mathqa build' to create the index"
	case errors.CodeCorruptIndex:
		return "run 'mathqa build' to rebuild the index"
	case errors.CodeEmbedding:
		return "check the embedding provider settings and that it is reachable"
	case errors.CodeLLMError:
		return "check the llm provider settings and API key"
	case errors.CodeTimeout:
		return "raise embedding.timeout or check provider latency"
	default:
		return ""
	}
}

// printError writes err to w, with a hint when one applies.
func printError(w io.Writer, err error, asJSON bool) {
	var cliErr *CLIError
	if !stderrors.As(err, &cliErr) {
		e := errors.As(err)
		cliErr = NewCLIError(e, hintFor(e.Code))
	}

	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": cliErr.Cause,
			"hint":  cliErr.Hint,
		})
		return
	}

	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(w, "Error [%s]: ", cliErr.Cause.Code)
	fmt.Fprintln(w, cliErr.Cause.Message)
	if cliErr.Cause.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", cliErr.Cause.Err)
	}
	if cliErr.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", cliErr.Hint)
	}
}
