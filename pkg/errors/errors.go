// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy shared by the similarity
// index, the embedding providers and the API surfaces.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies errors so callers can tell failures apart.
type ErrorCode string

const (
	// CodeCorpus indicates the input corpus is missing, unreadable or malformed.
	CodeCorpus ErrorCode = "CORPUS_ERROR"

	// CodeIndexNotFound indicates no persisted snapshot exists.
	CodeIndexNotFound ErrorCode = "INDEX_NOT_FOUND"

	// CodeCorruptIndex indicates a persisted snapshot fails its structural invariants.
	CodeCorruptIndex ErrorCode = "CORRUPT_INDEX"

	// CodeEmbedding indicates the embedding provider failed after retries.
	CodeEmbedding ErrorCode = "EMBEDDING_PROVIDER_ERROR"

	// CodeNotReady indicates the index was queried before a snapshot was loaded or built.
	CodeNotReady ErrorCode = "NOT_READY"

	// CodeInvalidInput indicates the caller supplied invalid arguments.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeContextLost indicates the context was canceled while waiting.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. They match any *Error carrying the same code.
var (
	ErrCorpus            = &Error{Code: CodeCorpus, Message: "corpus error"}
	ErrIndexNotFound     = &Error{Code: CodeIndexNotFound, Message: "index snapshot not found"}
	ErrCorruptIndex      = &Error{Code: CodeCorruptIndex, Message: "index snapshot is corrupt"}
	ErrEmbeddingProvider = &Error{Code: CodeEmbedding, Message: "embedding provider failed"}
	ErrNotReady          = &Error{Code: CodeNotReady, Message: "index is not ready"}
	ErrInvalidInput      = &Error{Code: CodeInvalidInput, Message: "invalid input"}
)

// Error is a typed error with context for observability.
// It can be matched with errors.Is against the sentinels above and
// extracted with errors.As.
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// MarshalJSON implements json.Marshaler for structured logging and API bodies.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Cause       string                 `json:"cause,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Clone returns a copy of e with its own context map, so the copy can be
// annotated without touching an error value shared with other callers.
func (e *Error) Clone() *Error {
	if e == nil {
		return nil
	}
	c := *e
	c.Context = make(map[string]interface{}, len(e.Context))
	for k, v := range e.Context {
		c.Context[k] = v
	}
	return &c
}

// WithRecoverable sets whether a retry may succeed.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none. A nil error has no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err's chain contains an *Error with code.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &Error{Code: code})
}

// As wraps err as an *Error, keeping it unchanged when it already is one.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "internal error", err)
}

// Wrap returns err unchanged when it already carries a typed code,
// otherwise wraps it under code.
func Wrap(code ErrorCode, msg string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return err
	}
	return New(code, msg, err)
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		if e.StatusCode != 0 {
			return e.StatusCode
		}
		return codeToStatusCode(e.Code)
	}
	return http.StatusInternalServerError
}

func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeCorpus:
		return http.StatusUnprocessableEntity
	case CodeIndexNotFound:
		return http.StatusNotFound
	case CodeEmbedding, CodeLLMError:
		return http.StatusBadGateway
	case CodeNotReady:
		return http.StatusServiceUnavailable
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
