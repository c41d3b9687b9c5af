// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package ollama provides an embedding.Embedder backed by a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/mathqa/pkg/errors"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:11434"

// Embedder implements embedding.Embedder using Ollama.
type Embedder struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewEmbedder creates a new Ollama Embedder. dim may be 0 when unknown.
func NewEmbedder(baseURL, model string, dim int) *Embedder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed converts a text string into a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.CodeEmbedding, "ollama embedding api call failed", err).
			WithRecoverable(ctx.Err() == nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.CodeEmbedding, "ollama api returned an error",
			fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))).
			WithContext("status", resp.StatusCode).
			WithRecoverable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, errors.New(errors.CodeEmbedding, "failed to decode embedding response", err)
	}
	if len(embResp.Embedding) == 0 {
		return nil, errors.New(errors.CodeEmbedding, "ollama returned an empty embedding", nil)
	}

	vec := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimension implements embedding.Embedder.
func (e *Embedder) Dimension() int {
	return e.dim
}

// Model implements embedding.ModelNamer.
func (e *Embedder) Model() string {
	return e.model
}
