// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai provides an embedding.Embedder backed by the OpenAI
// embeddings API.
package openai

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jllopis/mathqa/pkg/errors"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "text-embedding-3-small"

// Embedder implements embedding.Embedder using the OpenAI API.
type Embedder struct {
	client *openai.Client
	model  string
	dim    int
}

// Option configures the Embedder.
type Option func(*options)

type options struct {
	apiKey  string
	baseURL string
	model   string
	dim     int
}

// WithAPIKey sets the API key. Defaults to OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL points the client at a compatible endpoint or proxy.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithModel sets the embedding model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithDimensions asks the API to shorten vectors to n dimensions.
func WithDimensions(n int) Option {
	return func(o *options) { o.dim = n }
}

// New creates an OpenAI embedder.
func New(opts ...Option) (*Embedder, error) {
	o := options{model: DefaultModel}
	for _, opt := range opts {
		opt(&o)
	}
	if o.apiKey == "" {
		o.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if o.apiKey == "" {
		return nil, errors.New(errors.CodeInvalidInput, "openai api key is not set", nil)
	}

	cfg := openai.DefaultConfig(o.apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	dim := o.dim
	if dim == 0 {
		dim = knownDimension(o.model)
	}
	return &Embedder{
		client: openai.NewClientWithConfig(cfg),
		model:  o.model,
		dim:    dim,
	}, nil
}

// Embed implements embedding.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New(errors.CodeInvalidInput, "cannot embed empty text", nil)
	}
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	}
	if e.dim > 0 && e.dim != knownDimension(e.model) {
		req.Dimensions = e.dim
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, errors.New(errors.CodeEmbedding, "openai embeddings request failed", err).
			WithContext("model", e.model).
			WithRecoverable(retryable(err))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New(errors.CodeEmbedding, "openai returned no embedding data", nil).
			WithContext("model", e.model)
	}

	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i := range src {
		vec[i] = float32(src[i])
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

func knownDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	default:
		return 0
	}
}

// retryable treats rate limiting, server errors and transport failures as
// transient.
func retryable(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case stderrors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case stderrors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return !stderrors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
