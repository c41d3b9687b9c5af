// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jllopis/mathqa/pkg/errors"
)

// OpenAIProvider implements Provider with the OpenAI chat completions API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAI creates a provider. An empty apiKey falls back to
// OPENAI_API_KEY; an empty baseURL uses the public endpoint.
func NewOpenAI(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New(errors.CodeInvalidInput, "openai api key is not set", nil)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}, nil
}

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	oReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
	}
	if req.JSON {
		oReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, oReq)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "openai chat completion failed", err).
			WithContext("model", req.Model).
			WithRecoverable(transient(err))
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New(errors.CodeLLMError, "openai returned no choices", nil).
			WithContext("model", req.Model)
	}

	return &ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func transient(err error) bool {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return !stderrors.Is(err, context.Canceled)
}
