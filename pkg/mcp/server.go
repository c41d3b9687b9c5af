// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes the similarity index and the question flows as Model
// Context Protocol tools, and provides a client for calling them.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/mathqa/pkg/config"
	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/flows"
	"github.com/jllopis/mathqa/pkg/index"
)

// Tool names.
const (
	ToolFindSimilar = "find_similar_questions"
	ToolValidate    = "validate_question"
	ToolRefine      = "refine_question"
)

// Searcher answers similarity queries.
type Searcher interface {
	Query(ctx context.Context, text string, topK int) ([]index.Result, error)
}

// QuestionFlows validates and refines questions.
type QuestionFlows interface {
	Validate(ctx context.Context, question string) (flows.Outcome[flows.Validation], error)
	Refine(ctx context.Context, question, feedback string) (flows.Outcome[flows.Refinement], error)
}

// Server wraps the mcp-go server with the mathqa tools.
type Server struct {
	mcpServer  *server.MCPServer
	searcher   Searcher
	flows      QuestionFlows
	similarity func() config.SimilarityConfig
}

// NewServer creates a server. similarity supplies the default top_k and
// threshold for each call, so reloaded settings apply immediately. Tools
// whose backend is nil are not registered.
func NewServer(name, version string, searcher Searcher, qf QuestionFlows, similarity func() config.SimilarityConfig) *Server {
	s := &Server{
		mcpServer:  server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		searcher:   searcher,
		flows:      qf,
		similarity: similarity,
	}
	if s.similarity == nil {
		s.similarity = func() config.SimilarityConfig { return config.SimilarityConfig{Threshold: 0.8, TopK: 5} }
	}

	if searcher != nil {
		s.mcpServer.AddTool(mcp.NewTool(ToolFindSimilar,
			mcp.WithDescription("Find corpus questions similar to the given math question."),
			mcp.WithString("question", mcp.Required(), mcp.Description("The question to compare")),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of matches")),
			mcp.WithNumber("threshold", mcp.Description("Minimum cosine similarity")),
		), s.findSimilar)
	}
	if qf != nil {
		s.mcpServer.AddTool(mcp.NewTool(ToolValidate,
			mcp.WithDescription("Judge whether the text is a valid math question."),
			mcp.WithString("question", mcp.Required(), mcp.Description("The candidate question")),
		), s.validate)
		s.mcpServer.AddTool(mcp.NewTool(ToolRefine,
			mcp.WithDescription("Rewrite a math question, optionally following feedback."),
			mcp.WithString("question", mcp.Required(), mcp.Description("The question to refine")),
			mcp.WithString("feedback", mcp.Description("Reviewer feedback to address")),
		), s.refine)
	}
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// HTTPHandler serves the tools over streamable HTTP.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) findSimilar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defaults := s.similarity()
	topK := int(req.GetFloat("top_k", float64(defaults.TopK)))
	threshold := req.GetFloat("threshold", defaults.Threshold)

	results, err := s.searcher.Query(ctx, question, topK)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"similar": index.Matches(results, threshold)})
}

func (s *Server) validate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.flows.Validate(ctx, question)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(out)
}

func (s *Server) refine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.flows.Refine(ctx, question, req.GetString("feedback", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(out)
}

// toolError reports a failure to the calling model rather than the
// transport, prefixed with its error code.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(string(errors.CodeOf(err)) + ": " + err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
