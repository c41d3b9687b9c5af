// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi serves the mathqa HTTP API: similarity search over the
// question index, validation and refinement of questions, index rebuilds
// and health.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jllopis/mathqa/pkg/config"
	"github.com/jllopis/mathqa/pkg/core"
	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/flows"
	"github.com/jllopis/mathqa/pkg/index"
)

const maxBodyBytes = 1 << 20

// Index is the part of the similarity index the API uses.
type Index interface {
	Query(ctx context.Context, text string, topK int) ([]index.Result, error)
	Build(ctx context.Context, corpusPath string) error
	Len() int
}

// Flows validates and refines questions.
type Flows interface {
	Validate(ctx context.Context, question string) (flows.Outcome[flows.Validation], error)
	Refine(ctx context.Context, question, feedback string) (flows.Outcome[flows.Refinement], error)
}

// Server routes API requests.
type Server struct {
	index  Index
	flows  Flows
	cfg    *config.ReloadableConfig
	health core.HealthCheckProvider
	mcp    http.Handler
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHealth sets the provider behind /healthz.
func WithHealth(p core.HealthCheckProvider) Option {
	return func(s *Server) { s.health = p }
}

// WithMCP mounts an MCP handler at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// New returns a server over ix and qf. Similarity defaults, CORS origins
// and the corpus path are read from cfg on every request. Without a health
// provider, /healthz checks ix when it implements core.HealthChecker.
func New(ix Index, qf Flows, cfg *config.ReloadableConfig, opts ...Option) *Server {
	s := &Server{index: ix, flows: qf, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		p := core.NewDefaultHealthCheckProvider(-1)
		if hc, ok := ix.(core.HealthChecker); ok {
			p.RegisterChecker("index", hc)
		}
		s.health = p
	}
	return s
}

// Handler returns the routed API wrapped in its middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /validate", s.handleValidate)
	mux.HandleFunc("POST /refine", s.handleRefine)
	mux.HandleFunc("POST /similarity", s.handleSimilarity)
	mux.HandleFunc("POST /index/rebuild", s.handleRebuild)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}
	return s.recoverer(s.cors(s.instrument(mux)))
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type validateRequest struct {
	Question string `json:"question"`
}

type refineRequest struct {
	Question string `json:"question"`
	Feedback string `json:"feedback,omitempty"`
}

type similarityRequest struct {
	Question  string   `json:"question"`
	TopK      *int     `json:"top_k,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "mathqa backend running"})
}

// handleChat keeps the original chat contract: the validation is returned
// under both "answer" and "validation".
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.flows.Validate(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answer": out, "validation": out})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.flows.Validate(r.Context(), req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if !s.decode(w, r, &req) {
		return
	}
	out, err := s.flows.Refine(r.Context(), req.Question, req.Feedback)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refined_answer": out})
}

func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	var req similarityRequest
	if !s.decode(w, r, &req) {
		return
	}
	sim := s.cfg.Similarity()
	topK, threshold := sim.TopK, sim.Threshold
	if req.TopK != nil {
		topK = *req.TopK
	}
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	results, err := s.index.Query(r.Context(), req.Question, topK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"similar": index.Matches(results, threshold)})
}

// handleRebuild runs to completion even if the client goes away.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	path := s.cfg.Index().CorpusPath
	if err := s.index.Build(context.WithoutCancel(r.Context()), path); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "rebuilt", "records": s.index.Len()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results, overall := s.health.CheckAll(r.Context())
	code := http.StatusOK
	if overall == core.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": overall, "checks": results})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, errors.New(errors.CodeInvalidInput, "invalid JSON body", err))
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errors.As(err)
	status := errors.HTTPStatus(e)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed",
		"path", r.URL.Path, "code", e.Code, "error", err, "request_id", RequestID(r.Context()))
	writeJSON(w, status, map[string]any{"error": e})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
