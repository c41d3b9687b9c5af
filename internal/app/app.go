// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package app wires together all mathqa components.
// This is the composition root: every dependency is created and connected here.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jllopis/mathqa/internal/httpapi"
	"github.com/jllopis/mathqa/pkg/config"
	"github.com/jllopis/mathqa/pkg/core"
	"github.com/jllopis/mathqa/pkg/embedding"
	"github.com/jllopis/mathqa/pkg/embedding/ollama"
	"github.com/jllopis/mathqa/pkg/embedding/openai"
	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/flows"
	"github.com/jllopis/mathqa/pkg/index"
	"github.com/jllopis/mathqa/pkg/llm"
	"github.com/jllopis/mathqa/pkg/mcp"
	"github.com/jllopis/mathqa/pkg/resilience"
	"github.com/jllopis/mathqa/pkg/snapshot"
	"github.com/jllopis/mathqa/pkg/snapshot/qdrant"
	"github.com/jllopis/mathqa/pkg/telemetry"
)

// Version is reported by telemetry resources and the MCP server.
var Version = "dev"

// Options selects the configuration an App is built from.
type Options struct {
	ConfigPath string
	Profile    string
	Sets       []string
	// LogOutput receives logs; defaults to stderr.
	LogOutput io.Writer
}

// App holds the application state and components.
type App struct {
	opts    Options
	cfg     *config.ReloadableConfig
	logger  *slog.Logger
	index   *index.Index
	flows   *flows.Flows
	breaker *resilience.CircuitBreaker
	health  *core.DefaultHealthCheckProvider
	closers []io.Closer

	shutdownTelemetry telemetry.ShutdownFunc
}

// New loads and validates the configuration and creates every component.
// The index is not loaded; call Start for that.
func New(opts Options) (*App, error) {
	cfg, err := config.LoadWithOverrides(opts.ConfigPath, opts.Profile, opts.Sets)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg, opts)
}

// NewWithConfig is New for an already loaded configuration.
func NewWithConfig(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	a := &App{
		opts:   opts,
		cfg:    config.NewReloadableConfig(cfg),
		logger: telemetry.ConfigureSlog(opts.LogOutput, cfg.Log.Level, cfg.Log.Format),
		health: core.NewDefaultHealthCheckProvider(5 * time.Second),
	}

	// 1. Observability first, so components pick up the global providers.
	shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, Version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown

	// 2. Embedding provider and snapshot store feed the index.
	embedder, err := a.createEmbedder(cfg.Embedding)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	store, err := a.createStore(cfg.Index)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}
	metrics, err := telemetry.NewIndexMetrics()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create index metrics: %w", err)
	}
	a.index = index.New(embedder, store,
		index.WithConcurrency(cfg.Embedding.Concurrency),
		index.WithMetrics(metrics),
	)
	a.health.RegisterChecker("index", a.index)

	// 3. LLM flows behind a circuit breaker.
	provider, err := createLLMProvider(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create llm provider: %w", err)
	}
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name: "llm",
		Code: errors.CodeLLMError,
	})
	a.health.RegisterChecker("llm", a.breaker)
	a.flows = flows.New(provider, cfg.LLM.Model,
		flows.WithTemperature(cfg.LLM.Temperature),
		flows.WithProviderName(cfg.LLM.Provider),
		flows.WithLogger(telemetry.Component(a.logger, "flows")),
		flows.WithBreaker(a.breaker),
	)

	a.logger.Info("application created",
		"embedding_provider", cfg.Embedding.Provider,
		"index_store", store.Name(),
		"llm_provider", cfg.LLM.Provider,
	)
	return a, nil
}

// Config returns the live configuration.
func (a *App) Config() *config.ReloadableConfig { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Index returns the similarity index.
func (a *App) Index() *index.Index { return a.index }

// Flows returns the question flows.
func (a *App) Flows() *flows.Flows { return a.flows }

// Health returns the provider aggregating component health.
func (a *App) Health() core.HealthCheckProvider { return a.health }

// Start makes the index ready: it rebuilds from the corpus when
// index.rebuild_on_start is set and otherwise loads the persisted snapshot,
// building only when none is usable.
func (a *App) Start(ctx context.Context) error {
	idx := a.cfg.Index()
	start := time.Now()
	var err error
	if idx.RebuildOnStart {
		err = a.index.Build(ctx, idx.CorpusPath)
	} else {
		err = a.index.LoadOrBuild(ctx, idx.CorpusPath)
	}
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "index ready",
		"records", a.index.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// MCPServer returns an MCP server exposing the index and flows as tools.
func (a *App) MCPServer() *mcp.Server {
	return mcp.NewServer("mathqa", Version, a.index, a.flows, a.cfg.Similarity)
}

// Handler returns the HTTP API, with the MCP streamable transport at /mcp.
func (a *App) Handler() http.Handler {
	return httpapi.New(a.index, a.flows, a.cfg,
		httpapi.WithLogger(telemetry.Component(a.logger, "http")),
		httpapi.WithHealth(a.health),
		httpapi.WithMCP(a.MCPServer().HTTPHandler()),
	).Handler()
}

// Serve starts the index, watches the configuration file for changes and
// serves HTTP until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start index: %w", err)
	}

	if a.opts.ConfigPath != "" {
		w, err := config.NewWatcher(a.opts.ConfigPath,
			config.WithProfile(a.opts.Profile),
			config.WithOverrides(a.opts.Sets),
			config.WithWatchLogger(telemetry.Component(a.logger, "config")),
		)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		w.OnChange(a.cfg.Update)
		w.Start(ctx)
		defer w.Stop()
	}

	srvCfg := a.cfg.Get().Server
	srv := &http.Server{
		Addr:         srvCfg.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  srvCfg.ReadTimeout,
		WriteTimeout: srvCfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", srvCfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases stores and flushes telemetry.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	return stderrors.Join(errs...)
}

func (a *App) createEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	var base embedding.Embedder
	switch cfg.Provider {
	case "hash":
		base = embedding.NewHash(cfg.Dimension)
	case "ollama":
		base = ollama.NewEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimension)
	case "openai":
		opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.Dimension > 0 {
			opts = append(opts, openai.WithDimensions(cfg.Dimension))
		}
		e, err := openai.New(opts...)
		if err != nil {
			return nil, err
		}
		base = e
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	// The hash embedder is local and cannot fail transiently.
	var e embedding.Embedder = base
	if cfg.Provider != "hash" {
		retry := resilience.DefaultRetryConfig().
			WithMaxAttempts(cfg.MaxAttempts).
			WithInitialDelay(cfg.InitialBackoff)
		e = embedding.NewResilient(base,
			embedding.WithAttemptTimeout(cfg.Timeout),
			embedding.WithRetry(retry),
		)
	}
	if cfg.OnFailure == "zero" {
		e = embedding.NewZeroFallback(e, telemetry.Component(a.logger, "embedding"))
	}
	return e, nil
}

func (a *App) createStore(cfg config.IndexConfig) (snapshot.Store, error) {
	switch cfg.Store {
	case "file":
		return snapshot.NewFileStore(cfg.Path), nil
	case "sqlite":
		s, err := snapshot.OpenSQLite(cfg.Path, cfg.Name)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	case "qdrant":
		s, err := qdrant.New(cfg.QdrantAddr, cfg.Name)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown index store: %s", cfg.Store)
	}
}

func createLLMProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "mock":
		return &llm.MockProvider{Response: `{"is_valid": true, "reason": "mock provider"}`}, nil
	case "ollama":
		return llm.NewOllama(cfg.BaseURL), nil
	case "openai":
		return llm.NewOpenAI(cfg.APIKey, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
