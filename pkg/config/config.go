// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads mathqa settings from defaults, a YAML file, profile
// overlays, environment variables and command-line overrides, in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/mathqa/pkg/telemetry"
)

// EnvPrefix namespaces environment overrides: MATHQA_SIMILARITY_TOP_K sets
// similarity.top_k.
const EnvPrefix = "MATHQA_"

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	LLM        LLMConfig        `koanf:"llm"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Index      IndexConfig      `koanf:"index"`
	Similarity SimilarityConfig `koanf:"similarity"`
	Server     ServerConfig     `koanf:"server"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
	ServiceName  string `koanf:"service_name"`
}

type LLMConfig struct {
	Provider    string  `koanf:"provider"` // openai, ollama, mock
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
}

type EmbeddingConfig struct {
	Provider       string        `koanf:"provider"` // openai, ollama, hash
	Model          string        `koanf:"model"`
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	Dimension      int           `koanf:"dimension"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	Concurrency    int           `koanf:"concurrency"`
	OnFailure      string        `koanf:"on_failure"` // fail, zero
}

type IndexConfig struct {
	CorpusPath     string `koanf:"corpus_path"`
	Store          string `koanf:"store"` // file, sqlite, qdrant
	Path           string `koanf:"path"`
	Name           string `koanf:"name"`
	QdrantAddr     string `koanf:"qdrant_addr"`
	RebuildOnStart bool   `koanf:"rebuild_on_start"`
}

type SimilarityConfig struct {
	Threshold float64 `koanf:"threshold"`
	TopK      int     `koanf:"top_k"`
}

type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	CORSOrigins  []string      `koanf:"cors_origins"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"telemetry.exporter":      telemetry.ExporterNone,
	"telemetry.otlp_endpoint": "localhost:4317",
	"telemetry.otlp_insecure": true,
	"telemetry.service_name":  "mathqa",

	"llm.provider":    "openai",
	"llm.model":       "gpt-4o-mini",
	"llm.temperature": 0.0,

	"embedding.provider":        "openai",
	"embedding.timeout":         10 * time.Second,
	"embedding.max_attempts":    3,
	"embedding.initial_backoff": 200 * time.Millisecond,
	"embedding.concurrency":     8,
	"embedding.on_failure":      "fail",

	"index.corpus_path": "data/questions.json",
	"index.store":       "file",
	"index.path":        "data/index.json",
	"index.name":        "mathqa",
	"index.qdrant_addr": "localhost:6334",

	"similarity.threshold": 0.8,
	"similarity.top_k":     5,

	"server.addr":          ":8000",
	"server.cors_origins":  []string{"*"},
	"server.read_timeout":  15 * time.Second,
	"server.write_timeout": 60 * time.Second,
}

// Load reads the configuration at path. An empty path uses defaults and the
// environment only.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, "", nil)
}

// LoadWithProfile loads path and then overlays the profile file next to it,
// e.g. config.dev.yaml for profile "dev", when that file exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return LoadWithOverrides(path, profile, nil)
}

// LoadWithOverrides is LoadWithProfile followed by key=value overrides, as
// given to the --set flag. Values are decoded as JSON when they parse as
// JSON and used verbatim otherwise.
func LoadWithOverrides(path, profile string, sets []string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	for _, p := range configFiles(path, profile) {
		if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	if err := applyLegacyEnv(k); err != nil {
		return nil, err
	}

	for _, set := range sets {
		key, value, err := parseSet(set)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ProfilePath returns the overlay file for profile next to base.
func ProfilePath(base, profile string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + profile + ext
}

func configFiles(path, profile string) []string {
	if path == "" {
		return nil
	}
	files := []string{path}
	if profile != "" {
		if p := ProfilePath(path, profile); fileExists(p) {
			files = append(files, p)
		}
	}
	return files
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// envKey maps MATHQA_INDEX_CORPUS_PATH to index.corpus_path. Only the first
// underscore separates the section, so keys may contain underscores.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return section
	}
	return section + "." + key
}

// applyLegacyEnv honours the variables the service has always read:
// OPENAI_API_KEY fills unset API keys, OPENAI_MODEL the OpenAI chat model
// and SIM_THRESH the similarity threshold.
func applyLegacyEnv(k *koanf.Koanf) error {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for _, path := range []string{"llm.api_key", "embedding.api_key"} {
			if k.String(path) == "" {
				if err := k.Set(path, key); err != nil {
					return err
				}
			}
		}
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" && k.String("llm.provider") == "openai" &&
		os.Getenv(EnvPrefix+"LLM_MODEL") == "" {
		if err := k.Set("llm.model", model); err != nil {
			return err
		}
	}
	if raw := os.Getenv("SIM_THRESH"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("SIM_THRESH: %w", err)
		}
		if err := k.Set("similarity.threshold", v); err != nil {
			return err
		}
	}
	return nil
}

func parseSet(set string) (string, any, error) {
	key, raw, ok := strings.Cut(set, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid override %q, expected key=value", set)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return key, v, nil
	}
	return key, raw, nil
}

// Validate reports every setting outside its accepted range.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, ok := telemetry.ParseLevel(c.Log.Level)
	check(ok, "log.level: unknown level %q", c.Log.Level)
	check(oneOf(c.Log.Format, "text", "json"), "log.format: must be text or json, got %q", c.Log.Format)
	check(oneOf(c.Telemetry.Exporter, telemetry.ExporterNone, telemetry.ExporterStdout, telemetry.ExporterOTLP),
		"telemetry.exporter: unknown exporter %q", c.Telemetry.Exporter)

	check(oneOf(c.LLM.Provider, "openai", "ollama", "mock"), "llm.provider: unknown provider %q", c.LLM.Provider)
	check(c.LLM.Temperature >= 0 && c.LLM.Temperature <= 2, "llm.temperature: must be within [0, 2], got %v", c.LLM.Temperature)

	check(oneOf(c.Embedding.Provider, "openai", "ollama", "hash"), "embedding.provider: unknown provider %q", c.Embedding.Provider)
	check(c.Embedding.Dimension >= 0, "embedding.dimension: must not be negative")
	check(c.Embedding.Provider != "hash" || c.Embedding.Dimension > 0, "embedding.dimension: required by the hash provider")
	check(c.Embedding.Timeout >= 0, "embedding.timeout: must not be negative")
	check(c.Embedding.MaxAttempts >= 1, "embedding.max_attempts: must be at least 1")
	check(c.Embedding.Concurrency >= 1, "embedding.concurrency: must be at least 1")
	check(oneOf(c.Embedding.OnFailure, "fail", "zero"), "embedding.on_failure: must be fail or zero, got %q", c.Embedding.OnFailure)

	check(c.Index.CorpusPath != "", "index.corpus_path: required")
	check(oneOf(c.Index.Store, "file", "sqlite", "qdrant"), "index.store: unknown store %q", c.Index.Store)
	check(c.Index.Store == "qdrant" || c.Index.Path != "", "index.path: required by the %s store", c.Index.Store)
	check(c.Index.Store != "qdrant" || c.Index.QdrantAddr != "", "index.qdrant_addr: required by the qdrant store")

	check(c.Similarity.Threshold >= -1 && c.Similarity.Threshold <= 1,
		"similarity.threshold: must be within [-1, 1], got %v", c.Similarity.Threshold)
	check(c.Similarity.TopK >= 1, "similarity.top_k: must be at least 1, got %d", c.Similarity.TopK)

	check(c.Server.Addr != "", "server.addr: required")
	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	return slices.Contains(allowed, v)
}
