// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// rewrite replaces the file and moves its mtime forward so the change is
// visible regardless of filesystem timestamp resolution.
func rewrite(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	writeFile(t, path, content)
	future := time.Now().Add(bump)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcherDetectsChanges(t *testing.T) {
	clearLegacyEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "similarity:\n  threshold: 0.8\n")

	watcher, err := NewWatcher(configPath, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if got := watcher.Config().Similarity.Threshold; got != 0.8 {
		t.Fatalf("initial threshold = %v", got)
	}

	changes := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	rewrite(t, configPath, "similarity:\n  threshold: 0.6\n", time.Second)

	select {
	case cfg := <-changes:
		if cfg.Similarity.Threshold != 0.6 {
			t.Errorf("expected threshold 0.6, got %v", cfg.Similarity.Threshold)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config change notification")
	}
	if watcher.Config().Similarity.Threshold != 0.6 {
		t.Error("Config() should return the reloaded configuration")
	}
}

func TestWatcherKeepsPreviousOnInvalidReload(t *testing.T) {
	clearLegacyEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "similarity:\n  top_k: 4\n")

	watcher, err := NewWatcher(configPath, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	var calls atomic.Int32
	watcher.OnChange(func(*Config) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	rewrite(t, configPath, "similarity:\n  top_k: 0\n", time.Second)
	time.Sleep(200 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("listeners should not see an invalid config, got %d calls", calls.Load())
	}
	if got := watcher.Config().Similarity.TopK; got != 4 {
		t.Errorf("expected previous top_k 4, got %d", got)
	}
}

func TestWatcherRejectsInvalidInitialConfig(t *testing.T) {
	clearLegacyEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "index:\n  store: redis\n")
	if _, err := NewWatcher(configPath); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
}

func TestWatcherWatchesProfile(t *testing.T) {
	clearLegacyEnv(t)
	dir := t.TempDir()
	basePath := filepath.Join(dir, "config.yaml")
	devPath := filepath.Join(dir, "config.dev.yaml")
	writeFile(t, basePath, "llm:\n  model: base\n")
	writeFile(t, devPath, "llm:\n  model: dev\n")

	watcher, err := NewWatcher(basePath, WithProfile("dev"), WithOverrides([]string{"similarity.top_k=2"}),
		WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if cfg := watcher.Config(); cfg.LLM.Model != "dev" || cfg.Similarity.TopK != 2 {
		t.Fatalf("unexpected initial config %+v %+v", cfg.LLM, cfg.Similarity)
	}

	changes := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) { changes <- cfg })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	rewrite(t, devPath, "llm:\n  model: dev-2\n", time.Second)
	select {
	case cfg := <-changes:
		if cfg.LLM.Model != "dev-2" || cfg.Similarity.TopK != 2 {
			t.Errorf("unexpected reloaded config %+v %+v", cfg.LLM, cfg.Similarity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for profile change")
	}
}

func TestWatcherStops(t *testing.T) {
	clearLegacyEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "llm: {}\n")

	watcher, err := NewWatcher(configPath, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	watcher.Start(context.Background())

	done := make(chan struct{})
	go func() {
		watcher.Stop()
		watcher.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("watcher.Stop() did not complete in time")
	}
}

func TestReloadableConfig(t *testing.T) {
	rc := NewReloadableConfig(&Config{
		LLM:        LLMConfig{Model: "model-1"},
		Similarity: SimilarityConfig{Threshold: 0.8, TopK: 5},
	})
	if rc.LLM().Model != "model-1" || rc.Similarity().TopK != 5 {
		t.Fatalf("unexpected initial values")
	}

	rc.Update(&Config{
		LLM:        LLMConfig{Model: "model-2"},
		Similarity: SimilarityConfig{Threshold: 0.5, TopK: 3},
		Index:      IndexConfig{CorpusPath: "q.json"},
	})
	if rc.LLM().Model != "model-2" || rc.Similarity().Threshold != 0.5 || rc.Index().CorpusPath != "q.json" {
		t.Errorf("update not visible: %+v", rc.Get())
	}
}
