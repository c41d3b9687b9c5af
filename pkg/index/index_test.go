// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	stderrors "errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/mathqa/pkg/core"
	"github.com/jllopis/mathqa/pkg/corpus"
	"github.com/jllopis/mathqa/pkg/embedding"
	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/snapshot"
	mqtest "github.com/jllopis/mathqa/pkg/testing"
)

const scenarioCorpus = `[
	{"id": 1, "question": "2+2=?"},
	{"id": 2, "question": "What is the derivative of x^2?"}
]`

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "questions.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

func scenarioEmbedder() *mqtest.ScriptedEmbedder {
	return mqtest.NewScriptedEmbedder(3).
		On("2+2=?", 1, 0, 0).
		On("What is the derivative of x^2?", 0, 1, 0.1).
		On("differentiate x squared", 0, 0.9, 0.2)
}

func newIndex(t *testing.T, e embedding.Embedder) (*Index, snapshot.Store) {
	t.Helper()
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "index.json"))
	return New(e, store, WithConcurrency(2)), store
}

func TestQueryBeforeReady(t *testing.T) {
	ix, _ := newIndex(t, scenarioEmbedder())
	if ix.State() != Uninitialized {
		t.Fatalf("expected uninitialized, got %v", ix.State())
	}
	_, err := ix.Query(context.Background(), "anything", 5)
	if !stderrors.Is(err, errors.ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestScenarioDerivative(t *testing.T) {
	ctx := context.Background()
	embedder := scenarioEmbedder()
	ix, store := newIndex(t, embedder)

	if err := ix.Build(ctx, writeCorpus(t, scenarioCorpus)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ix.State() != Ready {
		t.Fatalf("expected ready, got %v", ix.State())
	}

	persisted, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	if persisted.Len() != 2 || len(persisted.Vectors) != 2 {
		t.Fatalf("expected 2 records/vectors persisted, got %d/%d", persisted.Len(), len(persisted.Vectors))
	}

	results, err := ix.Query(ctx, "differentiate x squared", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Record.ID != "2" {
		t.Fatalf("expected record 2, got %q", results[0].Record.ID)
	}

	all, _ := ix.Query(ctx, "differentiate x squared", 2)
	if all[0].Score <= all[1].Score {
		t.Errorf("expected record 2 to score above record 1: %v", all)
	}
	if all[1].Record.ID != "1" {
		t.Errorf("expected record 1 second, got %q", all[1].Record.ID)
	}
}

func TestQueryEmbedsOnce(t *testing.T) {
	ctx := context.Background()
	embedder := scenarioEmbedder()
	ix, _ := newIndex(t, embedder)
	if err := ix.Build(ctx, writeCorpus(t, scenarioCorpus)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	embedder.Reset()

	if _, err := ix.Query(ctx, "differentiate x squared", 2); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if n := embedder.CallCount(); n != 1 {
		t.Fatalf("expected one embed call per query, got %d", n)
	}
}

func TestEmptyCorpus(t *testing.T) {
	ctx := context.Background()
	ix, store := newIndex(t, scenarioEmbedder())

	if err := ix.Build(ctx, writeCorpus(t, `[]`)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	if snap.Len() != 0 {
		t.Fatalf("expected 0 records, got %d", snap.Len())
	}

	results, err := ix.Query(ctx, "anything", 5)
	if err != nil {
		t.Fatalf("expected no error for empty corpus, got %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", results)
	}
}

func TestQueryInvalidInput(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t, scenarioEmbedder())
	if err := ix.Build(ctx, writeCorpus(t, scenarioCorpus)); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := ix.Query(ctx, "   ", 1); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected invalid input for blank text, got %v", err)
	}
	if _, err := ix.Query(ctx, "2+2=?", 0); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected invalid input for top_k 0, got %v", err)
	}
}

func TestQueryOrderingAndBounds(t *testing.T) {
	ctx := context.Background()
	embedder := mqtest.NewScriptedEmbedder(2).
		On("a", 1, 0).
		On("b", 0, 1).
		On("c", 1, 0).
		On("d", 1, 1).
		On("sample", 1, 0)
	ix, _ := newIndex(t, embedder)
	err := ix.Build(ctx, writeCorpus(t, `[
		{"id": "a", "question": "a"},
		{"id": "b", "question": "b"},
		{"id": "c", "question": "c"},
		{"id": "d", "question": "d"}
	]`))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, k := range []int{1, 2, 3, 4, 10} {
		results, err := ix.Query(ctx, "sample", k)
		if err != nil {
			t.Fatalf("Query(k=%d): %v", k, err)
		}
		if want := min(k, 4); len(results) != want {
			t.Fatalf("k=%d: expected %d results, got %d", k, want, len(results))
		}
		for i := 1; i < len(results); i++ {
			if results[i-1].Score < results[i].Score {
				t.Fatalf("k=%d: results not sorted: %v", k, results)
			}
		}
	}

	results, _ := ix.Query(ctx, "sample", 4)
	var ids []string
	for _, r := range results {
		ids = append(ids, r.Record.ID)
	}
	// a and c tie at 1.0 and keep corpus order.
	if want := []string{"a", "c", "d", "b"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("expected order %v, got %v", want, ids)
	}
}

func TestZeroVectorRecordAlwaysScoresZero(t *testing.T) {
	ctx := context.Background()
	scripted := mqtest.NewScriptedEmbedder(3).
		On("2+2=?", 1, 0, 0).
		FailOn("What is the derivative of x^2?", stderrors.New("quota exceeded"))
	degraded := embedding.NewZeroFallback(scripted, nil)
	ix, _ := newIndex(t, degraded)

	if err := ix.Build(ctx, writeCorpus(t, scenarioCorpus)); err != nil {
		t.Fatalf("Build with zero fallback: %v", err)
	}
	if degraded.Fallbacks() != 1 {
		t.Fatalf("expected 1 fallback, got %d", degraded.Fallbacks())
	}

	for _, q := range []string{"2+2=?", "differentiate x squared", "integrate sin x", "1 1 1"} {
		results, err := ix.Query(ctx, q, 2)
		if err != nil {
			t.Fatalf("Query(%q): %v", q, err)
		}
		for _, r := range results {
			if r.Record.ID == "2" && r.Score != 0 {
				t.Errorf("query %q: zero-vector record scored %f", q, r.Score)
			}
		}
	}
}

func TestBuildFailsFastOnProviderError(t *testing.T) {
	ctx := context.Background()
	embedder := scenarioEmbedder()
	ix, _ := newIndex(t, embedder)
	path := writeCorpus(t, scenarioCorpus)

	if err := ix.Build(ctx, path); err != nil {
		t.Fatalf("Build: %v", err)
	}
	before := ix.Snapshot()

	embedder.FailOn("2+2=?", stderrors.New("connection reset"))
	err := ix.Build(ctx, path)
	if !stderrors.Is(err, errors.ErrEmbeddingProvider) {
		t.Fatalf("expected embedding provider error, got %v", err)
	}
	if ix.State() != Ready {
		t.Errorf("expected ready after failed rebuild, got %v", ix.State())
	}
	if ix.Snapshot() != before {
		t.Error("failed build replaced the serving snapshot")
	}
	if _, err := ix.Query(ctx, "differentiate x squared", 1); err != nil {
		t.Errorf("expected previous snapshot to keep serving, got %v", err)
	}
}

func TestBuildFailureBeforeReady(t *testing.T) {
	ctx := context.Background()
	embedder := scenarioEmbedder().FailAll(stderrors.New("down"))
	ix, _ := newIndex(t, embedder)

	if err := ix.Build(ctx, writeCorpus(t, scenarioCorpus)); !stderrors.Is(err, errors.ErrEmbeddingProvider) {
		t.Fatalf("expected embedding provider error, got %v", err)
	}
	if ix.State() != Uninitialized {
		t.Fatalf("expected uninitialized, got %v", ix.State())
	}
}

func TestBuildCorpusErrors(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t, scenarioEmbedder())

	tests := map[string]string{
		"missing":   filepath.Join(t.TempDir(), "nope.json"),
		"malformed": writeCorpus(t, `{"question": "not a list"}`),
		"no field":  writeCorpus(t, `[{"id": 1}]`),
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			if err := ix.Build(ctx, path); !stderrors.Is(err, errors.ErrCorpus) {
				t.Fatalf("expected corpus error, got %v", err)
			}
		})
	}
}

// ragged returns vectors whose length depends on the text.
type ragged struct{}

func (ragged) Embed(_ context.Context, text string) ([]float32, error) {
	return make([]float32, len(text)%3+1), nil
}
func (ragged) Dimension() int { return 0 }

func TestBuildRejectsInconsistentDimensions(t *testing.T) {
	ix, _ := newIndex(t, ragged{})
	err := ix.Build(context.Background(), writeCorpus(t, `[{"question": "a"}, {"question": "bb"}]`))
	if !stderrors.Is(err, errors.ErrEmbeddingProvider) {
		t.Fatalf("expected embedding provider error, got %v", err)
	}
}

func TestRoundTripAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "index.json"))
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	first := New(scenarioEmbedder(), store, WithClock(func() time.Time { return fixed }))
	if err := first.Build(ctx, writeCorpus(t, scenarioCorpus)); err != nil {
		t.Fatalf("Build: %v", err)
	}

	embedder := scenarioEmbedder()
	second := New(embedder, store)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if embedder.CallCount() != 0 {
		t.Errorf("Load made %d embed calls", embedder.CallCount())
	}

	want, got := first.Snapshot(), second.Snapshot()
	if !reflect.DeepEqual(want.Records, got.Records) {
		t.Errorf("records differ:\n got %+v\nwant %+v", got.Records, want.Records)
	}
	if !reflect.DeepEqual(want.Vectors, got.Vectors) {
		t.Errorf("vectors differ:\n got %v\nwant %v", got.Vectors, want.Vectors)
	}
	if !got.CreatedAt.Equal(fixed) || got.Model != "scripted" {
		t.Errorf("unexpected header %v/%s", got.CreatedAt, got.Model)
	}
}

func TestLoadMissing(t *testing.T) {
	ix, _ := newIndex(t, scenarioEmbedder())
	if err := ix.Load(context.Background()); !stderrors.Is(err, errors.ErrIndexNotFound) {
		t.Fatalf("expected index not found, got %v", err)
	}
}

func TestLoadMismatchedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	bad := `{"model": "scripted", "dimension": 3,
		"records": [{"id": 1, "question": "2+2=?"}, {"id": 2, "question": "d/dx x^2"}],
		"vectors": [[1, 0, 0]]}`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	ix := New(scenarioEmbedder(), snapshot.NewFileStore(path))

	if err := ix.Load(context.Background()); !stderrors.Is(err, errors.ErrCorruptIndex) {
		t.Fatalf("expected corrupt index, got %v", err)
	}
	if ix.State() != Uninitialized || ix.Snapshot() != nil {
		t.Fatal("corrupt snapshot was partially loaded")
	}
	if _, err := ix.Query(context.Background(), "2+2=?", 1); !stderrors.Is(err, errors.ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestLoadRejectsForeignDimension(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "index.json"))
	if err := New(scenarioEmbedder(), store).Build(ctx, writeCorpus(t, scenarioCorpus)); err != nil {
		t.Fatalf("Build: %v", err)
	}

	other := New(mqtest.NewScriptedEmbedder(8), store)
	if err := other.Load(ctx); !stderrors.Is(err, errors.ErrCorruptIndex) {
		t.Fatalf("expected corrupt index for dimension mismatch, got %v", err)
	}
}

func TestLoadOrBuild(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "index.json"))
	path := writeCorpus(t, scenarioCorpus)

	builder := scenarioEmbedder()
	if err := New(builder, store).LoadOrBuild(ctx, path); err != nil {
		t.Fatalf("LoadOrBuild (cold): %v", err)
	}
	if builder.CallCount() != 2 {
		t.Fatalf("expected a build with 2 embed calls, got %d", builder.CallCount())
	}

	loader := scenarioEmbedder()
	ix := New(loader, store)
	if err := ix.LoadOrBuild(ctx, path); err != nil {
		t.Fatalf("LoadOrBuild (warm): %v", err)
	}
	if loader.CallCount() != 0 {
		t.Fatalf("expected load without embed calls, got %d", loader.CallCount())
	}
	if ix.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", ix.Len())
	}
}

func TestQueriesDuringRebuild(t *testing.T) {
	ctx := context.Background()
	embedder := scenarioEmbedder()
	ix, _ := newIndex(t, embedder)
	path := writeCorpus(t, scenarioCorpus)
	if err := ix.Build(ctx, path); err != nil {
		t.Fatalf("Build: %v", err)
	}
	embedder.WithDelay(5 * time.Millisecond)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 4 {
				res, err := ix.Query(ctx, "differentiate x squared", 2)
				if err != nil {
					errs <- err
					return
				}
				if len(res) != 2 {
					errs <- stderrors.New("partial result")
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ix.Build(ctx, path); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
}

// gate blocks every Embed call until released.
type gate struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gate) Embed(ctx context.Context, _ string) ([]float32, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return []float32{1, 0}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (g *gate) Dimension() int { return 2 }

func TestConcurrentBuildsShareOneRun(t *testing.T) {
	ctx := context.Background()
	g := &gate{started: make(chan struct{}), release: make(chan struct{})}
	ix, _ := newIndex(t, g)
	path := writeCorpus(t, scenarioCorpus)

	errs := make(chan error, 2)
	go func() { errs <- ix.Build(ctx, path) }()
	<-g.started
	if ix.State() != Building {
		t.Errorf("expected building, got %v", ix.State())
	}
	go func() { errs <- ix.Build(ctx, path) }()
	time.Sleep(50 * time.Millisecond)
	close(g.release)

	for range 2 {
		if err := <-errs; err != nil {
			t.Fatalf("Build: %v", err)
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls != 2 {
		t.Fatalf("expected one shared build (2 embed calls), got %d calls", g.calls)
	}
}

func TestCanceledCallerDoesNotFailJoinedBuild(t *testing.T) {
	g := &gate{started: make(chan struct{}), release: make(chan struct{})}
	ix, _ := newIndex(t, g)
	path := writeCorpus(t, scenarioCorpus)

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- ix.Build(firstCtx, path) }()
	<-g.started

	second := make(chan error, 1)
	go func() { second <- ix.Build(context.Background(), path) }()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-first; !errors.HasCode(err, errors.CodeContextLost) {
		t.Fatalf("expected context lost for the canceled caller, got %v", err)
	}
	close(g.release)
	if err := <-second; err != nil {
		t.Fatalf("joined caller: %v", err)
	}
	if ix.Len() != 2 || ix.State() != Ready {
		t.Fatalf("expected published snapshot, got %d records in state %v", ix.Len(), ix.State())
	}
}

func TestBuildCanceledBeforeStart(t *testing.T) {
	ix, _ := newIndex(t, scenarioEmbedder())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ix.Build(ctx, writeCorpus(t, scenarioCorpus)); !errors.HasCode(err, errors.CodeContextLost) {
		t.Fatalf("expected context lost, got %v", err)
	}
	if ix.State() != Uninitialized {
		t.Fatalf("expected no build to run, state %v", ix.State())
	}
}

func TestBuildRecords(t *testing.T) {
	ix, store := newIndex(t, scenarioEmbedder())
	recs, err := corpus.Parse([]byte(scenarioCorpus), corpus.FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := ix.BuildRecords(context.Background(), "stdin", recs); err != nil {
		t.Fatalf("BuildRecords: %v", err)
	}
	res, err := ix.Query(context.Background(), "differentiate x squared", 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res) != 1 || res[0].Record.Question != "What is the derivative of x^2?" {
		t.Fatalf("unexpected results %+v", res)
	}
	snap, err := store.Load(context.Background())
	if err != nil || snap.Len() != 2 {
		t.Fatalf("expected persisted snapshot with 2 records, got %v, %v", snap, err)
	}
}

func TestCosineProperties(t *testing.T) {
	vectors := [][]float32{
		{1, 2, 3},
		{-0.5, 0.25, 8},
		{0.001, 0, -0.002},
		{3, 3, 3},
	}
	for _, v := range vectors {
		if got := Cosine(v, v); math.Abs(got-1) > 1e-9 {
			t.Errorf("cosine(%v, itself) = %f", v, got)
		}
		for _, w := range vectors {
			if Cosine(v, w) != Cosine(w, v) {
				t.Errorf("cosine not symmetric for %v, %v", v, w)
			}
		}
		if got := Cosine(v, []float32{0, 0, 0}); got != 0 {
			t.Errorf("cosine with zero vector = %f", got)
		}
	}
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("opposite vectors: %f", got)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Uninitialized: "uninitialized", Building: "building", Ready: "ready", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("State(%d) = %q, want %q", s, s.String(), want)
		}
	}
}

func TestMatchesAppliesThreshold(t *testing.T) {
	results := []Result{
		{Score: 0.95, Record: corpus.NewRecord("a", "q1", nil)},
		{Score: 0.8, Record: corpus.NewRecord("b", "q2", nil)},
		{Score: 0.79, Record: corpus.NewRecord("c", "q3", nil)},
	}
	got := Matches(results, 0.8)
	if len(got) != 2 || got[0].Meta.ID != "a" || got[1].Meta.ID != "b" {
		t.Fatalf("unexpected matches %+v", got)
	}
	if empty := Matches(nil, 0.5); empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t, scenarioEmbedder())

	if res := ix.Check(ctx); res.Status != core.HealthUnhealthy || res.Details["state"] != "uninitialized" {
		t.Fatalf("expected unhealthy before build, got %+v", res)
	}
	if err := ix.Build(ctx, writeCorpus(t, scenarioCorpus)); err != nil {
		t.Fatalf("Build: %v", err)
	}
	res := ix.Check(ctx)
	if res.Status != core.HealthHealthy || res.Details["records"] != 2 {
		t.Fatalf("expected healthy with 2 records, got %+v", res)
	}
}
