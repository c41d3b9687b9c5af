// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package index implements the similarity index over a question corpus.
//
// An Index embeds every question once at build time, persists the result as
// a snapshot and answers top-k queries with an exhaustive cosine scan. The
// serving snapshot is published through an atomic pointer: a rebuild
// prepares the new snapshot privately and swaps it in, so queries never
// block on a build and never observe partial state.
package index

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/jllopis/mathqa/pkg/corpus"
	"github.com/jllopis/mathqa/pkg/embedding"
	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/snapshot"
	"github.com/jllopis/mathqa/pkg/telemetry"
)

// TracerName is the instrumentation scope of index spans.
const TracerName = "mathqa/index"

// Result is one ranked match.
type Result struct {
	Score  float64       `json:"score"`
	Record corpus.Record `json:"record"`
}

// Index is a similarity index. The zero value is not usable; use New.
type Index struct {
	embedder    embedding.Embedder
	store       snapshot.Store
	metrics     *telemetry.IndexMetrics
	tracer      trace.Tracer
	concurrency int
	now         func() time.Time

	current atomic.Pointer[published]
	state   atomic.Int32

	buildMu sync.Mutex
	flight  singleflight.Group
}

// published is an immutable snapshot plus the magnitudes of its vectors.
type published struct {
	snap  *snapshot.Snapshot
	norms []float64
}

// Option configures an Index.
type Option func(*Index)

// WithConcurrency bounds the embed calls in flight during Build.
func WithConcurrency(n int) Option {
	return func(ix *Index) {
		ix.concurrency = n
	}
}

// WithMetrics records build, load and query metrics.
func WithMetrics(m *telemetry.IndexMetrics) Option {
	return func(ix *Index) {
		ix.metrics = m
	}
}

// WithTracer overrides the tracer, which defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(ix *Index) {
		ix.tracer = t
	}
}

// WithClock sets the time source for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(ix *Index) {
		ix.now = now
	}
}

// New returns an uninitialized index over the given embedder and store.
func New(embedder embedding.Embedder, store snapshot.Store, opts ...Option) *Index {
	ix := &Index{
		embedder:    embedder,
		store:       store,
		concurrency: embedding.DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.tracer == nil {
		ix.tracer = otel.Tracer(TracerName)
	}
	return ix
}

// State reports the lifecycle stage.
func (ix *Index) State() State {
	return State(ix.state.Load())
}

// Len returns the number of records being served, 0 before Ready.
func (ix *Index) Len() int {
	if p := ix.current.Load(); p != nil {
		return p.snap.Len()
	}
	return 0
}

// Snapshot returns the snapshot being served, or nil before Ready. The
// returned value must not be modified.
func (ix *Index) Snapshot() *snapshot.Snapshot {
	if p := ix.current.Load(); p != nil {
		return p.snap
	}
	return nil
}

// Build loads the corpus at corpusPath, embeds every question, persists the
// snapshot and publishes it. On any failure the previously published
// snapshot stays in place. Builds are serialised; concurrent calls for the
// same path share one build and its result.
//
// The shared build does not inherit any caller's cancellation. A caller
// whose context ends stops waiting and gets CONTEXT_LOST while the build
// carries on for the others and still publishes its result.
func (ix *Index) Build(ctx context.Context, corpusPath string) error {
	if err := ctx.Err(); err != nil {
		return errors.New(errors.CodeContextLost, "build canceled", err)
	}
	shared := context.WithoutCancel(ctx)
	ch := ix.flight.DoChan(corpusPath, func() (any, error) {
		return nil, ix.build(shared, corpusPath, func() ([]corpus.Record, error) {
			return corpus.Load(corpusPath)
		})
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return errors.New(errors.CodeContextLost, "build canceled", ctx.Err())
	}
}

// BuildRecords is Build over records already in memory, such as a corpus
// read from stdin. It runs under the caller's context and is not coalesced
// with other builds.
func (ix *Index) BuildRecords(ctx context.Context, source string, recs []corpus.Record) error {
	return ix.build(ctx, source, func() ([]corpus.Record, error) {
		return recs, nil
	})
}

func (ix *Index) build(ctx context.Context, source string, load func() ([]corpus.Record, error)) (err error) {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	ctx, span := ix.tracer.Start(ctx, "index.build",
		trace.WithAttributes(attribute.String(telemetry.AttrCorpusPath, source)))
	start := time.Now()
	records := 0
	ix.state.Store(int32(Building))
	defer func() {
		ix.settleState()
		ix.metrics.RecordBuild(ctx, time.Since(start), records, err)
		endSpan(span, err)
	}()

	recs, err := load()
	if err != nil {
		return err
	}

	vecs, err := embedding.EmbedAll(ctx, ix.embedder, corpus.Questions(recs), ix.concurrency)
	if err != nil {
		ix.metrics.RecordEmbeddingFailure(ctx, err)
		return err
	}
	if err := ix.checkDimensions(vecs); err != nil {
		ix.metrics.RecordEmbeddingFailure(ctx, err)
		return err
	}

	snap, err := snapshot.New(embedding.ModelOf(ix.embedder), recs, vecs, ix.now())
	if err != nil {
		return err
	}
	if err := ix.store.Save(ctx, snap); err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to persist snapshot", err)
	}

	ix.publish(snap)
	records = snap.Len()
	span.SetAttributes(telemetry.IndexAttributes(ix.store.Name(), snap.Model, snap.Len(), snap.Dimension)...)
	return nil
}

// checkDimensions rejects provider output whose vectors disagree in length
// with each other or with the embedder's declared dimension.
func (ix *Index) checkDimensions(vecs [][]float32) error {
	if len(vecs) == 0 {
		return nil
	}
	want := ix.embedder.Dimension()
	if want <= 0 {
		want = len(vecs[0])
	}
	for i, v := range vecs {
		if len(v) != want {
			return errors.Newf(errors.CodeEmbedding,
				"embedding provider returned %d dimensions for record %d, expected %d", len(v), i, want).
				WithContext("position", i)
		}
	}
	if want == 0 {
		return errors.New(errors.CodeEmbedding, "embedding provider returned empty vectors", nil)
	}
	return nil
}

// Load reads the persisted snapshot and publishes it. It makes no embedding
// calls. A snapshot whose dimension disagrees with the embedder is reported
// as corrupt, since its vectors cannot be compared with query vectors.
func (ix *Index) Load(ctx context.Context) (err error) {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	ctx, span := ix.tracer.Start(ctx, "index.load",
		trace.WithAttributes(attribute.String(telemetry.AttrIndexStore, ix.store.Name())))
	defer func() { endSpan(span, err) }()

	snap, err := ix.store.Load(ctx)
	if err != nil {
		return errors.Wrap(errors.CodeCorruptIndex, "failed to load snapshot", err)
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	if want := ix.embedder.Dimension(); want > 0 && snap.Len() > 0 && snap.Dimension != want {
		return errors.Newf(errors.CodeCorruptIndex,
			"snapshot dimension %d does not match embedder dimension %d", snap.Dimension, want)
	}

	ix.publish(snap)
	ix.state.Store(int32(Ready))
	ix.metrics.RecordSnapshot(ctx, snap.Len())
	span.SetAttributes(telemetry.IndexAttributes(ix.store.Name(), snap.Model, snap.Len(), snap.Dimension)...)
	return nil
}

// LoadOrBuild is the startup path: it loads the persisted snapshot and
// falls back to building from corpusPath when none exists or the stored
// one is corrupt.
func (ix *Index) LoadOrBuild(ctx context.Context, corpusPath string) error {
	err := ix.Load(ctx)
	if err == nil {
		return nil
	}
	if errors.HasCode(err, errors.CodeIndexNotFound) || errors.HasCode(err, errors.CodeCorruptIndex) {
		return ix.Build(ctx, corpusPath)
	}
	return err
}

// Query embeds text once and returns the topK most similar records, best
// first. Equal scores keep corpus order. No threshold is applied. An empty
// corpus yields an empty result.
func (ix *Index) Query(ctx context.Context, text string, topK int) (results []Result, err error) {
	ctx, span := ix.tracer.Start(ctx, "index.query")
	start := time.Now()
	defer func() {
		span.SetAttributes(telemetry.QueryAttributes(text, topK, len(results))...)
		ix.metrics.RecordQuery(ctx, time.Since(start), len(results), err)
		endSpan(span, err)
	}()

	cur := ix.current.Load()
	if cur == nil {
		return nil, errors.New(errors.CodeNotReady, "index is not ready", nil).
			WithContext("state", ix.State().String())
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "query text is empty", nil)
	}
	if topK < 1 {
		return nil, errors.Newf(errors.CodeInvalidInput, "top_k must be at least 1, got %d", topK)
	}
	if cur.snap.Len() == 0 {
		return []Result{}, nil
	}

	qv, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		err = embedding.ProviderError(ctx, err)
		ix.metrics.RecordEmbeddingFailure(ctx, err)
		return nil, err
	}
	if len(qv) != cur.snap.Dimension {
		return nil, errors.Newf(errors.CodeEmbedding,
			"query vector has %d dimensions, index has %d", len(qv), cur.snap.Dimension)
	}

	return rank(cur, qv, topK), nil
}

// rank scores every stored vector against qv and keeps the best topK.
func rank(cur *published, qv []float32, topK int) []Result {
	qn := magnitude(qv)
	order := make([]int, len(cur.snap.Vectors))
	scores := make([]float64, len(cur.snap.Vectors))
	for i, v := range cur.snap.Vectors {
		order[i] = i
		scores[i] = scoreAgainst(qv, qn, v, cur.norms[i])
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		default:
			return 0
		}
	})

	n := min(topK, len(order))
	out := make([]Result, n)
	for i := range n {
		out[i] = Result{Score: scores[order[i]], Record: cur.snap.Records[order[i]]}
	}
	return out
}

func (ix *Index) publish(snap *snapshot.Snapshot) {
	norms := make([]float64, len(snap.Vectors))
	for i, v := range snap.Vectors {
		norms[i] = magnitude(v)
	}
	ix.current.Store(&published{snap: snap, norms: norms})
}

// settleState leaves Building once a build ends, successfully or not.
func (ix *Index) settleState() {
	if ix.current.Load() != nil {
		ix.state.Store(int32(Ready))
	} else {
		ix.state.Store(int32(Uninitialized))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(telemetry.AttrErrorCode, string(errors.CodeOf(err))))
	}
	span.End()
}
