// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/mathqa/pkg/errors"
)

// MeterName is the instrumentation scope for index metrics.
const MeterName = "mathqa/index"

// IndexMetrics records build, load and query activity of a similarity index.
// A nil *IndexMetrics is valid and records nothing.
type IndexMetrics struct {
	// queryCounter tracks queries by outcome
	queryCounter metric.Int64Counter

	// queryLatency tracks end-to-end query time including the embed call
	queryLatency metric.Float64Histogram

	// buildCounter tracks builds by outcome
	buildCounter metric.Int64Counter

	// buildDuration tracks build time
	buildDuration metric.Float64Histogram

	// snapshotRecords tracks the size of the serving snapshot
	snapshotRecords metric.Int64Gauge

	// embeddingFailures tracks failed embed calls by error code
	embeddingFailures metric.Int64Counter
}

// NewIndexMetrics creates index instruments on the global meter provider.
func NewIndexMetrics() (*IndexMetrics, error) {
	return NewIndexMetricsWithMeter(otel.Meter(MeterName))
}

// NewIndexMetricsWithMeter creates index instruments on meter.
func NewIndexMetricsWithMeter(meter metric.Meter) (*IndexMetrics, error) {
	queryCounter, err := meter.Int64Counter(
		"mathqa.index.queries",
		metric.WithDescription("Similarity queries by outcome"),
	)
	if err != nil {
		return nil, err
	}

	queryLatency, err := meter.Float64Histogram(
		"mathqa.index.query.duration",
		metric.WithDescription("Similarity query latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	buildCounter, err := meter.Int64Counter(
		"mathqa.index.builds",
		metric.WithDescription("Index builds by outcome"),
	)
	if err != nil {
		return nil, err
	}

	buildDuration, err := meter.Float64Histogram(
		"mathqa.index.build.duration",
		metric.WithDescription("Index build duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	snapshotRecords, err := meter.Int64Gauge(
		"mathqa.index.snapshot.records",
		metric.WithDescription("Records in the serving snapshot"),
	)
	if err != nil {
		return nil, err
	}

	embeddingFailures, err := meter.Int64Counter(
		"mathqa.embedding.failures",
		metric.WithDescription("Failed embedding calls by error code"),
	)
	if err != nil {
		return nil, err
	}

	return &IndexMetrics{
		queryCounter:      queryCounter,
		queryLatency:      queryLatency,
		buildCounter:      buildCounter,
		buildDuration:     buildDuration,
		snapshotRecords:   snapshotRecords,
		embeddingFailures: embeddingFailures,
	}, nil
}

// RecordQuery records one query and its latency. err is the query outcome.
func (m *IndexMetrics) RecordQuery(ctx context.Context, d time.Duration, results int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrOutcome, outcome(err)),
		attribute.String(AttrErrorCode, string(errors.CodeOf(err))),
	)
	m.queryCounter.Add(ctx, 1, attrs)
	m.queryLatency.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

// RecordBuild records one build. records is the size of the new snapshot
// and only counts when err is nil.
func (m *IndexMetrics) RecordBuild(ctx context.Context, d time.Duration, records int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrOutcome, outcome(err)),
		attribute.String(AttrErrorCode, string(errors.CodeOf(err))),
	)
	m.buildCounter.Add(ctx, 1, attrs)
	m.buildDuration.Record(ctx, d.Seconds(), attrs)
	if err == nil {
		m.RecordSnapshot(ctx, records)
	}
}

// RecordSnapshot records the number of records now being served.
func (m *IndexMetrics) RecordSnapshot(ctx context.Context, records int) {
	if m == nil {
		return
	}
	m.snapshotRecords.Record(ctx, int64(records))
}

// RecordEmbeddingFailure counts a failed embed call.
func (m *IndexMetrics) RecordEmbeddingFailure(ctx context.Context, err error) {
	if m == nil || err == nil {
		return
	}
	m.embeddingFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrErrorCode, string(errors.CodeOf(err))),
		),
	)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
