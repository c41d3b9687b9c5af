// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans, metrics and logs.
const (
	// Index attributes
	AttrIndexStore     = "mathqa.index.store"
	AttrIndexRecords   = "mathqa.index.records"
	AttrIndexDimension = "mathqa.index.dimension"
	AttrIndexModel     = "mathqa.index.model"
	AttrIndexState     = "mathqa.index.state"
	AttrCorpusPath     = "mathqa.corpus.path"

	// Query attributes
	AttrQueryTopK    = "mathqa.query.top_k"
	AttrQueryResults = "mathqa.query.results"
	AttrQueryLength  = "mathqa.query.length"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel    = "gen_ai.request.model"
	AttrLLMProvider = "gen_ai.system"
	AttrLLMFlow     = "mathqa.llm.flow"

	// HTTP attributes
	AttrRequestID = "mathqa.request.id"

	// Outcome attributes
	AttrOutcome   = "mathqa.outcome"
	AttrErrorCode = "error.code"
)

// IndexAttributes describes a snapshot.
func IndexAttributes(store, model string, records, dimension int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrIndexStore, store),
		attribute.String(AttrIndexModel, model),
		attribute.Int(AttrIndexRecords, records),
		attribute.Int(AttrIndexDimension, dimension),
	}
}

// QueryAttributes describes a similarity query. The query text itself is
// not recorded.
func QueryAttributes(text string, topK, results int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrQueryLength, len(text)),
		attribute.Int(AttrQueryTopK, topK),
		attribute.Int(AttrQueryResults, results),
	}
}

// LLMAttributes describes a call made by a validation or refinement flow.
func LLMAttributes(provider, model, flow string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrLLMProvider, provider),
		attribute.String(AttrLLMModel, model),
		attribute.String(AttrLLMFlow, flow),
	}
}
