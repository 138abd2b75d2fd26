// Package iofold normalizes LLM observability traces from multiple
// tracing platforms into a single canonical span model.
//
// Most programs embed the HTTP service in cmd/iofold; this package exposes
// the normalization pipeline directly for library use:
//
//	spans, err := iofold.Normalize(iofold.SourceLangfuse, raw)
//	summary, err := iofold.Summarize(iofold.SourceLangfuse, spans)
package iofold

import (
	"encoding/json"

	"github.com/iofold/iofold/internal/ingest"
	"github.com/iofold/iofold/internal/model"
)

// Canonical model types.
type (
	Span         = model.Span
	Message      = model.Message
	TraceSummary = model.TraceSummary
)

// Source identifies a supported tracing platform.
type Source = ingest.Source

// Supported sources.
const (
	SourceLangfuse  = ingest.SourceLangfuse
	SourceLangsmith = ingest.SourceLangsmith
	SourcePhoenix   = ingest.SourcePhoenix
	SourceLanggraph = ingest.SourceLanggraph
)

var defaultRegistry = ingest.NewRegistry()

// Normalize converts a raw export from the given source into canonical spans.
func Normalize(source Source, raw []byte) ([]Span, error) {
	return defaultRegistry.Transform(source, json.RawMessage(raw))
}

// Summarize extracts a trace-level summary from normalized spans.
func Summarize(source Source, spans []Span) (TraceSummary, error) {
	return defaultRegistry.Summarize(source, spans)
}

// Sources lists the supported source identifiers.
func Sources() []Source {
	return defaultRegistry.Sources()
}
