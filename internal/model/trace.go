package model

import (
	"time"

	"github.com/google/uuid"
)

// TraceSummary is a cheap list-view preview derived from canonical spans.
// It is computed on demand and denormalized into storage, never treated as
// a source of truth.
type TraceSummary struct {
	InputPreview    string  `json:"input_preview"`
	OutputPreview   string  `json:"output_preview"`
	SpanCount       int     `json:"span_count"`
	TotalTokens     int     `json:"total_tokens"`
	TotalDurationMs float64 `json:"total_duration_ms"`
	HasErrors       bool    `json:"has_errors"`
}

// TraceRecord is a stored trace: the canonical spans plus import metadata.
type TraceRecord struct {
	ID        uuid.UUID    `json:"id"`
	TraceID   string       `json:"trace_id"`
	Source    string       `json:"source"`
	Spans     []Span       `json:"spans"`
	Summary   TraceSummary `json:"summary"`
	CreatedAt time.Time    `json:"created_at"`
}
