// Package model defines the canonical trace data contract for iofold.
//
// Every source adapter produces these types and every consumer (storage,
// API, eval execution) accepts them. Types are plain data with no behavior;
// a span's Kind determines which payload field is populated.
package model

// SpanKind classifies the unit of execution a span records.
type SpanKind string

const (
	SpanKindLLM       SpanKind = "LLM"
	SpanKindTool      SpanKind = "TOOL"
	SpanKindAgent     SpanKind = "AGENT"
	SpanKindChain     SpanKind = "CHAIN"
	SpanKindRetriever SpanKind = "RETRIEVER"
	SpanKindEmbedding SpanKind = "EMBEDDING"
	SpanKindReranker  SpanKind = "RERANKER"
)

// SpanStatus is the terminal status of a span.
type SpanStatus string

const (
	SpanStatusOK    SpanStatus = "OK"
	SpanStatusError SpanStatus = "ERROR"
	SpanStatusUnset SpanStatus = "UNSET"
)

// Span is the canonical unit of recorded execution.
//
// Exactly one payload is populated based on Kind: LLM for SpanKindLLM,
// Tool for SpanKindTool, and the generic Input/Output pair for everything
// else. Timestamps are absolute ISO-8601 strings regardless of how the
// source encoded them.
type Span struct {
	SpanID       string  `json:"span_id"`
	TraceID      string  `json:"trace_id"`
	ParentSpanID *string `json:"parent_span_id,omitempty"`

	Kind SpanKind `json:"span_kind"`
	Name string   `json:"name"`

	StartTime string  `json:"start_time"`
	EndTime   *string `json:"end_time,omitempty"`

	Status        SpanStatus `json:"status"`
	StatusMessage *string    `json:"status_message,omitempty"`

	LLM    *LLMSpan  `json:"llm,omitempty"`
	Tool   *ToolSpan `json:"tool,omitempty"`
	Input  any       `json:"input,omitempty"`
	Output any       `json:"output,omitempty"`

	// Attributes carries source-specific data not otherwise mapped,
	// preserved for lossless inspection. Consumers never require it.
	Attributes map[string]any `json:"attributes,omitempty"`

	// SourceSpanID is the source-native identifier of the record this span
	// was derived from, kept for traceability independent of SpanID.
	SourceSpanID string `json:"source_span_id"`
}

// LLMSpan is the payload of a SpanKindLLM span.
type LLMSpan struct {
	ModelName *string `json:"model_name,omitempty"`
	Provider  *string `json:"provider,omitempty"`

	InputMessages  []Message `json:"input_messages"`
	OutputMessages []Message `json:"output_messages"`

	TokenCountPrompt     *int `json:"token_count_prompt,omitempty"`
	TokenCountCompletion *int `json:"token_count_completion,omitempty"`
	TokenCountTotal      *int `json:"token_count_total,omitempty"`
}

// ToolSpan is the payload of a SpanKindTool span. It carries the actual
// execution of a tool invocation; the request that issued it lives on the
// parent LLM span's output message as a ToolCallRequest.
type ToolSpan struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Output     any            `json:"output,omitempty"`
}
