package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iofold/iofold/internal/model"
)

// PhoenixAdapter normalizes OpenInference span exports (Arize Phoenix).
// This source is the closest to the canonical model, since spans already
// carry ids, parent references, and a span kind, but its attributes arrive as
// dot-delimited flat keys from the columnar export, so everything runs
// through one unflattening pass before extraction.
type PhoenixAdapter struct {
	summarizer
}

// NewPhoenixAdapter returns the adapter for SourcePhoenix.
func NewPhoenixAdapter() *PhoenixAdapter { return &PhoenixAdapter{} }

// Source implements Adapter.
func (*PhoenixAdapter) Source() Source { return SourcePhoenix }

type phoenixExport struct {
	Spans []phoenixSpan `json:"spans"`
}

// phoenixSpan mirrors one exported span. Ids live either at the top level
// or in the nested context object depending on export version.
type phoenixSpan struct {
	SpanID        string              `json:"span_id"`
	TraceID       string              `json:"trace_id"`
	ParentID      string              `json:"parent_id"`
	Context       *phoenixSpanContext `json:"context"`
	Name          string              `json:"name"`
	SpanKind      string              `json:"span_kind"`
	StartTime     any                 `json:"start_time"`
	EndTime       any                 `json:"end_time"`
	StatusCode    string              `json:"status_code"`
	StatusMessage string              `json:"status_message"`
	Attributes    map[string]any      `json:"attributes"`
}

type phoenixSpanContext struct {
	SpanID  string `json:"span_id"`
	TraceID string `json:"trace_id"`
}

// Transform implements Adapter.
func (a *PhoenixAdapter) Transform(raw json.RawMessage) ([]model.Span, error) {
	var export phoenixExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, fmt.Errorf("%w: phoenix: %v", ErrMalformedPayload, err)
	}
	if len(export.Spans) == 0 {
		return nil, fmt.Errorf("%w: phoenix export has no spans", ErrMalformedPayload)
	}

	spans := make([]model.Span, 0, len(export.Spans))
	index := make(map[string]int, len(export.Spans))
	children := make(map[string][]int)

	for i := range export.Spans {
		src := &export.Spans[i]
		span := a.buildSpan(src)
		index[span.SpanID] = len(spans)
		if span.ParentSpanID != nil {
			children[*span.ParentSpanID] = append(children[*span.ParentSpanID], len(spans))
		}
		spans = append(spans, span)
	}

	// The export often embeds tool-call requests inline on output messages
	// already; hierarchy-derived requests are only added for tool children
	// the inline data doesn't cover.
	for i := range spans {
		parent := &spans[i]
		if parent.Kind != model.SpanKindLLM || parent.LLM == nil {
			continue
		}
		for _, ci := range children[parent.SpanID] {
			child := &spans[ci]
			if child.Kind != model.SpanKindTool || child.Tool == nil {
				continue
			}
			if hasToolCall(parent.LLM.OutputMessages, child.SpanID) ||
				hasToolCallNamed(parent.LLM.OutputMessages, child.Tool.Name) {
				continue
			}
			call := model.ToolCallRequest{
				ID: child.SpanID,
				Function: model.ToolCallFunction{
					Name:      child.Tool.Name,
					Arguments: serializeArgs(anyOrMap(child.Tool.Parameters)),
				},
			}
			appendToolCall(parent.LLM.OutputMessages, call)
		}
	}

	return spans, nil
}

func (a *PhoenixAdapter) buildSpan(src *phoenixSpan) model.Span {
	attrs := Unflatten(src.Attributes)

	spanID := src.SpanID
	traceID := src.TraceID
	if src.Context != nil {
		if spanID == "" {
			spanID = src.Context.SpanID
		}
		if traceID == "" {
			traceID = src.Context.TraceID
		}
	}

	kind := classifyPhoenix(src, attrs)
	span := model.Span{
		SpanID:       spanID,
		TraceID:      traceID,
		Kind:         kind,
		Name:         src.Name,
		Status:       phoenixStatus(src.StatusCode),
		SourceSpanID: spanID,
	}
	if span.Name == "" {
		span.Name = strings.ToLower(string(kind))
	}
	if src.ParentID != "" {
		span.ParentSpanID = ptr(src.ParentID)
	}
	if src.StatusMessage != "" {
		span.StatusMessage = ptr(src.StatusMessage)
	}
	if start, ok := normalizeTimestamp(src.StartTime); ok {
		span.StartTime = start
	}
	if end, ok := normalizeTimestamp(src.EndTime); ok {
		span.EndTime = ptr(end)
	}

	llmAttrs := asMap(attrs["llm"])
	toolAttrs := asMap(attrs["tool"])
	inputValue := asMap(attrs["input"])["value"]
	outputValue := asMap(attrs["output"])["value"]

	switch kind {
	case model.SpanKindLLM:
		llm := &model.LLMSpan{
			InputMessages:  phoenixMessages(llmAttrs["input_messages"]),
			OutputMessages: phoenixMessages(llmAttrs["output_messages"]),
		}
		if len(llm.InputMessages) == 0 {
			llm.InputMessages = inputMessagesFromAny(inputValue)
		}
		if len(llm.OutputMessages) == 0 {
			llm.OutputMessages = outputMessagesFromAny(outputValue)
		}
		if name, ok := llmAttrs["model_name"].(string); ok && name != "" {
			llm.ModelName = ptr(name)
		}
		if provider, ok := llmAttrs["provider"].(string); ok && provider != "" {
			llm.Provider = ptr(provider)
		}
		if counts := asMap(llmAttrs["token_count"]); len(counts) > 0 {
			llm.TokenCountPrompt, llm.TokenCountCompletion, llm.TokenCountTotal = extractTokenUsage(counts)
		}
		span.LLM = llm
	case model.SpanKindTool:
		tool := &model.ToolSpan{Output: outputValue}
		tool.Name, _ = toolAttrs["name"].(string)
		if tool.Name == "" {
			tool.Name = src.Name
		}
		tool.Parameters = phoenixToolParameters(toolAttrs["parameters"], inputValue)
		span.Tool = tool
	default:
		span.Input = inputValue
		span.Output = outputValue
	}

	span.Attributes = phoenixResidualAttributes(attrs)
	return span
}

// classifyPhoenix prefers the record's own span kind, then the
// openinference.span.kind attribute, then shape heuristics.
func classifyPhoenix(src *phoenixSpan, attrs map[string]any) model.SpanKind {
	kind := src.SpanKind
	if kind == "" {
		kind, _ = asMap(asMap(attrs["openinference"])["span"])["kind"].(string)
	}
	switch strings.ToUpper(kind) {
	case "LLM":
		return model.SpanKindLLM
	case "TOOL":
		return model.SpanKindTool
	case "AGENT":
		return model.SpanKindAgent
	case "CHAIN":
		return model.SpanKindChain
	case "RETRIEVER":
		return model.SpanKindRetriever
	case "EMBEDDING":
		return model.SpanKindEmbedding
	case "RERANKER":
		return model.SpanKindReranker
	}
	if len(asMap(attrs["tool"])) > 0 {
		return model.SpanKindTool
	}
	if len(asMap(attrs["llm"])) > 0 {
		return model.SpanKindLLM
	}
	return model.SpanKindChain
}

func phoenixStatus(code string) model.SpanStatus {
	switch strings.ToUpper(code) {
	case "OK":
		return model.SpanStatusOK
	case "ERROR":
		return model.SpanStatusError
	default:
		return model.SpanStatusUnset
	}
}

// phoenixMessages reads an OpenInference message list. Each element wraps
// the payload in a "message" object, and each tool call in a "tool_call"
// object; both wrappers are optional in practice.
func phoenixMessages(v any) []model.Message {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []model.Message
	for _, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if inner, ok := m["message"].(map[string]any); ok {
			m = inner
		}
		role, _ := m["role"].(string)
		msg := model.Message{
			Role:    normalizeRole(role),
			Content: stringifyContent(m["content"]),
		}
		if calls := phoenixToolCalls(m["tool_calls"]); len(calls) > 0 {
			msg.Role = model.RoleAssistant
			msg.ToolCalls = calls
		}
		if id, ok := m["tool_call_id"].(string); ok && id != "" {
			msg.ToolCallID = ptr(id)
		}
		out = append(out, msg)
	}
	return out
}

func phoenixToolCalls(v any) []model.ToolCallRequest {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	unwrapped := make([]any, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			if inner, ok := m["tool_call"].(map[string]any); ok {
				unwrapped = append(unwrapped, inner)
				continue
			}
		}
		unwrapped = append(unwrapped, el)
	}
	return parseToolCalls(unwrapped)
}

// phoenixToolParameters accepts parameters as a map or as a JSON string
// (the flat export serializes them); unparseable strings are preserved
// under a raw key rather than dropped.
func phoenixToolParameters(params any, inputValue any) map[string]any {
	switch p := params.(type) {
	case map[string]any:
		return p
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(p), &m); err == nil {
			return m
		}
		return map[string]any{"raw": p}
	}
	if m, ok := inputValue.(map[string]any); ok {
		return m
	}
	return nil
}

// phoenixResidualAttributes keeps everything not already mapped into the
// canonical payloads.
func phoenixResidualAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range attrs {
		switch k {
		case "llm", "tool", "input", "output", "openinference":
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
