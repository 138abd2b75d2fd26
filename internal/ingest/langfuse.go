package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iofold/iofold/internal/model"
)

// LangfuseAdapter normalizes Langfuse trace exports: a flat observation
// list whose hierarchy is encoded by parentObservationId.
type LangfuseAdapter struct {
	summarizer
}

// NewLangfuseAdapter returns the adapter for SourceLangfuse.
func NewLangfuseAdapter() *LangfuseAdapter { return &LangfuseAdapter{} }

// Source implements Adapter.
func (*LangfuseAdapter) Source() Source { return SourceLangfuse }

// langfuseExport is the top-level raw shape. Only observations are
// required; the trace header is optional context.
type langfuseExport struct {
	Trace        *langfuseTrace        `json:"trace"`
	Observations []langfuseObservation `json:"observations"`
}

type langfuseTrace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// langfuseObservation mirrors one record of the export. Timestamps and
// input/output are left untyped because the export emits strings, epoch
// numbers, message arrays, and bare objects depending on SDK version.
type langfuseObservation struct {
	ID                  string         `json:"id"`
	TraceID             string         `json:"traceId"`
	Type                string         `json:"type"`
	Name                string         `json:"name"`
	StartTime           any            `json:"startTime"`
	EndTime             any            `json:"endTime"`
	ParentObservationID string         `json:"parentObservationId"`
	Model               string         `json:"model"`
	ModelParameters     map[string]any `json:"modelParameters"`
	Input               any            `json:"input"`
	Output              any            `json:"output"`
	Metadata            map[string]any `json:"metadata"`
	Level               string         `json:"level"`
	StatusMessage       string         `json:"statusMessage"`
	Usage               map[string]any `json:"usage"`
}

// Transform implements Adapter.
func (a *LangfuseAdapter) Transform(raw json.RawMessage) ([]model.Span, error) {
	var export langfuseExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, fmt.Errorf("%w: langfuse: %v", ErrMalformedPayload, err)
	}
	if len(export.Observations) == 0 {
		return nil, fmt.Errorf("%w: langfuse export has no observations", ErrMalformedPayload)
	}

	obs := export.Observations
	byID := make(map[string]*langfuseObservation, len(obs))
	children := make(map[string][]*langfuseObservation)
	for i := range obs {
		o := &obs[i]
		byID[o.ID] = o
		if o.ParentObservationID != "" {
			children[o.ParentObservationID] = append(children[o.ParentObservationID], o)
		}
	}

	kinds := make(map[string]model.SpanKind, len(obs))
	for i := range obs {
		kinds[obs[i].ID] = classifyLangfuse(&obs[i])
	}

	spans := make([]model.Span, 0, len(obs))
	index := make(map[string]int, len(obs))
	for i := range obs {
		o := &obs[i]
		span := a.buildSpan(o, kinds[o.ID], export.Trace, byID)
		index[o.ID] = len(spans)
		spans = append(spans, span)
	}

	// Reconciliation: a TOOL child of an LLM observation is the source's
	// way of recording "the model decided to call this tool". Embed the
	// request on the parent's terminal assistant message; the child keeps
	// its own TOOL span carrying the execution result.
	for i := range obs {
		o := &obs[i]
		if kinds[o.ID] != model.SpanKindLLM {
			continue
		}
		parent := &spans[index[o.ID]]
		for _, child := range children[o.ID] {
			if kinds[child.ID] != model.SpanKindTool {
				continue
			}
			if hasToolCall(parent.LLM.OutputMessages, child.ID) {
				continue
			}
			call := model.ToolCallRequest{
				ID: child.ID,
				Function: model.ToolCallFunction{
					Name:      langfuseToolName(child),
					Arguments: serializeArgs(child.Input),
				},
			}
			appendToolCall(parent.LLM.OutputMessages, call)
		}
	}

	return spans, nil
}

func (a *LangfuseAdapter) buildSpan(o *langfuseObservation, kind model.SpanKind, trace *langfuseTrace, byID map[string]*langfuseObservation) model.Span {
	span := model.Span{
		SpanID:       o.ID,
		TraceID:      langfuseTraceID(o, trace, byID),
		Kind:         kind,
		Name:         langfuseName(o),
		Status:       model.SpanStatusUnset,
		SourceSpanID: o.ID,
	}
	if o.ParentObservationID != "" {
		span.ParentSpanID = ptr(o.ParentObservationID)
	}
	if start, ok := normalizeTimestamp(o.StartTime); ok {
		span.StartTime = start
	}
	if end, ok := normalizeTimestamp(o.EndTime); ok {
		span.EndTime = ptr(end)
		span.Status = model.SpanStatusOK
	}
	if strings.EqualFold(o.Level, "ERROR") {
		span.Status = model.SpanStatusError
		if o.StatusMessage != "" {
			span.StatusMessage = ptr(o.StatusMessage)
		}
	}
	span.Attributes = langfuseAttributes(o)

	switch kind {
	case model.SpanKindLLM:
		llm := &model.LLMSpan{
			InputMessages:  inputMessagesFromAny(o.Input),
			OutputMessages: outputMessagesFromAny(o.Output),
		}
		if o.Model != "" {
			llm.ModelName = ptr(o.Model)
		}
		if provider, ok := o.Metadata["provider"].(string); ok && provider != "" {
			llm.Provider = ptr(provider)
		}
		llm.TokenCountPrompt, llm.TokenCountCompletion, llm.TokenCountTotal = extractTokenUsage(o.Usage)
		span.LLM = llm
	case model.SpanKindTool:
		tool := &model.ToolSpan{Name: langfuseToolName(o), Output: o.Output}
		if params, ok := o.Input.(map[string]any); ok {
			tool.Parameters = params
		}
		span.Tool = tool
	default:
		span.Input = o.Input
		span.Output = o.Output
	}
	return span
}

// classifyLangfuse maps an observation onto a canonical kind. GENERATION is
// the export's explicit LLM marker; generic SPAN/EVENT records fall back to
// heuristics over metadata and message shapes.
func classifyLangfuse(o *langfuseObservation) model.SpanKind {
	switch strings.ToUpper(o.Type) {
	case "GENERATION":
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
	if hasToolMarker(o.Metadata) || hasToolMarker(asMap(o.Input)) {
		return model.SpanKindTool
	}
	if o.Model != "" || hasAssistantMessage(o.Input) || hasAssistantMessage(o.Output) {
		return model.SpanKindLLM
	}
	return model.SpanKindChain
}

// langfuseToolName resolves a tool name from metadata or input, falling
// back to the observation name.
func langfuseToolName(o *langfuseObservation) string {
	for _, m := range []map[string]any{o.Metadata, asMap(o.Input)} {
		for _, k := range []string{"tool_name", "tool", "toolName"} {
			if name, ok := m[k].(string); ok && name != "" {
				return name
			}
		}
	}
	return o.Name
}

func hasToolMarker(m map[string]any) bool {
	for _, k := range []string{"tool_name", "tool", "toolName"} {
		if name, ok := m[k].(string); ok && name != "" {
			return true
		}
	}
	return false
}

func hasAssistantMessage(v any) bool {
	msgs, ok := messagesFromAny(v)
	if !ok {
		if m, ok := v.(map[string]any); ok {
			msgs, _ = messagesFromAny(m["messages"])
		}
	}
	for _, m := range msgs {
		if m.Role == model.RoleAssistant {
			return true
		}
	}
	return false
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// langfuseTraceID resolves the trace id: the observation's own, else the
// root of its parent chain, else the export's trace header.
func langfuseTraceID(o *langfuseObservation, trace *langfuseTrace, byID map[string]*langfuseObservation) string {
	if o.TraceID != "" {
		return o.TraceID
	}
	root := o
	seen := map[string]bool{o.ID: true}
	for root.ParentObservationID != "" {
		parent, ok := byID[root.ParentObservationID]
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		root = parent
	}
	if root.TraceID != "" {
		return root.TraceID
	}
	if trace != nil && trace.ID != "" {
		return trace.ID
	}
	return root.ID
}

func langfuseName(o *langfuseObservation) string {
	if o.Name != "" {
		return o.Name
	}
	if o.Type != "" {
		return strings.ToLower(o.Type)
	}
	return "observation"
}

// langfuseAttributes preserves unmapped observation fields for lossless
// inspection. The source maps are copied, never aliased.
func langfuseAttributes(o *langfuseObservation) map[string]any {
	attrs := make(map[string]any)
	for k, v := range o.Metadata {
		attrs[k] = v
	}
	if len(o.ModelParameters) > 0 {
		params := make(map[string]any, len(o.ModelParameters))
		for k, v := range o.ModelParameters {
			params[k] = v
		}
		attrs["model_parameters"] = params
	}
	if o.Level != "" {
		attrs["level"] = o.Level
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
