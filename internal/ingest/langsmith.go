package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iofold/iofold/internal/model"
)

// LangsmithAdapter normalizes LangSmith run trees. Runs reference their
// parent by parent_run_id and may additionally arrive nested in child_runs;
// both encodings collapse into one flat run list before normalization.
type LangsmithAdapter struct {
	summarizer
}

// NewLangsmithAdapter returns the adapter for SourceLangsmith.
func NewLangsmithAdapter() *LangsmithAdapter { return &LangsmithAdapter{} }

// Source implements Adapter.
func (*LangsmithAdapter) Source() Source { return SourceLangsmith }

type langsmithExport struct {
	Runs []langsmithRun `json:"runs"`
}

// langsmithRun mirrors one run record. Inputs and outputs are loose maps;
// the extra map carries SDK metadata (model name, provider, invocation
// params) under unstable keys that are probed, not required.
type langsmithRun struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	RunType       string         `json:"run_type"`
	StartTime     any            `json:"start_time"`
	EndTime       any            `json:"end_time"`
	ParentRunID   string         `json:"parent_run_id"`
	TraceID       string         `json:"trace_id"`
	Error         string         `json:"error"`
	Inputs        map[string]any `json:"inputs"`
	Outputs       map[string]any `json:"outputs"`
	Extra         map[string]any `json:"extra"`
	Tags          []string       `json:"tags"`
	UsageMetadata map[string]any `json:"usage_metadata"`
	ChildRuns     []langsmithRun `json:"child_runs"`
}

// Transform implements Adapter.
func (a *LangsmithAdapter) Transform(raw json.RawMessage) ([]model.Span, error) {
	var export langsmithExport
	if err := json.Unmarshal(raw, &export); err != nil || len(export.Runs) == 0 {
		// A single root run with nested child_runs is also accepted.
		var root langsmithRun
		if err2 := json.Unmarshal(raw, &root); err2 != nil || root.ID == "" {
			return nil, fmt.Errorf("%w: langsmith export has no runs", ErrMalformedPayload)
		}
		export.Runs = []langsmithRun{root}
	}

	runs := flattenRuns(export.Runs)
	if len(runs) == 0 {
		// Every run was dropped for lacking an id; an empty span list must
		// never come back with a nil error.
		return nil, fmt.Errorf("%w: langsmith export has no runs with ids", ErrMalformedPayload)
	}

	byID := make(map[string]*langsmithRun, len(runs))
	children := make(map[string][]*langsmithRun)
	for _, r := range runs {
		byID[r.ID] = r
	}
	for _, r := range runs {
		if r.ParentRunID != "" && byID[r.ParentRunID] != nil {
			children[r.ParentRunID] = append(children[r.ParentRunID], r)
		}
	}

	kinds := make(map[string]model.SpanKind, len(runs))
	for _, r := range runs {
		kinds[r.ID] = classifyLangsmith(r)
	}

	spans := make([]model.Span, 0, len(runs))
	index := make(map[string]int, len(runs))
	for _, r := range runs {
		span := a.buildSpan(r, kinds[r.ID], byID)
		index[r.ID] = len(spans)
		spans = append(spans, span)
	}

	// Embed each tool child as a call request on its parent LLM run's
	// terminal assistant message. The child's own TOOL span stays.
	for _, r := range runs {
		if kinds[r.ID] != model.SpanKindLLM {
			continue
		}
		parent := &spans[index[r.ID]]
		for _, child := range children[r.ID] {
			if kinds[child.ID] != model.SpanKindTool || hasToolCall(parent.LLM.OutputMessages, child.ID) {
				continue
			}
			call := model.ToolCallRequest{
				ID: child.ID,
				Function: model.ToolCallFunction{
					Name:      child.Name,
					Arguments: serializeArgs(anyOrMap(child.Inputs)),
				},
			}
			appendToolCall(parent.LLM.OutputMessages, call)
		}
	}

	return spans, nil
}

// flattenRuns walks nested child_runs into one depth-first list, fixing up
// missing parent references and dropping duplicate ids.
func flattenRuns(runs []langsmithRun) []*langsmithRun {
	var out []*langsmithRun
	seen := make(map[string]bool)
	var walk func(rs []langsmithRun, parentID string)
	walk = func(rs []langsmithRun, parentID string) {
		for i := range rs {
			r := &rs[i]
			if r.ID == "" || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			if r.ParentRunID == "" {
				r.ParentRunID = parentID
			}
			out = append(out, r)
			walk(r.ChildRuns, r.ID)
		}
	}
	walk(runs, "")
	return out
}

func (a *LangsmithAdapter) buildSpan(r *langsmithRun, kind model.SpanKind, byID map[string]*langsmithRun) model.Span {
	span := model.Span{
		SpanID:       r.ID,
		TraceID:      langsmithTraceID(r, byID),
		Kind:         kind,
		Name:         langsmithName(r),
		Status:       model.SpanStatusUnset,
		SourceSpanID: r.ID,
	}
	if r.ParentRunID != "" {
		span.ParentSpanID = ptr(r.ParentRunID)
	}
	if start, ok := normalizeTimestamp(r.StartTime); ok {
		span.StartTime = start
	}
	if end, ok := normalizeTimestamp(r.EndTime); ok {
		span.EndTime = ptr(end)
		span.Status = model.SpanStatusOK
	}
	if r.Error != "" {
		span.Status = model.SpanStatusError
		span.StatusMessage = ptr(r.Error)
	}
	span.Attributes = langsmithAttributes(r)

	switch kind {
	case model.SpanKindLLM:
		llm := &model.LLMSpan{
			InputMessages:  inputMessagesFromAny(anyOrMap(r.Inputs)),
			OutputMessages: outputMessagesFromAny(anyOrMap(r.Outputs)),
		}
		if name := langsmithModelName(r); name != "" {
			llm.ModelName = ptr(name)
		}
		if provider := langsmithMetaString(r, "ls_provider"); provider != "" {
			llm.Provider = ptr(provider)
		}
		llm.TokenCountPrompt, llm.TokenCountCompletion, llm.TokenCountTotal = langsmithUsage(r)
		span.LLM = llm
	case model.SpanKindTool:
		span.Tool = &model.ToolSpan{
			Name:       r.Name,
			Parameters: r.Inputs,
			Output:     langsmithToolOutput(r.Outputs),
		}
	default:
		span.Input = anyOrMap(r.Inputs)
		span.Output = anyOrMap(r.Outputs)
	}
	return span
}

func classifyLangsmith(r *langsmithRun) model.SpanKind {
	switch strings.ToLower(r.RunType) {
	case "llm":
		return model.SpanKindLLM
	case "tool":
		return model.SpanKindTool
	case "agent":
		return model.SpanKindAgent
	case "retriever":
		return model.SpanKindRetriever
	case "embedding":
		return model.SpanKindEmbedding
	case "chain", "prompt", "parser":
		return model.SpanKindChain
	}
	if hasToolMarker(langsmithMetadata(r)) || hasToolMarker(r.Inputs) {
		return model.SpanKindTool
	}
	if langsmithModelName(r) != "" || hasAssistantMessage(anyOrMap(r.Inputs)) || hasAssistantMessage(anyOrMap(r.Outputs)) {
		return model.SpanKindLLM
	}
	return model.SpanKindChain
}

// langsmithTraceID falls back to walking the parent chain when the run
// carries no trace_id of its own: the root's trace_id, else the root's id.
func langsmithTraceID(r *langsmithRun, byID map[string]*langsmithRun) string {
	if r.TraceID != "" {
		return r.TraceID
	}
	root := r
	seen := map[string]bool{r.ID: true}
	for root.ParentRunID != "" {
		parent, ok := byID[root.ParentRunID]
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		root = parent
	}
	if root.TraceID != "" {
		return root.TraceID
	}
	return root.ID
}

func langsmithName(r *langsmithRun) string {
	if r.Name != "" {
		return r.Name
	}
	if r.RunType != "" {
		return r.RunType
	}
	return "run"
}

func langsmithMetadata(r *langsmithRun) map[string]any {
	return asMap(r.Extra["metadata"])
}

func langsmithMetaString(r *langsmithRun, key string) string {
	s, _ := langsmithMetadata(r)[key].(string)
	return s
}

// langsmithModelName probes the historical homes of the model name:
// metadata ls_model_name, then invocation params.
func langsmithModelName(r *langsmithRun) string {
	if name := langsmithMetaString(r, "ls_model_name"); name != "" {
		return name
	}
	params := asMap(r.Extra["invocation_params"])
	for _, k := range []string{"model", "model_name"} {
		if name, ok := params[k].(string); ok && name != "" {
			return name
		}
	}
	return ""
}

// langsmithUsage probes token usage homes in priority order: the run-level
// usage_metadata, the outputs' usage_metadata, then the legacy
// llm_output.token_usage map.
func langsmithUsage(r *langsmithRun) (prompt, completion, total *int) {
	for _, usage := range []map[string]any{
		r.UsageMetadata,
		asMap(r.Outputs["usage_metadata"]),
		asMap(asMap(r.Outputs["llm_output"])["token_usage"]),
	} {
		if len(usage) == 0 {
			continue
		}
		if p, c, t := extractTokenUsage(usage); p != nil || c != nil || t != nil {
			return p, c, t
		}
	}
	return nil, nil, nil
}

// langsmithToolOutput unwraps the conventional single-key {"output": ...}
// wrapper; anything else is kept whole.
func langsmithToolOutput(outputs map[string]any) any {
	if len(outputs) == 0 {
		return nil
	}
	if out, ok := outputs["output"]; ok && len(outputs) == 1 {
		return out
	}
	return outputs
}

func langsmithAttributes(r *langsmithRun) map[string]any {
	attrs := make(map[string]any)
	for k, v := range langsmithMetadata(r) {
		attrs[k] = v
	}
	if len(r.Tags) > 0 {
		attrs["tags"] = append([]string(nil), r.Tags...)
	}
	if r.RunType != "" {
		attrs["run_type"] = r.RunType
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// anyOrMap returns nil for empty maps so message extraction treats a
// missing inputs/outputs object as absent rather than stringifying "{}".
func anyOrMap(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}
