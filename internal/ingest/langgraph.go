package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iofold/iofold/internal/model"
)

// LanggraphAdapter normalizes the internal execution-step format produced
// by the rollout worker: an ordered list of graph steps, each recording the
// messages it added to the conversation. Tool-call requests arrive inline
// on assistant messages; tool results arrive as tool-role messages, usually
// in the following step.
type LanggraphAdapter struct {
	summarizer
}

// NewLanggraphAdapter returns the adapter for SourceLanggraph.
func NewLanggraphAdapter() *LanggraphAdapter { return &LanggraphAdapter{} }

// Source implements Adapter.
func (*LanggraphAdapter) Source() Source { return SourceLanggraph }

type langgraphExport struct {
	TraceID string          `json:"trace_id"`
	Steps   []langgraphStep `json:"steps"`
}

type langgraphStep struct {
	StepID        string             `json:"step_id"`
	NodeName      string             `json:"node_name"`
	Timestamp     any                `json:"timestamp"`
	DurationMs    *float64           `json:"duration_ms"`
	MessagesAdded []langgraphMessage `json:"messages_added"`
	Metadata      map[string]any     `json:"metadata"`
	Usage         map[string]any     `json:"usage"`
	Error         string             `json:"error"`
}

// langgraphMessage content is a string or a list of content blocks.
type langgraphMessage struct {
	Role       string              `json:"role"`
	Content    any                 `json:"content"`
	Name       string              `json:"name"`
	ToolCalls  []langgraphToolCall `json:"tool_calls"`
	ToolCallID string              `json:"tool_call_id"`
}

type langgraphToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// pendingCall tracks an issued tool-call request until its result message
// shows up, so the TOOL span can carry the request's name and parameters.
type pendingCall struct {
	req  model.ToolCallRequest
	args map[string]any
}

// Transform implements Adapter.
func (a *LanggraphAdapter) Transform(raw json.RawMessage) ([]model.Span, error) {
	var export langgraphExport
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, fmt.Errorf("%w: langgraph: %v", ErrMalformedPayload, err)
	}
	if len(export.Steps) == 0 {
		return nil, fmt.Errorf("%w: langgraph export has no steps", ErrMalformedPayload)
	}

	traceID := export.TraceID
	if traceID == "" {
		traceID = "trace-" + langgraphStepID(&export.Steps[0], 0)
	}

	b := &langgraphBuilder{traceID: traceID}
	for i := range export.Steps {
		b.addStep(&export.Steps[i], i)
	}
	return b.spans, nil
}

type langgraphBuilder struct {
	traceID      string
	spans        []model.Span
	conversation []model.Message // everything added by prior steps
	lastLLMSpan  string          // span id of the most recent LLM turn
	pending      []pendingCall   // issued but unresolved tool calls
	callSeq      int             // monotonic suffix for synthesized call ids
}

func (b *langgraphBuilder) addStep(step *langgraphStep, idx int) {
	stepID := langgraphStepID(step, idx)

	var inputs, outputs []model.Message
	var toolResults []langgraphMessage
	for _, m := range step.MessagesAdded {
		switch normalizeRole(m.Role) {
		case model.RoleAssistant:
			outputs = append(outputs, b.assistantMessage(stepID, m))
		case model.RoleTool:
			toolResults = append(toolResults, m)
		default:
			inputs = append(inputs, model.Message{
				Role:    normalizeRole(m.Role),
				Content: stringifyContent(m.Content),
			})
		}
	}

	parentID := b.stepParent(step)
	start, end := langgraphWindow(step)

	switch {
	case len(outputs) > 0:
		// An LLM turn consumes the conversation accumulated so far plus
		// whatever non-assistant messages this step added before replying.
		llm := &model.LLMSpan{
			InputMessages:  append(append([]model.Message(nil), b.conversation...), inputs...),
			OutputMessages: outputs,
		}
		if name, ok := step.Metadata["model"].(string); ok && name != "" {
			llm.ModelName = ptr(name)
		}
		if provider, ok := step.Metadata["provider"].(string); ok && provider != "" {
			llm.Provider = ptr(provider)
		}
		if usage := langgraphUsage(step); len(usage) > 0 {
			llm.TokenCountPrompt, llm.TokenCountCompletion, llm.TokenCountTotal = extractTokenUsage(usage)
		}
		span := b.baseSpan(stepID, step, parentID, start, end)
		span.Kind = model.SpanKindLLM
		span.LLM = llm
		b.lastLLMSpan = stepID
		b.spans = append(b.spans, span)

	case len(toolResults) == 0:
		// No reply and no tool results: a plumbing node (input routing,
		// state updates). Kept as a generic span so the tree stays whole.
		span := b.baseSpan(stepID, step, parentID, start, end)
		span.Kind = model.SpanKindChain
		if len(inputs) > 0 {
			span.Input = messagesAsAny(inputs)
		}
		b.spans = append(b.spans, span)
	}

	// Every tool result becomes its own TOOL span parented to the turn
	// that issued the call, carrying the execution output while the
	// request stays embedded on that turn's assistant message.
	for ti, m := range toolResults {
		b.spans = append(b.spans, b.toolSpan(stepID, ti, step, m, start, end))
	}

	b.conversation = append(b.conversation, inputs...)
	b.conversation = append(b.conversation, outputs...)
	for _, m := range toolResults {
		msg := model.Message{Role: model.RoleTool, Content: stringifyContent(m.Content)}
		if m.ToolCallID != "" {
			msg.ToolCallID = ptr(m.ToolCallID)
		}
		b.conversation = append(b.conversation, msg)
	}
}

// assistantMessage converts an assistant step message, registering its
// inline tool calls. Missing call ids are synthesized from the call site
// plus a monotonic counter so same-tick calls cannot collide.
func (b *langgraphBuilder) assistantMessage(stepID string, m langgraphMessage) model.Message {
	msg := model.Message{Role: model.RoleAssistant, Content: stringifyContent(m.Content)}
	for _, tc := range m.ToolCalls {
		id := tc.ID
		if id == "" {
			b.callSeq++
			id = fmt.Sprintf("%s-%s-%d", stepID, tc.Name, b.callSeq)
		}
		req := model.ToolCallRequest{
			ID: id,
			Function: model.ToolCallFunction{
				Name:      tc.Name,
				Arguments: serializeArgs(anyOrMap(tc.Args)),
			},
		}
		msg.ToolCalls = append(msg.ToolCalls, req)
		b.pending = append(b.pending, pendingCall{req: req, args: tc.Args})
	}
	return msg
}

func (b *langgraphBuilder) toolSpan(stepID string, ti int, step *langgraphStep, m langgraphMessage, start string, end *string) model.Span {
	call, found := b.takePending(m.ToolCallID, m.Name)

	spanID := m.ToolCallID
	if spanID == "" && found {
		spanID = call.req.ID
	}
	if spanID == "" {
		spanID = fmt.Sprintf("%s-tool-%d", stepID, ti)
	}

	name := m.Name
	if name == "" && found {
		name = call.req.Function.Name
	}
	if name == "" {
		name = "tool"
	}

	span := model.Span{
		SpanID:       spanID,
		TraceID:      b.traceID,
		Kind:         model.SpanKindTool,
		Name:         name,
		StartTime:    start,
		EndTime:      end,
		Status:       model.SpanStatusOK,
		SourceSpanID: stepID,
		Tool: &model.ToolSpan{
			Name:   name,
			Output: stringifyContent(m.Content),
		},
	}
	if found {
		span.Tool.Parameters = call.args
	}
	if b.lastLLMSpan != "" {
		span.ParentSpanID = ptr(b.lastLLMSpan)
	}
	if step.Error != "" {
		span.Status = model.SpanStatusError
		span.StatusMessage = ptr(step.Error)
	}
	return span
}

// takePending pops the issued call matching a result, by call id first and
// tool name second.
func (b *langgraphBuilder) takePending(callID, name string) (pendingCall, bool) {
	for i, p := range b.pending {
		if (callID != "" && p.req.ID == callID) || (callID == "" && name != "" && p.req.Function.Name == name) {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return p, true
		}
	}
	return pendingCall{}, false
}

func (b *langgraphBuilder) baseSpan(stepID string, step *langgraphStep, parentID, start string, end *string) model.Span {
	span := model.Span{
		SpanID:       stepID,
		TraceID:      b.traceID,
		Name:         langgraphName(step),
		StartTime:    start,
		EndTime:      end,
		Status:       model.SpanStatusUnset,
		SourceSpanID: stepID,
	}
	if parentID != "" {
		span.ParentSpanID = ptr(parentID)
	}
	if end != nil {
		span.Status = model.SpanStatusOK
	}
	if step.Error != "" {
		span.Status = model.SpanStatusError
		span.StatusMessage = ptr(step.Error)
	}
	if attrs := langgraphAttributes(step); len(attrs) > 0 {
		span.Attributes = attrs
	}
	return span
}

func (b *langgraphBuilder) stepParent(step *langgraphStep) string {
	if id, ok := step.Metadata["parent_span_id"].(string); ok {
		return id
	}
	return ""
}

func langgraphStepID(step *langgraphStep, idx int) string {
	if step.StepID != "" {
		return step.StepID
	}
	return fmt.Sprintf("step-%d", idx)
}

func langgraphName(step *langgraphStep) string {
	if step.NodeName != "" {
		return step.NodeName
	}
	return "step"
}

// langgraphWindow derives the step's time window from its timestamp and
// optional duration.
func langgraphWindow(step *langgraphStep) (string, *string) {
	start, ok := normalizeTimestamp(step.Timestamp)
	if !ok {
		return "", nil
	}
	if step.DurationMs == nil {
		return start, nil
	}
	t, ok := parseISO(start)
	if !ok {
		return start, nil
	}
	end := t.Add(time.Duration(*step.DurationMs * float64(time.Millisecond))).Format(time.RFC3339Nano)
	return start, ptr(end)
}

func langgraphUsage(step *langgraphStep) map[string]any {
	if len(step.Usage) > 0 {
		return step.Usage
	}
	return asMap(step.Metadata["usage"])
}

func langgraphAttributes(step *langgraphStep) map[string]any {
	attrs := make(map[string]any)
	for k, v := range step.Metadata {
		switch k {
		case "model", "provider", "usage", "parent_span_id":
			continue
		}
		attrs[k] = v
	}
	if step.NodeName != "" {
		attrs["node_name"] = step.NodeName
	}
	return attrs
}

// messagesAsAny renders canonical messages as a generic input payload for
// non-LLM spans.
func messagesAsAny(msgs []model.Message) any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		entry := map[string]any{"role": string(m.Role), "content": m.Content}
		out[i] = entry
	}
	return out
}
