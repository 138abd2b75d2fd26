package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/iofold/iofold/internal/model"
)

// Unix-epoch magnitude cutoffs for timestamp unit detection. A value below
// secondsCutoff is unix seconds, below millisCutoff unix milliseconds, and
// anything larger unix nanoseconds. The cutoffs keep current-epoch values
// (~1.7e9 s, ~1.7e12 ms, ~1.7e18 ns) in their intended unit until the year
// ~5138.
const (
	secondsCutoff = 1e11
	millisCutoff  = 1e15
)

// ptr returns a pointer to v, for optional-field literals.
func ptr[T any](v T) *T { return &v }

// normalizeTimestamp converts a source timestamp into an ISO-8601 string.
// String input is trusted as already ISO-8601 and passed through unchanged;
// numeric input is unit-detected by magnitude. Returns false for absent or
// unrecognized values.
func normalizeTimestamp(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case float64:
		return epochToISO(t), true
	case int:
		return epochToISO(float64(t)), true
	case int64:
		return epochToISO(float64(t)), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return "", false
		}
		return epochToISO(f), true
	default:
		return "", false
	}
}

func epochToISO(n float64) string {
	var ns int64
	switch abs := max(n, -n); {
	case abs < secondsCutoff:
		ns = int64(n * 1e9)
	case abs < millisCutoff:
		ns = int64(n * 1e6)
	default:
		ns = int64(n)
	}
	return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
}

// parseISO parses a normalized timestamp back into a time.Time.
func parseISO(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeRole maps source-native role labels onto the canonical set.
// Matching is case-insensitive; unrecognized roles fall back to system.
func normalizeRole(raw string) model.MessageRole {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "human":
		return model.RoleUser
	case "assistant", "ai":
		return model.RoleAssistant
	case "tool", "function":
		return model.RoleTool
	case "system":
		return model.RoleSystem
	default:
		return model.RoleSystem
	}
}

// jsonString serializes v for display or storage. Strings pass through.
func jsonString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// serializeArgs encodes a tool call's argument payload as an opaque string.
// Already-serialized string arguments pass through unchanged.
func serializeArgs(v any) string {
	switch a := v.(type) {
	case nil:
		return "{}"
	case string:
		if a == "" {
			return "{}"
		}
		return a
	default:
		return jsonString(v)
	}
}

// stringifyContent flattens message content to a string. Lists of text
// blocks ({type:"text", text:"..."} or bare {text:"..."}) are concatenated;
// any other structured content is serialized as JSON rather than dropped.
func stringifyContent(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var sb strings.Builder
		for _, el := range c {
			block, ok := el.(map[string]any)
			if !ok {
				return jsonString(v)
			}
			if bt, ok := block["type"].(string); ok && bt != "text" {
				return jsonString(v)
			}
			text, ok := block["text"].(string)
			if !ok {
				return jsonString(v)
			}
			sb.WriteString(text)
		}
		return sb.String()
	default:
		return jsonString(v)
	}
}

// intFromAny coerces JSON-decoded numeric values to int.
func intFromAny(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// Token-count field variants, probed in priority order. Different export
// versions of the same tool disagree on names.
var (
	promptTokenKeys     = []string{"prompt_tokens", "input_tokens", "promptTokens", "input"}
	completionTokenKeys = []string{"completion_tokens", "output_tokens", "completionTokens", "output"}
	totalTokenKeys      = []string{"total_tokens", "totalTokens", "total"}
)

// extractTokenUsage probes a usage map for token counts. Total is derived
// from prompt+completion when absent and both components are present.
func extractTokenUsage(usage map[string]any) (prompt, completion, total *int) {
	probe := func(keys []string) *int {
		for _, k := range keys {
			if n, ok := intFromAny(usage[k]); ok {
				return ptr(n)
			}
		}
		return nil
	}
	prompt = probe(promptTokenKeys)
	completion = probe(completionTokenKeys)
	total = probe(totalTokenKeys)
	if total == nil && prompt != nil && completion != nil {
		total = ptr(*prompt + *completion)
	}
	return prompt, completion, total
}

// messageFromMap builds a canonical message from a source message object.
// Role is read from "role" or, for LangChain-style payloads, from "type".
func messageFromMap(m map[string]any) model.Message {
	role, _ := m["role"].(string)
	if role == "" {
		role, _ = m["type"].(string)
	}
	msg := model.Message{
		Role:    normalizeRole(role),
		Content: stringifyContent(m["content"]),
	}
	if calls := parseToolCalls(m["tool_calls"]); len(calls) > 0 {
		msg.Role = model.RoleAssistant
		msg.ToolCalls = calls
	}
	if id, ok := m["tool_call_id"].(string); ok && id != "" {
		msg.Role = model.RoleTool
		msg.ToolCallID = ptr(id)
	}
	return msg
}

// messagesFromAny recognizes conventional message-array shapes: a flat list
// of message objects, or LangChain's nested list-of-lists batch form.
func messagesFromAny(v any) ([]model.Message, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	var out []model.Message
	for _, el := range list {
		switch e := el.(type) {
		case map[string]any:
			out = append(out, messageFromMap(e))
		case []any:
			for _, inner := range e {
				im, ok := inner.(map[string]any)
				if !ok {
					return nil, false
				}
				out = append(out, messageFromMap(im))
			}
		default:
			return nil, false
		}
	}
	return out, len(out) > 0
}

// parseToolCalls accepts both the OpenAI wire shape
// ({id, function:{name, arguments}}) and the LangChain shape
// ({id, name, args}) for embedded tool-call requests.
func parseToolCalls(v any) []model.ToolCallRequest {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []model.ToolCallRequest
	for _, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		req := model.ToolCallRequest{}
		req.ID, _ = m["id"].(string)
		if fn, ok := m["function"].(map[string]any); ok {
			req.Function.Name, _ = fn["name"].(string)
			req.Function.Arguments = serializeArgs(fn["arguments"])
		} else {
			req.Function.Name, _ = m["name"].(string)
			req.Function.Arguments = serializeArgs(m["args"])
		}
		if req.Function.Name == "" && req.ID == "" {
			continue
		}
		out = append(out, req)
	}
	return out
}

// Conventional single-value field names probed when a source does not ship
// a message array. First match wins.
var (
	inputTextKeys  = []string{"prompt", "input", "question", "query"}
	outputTextKeys = []string{"output", "text", "content", "answer", "completion"}
)

// inputMessagesFromAny extracts input messages from whatever shape the
// source provides: a message array, a map with a messages array, a map with
// a conventional prompt field, or a bare string. Unrecognized shapes are
// stringified into a single user message rather than dropped.
func inputMessagesFromAny(v any) []model.Message {
	switch in := v.(type) {
	case nil:
		return nil
	case string:
		if in == "" {
			return nil
		}
		return []model.Message{{Role: model.RoleUser, Content: in}}
	case map[string]any:
		if msgs, ok := messagesFromAny(in["messages"]); ok {
			return msgs
		}
		if _, ok := in["role"]; ok {
			return []model.Message{messageFromMap(in)}
		}
		for _, k := range inputTextKeys {
			if s, ok := in[k].(string); ok && s != "" {
				return []model.Message{{Role: model.RoleUser, Content: s}}
			}
		}
		return []model.Message{{Role: model.RoleUser, Content: jsonString(v)}}
	default:
		if msgs, ok := messagesFromAny(v); ok {
			return msgs
		}
		return []model.Message{{Role: model.RoleUser, Content: jsonString(v)}}
	}
}

// outputMessagesFromAny extracts output messages, additionally recognizing
// the "generations" array-of-completions shape some exports use.
func outputMessagesFromAny(v any) []model.Message {
	switch out := v.(type) {
	case nil:
		return nil
	case string:
		if out == "" {
			return nil
		}
		return []model.Message{{Role: model.RoleAssistant, Content: out}}
	case map[string]any:
		if msgs, ok := messagesFromAny(out["messages"]); ok {
			return msgs
		}
		if msgs, ok := messagesFromGenerations(out["generations"]); ok {
			return msgs
		}
		if _, ok := out["role"]; ok {
			return []model.Message{messageFromMap(out)}
		}
		for _, k := range outputTextKeys {
			if s, ok := out[k].(string); ok && s != "" {
				return []model.Message{{Role: model.RoleAssistant, Content: s}}
			}
		}
		return []model.Message{{Role: model.RoleAssistant, Content: jsonString(v)}}
	default:
		if msgs, ok := messagesFromAny(v); ok {
			return msgs
		}
		return []model.Message{{Role: model.RoleAssistant, Content: jsonString(v)}}
	}
}

// messagesFromGenerations reads an array of alternative completions, each a
// {text} or {message: {...}} object, possibly batch-nested one level.
func messagesFromGenerations(v any) ([]model.Message, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	var out []model.Message
	var walk func(el any) bool
	walk = func(el any) bool {
		switch g := el.(type) {
		case map[string]any:
			if msg, ok := g["message"].(map[string]any); ok {
				out = append(out, messageFromMap(msg))
				return true
			}
			if text, ok := g["text"].(string); ok {
				out = append(out, model.Message{Role: model.RoleAssistant, Content: text})
				return true
			}
			return false
		case []any:
			for _, inner := range g {
				if !walk(inner) {
					return false
				}
			}
			return true
		default:
			return false
		}
	}
	for _, el := range list {
		if !walk(el) {
			return nil, false
		}
	}
	return out, len(out) > 0
}

// appendToolCall attaches a tool-call request to the last assistant message
// in msgs. Returns false when there is no assistant message to attach to;
// the call then stays represented only by its own TOOL span.
func appendToolCall(msgs []model.Message, call model.ToolCallRequest) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			msgs[i].ToolCalls = append(msgs[i].ToolCalls, call)
			return true
		}
	}
	return false
}

// hasToolCallNamed reports whether msgs already carries a request for the
// named tool. Used when a source's inline call ids don't line up with its
// child span ids.
func hasToolCallNamed(msgs []model.Message, name string) bool {
	if name == "" {
		return false
	}
	for _, m := range msgs {
		for _, c := range m.ToolCalls {
			if c.Function.Name == name {
				return true
			}
		}
	}
	return false
}

// hasToolCall reports whether msgs already carries a request with the id,
// so hierarchy-derived calls don't duplicate inline ones.
func hasToolCall(msgs []model.Message, id string) bool {
	if id == "" {
		return false
	}
	for _, m := range msgs {
		for _, c := range m.ToolCalls {
			if c.ID == id {
				return true
			}
		}
	}
	return false
}
