package model

// MessageRole is the normalized conversational role of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Message is one conversational turn inside an LLM span.
//
// Content is always a string; structured source content is serialized,
// never dropped. ToolCalls is only meaningful on assistant messages and
// ToolCallID only on tool-result messages.
type Message struct {
	Role       MessageRole       `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID *string           `json:"tool_call_id,omitempty"`
}

// ToolCallRequest records an assistant's decision to invoke a tool.
// The matching execution is a separate SpanKindTool span.
type ToolCallRequest struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the tool and carries its arguments.
//
// Arguments is an opaque serialized string by contract, not a parsed
// object, so it round-trips byte-for-byte through storage.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
