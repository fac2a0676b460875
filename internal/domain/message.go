package domain

import "fmt"

// Role is the author of a conversation message.
type Role string

// Role constants for message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is a single entry of a conversation transcript.
// Assistant messages may carry the tool calls the model issued; tool messages
// answer one of those calls and carry its ID in ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolMessage builds a tool-role message answering the call with the given ID.
func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// AssistantToolCallMessage builds the assistant message that records the tool
// calls of a first completion pass, so a second pass can see what was asked.
func AssistantToolCallMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// LatestUserUtterance returns the content of the last user message, or "" if
// the transcript has none.
func LatestUserUtterance(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// CheckInbound verifies that a caller-supplied message only uses the roles a
// client may send. Tool messages are produced by the pipeline, never accepted.
func CheckInbound(m Message) error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	default:
		return NewDomainError("Message.CheckInbound", ErrInvalidInput, fmt.Sprintf("role %q not allowed", m.Role))
	}
}
