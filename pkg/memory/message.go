package memory

import "github.com/google/uuid"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one immutable entry in a session's history. Ordering is the
// sole source of conversational truth. Timestamp is a per-session
// monotonic counter assigned on append, not wall-clock time.
//
// Synthetic messages (summary and retrieved-context headers) carry an
// empty ID and are never part of the durable log.
type Message struct {
	ID           string   `json:"id"`
	Role         Role     `json:"role"`
	Content      string   `json:"content"`
	ToolCallRefs []string `json:"tool_call_refs,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}

// NewMessage constructs a message with a fresh id. The timestamp is
// assigned when the message is appended to a session.
func NewMessage(role Role, content string, toolCallRefs ...string) Message {
	return Message{
		ID:           uuid.New().String(),
		Role:         role,
		Content:      content,
		ToolCallRefs: toolCallRefs,
	}
}
