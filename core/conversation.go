package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message within a conversation.
type Role string

const (
	// RoleUser marks a message authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the engine.
	RoleAssistant Role = "assistant"
	// RoleSystem marks instruction or status messages.
	RoleSystem Role = "system"
)

// ToolCall records one tool invocation: the tool name, its arguments, the
// structured result (or error payload) and an optional post-hoc evaluation
// note. Append-only within a WorkingMemory or Message.
type ToolCall struct {
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Evaluation string         `json:"evaluation,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Message is one immutable entry of a conversation's append-only log.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewMessage constructs a message with a fresh ID and UTC timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Conversation is the durable container of one dialogue: owning user,
// optional subject the records belong to, the ordered message log and a
// rolling summary regenerated periodically.
type Conversation struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SubjectID      string    `json:"subject_id,omitempty"`
	Messages       []Message `json:"messages"`
	Summary        string    `json:"summary,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Archived       bool      `json:"archived"`
}

// NewConversation creates an empty conversation owned by userID.
func NewConversation(id, userID, subjectID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:             id,
		UserID:         userID,
		SubjectID:      subjectID,
		Messages:       []Message{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// RecentMessages returns up to n trailing messages, preserving order.
func (c *Conversation) RecentMessages(n int) []Message {
	if n <= 0 || len(c.Messages) == 0 {
		return nil
	}
	if len(c.Messages) <= n {
		out := make([]Message, len(c.Messages))
		copy(out, c.Messages)
		return out
	}
	out := make([]Message, n)
	copy(out, c.Messages[len(c.Messages)-n:])
	return out
}

// NewID generates a new unique identifier for messages, runs and records.
func NewID() string { return uuid.NewString() }
