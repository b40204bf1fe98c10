package conversation

import (
	"errors"
	"time"

	"github.com/atelier-ai/atelier/internal/execution"
	"github.com/atelier-ai/atelier/internal/workflow"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationExpired  = errors.New("conversation expired")
)

// Message roles as they appear on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn. Assistant messages carry the execution log of
// the pipeline run that produced them; user messages never do.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	PersonaID      string         `json:"persona_id,omitempty"`
	ExecutionLog   *execution.Log `json:"execution_log,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Conversation is one chat thread bound to a workflow mode.
type Conversation struct {
	ID         string         `json:"id"`
	Title      string         `json:"title,omitempty"`
	Mode       workflow.Mode  `json:"mode"`
	PersonaID  string         `json:"persona_id,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	History    []Message      `json:"history"`
	Context    map[string]any `json:"context,omitempty"`
}

// IsExpired reports whether the conversation's TTL has lapsed.
func (c *Conversation) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// RecentTurns converts the tail of the history into pipeline turns.
func (c *Conversation) RecentTurns(n int) []execution.Turn {
	if n <= 0 || len(c.History) == 0 {
		return nil
	}
	start := len(c.History) - n
	if start < 0 {
		start = 0
	}
	turns := make([]execution.Turn, 0, len(c.History)-start)
	for _, msg := range c.History[start:] {
		turns = append(turns, execution.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}
