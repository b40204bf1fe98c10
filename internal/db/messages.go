package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/atelier-ai/atelier/internal/conversation"
	"github.com/atelier-ai/atelier/internal/execution"
	"github.com/atelier-ai/atelier/internal/workflow"
)

// MessageRepo is the durable archive of chat history. Redis holds the hot
// window; everything lands here for the history view.
type MessageRepo struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewMessageRepo builds a repository on the client's pool.
func NewMessageRepo(client *Client, logger *zap.Logger) *MessageRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageRepo{db: client.DB(), logger: logger}
}

type messageRow struct {
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	Role           string         `db:"role"`
	Content        string         `db:"content"`
	PersonaID      string         `db:"persona_id"`
	ExecutionLog   sql.NullString `db:"execution_log"`
	CreatedAt      time.Time      `db:"created_at"`
}

type conversationRow struct {
	ID         string    `db:"id"`
	Title      string    `db:"title"`
	Mode       string    `db:"mode"`
	PersonaID  string    `db:"persona_id"`
	WorkflowID string    `db:"workflow_id"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// SaveConversation upserts the conversation row.
func (r *MessageRepo) SaveConversation(ctx context.Context, conv *conversation.Conversation) error {
	q := r.db.Rebind(`UPDATE conversations
		SET title = ?, mode = ?, persona_id = ?, workflow_id = ?, updated_at = ?
		WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q,
		conv.Title, string(conv.Mode), conv.PersonaID, conv.WorkflowID, time.Now().UTC(), conv.ID)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", conv.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	q = r.db.Rebind(`INSERT INTO conversations (id, title, mode, persona_id, workflow_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, q,
		conv.ID, conv.Title, string(conv.Mode), conv.PersonaID, conv.WorkflowID, now, now); err != nil {
		return fmt.Errorf("insert conversation %s: %w", conv.ID, err)
	}
	return nil
}

// SaveMessage archives one message with its execution log.
func (r *MessageRepo) SaveMessage(ctx context.Context, msg conversation.Message) error {
	var logJSON sql.NullString
	if msg.ExecutionLog != nil && !msg.ExecutionLog.Empty() {
		data, err := json.Marshal(msg.ExecutionLog)
		if err != nil {
			return fmt.Errorf("marshal execution log: %w", err)
		}
		logJSON = sql.NullString{String: string(data), Valid: true}
	}

	q := r.db.Rebind(`INSERT INTO messages (id, conversation_id, role, content, persona_id, execution_log, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, q,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.PersonaID, logJSON, msg.Timestamp.UTC()); err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return nil
}

// History returns a conversation's messages oldest first.
func (r *MessageRepo) History(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	if limit <= 0 {
		limit = 200
	}

	var rows []messageRow
	q := r.db.Rebind(`SELECT id, conversation_id, role, content, persona_id, execution_log, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC LIMIT ?`)
	if err := r.db.SelectContext(ctx, &rows, q, conversationID, limit); err != nil {
		return nil, fmt.Errorf("load history for %s: %w", conversationID, err)
	}

	out := make([]conversation.Message, 0, len(rows))
	for _, row := range rows {
		msg := conversation.Message{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			Role:           row.Role,
			Content:        row.Content,
			PersonaID:      row.PersonaID,
			Timestamp:      row.CreatedAt,
		}
		if row.ExecutionLog.Valid {
			var log execution.Log
			if err := json.Unmarshal([]byte(row.ExecutionLog.String), &log); err != nil {
				r.logger.Warn("Dropping unreadable execution log",
					zap.String("message_id", row.ID),
					zap.Error(err),
				)
			} else {
				msg.ExecutionLog = &log
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// GetConversation loads one conversation row without its messages.
func (r *MessageRepo) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	var row conversationRow
	q := r.db.Rebind(`SELECT id, title, mode, persona_id, workflow_id, created_at, updated_at
		FROM conversations WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
		}
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return rowToConversation(row), nil
}

// ListConversations returns all conversations newest first.
func (r *MessageRepo) ListConversations(ctx context.Context) ([]*conversation.Conversation, error) {
	var rows []conversationRow
	q := `SELECT id, title, mode, persona_id, workflow_id, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC`
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]*conversation.Conversation, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToConversation(row))
	}
	return out, nil
}

// DeleteConversation removes a conversation and its messages.
func (r *MessageRepo) DeleteConversation(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	q := tx.Rebind(`DELETE FROM messages WHERE conversation_id = ?`)
	if _, err := tx.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("delete messages for %s: %w", id, err)
	}
	q = tx.Rebind(`DELETE FROM conversations WHERE id = ?`)
	res, err := tx.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
	}
	return tx.Commit()
}

func rowToConversation(row conversationRow) *conversation.Conversation {
	return &conversation.Conversation{
		ID:         row.ID,
		Title:      row.Title,
		Mode:       workflow.Mode(row.Mode),
		PersonaID:  row.PersonaID,
		WorkflowID: row.WorkflowID,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}
