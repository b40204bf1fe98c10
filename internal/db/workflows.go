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

	"github.com/atelier-ai/atelier/internal/graph"
	"github.com/atelier-ai/atelier/internal/workflow"
)

// WorkflowRepo persists workflows as JSON definition blobs. The graph
// structure is opaque to SQL; queries address workflows by id and mode.
type WorkflowRepo struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewWorkflowRepo builds a repository on the client's pool.
func NewWorkflowRepo(client *Client, logger *zap.Logger) *WorkflowRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowRepo{db: client.DB(), logger: logger}
}

type workflowRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Mode        string    `db:"mode"`
	Description string    `db:"description"`
	Definition  string    `db:"definition"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// definition is the stored JSON blob: the graph without its identity row.
type definition struct {
	Nodes       []workflow.Node       `json:"nodes"`
	Connections []workflow.Connection `json:"connections"`
}

// WorkflowSummary is the listing shape, definition omitted.
type WorkflowSummary struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Mode        workflow.Mode `json:"mode"`
	Description string        `json:"description"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// GetWorkflow loads one workflow with its full graph.
func (r *WorkflowRepo) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var row workflowRow
	q := r.db.Rebind(`SELECT id, name, mode, description, definition, created_at, updated_at
		FROM workflows WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
		}
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return rowToWorkflow(row)
}

// SaveWorkflow upserts the full definition.
func (r *WorkflowRepo) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	def, err := json.Marshal(definition{Nodes: w.Nodes, Connections: w.Connections})
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	now := time.Now().UTC()
	q := r.db.Rebind(`UPDATE workflows
		SET name = ?, mode = ?, description = ?, definition = ?, updated_at = ?
		WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, w.Name, string(w.Mode), w.Description, string(def), now, w.ID)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", w.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("workflow %s: %w", w.ID, ErrWorkflowNotFound)
	}
	return nil
}

// SavePositions patches only node coordinates inside the stored blob, in
// one transaction so a concurrent save never sees half-moved nodes.
func (r *WorkflowRepo) SavePositions(ctx context.Context, workflowID string, updates []graph.PositionUpdate) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin positions tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	q := tx.Rebind(`SELECT definition FROM workflows WHERE id = ?`)
	if err := tx.GetContext(ctx, &raw, q, workflowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("workflow %s: %w", workflowID, ErrWorkflowNotFound)
		}
		return fmt.Errorf("load definition: %w", err)
	}

	var def definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return fmt.Errorf("unmarshal definition: %w", err)
	}

	byID := make(map[string]*workflow.Node, len(def.Nodes))
	for i := range def.Nodes {
		byID[def.Nodes[i].ID] = &def.Nodes[i]
	}
	for _, u := range updates {
		node, ok := byID[u.NodeID]
		if !ok {
			return fmt.Errorf("position update for %s: node not in workflow %s", u.NodeID, workflowID)
		}
		node.PositionX = u.PositionX
		node.PositionY = u.PositionY
	}

	patched, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	q = tx.Rebind(`UPDATE workflows SET definition = ?, updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, q, string(patched), time.Now().UTC(), workflowID); err != nil {
		return fmt.Errorf("update positions: %w", err)
	}
	return tx.Commit()
}

// CreateWorkflow inserts a new workflow.
func (r *WorkflowRepo) CreateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	def, err := json.Marshal(definition{Nodes: w.Nodes, Connections: w.Connections})
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	now := time.Now().UTC()
	q := r.db.Rebind(`INSERT INTO workflows (id, name, mode, description, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, q, w.ID, w.Name, string(w.Mode), w.Description, string(def), now, now); err != nil {
		return fmt.Errorf("create workflow %s: %w", w.ID, err)
	}

	r.logger.Info("Workflow created",
		zap.String("workflow_id", w.ID),
		zap.String("mode", string(w.Mode)),
	)
	return nil
}

// DeleteWorkflow removes a workflow permanently.
func (r *WorkflowRepo) DeleteWorkflow(ctx context.Context, id string) error {
	q := r.db.Rebind(`DELETE FROM workflows WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete workflow %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrWorkflowNotFound)
	}
	r.logger.Info("Workflow deleted", zap.String("workflow_id", id))
	return nil
}

// ListWorkflows returns summaries ordered by most recently updated.
func (r *WorkflowRepo) ListWorkflows(ctx context.Context) ([]WorkflowSummary, error) {
	var rows []workflowRow
	q := `SELECT id, name, mode, description, '' AS definition, created_at, updated_at
		FROM workflows ORDER BY updated_at DESC`
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	out := make([]WorkflowSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, WorkflowSummary{
			ID:          row.ID,
			Name:        row.Name,
			Mode:        workflow.Mode(row.Mode),
			Description: row.Description,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return out, nil
}

// FindByMode returns the most recently updated workflow for a mode, used
// when a chat message arrives without an explicit workflow.
func (r *WorkflowRepo) FindByMode(ctx context.Context, mode workflow.Mode) (*workflow.Workflow, error) {
	var row workflowRow
	q := r.db.Rebind(`SELECT id, name, mode, description, definition, created_at, updated_at
		FROM workflows WHERE mode = ? ORDER BY updated_at DESC LIMIT 1`)
	if err := r.db.GetContext(ctx, &row, q, string(mode)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mode %s: %w", mode, ErrWorkflowNotFound)
		}
		return nil, fmt.Errorf("find workflow for mode %s: %w", mode, err)
	}
	return rowToWorkflow(row)
}

func rowToWorkflow(row workflowRow) (*workflow.Workflow, error) {
	var def definition
	if err := json.Unmarshal([]byte(row.Definition), &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition for %s: %w", row.ID, err)
	}
	return &workflow.Workflow{
		ID:          row.ID,
		Name:        row.Name,
		Mode:        workflow.Mode(row.Mode),
		Description: row.Description,
		Nodes:       def.Nodes,
		Connections: def.Connections,
	}, nil
}
