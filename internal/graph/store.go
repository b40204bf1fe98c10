package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	ometrics "github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/nodeconfig"
	"github.com/atelier-ai/atelier/internal/router"
	"github.com/atelier-ai/atelier/internal/workflow"
)

var (
	// ErrNoWorkflow is returned when an operation needs a loaded workflow.
	ErrNoWorkflow = errors.New("no workflow loaded")

	// ErrNodeNotFound is returned when a node id is not in the workflow.
	ErrNodeNotFound = errors.New("node not found")

	// ErrConnectionNotFound is returned when a connection id is not in the
	// workflow.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrNothingToUndo / ErrNothingToRedo report an empty history side.
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// PositionUpdate is one entry of a batch node drag.
type PositionUpdate struct {
	NodeID    string  `json:"node_id"`
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
}

// Repository is the persistence collaborator the store delegates to. The
// store sends either the full node/edge/config set or a minimal
// positions-only payload; it never applies a partial local mutation when
// the collaborator reports failure.
type Repository interface {
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	SaveWorkflow(ctx context.Context, w *workflow.Workflow) error
	SavePositions(ctx context.Context, workflowID string, updates []PositionUpdate) error
}

// Store holds the canonical in-memory workflow the editor operates on and
// tracks unsaved-change state. All methods are safe for concurrent use; the
// editor drives it from a single UI thread but the event feed may read
// snapshots concurrently.
type Store struct {
	mu     sync.Mutex
	logger *zap.Logger
	repo   Repository

	current *workflow.Workflow
	dirty   bool

	undo []command
	redo []command
}

// maxHistory bounds the undo log so long editing sessions keep memory flat.
const maxHistory = 100

// NewStore constructs a graph store backed by the given repository.
func NewStore(repo Repository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, logger: logger}
}

// LoadWorkflow fetches a workflow and replaces the current one, clearing
// the unsaved-changes flag and the undo history. On failure the previous
// workflow stays current.
func (s *Store) LoadWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	w, err := s.repo.GetWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}

	s.mu.Lock()
	s.current = w.Clone()
	s.dirty = false
	s.undo = nil
	s.redo = nil
	s.mu.Unlock()

	ometrics.WorkflowsLoaded.Inc()
	s.logger.Info("Workflow loaded",
		zap.String("workflow_id", w.ID),
		zap.String("mode", string(w.Mode)),
		zap.Int("nodes", len(w.Nodes)),
		zap.Int("connections", len(w.Connections)),
	)
	return w.Clone(), nil
}

// Snapshot returns a deep copy of the current workflow for execution or
// rendering. Returns ErrNoWorkflow when nothing is loaded.
func (s *Store) Snapshot() (*workflow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrNoWorkflow
	}
	return s.current.Clone(), nil
}

// Dirty reports whether unsaved changes exist.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// MarkDirty flags unsaved changes without a structural mutation, used by
// the editor for metadata edits handled outside the store.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// ClearDirty resets the unsaved-changes flag.
func (s *Store) ClearDirty() {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
}

// ApplyNodePositions batch-updates presentation coordinates. It is
// idempotent: re-applying identical positions changes nothing observable,
// including the dirty flag. Position changes are not recorded in the undo
// history; they carry no execution semantics.
func (s *Store) ApplyNodePositions(updates []PositionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoWorkflow
	}

	// Validate the whole batch before touching anything.
	for _, u := range updates {
		if s.current.NodeByID(u.NodeID) == nil {
			return fmt.Errorf("position update for %s: %w", u.NodeID, ErrNodeNotFound)
		}
	}

	changed := false
	for _, u := range updates {
		node := s.current.NodeByID(u.NodeID)
		if node.PositionX != u.PositionX || node.PositionY != u.PositionY {
			node.PositionX = u.PositionX
			node.PositionY = u.PositionY
			changed = true
		}
	}
	if changed {
		s.dirty = true
	}
	return nil
}

// AddNode appends a node to the current workflow.
func (s *Store) AddNode(node workflow.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoWorkflow
	}
	if s.current.NodeByID(node.ID) != nil {
		return fmt.Errorf("node %s already exists", node.ID)
	}
	if node.Config == nil {
		node.Config = nodeconfig.Default(string(node.Type))
	}

	s.current.Nodes = append(s.current.Nodes, node)
	s.dirty = true
	added := cloneNode(node)
	s.record(command{kind: cmdAddNode, node: &added})
	return nil
}

// RemoveNode deletes a node and every connection attached to it.
func (s *Store) RemoveNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoWorkflow
	}
	node := s.current.NodeByID(nodeID)
	if node == nil {
		return fmt.Errorf("remove node %s: %w", nodeID, ErrNodeNotFound)
	}

	removed := cloneNode(*node)
	var detached []workflow.Connection
	kept := s.current.Connections[:0]
	for _, c := range s.current.Connections {
		if c.FromNodeID == nodeID || c.ToNodeID == nodeID {
			detached = append(detached, c)
			continue
		}
		kept = append(kept, c)
	}
	s.current.Connections = kept

	nodes := s.current.Nodes[:0]
	for _, n := range s.current.Nodes {
		if n.ID != nodeID {
			nodes = append(nodes, n)
		}
	}
	s.current.Nodes = nodes

	s.dirty = true
	s.record(command{kind: cmdRemoveNode, node: &removed, conns: detached})
	return nil
}

// AddConnection appends an edge to the current workflow.
func (s *Store) AddConnection(conn workflow.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoWorkflow
	}
	if s.current.ConnectionByID(conn.ID) != nil {
		return fmt.Errorf("connection %s already exists", conn.ID)
	}
	if s.current.NodeByID(conn.FromNodeID) == nil || s.current.NodeByID(conn.ToNodeID) == nil {
		return fmt.Errorf("connection %s: %w", conn.ID, ErrNodeNotFound)
	}

	s.current.Connections = append(s.current.Connections, conn)
	s.dirty = true
	s.record(command{kind: cmdAddConnection, conn: &conn})
	return nil
}

// RemoveConnection deletes one edge. When the edge's source is a router
// node, the condition referencing its route is deliberately left in place:
// edges and conditions are independently mutable, and the orphaned
// condition falls back to the default route on the router's next
// evaluation.
func (s *Store) RemoveConnection(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoWorkflow
	}
	conn := s.current.ConnectionByID(connID)
	if conn == nil {
		return fmt.Errorf("remove connection %s: %w", connID, ErrConnectionNotFound)
	}
	removed := *conn

	kept := s.current.Connections[:0]
	for _, c := range s.current.Connections {
		if c.ID != connID {
			kept = append(kept, c)
		}
	}
	s.current.Connections = kept

	s.dirty = true
	s.record(command{kind: cmdRemoveConnection, conn: &removed})
	s.logger.Debug("Connection removed",
		zap.String("connection_id", connID),
		zap.String("from", removed.FromNodeID),
		zap.String("route", removed.Condition),
	)
	return nil
}

// UpdateNodeConfig shallow-merges a raw JSON patch into a node's config. A
// malformed patch leaves the prior config unchanged and surfaces the parse
// error; nothing is partially applied.
func (s *Store) UpdateNodeConfig(nodeID string, patch json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoWorkflow
	}
	node := s.current.NodeByID(nodeID)
	if node == nil {
		return fmt.Errorf("update config for %s: %w", nodeID, ErrNodeNotFound)
	}

	merged, err := nodeconfig.Merge(node.Config, patch)
	if err != nil {
		return fmt.Errorf("update config for %s: %w", nodeID, err)
	}

	before := node.Config.Clone()
	node.Config = merged
	s.dirty = true
	s.record(command{kind: cmdPatchConfig, nodeID: nodeID, before: before, after: merged.Clone()})
	return nil
}

// SetNodeEnabled toggles a node's enabled flag.
func (s *Store) SetNodeEnabled(nodeID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoWorkflow
	}
	node := s.current.NodeByID(nodeID)
	if node == nil {
		return fmt.Errorf("toggle node %s: %w", nodeID, ErrNodeNotFound)
	}
	if node.IsEnabled == enabled {
		return nil
	}
	node.IsEnabled = enabled
	s.dirty = true
	s.record(command{kind: cmdSetEnabled, nodeID: nodeID, enabledBefore: !enabled, enabledAfter: enabled})
	return nil
}

// Save persists the full node/edge/config set through the repository and
// clears the dirty flag on success. Failure keeps local state untouched.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoWorkflow
	}
	snapshot := s.current.Clone()
	s.mu.Unlock()

	if err := workflow.Validate(snapshot); err != nil {
		ometrics.WorkflowSaves.WithLabelValues("full", "invalid").Inc()
		return fmt.Errorf("save workflow %s: %w", snapshot.ID, err)
	}
	if err := s.repo.SaveWorkflow(ctx, snapshot); err != nil {
		ometrics.WorkflowSaves.WithLabelValues("full", "error").Inc()
		return fmt.Errorf("save workflow %s: %w", snapshot.ID, err)
	}

	s.ClearDirty()
	ometrics.WorkflowSaves.WithLabelValues("full", "ok").Inc()
	s.logger.Info("Workflow saved", zap.String("workflow_id", snapshot.ID))
	return nil
}

// SavePositions sends a positions-only payload for drag operations and
// applies it locally only after the repository accepts it, so a failed
// persistence call never leaves a partial local mutation.
func (s *Store) SavePositions(ctx context.Context, updates []PositionUpdate) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoWorkflow
	}
	id := s.current.ID
	s.mu.Unlock()

	if err := s.repo.SavePositions(ctx, id, updates); err != nil {
		ometrics.WorkflowSaves.WithLabelValues("positions", "error").Inc()
		return fmt.Errorf("save positions for %s: %w", id, err)
	}
	if err := s.ApplyNodePositions(updates); err != nil {
		return err
	}
	ometrics.WorkflowSaves.WithLabelValues("positions", "ok").Inc()
	return nil
}

// ResolveRoute maps a route name selected by the given router node to its
// outgoing connection, falling back to the node's default route. When
// neither resolves, an UnroutableError is returned: a terminal,
// user-visible configuration error for this decision, not a silent drop.
func ResolveRoute(w *workflow.Workflow, nodeID, route string) (workflow.Connection, error) {
	if conn, ok := w.RouteConnection(nodeID, route); ok {
		return conn, nil
	}

	node := w.NodeByID(nodeID)
	if node != nil {
		if cfg, ok := node.Config.(*nodeconfig.RouterConfig); ok && cfg.DefaultRoute != "" && cfg.DefaultRoute != route {
			if conn, ok := w.RouteConnection(nodeID, cfg.DefaultRoute); ok {
				return conn, nil
			}
		}
	}
	ometrics.RouterEvaluations.WithLabelValues("unroutable").Inc()
	return workflow.Connection{}, &router.UnroutableError{NodeID: nodeID, Route: route}
}
