package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelier-ai/atelier/internal/db"
	"github.com/atelier-ai/atelier/internal/graph"
	ometrics "github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/workflow"
)

// WorkflowHandler serves the RAG Studio editor: workflow CRUD, node and
// connection edits, position drags, undo. The handler keeps one graph
// store per workflow; the desktop app edits a single workflow at a time
// but tab switches must not lose undo history.
type WorkflowHandler struct {
	repo      *db.WorkflowRepo
	templates *workflow.Registry
	events    *EventHub
	logger    *zap.Logger

	mu     sync.Mutex
	stores map[string]*graph.Store
}

// NewWorkflowHandler wires a workflow handler.
func NewWorkflowHandler(repo *db.WorkflowRepo, templates *workflow.Registry, events *EventHub, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		repo:      repo,
		templates: templates,
		events:    events,
		logger:    logger,
		stores:    make(map[string]*graph.Store),
	}
}

// store returns the graph store for a workflow, loading it on first use.
func (h *WorkflowHandler) store(ctx context.Context, id string) (*graph.Store, error) {
	h.mu.Lock()
	s, ok := h.stores[id]
	if !ok {
		s = graph.NewStore(h.repo, h.logger)
		h.stores[id] = s
	}
	h.mu.Unlock()

	if _, err := s.Snapshot(); err != nil {
		if _, err := s.LoadWorkflow(ctx, id); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (h *WorkflowHandler) dropStore(id string) {
	h.mu.Lock()
	delete(h.stores, id)
	h.mu.Unlock()
}

// List handles GET /api/v1/workflows.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListWorkflows(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createWorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Mode        string `json:"mode"`
	Template    string `json:"template,omitempty"`
}

// Create handles POST /api/v1/workflows. With a template name the new
// workflow is instantiated from it; otherwise the mode's first template
// serves as the starting graph.
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	mode := workflow.Mode(req.Mode)
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "mode must be one of flash, pro, code_rag")
		return
	}

	var tmpl *workflow.Template
	if req.Template != "" {
		entry, ok := h.templates.Get(req.Template)
		if !ok {
			writeError(w, http.StatusNotFound, "template not found: "+req.Template)
			return
		}
		tmpl = entry.Template
	} else {
		entry, ok := h.templates.FindByMode(mode)
		if !ok {
			writeError(w, http.StatusNotFound, "no template available for mode "+req.Mode)
			return
		}
		tmpl = entry.Template
	}

	wf, err := tmpl.Instantiate(req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	wf.Mode = mode
	wf.Description = req.Description

	if err := h.repo.CreateWorkflow(r.Context(), wf); err != nil {
		writeDomainError(w, err)
		return
	}

	ometrics.WorkflowsCreated.WithLabelValues(string(mode)).Inc()
	h.events.Publish(EventWorkflowCreated, map[string]string{"workflow_id": wf.ID})
	writeJSON(w, http.StatusCreated, wf)
}

// Get handles GET /api/v1/workflows/{id}.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.store(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	wf, err := s.Snapshot()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// Save handles PUT /api/v1/workflows/{id}: the editor's explicit save of
// the full node/edge/config set.
func (h *WorkflowHandler) Save(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var wf workflow.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow payload: "+err.Error())
		return
	}
	wf.ID = id

	if err := workflow.Validate(&wf); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.repo.SaveWorkflow(r.Context(), &wf); err != nil {
		writeDomainError(w, err)
		return
	}

	// The stored definition changed underneath any cached editing state.
	h.dropStore(id)
	h.events.Publish(EventWorkflowSaved, map[string]string{"workflow_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": id})
}

// Delete handles DELETE /api/v1/workflows/{id}.
func (h *WorkflowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.repo.DeleteWorkflow(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	ometrics.WorkflowsDeleted.Inc()
	h.dropStore(id)
	h.events.Publish(EventWorkflowDeleted, map[string]string{"workflow_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": id})
}

// UpdatePositions handles PATCH /api/v1/workflows/{id}/positions with the
// batch payload from a node drag.
func (h *WorkflowHandler) UpdatePositions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var updates []graph.PositionUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid positions payload: "+err.Error())
		return
	}

	s, err := h.store(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.SavePositions(r.Context(), updates); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(updates)})
}

// DeleteConnection handles DELETE /api/v1/workflows/{id}/connections/{connId}.
// Only the edge goes; a router condition labeled with its route stays.
func (h *WorkflowHandler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	connID := r.PathValue("connId")

	s, err := h.store(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.RemoveConnection(connID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.Save(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	h.events.Publish(EventWorkflowSaved, map[string]string{"workflow_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"connection_id": connID})
}

type addConnectionRequest struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	Condition  string `json:"condition,omitempty"`
}

// AddConnection handles POST /api/v1/workflows/{id}/connections.
func (h *WorkflowHandler) AddConnection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req addConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid connection payload: "+err.Error())
		return
	}

	s, err := h.store(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn := workflow.Connection{
		ID:         uuid.New().String(),
		FromNodeID: req.FromNodeID,
		ToNodeID:   req.ToNodeID,
		Condition:  req.Condition,
	}
	if err := s.AddConnection(conn); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.Save(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	h.events.Publish(EventWorkflowSaved, map[string]string{"workflow_id": id})
	writeJSON(w, http.StatusCreated, conn)
}

// UpdateNodeConfig handles PATCH /api/v1/workflows/{id}/nodes/{nodeId}/config
// with a shallow JSON merge into the node's typed config.
func (h *WorkflowHandler) UpdateNodeConfig(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	nodeID := r.PathValue("nodeId")

	var patch json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config payload: "+err.Error())
		return
	}

	s, err := h.store(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.UpdateNodeConfig(nodeID, patch); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.Save(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}

	wf, _ := s.Snapshot()
	node := wf.NodeByID(nodeID)
	writeJSON(w, http.StatusOK, node)
}

// Undo handles POST /api/v1/workflows/{id}/undo.
func (h *WorkflowHandler) Undo(w http.ResponseWriter, r *http.Request) {
	h.applyHistory(w, r, func(s *graph.Store) error { return s.Undo() })
}

// Redo handles POST /api/v1/workflows/{id}/redo.
func (h *WorkflowHandler) Redo(w http.ResponseWriter, r *http.Request) {
	h.applyHistory(w, r, func(s *graph.Store) error { return s.Redo() })
}

func (h *WorkflowHandler) applyHistory(w http.ResponseWriter, r *http.Request, op func(*graph.Store) error) {
	s, err := h.store(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := op(s); err != nil {
		writeDomainError(w, err)
		return
	}
	wf, err := s.Snapshot()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// ListTemplates handles GET /api/v1/templates.
func (h *WorkflowHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.templates.List())
}
