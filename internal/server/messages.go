package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atelier-ai/atelier/internal/conversation"
	"github.com/atelier-ai/atelier/internal/db"
	"github.com/atelier-ai/atelier/internal/execution"
	ometrics "github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/personas"
	"github.com/atelier-ai/atelier/internal/workflow"
)

// historyTurns is how many prior exchanges ride along to the llm stage.
const historyTurns = 20

// MessageHandler drives the chat pipeline: resolve the conversation and
// workflow, run the graph, persist both sides of the exchange, push the
// new message to the event feed.
type MessageHandler struct {
	conversations *conversation.Manager
	archive       *db.MessageRepo
	workflows     *db.WorkflowRepo
	personas      *personas.Store
	runner        *execution.Runner
	events        *EventHub
	logger        *zap.Logger
}

// NewMessageHandler wires a message handler.
func NewMessageHandler(
	conversations *conversation.Manager,
	archive *db.MessageRepo,
	workflows *db.WorkflowRepo,
	personaStore *personas.Store,
	runner *execution.Runner,
	events *EventHub,
	logger *zap.Logger,
) *MessageHandler {
	return &MessageHandler{
		conversations: conversations,
		archive:       archive,
		workflows:     workflows,
		personas:      personaStore,
		runner:        runner,
		events:        events,
		logger:        logger,
	}
}

type postMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
	PersonaID      string `json:"persona_id,omitempty"`
	Mode           string `json:"mode"`
	WorkflowID     string `json:"workflow_id,omitempty"`
}

// Post handles POST /api/v1/messages. Without a conversation_id a new
// conversation starts; without a workflow_id the mode's most recent
// workflow runs.
func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	mode := workflow.Mode(req.Mode)
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "mode must be one of flash, pro, code_rag")
		return
	}

	ctx := r.Context()

	// Resolve or start the conversation.
	var conv *conversation.Conversation
	var err error
	if req.ConversationID != "" {
		conv, err = h.conversations.Get(ctx, req.ConversationID)
	} else {
		conv, err = h.conversations.Create(ctx, mode, req.PersonaID, req.WorkflowID)
	}
	if err != nil {
		ometrics.MessagesProcessed.WithLabelValues(string(mode), "error").Inc()
		writeDomainError(w, err)
		return
	}

	// Resolve the workflow to run.
	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = conv.WorkflowID
	}
	var wf *workflow.Workflow
	if workflowID != "" {
		wf, err = h.workflows.GetWorkflow(ctx, workflowID)
	} else {
		wf, err = h.workflows.FindByMode(ctx, mode)
	}
	if err != nil {
		ometrics.MessagesProcessed.WithLabelValues(string(mode), "error").Inc()
		writeDomainError(w, err)
		return
	}

	// Resolve the persona prompt if one applies.
	personaID := req.PersonaID
	if personaID == "" {
		personaID = conv.PersonaID
	}
	personaName := ""
	if personaID != "" {
		profile, err := h.personas.Get(personaID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		personaName = profile.Name
		if personaName == "" {
			personaName = profile.ID
		}
	}

	userMsg := conversation.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           conversation.RoleUser,
		Content:        req.Content,
		PersonaID:      personaID,
		Timestamp:      time.Now(),
	}

	result, err := h.runner.Run(ctx, wf, execution.Input{
		Message: req.Content,
		Persona: personaName,
		History: conv.RecentTurns(historyTurns),
	})
	if err != nil {
		ometrics.MessagesProcessed.WithLabelValues(string(mode), "error").Inc()
		h.logger.Error("Pipeline run failed",
			zap.String("workflow_id", wf.ID),
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		writeDomainError(w, err)
		return
	}

	assistantMsg := conversation.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           conversation.RoleAssistant,
		Content:        result.Content,
		PersonaID:      personaID,
		ExecutionLog:   &result.Log,
		Timestamp:      time.Now(),
	}

	// Persist both turns: hot history in Redis, archive in the database.
	for _, msg := range []conversation.Message{userMsg, assistantMsg} {
		if err := h.conversations.AppendMessage(ctx, conv.ID, msg); err != nil {
			h.logger.Warn("Failed to append to hot history", zap.Error(err))
		}
		if err := h.archive.SaveMessage(ctx, msg); err != nil {
			h.logger.Warn("Failed to archive message", zap.Error(err))
		}
	}
	if err := h.archive.SaveConversation(ctx, conv); err != nil {
		h.logger.Warn("Failed to archive conversation", zap.Error(err))
	}

	ometrics.MessagesProcessed.WithLabelValues(string(mode), "ok").Inc()
	h.logger.Info("Message processed",
		zap.String("conversation_id", conv.ID),
		zap.String("workflow_id", wf.ID),
		zap.String("route", result.Route),
		zap.Duration("duration", time.Since(start)),
	)

	h.events.Publish(EventMessageCreated, assistantMsg)
	writeJSON(w, http.StatusOK, assistantMsg)
}

// ListConversations handles GET /api/v1/conversations.
func (h *MessageHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.archive.ListConversations(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// History handles GET /api/v1/conversations/{id}/messages.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	if _, err := h.archive.GetConversation(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	msgs, err := h.archive.History(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}.
func (h *MessageHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.archive.DeleteConversation(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	// Best effort on the hot copy; it expires on its own anyway.
	if err := h.conversations.Delete(r.Context(), id); err != nil {
		h.logger.Debug("Hot conversation already gone", zap.String("conversation_id", id))
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": id})
}
