package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atelier-ai/atelier/internal/conversation"
	"github.com/atelier-ai/atelier/internal/db"
	"github.com/atelier-ai/atelier/internal/graph"
	"github.com/atelier-ai/atelier/internal/nodeconfig"
	"github.com/atelier-ai/atelier/internal/router"
	"github.com/atelier-ai/atelier/internal/workflow"
)

// envelope is the uniform response shape: data on success, message on
// failure, never both.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		vErr *workflow.ValidationError
		uErr *router.UnroutableError
	)
	switch {
	case errors.Is(err, db.ErrWorkflowNotFound),
		errors.Is(err, db.ErrConversationNotFound),
		errors.Is(err, conversation.ErrConversationNotFound),
		errors.Is(err, graph.ErrNodeNotFound),
		errors.Is(err, graph.ErrConnectionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, conversation.ErrConversationExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.As(err, &vErr),
		nodeconfig.IsParseError(err),
		nodeconfig.IsValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &uErr):
		// A route with no edge is a configuration error the user must fix
		// in the editor, not a server fault.
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, graph.ErrNothingToUndo), errors.Is(err, graph.ErrNothingToRedo):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
