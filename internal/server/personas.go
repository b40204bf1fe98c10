package server

import (
	"net/http"

	"github.com/atelier-ai/atelier/internal/personas"
)

// PersonaHandler lists the persona profiles the UI can offer.
type PersonaHandler struct {
	store *personas.Store
}

// NewPersonaHandler wires a persona handler.
func NewPersonaHandler(store *personas.Store) *PersonaHandler {
	return &PersonaHandler{store: store}
}

// List handles GET /api/v1/personas, optionally filtered by keyword.
func (h *PersonaHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter *personas.Filter
	if kw := r.URL.Query()["keyword"]; len(kw) > 0 {
		filter = &personas.Filter{Keywords: kw}
	}
	writeJSON(w, http.StatusOK, h.store.List(filter))
}

// Get handles GET /api/v1/personas/{id}.
func (h *PersonaHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
