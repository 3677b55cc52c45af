package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes read-only registry lookups for operators.
type Handler struct {
	reg *Registry
}

// NewHandler creates a new agent handler.
func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg}
}

// Routes returns a chi.Router with all agent routes mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.HandleList)
	r.Get("/{id}", h.HandleGet)
	return r
}

// HandleGet handles GET /api/agents/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.reg.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandleList handles GET /api/agents?behavior=earnGold.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	behavior := r.URL.Query().Get("behavior")
	if behavior == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "behavior is required")
		return
	}

	agents, err := h.reg.ListEligible(r.Context(), behavior, nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	writeJSON(w, http.StatusOK, listResponse{Behavior: behavior, Count: len(ids), IDs: ids})
}

// --- response types ---

type listResponse struct {
	Behavior string   `json:"behavior"`
	Count    int      `json:"count"`
	IDs      []string `json:"ids"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("agent handler: write response failed", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "agent not found")
	default:
		slog.Error("agent handler error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
