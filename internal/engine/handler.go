package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes scheduler state to operators.
type Handler struct {
	engine *Engine
}

// NewHandler creates a handler over e.
func NewHandler(e *Engine) *Handler {
	return &Handler{engine: e}
}

// Routes returns a chi.Router with the scheduler routes mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.HandleList)
	r.Get("/{action}", h.HandleGet)
	r.Post("/{action}/sweep", h.HandleSweep)
	return r
}

// HandleList handles GET /api/schedulers.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": h.engine.Statuses()})
}

// HandleGet handles GET /api/schedulers/{action}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.engine.Scheduler(chi.URLParam(r, "action"))
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown action")
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

// HandleSweep handles POST /api/schedulers/{action}/sweep.
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	err := h.engine.Trigger(r.Context(), action)
	switch {
	case err == nil:
		s, _ := h.engine.Scheduler(action)
		if s == nil {
			writeJSON(w, http.StatusOK, map[string]string{"task": action, "status": "ok"})
			return
		}
		writeJSON(w, http.StatusOK, s.Status())
	case errors.Is(err, ErrUnknownAction):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown action")
	case errors.Is(err, ErrSweepInProgress):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		slog.Error("engine handler error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("engine handler: write response failed", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}
