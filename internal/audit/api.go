package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/krishx06/SKAG-MedTech/internal/shared/errors"
)

// Handler exposes the audit trail over HTTP
type Handler struct {
	trail *Trail
}

// NewHandler creates an audit API handler
func NewHandler(trail *Trail) *Handler {
	return &Handler{trail: trail}
}

// Routes registers the audit routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListEntries)
	r.Get("/verify", h.VerifyChain)
	r.Get("/{entryID}", h.GetEntry)

	return r
}

// ListEntries returns audit entries, newest first, with optional filters
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		Action:       r.URL.Query().Get("action"),
		ActorID:      r.URL.Query().Get("actor_id"),
		ResourceType: r.URL.Query().Get("resource_type"),
		PatientID:    r.URL.Query().Get("patient_id"),
		Limit:        50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			filter.Limit = v
		}
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, apperrors.BadRequest("since must be RFC 3339"))
			return
		}
		filter.Since = &since
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": h.trail.List(filter),
		"total":   h.trail.Len(),
		"head":    h.trail.Head(),
	})
}

// VerifyChain recomputes and checks the full retained chain
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	result := h.trail.Verify()

	status := http.StatusOK
	if !result.Valid {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// GetEntry returns a single audit entry
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.trail.Get(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*apperrors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error": appErr.Message,
			"code":  appErr.Code,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
