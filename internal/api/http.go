// Package api exposes the decision pipeline over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/krishx06/SKAG-MedTech/internal/audit"
	"github.com/krishx06/SKAG-MedTech/internal/hospital"
	"github.com/krishx06/SKAG-MedTech/internal/notification"
	"github.com/krishx06/SKAG-MedTech/internal/pipeline"
	"github.com/krishx06/SKAG-MedTech/internal/shared/auth"
	"github.com/krishx06/SKAG-MedTech/internal/shared/config"
	"github.com/krishx06/SKAG-MedTech/internal/shared/errors"
	"github.com/krishx06/SKAG-MedTech/internal/shared/events"
	"github.com/krishx06/SKAG-MedTech/internal/state"
)

// Handler provides HTTP handlers for the pipeline API
type Handler struct {
	store         *state.Store
	coordinator   *pipeline.Coordinator
	bus           *events.Bus
	hub           *Hub
	authConfig    config.AuthConfig
	notifications *notification.Dispatcher
	audit         *audit.Handler
}

// NewHandler creates a new API handler
func NewHandler(store *state.Store, coordinator *pipeline.Coordinator, bus *events.Bus, hub *Hub, authConfig config.AuthConfig) *Handler {
	return &Handler{
		store:       store,
		coordinator: coordinator,
		bus:         bus,
		hub:         hub,
		authConfig:  authConfig,
	}
}

// AttachNotifications enables the notification endpoints. Call before Routes.
func (h *Handler) AttachNotifications(d *notification.Dispatcher) {
	h.notifications = d
}

// AttachAudit enables the audit trail endpoints. Call before Routes.
func (h *Handler) AttachAudit(a *audit.Handler) {
	h.audit = a
}

// Routes registers the API routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/patients", h.ListPatients)
	r.Post("/patients", h.AdmitPatient)
	r.Get("/patients/{patientID}", h.GetPatient)
	r.Get("/patients/{patientID}/risk", h.GetPatientRisk)
	r.Post("/patients/{patientID}/evaluate", h.EvaluatePatient)
	r.Post("/evaluate/batch", h.BatchEvaluate)

	r.Get("/capacity", h.GetCapacity)

	r.Get("/decisions", h.ListDecisions)
	r.Get("/decisions/pending-review", h.ListPendingReview)
	r.Get("/decisions/{decisionID}", h.GetDecision)
	r.With(auth.Middleware(h.authConfig)).
		Post("/decisions/{decisionID}/execute", h.ExecuteDecision)

	r.Get("/events", h.ListEvents)
	r.Get("/state/summary", h.GetStateSummary)
	r.Get("/stats", h.GetStats)

	if h.notifications != nil {
		r.Get("/notifications", h.ListNotifications)
		r.Get("/notifications/stats", h.GetNotificationStats)
		r.With(auth.Middleware(h.authConfig)).
			Post("/notifications/{notificationID}/ack", h.AcknowledgeNotification)
	}

	if h.audit != nil {
		r.Mount("/audit", h.audit.Routes())
	}

	return r
}

// ListPatients returns tracked patients, optionally filtered by location or
// narrowed to the high risk cohort
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	var patients []*hospital.Patient
	switch {
	case r.URL.Query().Get("location") != "":
		patients = h.store.PatientsByLocation(r.URL.Query().Get("location"))
	case r.URL.Query().Get("high_risk") == "true":
		patients = h.store.HighRiskPatients()
	default:
		patients = h.store.Patients()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patients": patients,
	})
}

// GetPatient returns a single patient with their latest decision
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	patient, err := h.store.Patient(patientID)
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]any{"patient": patient}
	if latest, err := h.store.LatestDecision(patientID); err == nil {
		response["latest_decision"] = latest
	}
	writeJSON(w, http.StatusOK, response)
}

// AdmitPatient registers a new patient and announces the admission
func (h *Handler) AdmitPatient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Patient       hospital.Patient `json:"patient"`
		AdmissionUnit string           `json:"admission_unit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Patient.ID == "" {
		writeError(w, errors.Validation("patient.id is required", nil))
		return
	}
	if req.Patient.AcuityLevel < hospital.AcuityResuscitation || req.Patient.AcuityLevel > hospital.AcuityNonUrgent {
		writeError(w, errors.Validation("patient.acuity_level must be between 1 and 5", nil))
		return
	}
	if req.Patient.AdmissionTime.IsZero() {
		req.Patient.AdmissionTime = time.Now().UTC()
	}
	if req.Patient.Status == "" {
		req.Patient.Status = hospital.PatientStatusWaiting
	}

	event := events.NewEvent(events.KindPatientAdmitted, "api", events.PatientAdmittedPayload{
		Patient:       req.Patient,
		AdmissionUnit: req.AdmissionUnit,
	}).WithPriority(7)
	if err := h.bus.Publish(r.Context(), event); err != nil {
		writeError(w, errors.Wrap(err, "failed to publish admission"))
		return
	}

	patient, err := h.store.Patient(req.Patient.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"patient": patient})
}

// GetPatientRisk returns the patient's risk inputs and the score breakdown
// from their latest decision
func (h *Handler) GetPatientRisk(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	patient, err := h.store.Patient(patientID)
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]any{
		"patient_id":      patient.ID,
		"risk_score":      patient.RiskScore,
		"risk_factors":    patient.RiskFactors,
		"critical_vitals": patient.Vitals.IsCritical(),
		"high_risk":       patient.IsHighRisk(),
	}
	if latest, err := h.store.LatestDecision(patientID); err == nil {
		response["score"] = latest.Score
		response["breakdown"] = latest.Score.Breakdown()
	}
	writeJSON(w, http.StatusOK, response)
}

// EvaluatePatient triggers an immediate evaluation, bypassing the debounce
func (h *Handler) EvaluatePatient(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	d, err := h.coordinator.Evaluate(r.Context(), patientID, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decision": d})
}

// BatchEvaluate evaluates a set of patients, reporting per-patient failures.
// An absent body or an empty patient_ids list evaluates everyone tracked.
func (h *Handler) BatchEvaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientIDs []string `json:"patient_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, h.coordinator.BatchEvaluate(r.Context(), req.PatientIDs))
}

// GetCapacity returns the current capacity snapshot
func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"capacity": h.store.Capacity(),
	})
}

// ListDecisions returns retained decisions, newest first
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	limit := queryInt(r, "limit", 50)

	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": h.store.Decisions(patientID, limit),
	})
}

// ListPendingReview returns low-confidence pending decisions awaiting a human
func (h *Handler) ListPendingReview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": h.coordinator.PendingReview(),
	})
}

// GetDecision returns a single decision
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.Decision(chi.URLParam(r, "decisionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decision": d})
}

// ExecuteDecision acknowledges a decision on behalf of the authenticated
// operator. Executing twice conflicts.
func (h *Handler) ExecuteDecision(w http.ResponseWriter, r *http.Request) {
	operator := auth.GetOperator(r.Context())
	if operator == nil {
		writeError(w, errors.Unauthorized("operator identity required"))
		return
	}

	d, err := h.coordinator.ExecuteDecision(r.Context(), chi.URLParam(r, "decisionID"), operator.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decision": d})
}

// ListEvents returns recent bus history
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	kind := events.Kind(r.URL.Query().Get("kind"))
	limit := queryInt(r, "limit", 100)

	writeJSON(w, http.StatusOK, map[string]any{
		"events": h.bus.History(kind, limit),
	})
}

// GetStateSummary returns a compact view of the tracked state
func (h *Handler) GetStateSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Summarize())
}

// ListNotifications returns recent staff notifications, newest first
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": h.notifications.Recent(limit),
	})
}

// GetNotificationStats returns notification delivery counters
func (h *Handler) GetNotificationStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.notifications.Stats())
}

// AcknowledgeNotification marks a notification as seen by the authenticated
// operator
func (h *Handler) AcknowledgeNotification(w http.ResponseWriter, r *http.Request) {
	operator := auth.GetOperator(r.Context())
	if operator == nil {
		writeError(w, errors.Unauthorized("operator identity required"))
		return
	}

	n, err := h.notifications.Acknowledge(chi.URLParam(r, "notificationID"), operator.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification": n})
}

// GetStats returns pipeline, store and bus statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": h.coordinator.DecisionStats(),
		"state":     h.store.Summarize(),
		"bus":       h.bus.Stats(),
		"feed": map[string]int{
			"clients": h.hub.ClientCount(),
		},
	})
}

// --- Helpers ---

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
