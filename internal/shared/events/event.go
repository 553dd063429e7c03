package events

import (
	"time"

	"github.com/krishx06/SKAG-MedTech/internal/hospital"
	"github.com/krishx06/SKAG-MedTech/internal/shared/types"
)

// Kind identifies the type of an event on the bus
type Kind string

const (
	// Upstream producer updates
	KindRiskUpdate     Kind = "risk.update"
	KindCapacityUpdate Kind = "capacity.update"
	KindFlowUpdate     Kind = "flow.update"

	// Decisions
	KindDecisionMade     Kind = "decision.made"
	KindDecisionExecuted Kind = "decision.executed"

	// Patient events
	KindPatientAdmitted   Kind = "patient.admitted"
	KindPatientDischarged Kind = "patient.discharged"
	KindVitalsUpdated     Kind = "patient.vitals_updated"

	// System events
	KindSystemAlert Kind = "system.alert"
)

// DefaultPriority is the delivery priority assigned when none is set
const DefaultPriority = 5

// Event is the envelope for everything flowing through the bus. Events are
// never mutated after publish.
type Event struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	Priority      int       `json:"priority"` // 1-10, 10 = highest
	CorrelationID string    `json:"correlation_id,omitempty"`

	Payload any `json:"payload"`
}

// NewEvent creates a new event with an auto-generated ID and timestamp
func NewEvent(kind Kind, source string, payload any) Event {
	return Event{
		ID:        types.NewPrefixedID("evt"),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Priority:  DefaultPriority,
		Payload:   payload,
	}
}

// WithPriority sets the delivery priority, clamped to 1-10
func (e Event) WithPriority(priority int) Event {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	e.Priority = priority
	return e
}

// WithCorrelation sets the correlation ID for tracing related events
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// RiskUpdatePayload is published by the risk producer when a patient's risk
// score changes
type RiskUpdatePayload struct {
	PatientID      string             `json:"patient_id"`
	OldScore       float64            `json:"old_score"` // 0-100
	NewScore       float64            `json:"new_score"` // 0-100
	RiskFactors    map[string]float64 `json:"risk_factors,omitempty"`
	Trend          string             `json:"trend"` // increasing, decreasing, stable
	AlertTriggered bool               `json:"alert_triggered"`
}

// ScoreDelta returns the change in risk score
func (p RiskUpdatePayload) ScoreDelta() float64 {
	return p.NewScore - p.OldScore
}

// IsSignificantChange checks if the change exceeds 10 points
func (p RiskUpdatePayload) IsSignificantChange() bool {
	delta := p.ScoreDelta()
	if delta < 0 {
		delta = -delta
	}
	return delta >= 10
}

// CapacityUpdatePayload is published by the capacity producer. It carries the
// complete replacement snapshot plus a summary of what changed.
type CapacityUpdatePayload struct {
	UnitID             string  `json:"unit_id"`
	UnitName           string  `json:"unit_name"`
	AvailabilityChange int     `json:"availability_change"` // positive = more available
	NewAvailable       int     `json:"new_available"`
	NewOccupancyRate   float64 `json:"new_occupancy_rate"` // 0-100

	// PredictionVariance is the producer's stated variance for its
	// discharge and admission predictions, 0-1
	PredictionVariance float64 `json:"prediction_variance,omitempty"`

	Snapshot *hospital.CapacitySnapshot `json:"snapshot,omitempty"`
}

// IsCriticalCapacity checks if capacity is critically low
func (p CapacityUpdatePayload) IsCriticalCapacity() bool {
	return p.NewAvailable <= 1 || p.NewOccupancyRate >= 95
}

// FlowUpdatePayload is published by the flow producer with routing
// recommendations for a patient
type FlowUpdatePayload struct {
	PatientID               string   `json:"patient_id"`
	RecommendedDestination  string   `json:"recommended_destination"`
	AlternativeDestinations []string `json:"alternative_destinations,omitempty"`
	EstimatedWaitMinutes    int      `json:"estimated_wait_minutes"`
	FlowBottleneck          string   `json:"flow_bottleneck,omitempty"`
	Recommendations         []string `json:"recommendations,omitempty"`
}

// VitalsUpdatePayload is published when a patient's vitals are re-measured
type VitalsUpdatePayload struct {
	PatientID  string              `json:"patient_id"`
	Vitals     hospital.VitalSigns `json:"vitals"`
	IsCritical bool                `json:"is_critical"`
}

// PatientAdmittedPayload is published on patient admission
type PatientAdmittedPayload struct {
	Patient       hospital.Patient `json:"patient"`
	AdmissionUnit string           `json:"admission_unit"`
}

// PatientDischargedPayload is published on patient discharge
type PatientDischargedPayload struct {
	PatientID     string `json:"patient_id"`
	DischargeUnit string `json:"discharge_unit"`
	Destination   string `json:"destination"` // home, transfer, AMA, deceased
}

// DecisionMadePayload is emitted by the pipeline for downstream consumers
// such as the transport layer and notification targets
type DecisionMadePayload struct {
	DecisionID       string  `json:"decision_id"`
	PatientID        string  `json:"patient_id"`
	DecisionType     string  `json:"decision_type"`
	PriorityScore    float64 `json:"priority_score"`
	ReasoningSummary string  `json:"reasoning_summary"`
	RequiresAck      bool    `json:"requires_ack"`
}

// DecisionExecutedPayload is emitted when an operator acknowledges a decision
type DecisionExecutedPayload struct {
	DecisionID string `json:"decision_id"`
	PatientID  string `json:"patient_id"`
	ExecutedBy string `json:"executed_by"`
}

// SystemAlertPayload is a system-wide alert
type SystemAlertPayload struct {
	Level          string   `json:"level"` // info, warning, error, critical
	Message        string   `json:"message"`
	AffectedUnits  []string `json:"affected_units,omitempty"`
	ActionRequired bool     `json:"action_required"`
}
