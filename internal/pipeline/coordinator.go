// Package pipeline wires the producers, the state store, the scoring engine
// and the arbiter into the live decision loop. The coordinator listens on
// the event bus, re-evaluates affected patients and publishes the resulting
// decisions.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krishx06/SKAG-MedTech/internal/decision"
	"github.com/krishx06/SKAG-MedTech/internal/hospital"
	"github.com/krishx06/SKAG-MedTech/internal/shared/events"
	"github.com/krishx06/SKAG-MedTech/internal/shared/metrics"
	"github.com/krishx06/SKAG-MedTech/internal/state"
)

const subscriberName = "pipeline-coordinator"

// Config holds pipeline configuration
type Config struct {
	// Debounce suppresses repeat evaluations of the same patient within
	// this window. Event-driven triggers respect it, manual triggers
	// bypass it.
	Debounce time.Duration

	// MinConfidence flags decisions for human review below this level
	MinConfidence float64
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		Debounce:      5 * time.Second,
		MinConfidence: 0.60,
	}
}

// Explainer produces reasoning text for a decision
type Explainer interface {
	Explain(ctx context.Context, patient *hospital.Patient, d *decision.Decision, now time.Time) string
}

// Coordinator drives the evaluation loop
type Coordinator struct {
	config     Config
	bus        *events.Bus
	store      *state.Store
	calculator *decision.Calculator
	estimator  *decision.Estimator
	arbiter    *decision.Arbiter
	explainer  Explainer
	logger     *zap.Logger

	mu            sync.Mutex
	lastEvaluated map[string]time.Time

	// test seam
	now func() time.Time
}

// NewCoordinator creates a coordinator. Call Subscribe to attach it to the
// bus.
func NewCoordinator(
	cfg Config,
	bus *events.Bus,
	store *state.Store,
	calculator *decision.Calculator,
	estimator *decision.Estimator,
	arbiter *decision.Arbiter,
	explainer Explainer,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		config:        cfg,
		bus:           bus,
		store:         store,
		calculator:    calculator,
		estimator:     estimator,
		arbiter:       arbiter,
		explainer:     explainer,
		logger:        logger,
		lastEvaluated: make(map[string]time.Time),
		now:           time.Now,
	}
}

// Subscribe registers the coordinator's event handlers on the bus. Producer
// updates that carry clinical risk outrank capacity and flow updates.
func (c *Coordinator) Subscribe() {
	c.bus.Subscribe(events.KindRiskUpdate, subscriberName, 8, c.handleRiskUpdate)
	c.bus.Subscribe(events.KindCapacityUpdate, subscriberName, 7, c.handleCapacityUpdate)
	c.bus.Subscribe(events.KindFlowUpdate, subscriberName, 6, c.handleFlowUpdate)
	c.bus.Subscribe(events.KindVitalsUpdated, subscriberName, 8, c.handleVitalsUpdated)
	c.bus.Subscribe(events.KindPatientAdmitted, subscriberName, 7, c.handlePatientAdmitted)
	c.bus.Subscribe(events.KindPatientDischarged, subscriberName, 5, c.handlePatientDischarged)
}

// Unsubscribe detaches the coordinator from the bus
func (c *Coordinator) Unsubscribe() {
	for _, kind := range []events.Kind{
		events.KindRiskUpdate, events.KindCapacityUpdate, events.KindFlowUpdate,
		events.KindVitalsUpdated, events.KindPatientAdmitted, events.KindPatientDischarged,
	} {
		c.bus.Unsubscribe(kind, subscriberName)
	}
}

func (c *Coordinator) handleRiskUpdate(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.RiskUpdatePayload)
	if !ok {
		err := fmt.Errorf("unexpected payload type %T", event.Payload)
		metrics.RecordEventProcessed(string(event.Kind), err)
		return err
	}

	if !c.store.UpdatePatientRisk(payload.PatientID, payload.NewScore, payload.RiskFactors) {
		c.logger.Debug("risk update for unknown patient", zap.String("patient_id", payload.PatientID))
		metrics.RecordEventProcessed(string(event.Kind), nil)
		return nil
	}
	c.store.RecordProducerOutput(state.ProducerRisk, payload.PatientID, payload)

	err := c.evaluateDebounced(ctx, payload.PatientID, event.CorrelationID)
	metrics.RecordEventProcessed(string(event.Kind), err)
	return err
}

func (c *Coordinator) handleCapacityUpdate(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CapacityUpdatePayload)
	if !ok {
		err := fmt.Errorf("unexpected payload type %T", event.Payload)
		metrics.RecordEventProcessed(string(event.Kind), err)
		return err
	}

	if payload.Snapshot != nil {
		if err := c.store.ReplaceCapacity(payload.Snapshot); err != nil {
			metrics.RecordEventProcessed(string(event.Kind), err)
			return err
		}
		for _, unitType := range []hospital.BedType{
			hospital.BedTypeICU, hospital.BedTypeER, hospital.BedTypeCardiac, hospital.BedTypeGeneral,
		} {
			metrics.RecordBedsAvailable(string(unitType), payload.Snapshot.AvailableBedsByType(unitType))
		}
	}
	c.store.RecordProducerOutput(state.ProducerCapacity, "", payload)

	// capacity shifts affect every waiting patient
	var firstErr error
	for _, p := range c.store.Patients() {
		if p.Status != hospital.PatientStatusWaiting {
			continue
		}
		if err := c.evaluateDebounced(ctx, p.ID, event.CorrelationID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	metrics.RecordEventProcessed(string(event.Kind), firstErr)
	return firstErr
}

func (c *Coordinator) handleFlowUpdate(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.FlowUpdatePayload)
	if !ok {
		err := fmt.Errorf("unexpected payload type %T", event.Payload)
		metrics.RecordEventProcessed(string(event.Kind), err)
		return err
	}

	c.store.RecordProducerOutput(state.ProducerFlow, payload.PatientID, payload)
	err := c.evaluateDebounced(ctx, payload.PatientID, event.CorrelationID)
	metrics.RecordEventProcessed(string(event.Kind), err)
	return err
}

func (c *Coordinator) handleVitalsUpdated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.VitalsUpdatePayload)
	if !ok {
		err := fmt.Errorf("unexpected payload type %T", event.Payload)
		metrics.RecordEventProcessed(string(event.Kind), err)
		return err
	}

	if !c.store.UpdatePatientVitals(payload.PatientID, payload.Vitals) {
		metrics.RecordEventProcessed(string(event.Kind), nil)
		return nil
	}

	// critical vitals bypass the debounce, waiting is not an option
	var err error
	if payload.Vitals.IsCritical() {
		_, err = c.Evaluate(ctx, payload.PatientID, event.CorrelationID)
	} else {
		err = c.evaluateDebounced(ctx, payload.PatientID, event.CorrelationID)
	}
	metrics.RecordEventProcessed(string(event.Kind), err)
	return err
}

func (c *Coordinator) handlePatientAdmitted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PatientAdmittedPayload)
	if !ok {
		err := fmt.Errorf("unexpected payload type %T", event.Payload)
		metrics.RecordEventProcessed(string(event.Kind), err)
		return err
	}

	if err := c.store.UpsertPatient(&payload.Patient); err != nil {
		metrics.RecordEventProcessed(string(event.Kind), err)
		return err
	}
	metrics.RecordPatientsTracked(len(c.store.Patients()))

	_, err := c.Evaluate(ctx, payload.Patient.ID, event.CorrelationID)
	metrics.RecordEventProcessed(string(event.Kind), err)
	return err
}

func (c *Coordinator) handlePatientDischarged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.PatientDischargedPayload)
	if !ok {
		err := fmt.Errorf("unexpected payload type %T", event.Payload)
		metrics.RecordEventProcessed(string(event.Kind), err)
		return err
	}

	c.store.RemovePatient(payload.PatientID)
	c.forgetDebounce(payload.PatientID)
	metrics.RecordPatientsTracked(len(c.store.Patients()))
	metrics.RecordEventProcessed(string(event.Kind), nil)
	return nil
}

// evaluateDebounced runs an evaluation unless the patient was evaluated
// within the debounce window
func (c *Coordinator) evaluateDebounced(ctx context.Context, patientID, correlationID string) error {
	now := c.now()

	c.mu.Lock()
	last, seen := c.lastEvaluated[patientID]
	if seen && now.Sub(last) < c.config.Debounce {
		c.mu.Unlock()
		metrics.RecordEvaluationDebounced()
		c.logger.Debug("evaluation debounced",
			zap.String("patient_id", patientID),
			zap.Duration("since_last", now.Sub(last)))
		return nil
	}
	c.mu.Unlock()

	_, err := c.Evaluate(ctx, patientID, correlationID)
	return err
}

func (c *Coordinator) forgetDebounce(patientID string) {
	c.mu.Lock()
	delete(c.lastEvaluated, patientID)
	c.mu.Unlock()
}

// Evaluate runs the full scoring, arbitration and explanation cycle for one
// patient and publishes the resulting decision. The explanation call can
// take long enough for the patient's state to move, so the state is re-read
// afterwards and the decision recomputed when it did.
func (c *Coordinator) Evaluate(ctx context.Context, patientID, correlationID string) (*decision.Decision, error) {
	started := c.now()

	c.mu.Lock()
	c.lastEvaluated[patientID] = started
	c.mu.Unlock()

	patient, err := c.store.Patient(patientID)
	if err != nil {
		return nil, err
	}
	capacity := c.store.Capacity()

	d := c.decide(patient, capacity, started)

	// suspension point: the explainer may block on a remote service
	explanation := c.explainer.Explain(ctx, patient, d, started)

	fresh, err := c.store.Patient(patientID)
	if err != nil {
		// discharged while we were explaining, nothing to decide anymore
		c.logger.Info("patient left during evaluation", zap.String("patient_id", patientID))
		return nil, err
	}
	if !fresh.LastUpdated.Equal(patient.LastUpdated) {
		// state moved under us, redo the decision on fresh data
		metrics.RecordEvaluationReread()
		now := c.now()
		d = c.decide(fresh, c.store.Capacity(), now)
		explanation = c.explainer.Explain(ctx, fresh, d, now)
		patient = fresh
	}
	d.Explanation = explanation

	if err := c.store.RecordDecision(d); err != nil {
		return nil, err
	}

	metrics.RecordDecision(string(d.Type), string(d.Urgency), d.Score.Total, d.Confidence.Overall)
	metrics.RecordEvaluation(c.now().Sub(started))

	c.logger.Info("decision made",
		zap.String("decision_id", d.ID),
		zap.String("patient_id", d.PatientID),
		zap.String("type", string(d.Type)),
		zap.String("urgency", string(d.Urgency)),
		zap.Float64("score", d.Score.Total),
		zap.Float64("confidence", d.Confidence.Overall))

	c.publishDecision(ctx, d, correlationID)
	return d, nil
}

func (c *Coordinator) decide(patient *hospital.Patient, capacity *hospital.CapacitySnapshot, now time.Time) *decision.Decision {
	score := c.calculator.Score(patient, capacity, now)

	_, hasRisk := c.store.ProducerOutputFor(state.ProducerRisk, patient.ID)
	_, hasFlow := c.store.ProducerOutputFor(state.ProducerFlow, patient.ID)
	inputs := decision.Inputs{
		HasVitals:          !patient.Vitals.MeasuredAt.IsZero(),
		HasRiskFactors:     hasRisk,
		HasCapacity:        len(capacity.Units) > 0,
		HasFlow:            hasFlow,
		PredictionVariance: c.predictionVariance(),
		PriorTotals:        c.priorTotals(patient.ID),
	}
	confidence := c.estimator.Estimate(patient, score, inputs, now)

	return c.arbiter.Decide(patient, capacity, score, confidence, now)
}

// predictionVariance reads the variance reported by the latest capacity
// producer output, falling back to a neutral default when none was published
func (c *Coordinator) predictionVariance() float64 {
	const defaultVariance = 0.1

	output, ok := c.store.ProducerOutputFor(state.ProducerCapacity, "")
	if !ok {
		return defaultVariance
	}
	payload, ok := output.Payload.(events.CapacityUpdatePayload)
	if !ok || payload.PredictionVariance <= 0 {
		return defaultVariance
	}
	return payload.PredictionVariance
}

// priorTotals returns the patient's recent weighted totals, oldest first
func (c *Coordinator) priorTotals(patientID string) []float64 {
	const window = 5

	recent := c.store.Decisions(patientID, window)
	if len(recent) == 0 {
		return nil
	}
	totals := make([]float64, len(recent))
	for i, d := range recent {
		totals[len(recent)-1-i] = d.Score.Total
	}
	return totals
}

func (c *Coordinator) publishDecision(ctx context.Context, d *decision.Decision, correlationID string) {
	priority := 5
	if d.Urgency == decision.UrgencyImmediate {
		priority = 9
	}

	event := events.NewEvent(events.KindDecisionMade, subscriberName, events.DecisionMadePayload{
		DecisionID:       d.ID,
		PatientID:        d.PatientID,
		DecisionType:     string(d.Type),
		PriorityScore:    d.PriorityScore,
		ReasoningSummary: d.Explanation,
		RequiresAck:      ShouldNotify(d, c.config.MinConfidence),
	}).WithPriority(priority)
	if correlationID != "" {
		event = event.WithCorrelation(correlationID)
	}

	if err := c.bus.Publish(ctx, event); err != nil {
		c.logger.Warn("failed to publish decision event", zap.Error(err))
	}
}

// BatchResult reports the outcome of a batch evaluation run
type BatchResult struct {
	Decisions []*decision.Decision `json:"decisions"`
	Failures  map[string]string    `json:"failures,omitempty"`

	Total         int    `json:"total"`
	Evaluated     int    `json:"evaluated"`
	Escalations   int    `json:"escalations"`
	PendingReview int    `json:"pending_review"`
	Elapsed       string `json:"elapsed"`
}

// BatchEvaluate evaluates several patients, isolating per-patient failures.
// An empty ID list evaluates every tracked patient. Decisions come back
// highest priority first.
func (c *Coordinator) BatchEvaluate(ctx context.Context, patientIDs []string) *BatchResult {
	started := c.now()

	if len(patientIDs) == 0 {
		for _, p := range c.store.Patients() {
			patientIDs = append(patientIDs, p.ID)
		}
	}

	result := &BatchResult{
		Failures: make(map[string]string),
		Total:    len(patientIDs),
	}
	for _, id := range patientIDs {
		d, err := c.Evaluate(ctx, id, "")
		if err != nil {
			result.Failures[id] = err.Error()
			continue
		}
		result.Decisions = append(result.Decisions, d)
		result.Evaluated++
		if d.Type == decision.TypeEscalate {
			result.Escalations++
		}
		if d.RequiresHumanReview {
			result.PendingReview++
		}
	}

	sort.SliceStable(result.Decisions, func(i, j int) bool {
		return result.Decisions[i].PriorityScore > result.Decisions[j].PriorityScore
	})
	result.Elapsed = c.now().Sub(started).Round(time.Millisecond).String()
	return result
}

// ExecuteDecision marks a decision executed on behalf of an operator and
// announces it on the bus
func (c *Coordinator) ExecuteDecision(ctx context.Context, decisionID, executedBy string) (*decision.Decision, error) {
	d, err := c.store.MarkDecisionExecuted(decisionID, executedBy)
	if err != nil {
		return nil, err
	}
	metrics.RecordDecisionExecuted()

	event := events.NewEvent(events.KindDecisionExecuted, subscriberName, events.DecisionExecutedPayload{
		DecisionID: d.ID,
		PatientID:  d.PatientID,
		ExecutedBy: executedBy,
	})
	if err := c.bus.Publish(ctx, event); err != nil {
		c.logger.Warn("failed to publish execution event", zap.Error(err))
	}
	return d, nil
}

// ShouldNotify reports whether a decision warrants pushing to staff rather
// than waiting to be read from the dashboard
func ShouldNotify(d *decision.Decision, minConfidence float64) bool {
	if d.Type == decision.TypeEscalate {
		return true
	}
	if d.Urgency == decision.UrgencyImmediate || d.Urgency == decision.UrgencyUrgent {
		return true
	}
	// low confidence decisions go to a human for review
	return !d.Confidence.IsActionable(minConfidence)
}

// NotificationTargets returns the staff roles that should receive a decision
func NotificationTargets(d *decision.Decision) []string {
	switch d.Type {
	case decision.TypeEscalate:
		targets := []string{"charge_nurse", "attending_physician"}
		if d.Urgency == decision.UrgencyImmediate {
			targets = append(targets, "rapid_response_team")
		}
		if d.RequiredUnitType == hospital.BedTypeICU || d.RequiredUnitType == hospital.BedTypeCardiac {
			targets = append(targets, "bed_manager")
		}
		return targets
	case decision.TypeDelay, decision.TypeTransfer:
		return []string{"bed_manager"}
	case decision.TypeReprioritize:
		return []string{"charge_nurse"}
	default:
		return []string{"charge_nurse"}
	}
}

// Stats aggregates the retained decision history
type Stats struct {
	Total         int            `json:"total"`
	ByType        map[string]int `json:"by_type"`
	ByUrgency     map[string]int `json:"by_urgency"`
	Executed      int            `json:"executed"`
	ExecutionRate float64        `json:"execution_rate"`
	AvgScore      float64        `json:"avg_score"`
	AvgConfidence float64        `json:"avg_confidence"`
	LowConfidence int            `json:"low_confidence"`
}

// DecisionStats summarizes the decisions currently retained by the store
func (c *Coordinator) DecisionStats() Stats {
	decisions := c.store.Decisions("", 0)

	stats := Stats{
		Total:     len(decisions),
		ByType:    make(map[string]int),
		ByUrgency: make(map[string]int),
	}
	if len(decisions) == 0 {
		return stats
	}

	var scoreSum, confSum float64
	for _, d := range decisions {
		stats.ByType[string(d.Type)]++
		stats.ByUrgency[string(d.Urgency)]++
		if d.Status == decision.StatusExecuted {
			stats.Executed++
		}
		if !d.Confidence.IsActionable(c.config.MinConfidence) {
			stats.LowConfidence++
		}
		scoreSum += d.Score.Total
		confSum += d.Confidence.Overall
	}
	stats.ExecutionRate = float64(stats.Executed) / float64(stats.Total)
	stats.AvgScore = scoreSum / float64(stats.Total)
	stats.AvgConfidence = confSum / float64(stats.Total)
	return stats
}

// PendingReview returns retained pending decisions flagged for human review,
// most urgent first
func (c *Coordinator) PendingReview() []*decision.Decision {
	out := c.store.PendingReviewDecisions()
	sort.SliceStable(out, func(i, j int) bool {
		return decision.UrgencyRank(out[i].Urgency) > decision.UrgencyRank(out[j].Urgency)
	})
	return out
}
