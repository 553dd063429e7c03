// Package state holds the live picture of the hospital that the decision
// pipeline reads from and writes to. All access goes through the Store,
// which serializes mutations and hands out defensive copies so readers never
// observe a partial update.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/krishx06/SKAG-MedTech/internal/decision"
	"github.com/krishx06/SKAG-MedTech/internal/hospital"
	"github.com/krishx06/SKAG-MedTech/internal/shared/errors"
)

// DefaultHistoryWindow bounds retained decisions when no override is given
const DefaultHistoryWindow = 500

// ProducerKind identifies an upstream analytics producer
type ProducerKind string

const (
	ProducerRisk     ProducerKind = "risk"
	ProducerCapacity ProducerKind = "capacity"
	ProducerFlow     ProducerKind = "flow"
)

// ProducerOutput caches the latest payload from an upstream producer so the
// pipeline can judge data freshness and completeness
type ProducerOutput struct {
	Producer   ProducerKind `json:"producer"`
	PatientID  string       `json:"patient_id,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
	Payload    any          `json:"payload"`
}

// Summary is a point-in-time overview of the store contents
type Summary struct {
	Patients         int     `json:"patients"`
	WaitingPatients  int     `json:"waiting_patients"`
	CriticalPatients int     `json:"critical_patients"`
	TotalBeds        int     `json:"total_beds"`
	AvailableBeds    int     `json:"available_beds"`
	OccupancyRate    float64 `json:"occupancy_rate"`
	PendingDecisions int     `json:"pending_decisions"`
	TotalDecisions   int     `json:"total_decisions"`
	SnapshotAge      string  `json:"snapshot_age"`
}

// Store is the in-memory system state. Mutations are serialized under a
// single mutex; read methods return clones, never internal references.
type Store struct {
	mu sync.RWMutex

	patients  map[string]*hospital.Patient
	capacity  *hospital.CapacitySnapshot
	decisions map[string]*decision.Decision
	// ordered decision IDs, oldest first, bounded by historyWindow
	decisionOrder []string
	outputs       map[ProducerKind]map[string]ProducerOutput

	historyWindow int
}

// Option configures a Store
type Option func(*Store)

// WithHistoryWindow bounds the retained decision history
func WithHistoryWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyWindow = n
		}
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		patients:      make(map[string]*hospital.Patient),
		capacity:      &hospital.CapacitySnapshot{Timestamp: time.Now().UTC()},
		decisions:     make(map[string]*decision.Decision),
		outputs:       make(map[ProducerKind]map[string]ProducerOutput),
		historyWindow: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertPatient adds or replaces a patient record
func (s *Store) UpsertPatient(p *hospital.Patient) error {
	if p == nil || p.ID == "" {
		return errors.Validation("patient ID is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := p.Clone()
	clone.LastUpdated = time.Now().UTC()
	s.patients[p.ID] = &clone
	return nil
}

// Patient returns a copy of the patient record
func (s *Store) Patient(id string) (*hospital.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, errors.NotFound("patient", id)
	}
	clone := p.Clone()
	return &clone, nil
}

// Patients returns copies of all patient records, ordered by ID for
// deterministic iteration
func (s *Store) Patients() []*hospital.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*hospital.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		clone := p.Clone()
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PatientsByLocation returns copies of the patients currently at a location,
// ordered by ID
func (s *Store) PatientsByLocation(location string) []*hospital.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*hospital.Patient
	for _, p := range s.patients {
		if p.CurrentLocation != location {
			continue
		}
		clone := p.Clone()
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HighRiskPatients returns copies of the tracked patients that qualify as
// high risk, highest risk score first
func (s *Store) HighRiskPatients() []*hospital.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*hospital.Patient
	for _, p := range s.patients {
		if !p.IsHighRisk() {
			continue
		}
		clone := p.Clone()
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RemovePatient deletes a patient, typically on discharge. Removing an
// unknown patient is a no-op.
func (s *Store) RemovePatient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patients, id)
	for _, byPatient := range s.outputs {
		delete(byPatient, id)
	}
}

// UpdatePatientRisk applies a new risk score and factors. It reports whether
// the patient exists so callers can decide to skip evaluation.
func (s *Store) UpdatePatientRisk(id string, score float64, factors map[string]float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok {
		return false
	}
	p.RiskScore = hospital.ClampRiskScore(score)
	for name, value := range factors {
		p.RiskFactors.Set(name, value)
	}
	p.LastUpdated = time.Now().UTC()
	return true
}

// UpdatePatientVitals replaces a patient's vitals. Reports whether the
// patient exists.
func (s *Store) UpdatePatientVitals(id string, vitals hospital.VitalSigns) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok {
		return false
	}
	p.Vitals = vitals
	p.LastUpdated = time.Now().UTC()
	return true
}

// UpdatePatientStatus sets the patient lifecycle status. Reports whether the
// patient exists.
func (s *Store) UpdatePatientStatus(id string, status hospital.PatientStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok {
		return false
	}
	p.Status = status
	p.LastUpdated = time.Now().UTC()
	return true
}

// ReplaceCapacity swaps in a new capacity snapshot. The previous snapshot
// stays valid for readers that already hold it.
func (s *Store) ReplaceCapacity(snap *hospital.CapacitySnapshot) error {
	if snap == nil {
		return errors.Validation("capacity snapshot is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := snap.Clone()
	s.capacity = &clone
	return nil
}

// Capacity returns the current capacity snapshot. The returned value is a
// deep copy and safe to read without locks.
func (s *Store) Capacity() *hospital.CapacitySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := s.capacity.Clone()
	return &clone
}

// RecordDecision appends a decision to the store, evicting the oldest when
// the history window is full
func (s *Store) RecordDecision(d *decision.Decision) error {
	if d == nil || d.ID == "" {
		return errors.Validation("decision ID is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.decisions[d.ID]; exists {
		return errors.Conflict("decision " + d.ID + " already recorded")
	}

	clone := *d
	s.decisions[d.ID] = &clone
	s.decisionOrder = append(s.decisionOrder, d.ID)

	for len(s.decisionOrder) > s.historyWindow {
		oldest := s.decisionOrder[0]
		s.decisionOrder = s.decisionOrder[1:]
		delete(s.decisions, oldest)
	}
	return nil
}

// Decision returns a copy of a decision by ID
func (s *Store) Decision(id string) (*decision.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.decisions[id]
	if !ok {
		return nil, errors.NotFound("decision", id)
	}
	clone := *d
	return &clone, nil
}

// Decisions returns retained decisions, newest first, optionally filtered by
// patient. A limit <= 0 returns everything retained.
func (s *Store) Decisions(patientID string, limit int) []*decision.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*decision.Decision, 0, len(s.decisionOrder))
	for i := len(s.decisionOrder) - 1; i >= 0; i-- {
		d := s.decisions[s.decisionOrder[i]]
		if patientID != "" && d.PatientID != patientID {
			continue
		}
		clone := *d
		out = append(out, &clone)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// PendingReviewDecisions returns retained decisions that are still pending
// and flagged for human review, newest first
func (s *Store) PendingReviewDecisions() []*decision.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*decision.Decision
	for i := len(s.decisionOrder) - 1; i >= 0; i-- {
		d := s.decisions[s.decisionOrder[i]]
		if d.Status != decision.StatusPending || !d.RequiresHumanReview {
			continue
		}
		clone := *d
		out = append(out, &clone)
	}
	return out
}

// LatestDecision returns the most recent decision for a patient
func (s *Store) LatestDecision(patientID string) (*decision.Decision, error) {
	decisions := s.Decisions(patientID, 1)
	if len(decisions) == 0 {
		return nil, errors.NotFound("decision for patient", patientID)
	}
	return decisions[0], nil
}

// MarkDecisionExecuted transitions a decision to executed. The transition is
// one-shot: executing an already executed decision fails with a conflict so
// double acknowledgements surface instead of silently passing.
func (s *Store) MarkDecisionExecuted(id, executedBy string) (*decision.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.decisions[id]
	if !ok {
		return nil, errors.NotFound("decision", id)
	}
	if d.Status == decision.StatusExecuted {
		return nil, errors.Conflict("decision " + id + " already executed by " + d.ExecutedBy)
	}

	now := time.Now().UTC()
	d.Status = decision.StatusExecuted
	d.ExecutedAt = &now
	d.ExecutedBy = executedBy

	clone := *d
	return &clone, nil
}

// RecordProducerOutput caches the latest output from an upstream producer.
// System-wide producers use an empty patient ID.
func (s *Store) RecordProducerOutput(producer ProducerKind, patientID string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPatient, ok := s.outputs[producer]
	if !ok {
		byPatient = make(map[string]ProducerOutput)
		s.outputs[producer] = byPatient
	}
	byPatient[patientID] = ProducerOutput{
		Producer:   producer,
		PatientID:  patientID,
		ReceivedAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// ProducerOutputFor returns the cached output of a producer for a patient
func (s *Store) ProducerOutputFor(producer ProducerKind, patientID string) (ProducerOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPatient, ok := s.outputs[producer]
	if !ok {
		return ProducerOutput{}, false
	}
	out, ok := byPatient[patientID]
	return out, ok
}

// Summarize returns a point-in-time overview for dashboards and health
// endpoints
func (s *Store) Summarize() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		Patients:       len(s.patients),
		TotalDecisions: len(s.decisionOrder),
	}
	for _, p := range s.patients {
		if p.Status == hospital.PatientStatusWaiting {
			sum.WaitingPatients++
		}
		if p.Vitals.IsCritical() || p.AcuityLevel == hospital.AcuityResuscitation {
			sum.CriticalPatients++
		}
	}
	for _, id := range s.decisionOrder {
		if s.decisions[id].Status == decision.StatusPending {
			sum.PendingDecisions++
		}
	}
	sum.TotalBeds = s.capacity.TotalBeds()
	sum.AvailableBeds = s.capacity.TotalAvailable()
	sum.OccupancyRate = s.capacity.OverallOccupancyRate()
	sum.SnapshotAge = time.Since(s.capacity.Timestamp).Round(time.Second).String()
	return sum
}
