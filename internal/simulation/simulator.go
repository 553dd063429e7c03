// Package simulation generates synthetic hospital traffic for development
// and demos. It plays the role of the upstream risk, capacity and flow
// producers by publishing their events onto the bus.
package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krishx06/SKAG-MedTech/internal/hospital"
	"github.com/krishx06/SKAG-MedTech/internal/shared/events"
	"github.com/krishx06/SKAG-MedTech/internal/state"
)

// Config holds simulator configuration
type Config struct {
	Enabled         bool
	TickInterval    time.Duration
	InitialPatients int
	Seed            int64
}

// DefaultConfig returns default simulator configuration
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		TickInterval:    3 * time.Second,
		InitialPatients: 8,
		Seed:            0,
	}
}

var firstNames = []string{"Ana", "Marko", "Ivana", "Luka", "Mia", "Petar", "Sara", "Nikola", "Elena", "Jan"}
var lastNames = []string{"Horvat", "Novak", "Petrov", "Kovac", "Babic", "Jovanovic", "Zupan", "Maric"}
var complaints = []string{
	"chest pain", "shortness of breath", "abdominal pain", "head injury",
	"high fever", "fracture suspicion", "dizziness", "allergic reaction",
}

// Simulator drives synthetic producer traffic
type Simulator struct {
	config Config
	bus    *events.Bus
	store  *state.Store
	logger *zap.Logger
	rng    *rand.Rand

	mu      sync.Mutex
	serial  int
	running bool
	cancel  context.CancelFunc
}

// New creates a simulator
func New(cfg Config, bus *events.Bus, store *state.Store, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		config: cfg,
		bus:    bus,
		store:  store,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Start seeds the hospital and begins the traffic loop
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("simulator already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.seedCapacity(ctx)
	for i := 0; i < s.config.InitialPatients; i++ {
		s.admitPatient(ctx)
	}

	go s.run(ctx)
	s.logger.Info("simulator started",
		zap.Duration("tick", s.config.TickInterval),
		zap.Int("initial_patients", s.config.InitialPatients))
	return nil
}

// Stop halts the traffic loop
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

func (s *Simulator) run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick plays one round of producer traffic. Risk drift dominates, the rest
// fire occasionally.
func (s *Simulator) tick(ctx context.Context) {
	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	switch {
	case roll < 0.40:
		s.driftRisk(ctx)
	case roll < 0.60:
		s.updateVitals(ctx)
	case roll < 0.75:
		s.churnCapacity(ctx)
	case roll < 0.85:
		s.publishFlow(ctx)
	case roll < 0.95:
		s.admitPatient(ctx)
	default:
		s.dischargePatient(ctx)
	}
}

func (s *Simulator) seedCapacity(ctx context.Context) {
	snap := &hospital.CapacitySnapshot{
		Timestamp: time.Now().UTC(),
		Units: []hospital.Unit{
			s.makeUnit("icu", "Intensive Care", hospital.BedTypeICU, 6, 2),
			s.makeUnit("cardiac", "Cardiac Unit", hospital.BedTypeCardiac, 4, 1),
			s.makeUnit("er", "Emergency", hospital.BedTypeER, 12, 4),
			s.makeUnit("gen-a", "General Ward A", hospital.BedTypeGeneral, 20, 3),
		},
		PredictedDischarges1h: 2,
		PredictedAdmissions1h: 3,
	}

	s.bus.Publish(ctx, events.NewEvent(events.KindCapacityUpdate, "capacity-producer", events.CapacityUpdatePayload{
		PredictionVariance: 0.1,
		Snapshot:           snap,
	}).WithPriority(7))
}

func (s *Simulator) makeUnit(id, name string, bedType hospital.BedType, beds, staff int) hospital.Unit {
	unit := hospital.Unit{ID: id, Name: name, UnitType: bedType}
	for i := 0; i < beds; i++ {
		status := hospital.BedStatusOccupied
		if s.rng.Float64() < 0.3 {
			status = hospital.BedStatusAvailable
		}
		unit.Beds = append(unit.Beds, hospital.Bed{
			ID:      fmt.Sprintf("%s-%d", id, i+1),
			UnitID:  id,
			BedType: bedType,
			Status:  status,
		})
	}
	for i := 0; i < staff; i++ {
		unit.Staff = append(unit.Staff, hospital.StaffMember{
			ID:          fmt.Sprintf("%s-staff-%d", id, i+1),
			Role:        hospital.StaffRoleNurse,
			UnitID:      id,
			CurrentLoad: s.rng.Intn(70),
			MaxLoad:     100,
			IsAvailable: true,
		})
	}
	return unit
}

func (s *Simulator) admitPatient(ctx context.Context) {
	s.mu.Lock()
	s.serial++
	id := fmt.Sprintf("pat_sim%03d", s.serial)
	acuity := hospital.AcuityLevel(1 + s.rng.Intn(5))
	risk := 10 + s.rng.Float64()*70
	name := firstNames[s.rng.Intn(len(firstNames))] + " " + lastNames[s.rng.Intn(len(lastNames))]
	complaint := complaints[s.rng.Intn(len(complaints))]
	age := 18 + s.rng.Intn(75)
	s.mu.Unlock()

	patient := hospital.Patient{
		ID:             id,
		Name:           name,
		Age:            age,
		AdmissionTime:  time.Now().UTC(),
		ChiefComplaint: complaint,
		Status:         hospital.PatientStatusWaiting,
		AcuityLevel:    acuity,
		RiskScore:      risk,
		Vitals:         s.randomVitals(false),
	}

	s.bus.Publish(ctx, events.NewEvent(events.KindPatientAdmitted, "simulator", events.PatientAdmittedPayload{
		Patient:       patient,
		AdmissionUnit: "er",
	}).WithPriority(7))
}

func (s *Simulator) dischargePatient(ctx context.Context) {
	patient := s.pickPatient()
	if patient == nil {
		return
	}
	s.bus.Publish(ctx, events.NewEvent(events.KindPatientDischarged, "simulator", events.PatientDischargedPayload{
		PatientID:   patient.ID,
		Destination: "home",
	}))
}

func (s *Simulator) driftRisk(ctx context.Context) {
	patient := s.pickPatient()
	if patient == nil {
		return
	}

	s.mu.Lock()
	delta := (s.rng.Float64() - 0.45) * 25 // slight upward bias
	sepsis := s.rng.Float64() * 0.6
	s.mu.Unlock()

	newScore := hospital.ClampRiskScore(patient.RiskScore + delta)
	s.bus.Publish(ctx, events.NewEvent(events.KindRiskUpdate, "risk-producer", events.RiskUpdatePayload{
		PatientID:   patient.ID,
		OldScore:    patient.RiskScore,
		NewScore:    newScore,
		RiskFactors: map[string]float64{"sepsis_probability": sepsis},
		Trend:       trendOf(delta),
	}).WithPriority(8))
}

func (s *Simulator) updateVitals(ctx context.Context) {
	patient := s.pickPatient()
	if patient == nil {
		return
	}

	s.mu.Lock()
	critical := s.rng.Float64() < 0.05
	s.mu.Unlock()

	vitals := s.randomVitals(critical)
	s.bus.Publish(ctx, events.NewEvent(events.KindVitalsUpdated, "monitoring", events.VitalsUpdatePayload{
		PatientID:  patient.ID,
		Vitals:     vitals,
		IsCritical: vitals.IsCritical(),
	}).WithPriority(8))
}

func (s *Simulator) churnCapacity(ctx context.Context) {
	snap := s.store.Capacity()
	if len(snap.Units) == 0 {
		s.seedCapacity(ctx)
		return
	}

	s.mu.Lock()
	unitIdx := s.rng.Intn(len(snap.Units))
	flip := s.rng.Intn(len(snap.Units[unitIdx].Beds))
	s.mu.Unlock()

	unit := &snap.Units[unitIdx]
	bed := &unit.Beds[flip]
	if bed.Status == hospital.BedStatusAvailable {
		bed.Status = hospital.BedStatusOccupied
	} else {
		bed.Status = hospital.BedStatusAvailable
	}
	snap.Timestamp = time.Now().UTC()

	s.mu.Lock()
	variance := 0.05 + s.rng.Float64()*0.25
	s.mu.Unlock()

	s.bus.Publish(ctx, events.NewEvent(events.KindCapacityUpdate, "capacity-producer", events.CapacityUpdatePayload{
		UnitID:             unit.ID,
		UnitName:           unit.Name,
		NewAvailable:       unit.AvailableBeds(),
		NewOccupancyRate:   unit.OccupancyRate(),
		PredictionVariance: variance,
		Snapshot:           snap,
	}).WithPriority(7))
}

func (s *Simulator) publishFlow(ctx context.Context) {
	patient := s.pickPatient()
	if patient == nil {
		return
	}

	s.mu.Lock()
	wait := 10 + s.rng.Intn(90)
	s.mu.Unlock()

	s.bus.Publish(ctx, events.NewEvent(events.KindFlowUpdate, "flow-producer", events.FlowUpdatePayload{
		PatientID:              patient.ID,
		RecommendedDestination: "er",
		EstimatedWaitMinutes:   wait,
	}).WithPriority(6))
}

func (s *Simulator) pickPatient() *hospital.Patient {
	patients := s.store.Patients()
	if len(patients) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return patients[s.rng.Intn(len(patients))]
}

func (s *Simulator) randomVitals(critical bool) hospital.VitalSigns {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := hospital.VitalSigns{
		HeartRate:       60 + s.rng.Float64()*50,
		SystolicBP:      100 + s.rng.Float64()*40,
		DiastolicBP:     60 + s.rng.Float64()*25,
		SpO2:            93 + s.rng.Float64()*6,
		Temperature:     36.2 + s.rng.Float64()*1.6,
		RespiratoryRate: 12 + s.rng.Float64()*8,
		MeasuredAt:      time.Now().UTC(),
	}
	if critical {
		v.SpO2 = 80 + s.rng.Float64()*8
		v.HeartRate = 150 + s.rng.Float64()*30
	}
	return v
}

func trendOf(delta float64) string {
	switch {
	case delta > 2:
		return "increasing"
	case delta < -2:
		return "decreasing"
	default:
		return "stable"
	}
}
