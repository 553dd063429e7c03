package state

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/krishx06/SKAG-MedTech/internal/decision"
	"github.com/krishx06/SKAG-MedTech/internal/hospital"
	apperrors "github.com/krishx06/SKAG-MedTech/internal/shared/errors"
)

func testPatient(id string) *hospital.Patient {
	return &hospital.Patient{
		ID:            id,
		Name:          "Test Patient",
		Age:           58,
		AdmissionTime: time.Now().Add(-30 * time.Minute),
		Status:        hospital.PatientStatusWaiting,
		AcuityLevel:   hospital.AcuityUrgent,
		RiskScore:     45,
	}
}

func testDecision(id, patientID string) *decision.Decision {
	return &decision.Decision{
		ID:        id,
		PatientID: patientID,
		Type:      decision.TypeObserve,
		Urgency:   decision.UrgencyRoutine,
		Status:    decision.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// TestPatientReadsAreCopies verifies that mutating a returned patient does
// not leak back into the store
func TestPatientReadsAreCopies(t *testing.T) {
	store := NewStore()
	if err := store.UpsertPatient(testPatient("pat_1")); err != nil {
		t.Fatalf("UpsertPatient() error = %v", err)
	}

	p, err := store.Patient("pat_1")
	if err != nil {
		t.Fatalf("Patient() error = %v", err)
	}
	p.RiskScore = 99
	p.RiskFactors.Set("sepsis_probability", 0.9)

	fresh, _ := store.Patient("pat_1")
	if fresh.RiskScore == 99 {
		t.Error("mutation of returned patient leaked into store")
	}
	if fresh.RiskFactors.SepsisProbability == 0.9 {
		t.Error("mutation of returned risk factors leaked into store")
	}
}

// TestUpdatePatientRiskClampsAndReportsExistence checks score clamping and
// the missing-patient result
func TestUpdatePatientRiskClampsAndReportsExistence(t *testing.T) {
	store := NewStore()
	store.UpsertPatient(testPatient("pat_1"))

	if !store.UpdatePatientRisk("pat_1", 150, map[string]float64{"cardiac_risk": 0.7}) {
		t.Fatal("UpdatePatientRisk() = false for existing patient")
	}
	p, _ := store.Patient("pat_1")
	if p.RiskScore != 100 {
		t.Errorf("RiskScore = %v, want clamped to 100", p.RiskScore)
	}
	if p.RiskFactors.CardiacRisk != 0.7 {
		t.Errorf("CardiacRisk = %v, want 0.7", p.RiskFactors.CardiacRisk)
	}

	if store.UpdatePatientRisk("pat_missing", 50, nil) {
		t.Error("UpdatePatientRisk() = true for unknown patient")
	}
}

// TestCapacityReplaceIsAtomicForReaders verifies a reader holding the old
// snapshot is unaffected by a replacement
func TestCapacityReplaceIsAtomicForReaders(t *testing.T) {
	store := NewStore()
	first := &hospital.CapacitySnapshot{
		Timestamp: time.Now(),
		Units: []hospital.Unit{{
			ID:   "icu",
			Beds: []hospital.Bed{{ID: "icu-1", Status: hospital.BedStatusAvailable}},
		}},
	}
	if err := store.ReplaceCapacity(first); err != nil {
		t.Fatalf("ReplaceCapacity() error = %v", err)
	}

	held := store.Capacity()

	second := first.Clone()
	second.Units[0].Beds[0].Status = hospital.BedStatusOccupied
	store.ReplaceCapacity(&second)

	if held.TotalAvailable() != 1 {
		t.Errorf("held snapshot available = %d, want 1", held.TotalAvailable())
	}
	if store.Capacity().TotalAvailable() != 0 {
		t.Errorf("current snapshot available = %d, want 0", store.Capacity().TotalAvailable())
	}
}

// TestMarkDecisionExecutedIsOneShot verifies the executed transition
// succeeds once and conflicts on repeat
func TestMarkDecisionExecutedIsOneShot(t *testing.T) {
	store := NewStore()
	store.RecordDecision(testDecision("dec_1", "pat_1"))

	executed, err := store.MarkDecisionExecuted("dec_1", "nurse.lim")
	if err != nil {
		t.Fatalf("first MarkDecisionExecuted() error = %v", err)
	}
	if executed.Status != decision.StatusExecuted || executed.ExecutedBy != "nurse.lim" {
		t.Errorf("executed decision = %+v", executed)
	}
	if executed.ExecutedAt == nil {
		t.Error("ExecutedAt not set")
	}

	_, err = store.MarkDecisionExecuted("dec_1", "nurse.other")
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.HTTPStatus != 409 {
		t.Errorf("second execution error = %v, want conflict", err)
	}

	// first executor is preserved
	d, _ := store.Decision("dec_1")
	if d.ExecutedBy != "nurse.lim" {
		t.Errorf("ExecutedBy = %s, want nurse.lim", d.ExecutedBy)
	}
}

// TestDecisionHistoryBounded verifies the oldest decisions are evicted once
// the window fills
func TestDecisionHistoryBounded(t *testing.T) {
	store := NewStore(WithHistoryWindow(5))

	for i := 0; i < 8; i++ {
		store.RecordDecision(testDecision(fmt.Sprintf("dec_%d", i), "pat_1"))
	}

	all := store.Decisions("", 0)
	if len(all) != 5 {
		t.Fatalf("retained decisions = %d, want 5", len(all))
	}
	if all[0].ID != "dec_7" {
		t.Errorf("newest = %s, want dec_7", all[0].ID)
	}
	if _, err := store.Decision("dec_0"); err == nil {
		t.Error("evicted decision still retrievable")
	}
}

// TestDecisionsFilterByPatient checks per-patient history and limits
func TestDecisionsFilterByPatient(t *testing.T) {
	store := NewStore()
	store.RecordDecision(testDecision("dec_1", "pat_a"))
	store.RecordDecision(testDecision("dec_2", "pat_b"))
	store.RecordDecision(testDecision("dec_3", "pat_a"))

	forA := store.Decisions("pat_a", 0)
	if len(forA) != 2 || forA[0].ID != "dec_3" {
		t.Errorf("decisions for pat_a = %+v", forA)
	}

	latest, err := store.LatestDecision("pat_b")
	if err != nil || latest.ID != "dec_2" {
		t.Errorf("LatestDecision(pat_b) = %v, %v", latest, err)
	}

	if _, err := store.LatestDecision("pat_unknown"); err == nil {
		t.Error("LatestDecision for unknown patient should fail")
	}
}

// TestPatientCohortQueries exercises the location and high risk filters
func TestPatientCohortQueries(t *testing.T) {
	store := NewStore()

	waiting := testPatient("pat_er")
	waiting.CurrentLocation = "er"
	store.UpsertPatient(waiting)

	critical := testPatient("pat_critical")
	critical.CurrentLocation = "er"
	critical.AcuityLevel = hospital.AcuityEmergent
	critical.RiskScore = 85
	store.UpsertPatient(critical)

	elsewhere := testPatient("pat_ward")
	elsewhere.CurrentLocation = "gen-a"
	store.UpsertPatient(elsewhere)

	byLocation := store.PatientsByLocation("er")
	if len(byLocation) != 2 {
		t.Fatalf("patients at er = %d, want 2", len(byLocation))
	}
	if byLocation[0].ID != "pat_critical" || byLocation[1].ID != "pat_er" {
		t.Errorf("location order = %s, %s", byLocation[0].ID, byLocation[1].ID)
	}

	highRisk := store.HighRiskPatients()
	if len(highRisk) != 1 || highRisk[0].ID != "pat_critical" {
		t.Errorf("high risk cohort = %+v", highRisk)
	}
	if len(store.PatientsByLocation("icu")) != 0 {
		t.Error("unexpected patients reported for an empty location")
	}
}

// TestPendingReviewDecisions verifies only pending flagged decisions surface
func TestPendingReviewDecisions(t *testing.T) {
	store := NewStore()

	flagged := testDecision("dec_review", "pat_a")
	flagged.RequiresHumanReview = true
	store.RecordDecision(flagged)

	confident := testDecision("dec_clear", "pat_b")
	store.RecordDecision(confident)

	executed := testDecision("dec_done", "pat_c")
	executed.RequiresHumanReview = true
	store.RecordDecision(executed)
	if _, err := store.MarkDecisionExecuted("dec_done", "nurse.lim"); err != nil {
		t.Fatalf("MarkDecisionExecuted() error = %v", err)
	}

	pending := store.PendingReviewDecisions()
	if len(pending) != 1 || pending[0].ID != "dec_review" {
		t.Errorf("pending review = %+v, want only dec_review", pending)
	}
}

// TestRecordDecisionRejectsDuplicateID verifies duplicate IDs conflict
func TestRecordDecisionRejectsDuplicateID(t *testing.T) {
	store := NewStore()
	store.RecordDecision(testDecision("dec_1", "pat_1"))
	if err := store.RecordDecision(testDecision("dec_1", "pat_2")); err == nil {
		t.Error("duplicate decision ID accepted")
	}
}

// TestProducerOutputCache verifies latest-wins caching per producer and
// patient
func TestProducerOutputCache(t *testing.T) {
	store := NewStore()

	store.RecordProducerOutput(ProducerRisk, "pat_1", map[string]float64{"score": 40})
	store.RecordProducerOutput(ProducerRisk, "pat_1", map[string]float64{"score": 65})
	store.RecordProducerOutput(ProducerCapacity, "", "system-wide")

	out, ok := store.ProducerOutputFor(ProducerRisk, "pat_1")
	if !ok {
		t.Fatal("missing cached risk output")
	}
	if payload := out.Payload.(map[string]float64); payload["score"] != 65 {
		t.Errorf("cached score = %v, want latest 65", payload["score"])
	}

	if _, ok := store.ProducerOutputFor(ProducerFlow, "pat_1"); ok {
		t.Error("unexpected flow output")
	}

	store.RemovePatient("pat_1")
	if _, ok := store.ProducerOutputFor(ProducerRisk, "pat_1"); ok {
		t.Error("producer cache not cleared on patient removal")
	}
}

// TestSummarize checks the aggregate counters
func TestSummarize(t *testing.T) {
	store := NewStore()

	waiting := testPatient("pat_1")
	critical := testPatient("pat_2")
	critical.Status = hospital.PatientStatusInTreatment
	critical.AcuityLevel = hospital.AcuityResuscitation
	store.UpsertPatient(waiting)
	store.UpsertPatient(critical)
	store.RecordDecision(testDecision("dec_1", "pat_1"))

	sum := store.Summarize()
	if sum.Patients != 2 || sum.WaitingPatients != 1 || sum.CriticalPatients != 1 {
		t.Errorf("Summary = %+v", sum)
	}
	if sum.PendingDecisions != 1 || sum.TotalDecisions != 1 {
		t.Errorf("decision counters = %+v", sum)
	}
}

// TestConcurrentAccess exercises mixed readers and writers under race
func TestConcurrentAccess(t *testing.T) {
	store := NewStore()
	store.UpsertPatient(testPatient("pat_1"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			store.UpdatePatientRisk("pat_1", float64(n*10), nil)
			store.RecordDecision(testDecision(fmt.Sprintf("dec_%d", n), "pat_1"))
		}(i)
		go func() {
			defer wg.Done()
			store.Patients()
			store.Decisions("pat_1", 5)
			store.Summarize()
		}()
	}
	wg.Wait()

	if got := len(store.Decisions("pat_1", 0)); got != 10 {
		t.Errorf("recorded decisions = %d, want 10", got)
	}
}
