package audit

import (
	"context"
	"testing"

	"github.com/krishx06/SKAG-MedTech/internal/hospital"
	"github.com/krishx06/SKAG-MedTech/internal/shared/events"
)

func record(t *testing.T, trail *Trail, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		trail.Record(ActorTypeSystem, "pipeline-coordinator", ActionDecisionMade,
			"decision", "dec_1", "pat_1", map[string]any{"decision_type": "OBSERVE"})
	}
}

// TestRecordChainsEntries verifies entries link to their predecessors and
// the chain verifies clean.
func TestRecordChainsEntries(t *testing.T) {
	trail := NewTrail()
	record(t, trail, 3)

	entries := trail.List(Filter{})
	if len(entries) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(entries))
	}

	// Newest first: sequence 3, 2, 1
	if entries[0].Sequence != 3 || entries[2].Sequence != 1 {
		t.Errorf("unexpected ordering: %d, %d, %d",
			entries[0].Sequence, entries[1].Sequence, entries[2].Sequence)
	}
	if entries[2].PrevHash != "" {
		t.Errorf("genesis entry has prev_hash %q, want empty", entries[2].PrevHash)
	}
	if entries[1].PrevHash != entries[2].Hash || entries[0].PrevHash != entries[1].Hash {
		t.Error("entries are not linked to their predecessors")
	}
	if trail.Head() != entries[0].Hash {
		t.Errorf("Head() = %s, want newest hash %s", trail.Head(), entries[0].Hash)
	}

	result := trail.Verify()
	if !result.Valid || result.Checked != 3 {
		t.Errorf("Verify() = %+v, want valid with 3 checked", result)
	}
}

// TestVerifyDetectsContentTampering verifies an edited entry fails content
// verification.
func TestVerifyDetectsContentTampering(t *testing.T) {
	trail := NewTrail()
	record(t, trail, 3)

	trail.entries[1].Details["decision_type"] = "ESCALATE"

	result := trail.Verify()
	if result.Valid {
		t.Fatal("Verify() reported a tampered chain as valid")
	}
	if result.ContentInvalid != 1 {
		t.Errorf("ContentInvalid = %d, want 1", result.ContentInvalid)
	}
}

// TestVerifyDetectsLinkBreak verifies a re-forged entry breaks the linkage
// to its successor.
func TestVerifyDetectsLinkBreak(t *testing.T) {
	trail := NewTrail()
	record(t, trail, 3)

	// Forge the middle entry completely, recomputing its own hash
	forged := trail.entries[1]
	forged.ActorID = "intruder"
	forged.Hash = forged.ComputeHash()

	result := trail.Verify()
	if result.Valid {
		t.Fatal("Verify() reported a forged chain as valid")
	}
	if result.ContentInvalid != 0 {
		t.Errorf("ContentInvalid = %d, want 0 for a self-consistent forgery", result.ContentInvalid)
	}
	if result.LinkageInvalid != 1 {
		t.Errorf("LinkageInvalid = %d, want 1", result.LinkageInvalid)
	}
}

// TestEvictionKeepsAnchor verifies the chain still verifies after old
// entries are evicted.
func TestEvictionKeepsAnchor(t *testing.T) {
	trail := NewTrail(WithCapacity(2))
	record(t, trail, 5)

	if trail.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", trail.Len())
	}

	result := trail.Verify()
	if !result.Valid {
		t.Errorf("Verify() = %+v, want valid after eviction", result)
	}
	if result.AnchorSeq != 3 {
		t.Errorf("AnchorSeq = %d, want 3", result.AnchorSeq)
	}
}

// TestListFilters verifies filtering by action prefix, patient and limit.
func TestListFilters(t *testing.T) {
	trail := NewTrail()
	trail.Record(ActorTypeSystem, "pipeline-coordinator", ActionDecisionMade,
		"decision", "dec_1", "pat_1", nil)
	trail.Record(ActorTypeOperator, "nurse.lim", ActionDecisionExecuted,
		"decision", "dec_1", "pat_1", nil)
	trail.Record(ActorTypeSimulator, "simulator", ActionPatientAdmitted,
		"patient", "pat_2", "pat_2", nil)

	if got := len(trail.List(Filter{Action: "decision."})); got != 2 {
		t.Errorf("action filter returned %d entries, want 2", got)
	}
	if got := len(trail.List(Filter{PatientID: "pat_2"})); got != 1 {
		t.Errorf("patient filter returned %d entries, want 1", got)
	}
	if got := len(trail.List(Filter{ActorID: "nurse.lim"})); got != 1 {
		t.Errorf("actor filter returned %d entries, want 1", got)
	}
	if got := len(trail.List(Filter{Limit: 2})); got != 2 {
		t.Errorf("limit filter returned %d entries, want 2", got)
	}
}

// TestSubscriberRecordsPipelineEvents verifies bus events land in the trail
// with the right actor attribution.
func TestSubscriberRecordsPipelineEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Stop()
	trail := NewTrail()
	NewSubscriber(trail, bus).Subscribe()

	ctx := context.Background()

	publish := func(evt events.Event) {
		t.Helper()
		if err := bus.Publish(ctx, evt); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}

	publish(events.NewEvent(events.KindPatientAdmitted, "simulator", events.PatientAdmittedPayload{
		Patient: hospital.Patient{ID: "pat_1", AcuityLevel: hospital.AcuityUrgent},
	}))
	publish(events.NewEvent(events.KindDecisionMade, "pipeline-coordinator", events.DecisionMadePayload{
		DecisionID:   "dec_1",
		PatientID:    "pat_1",
		DecisionType: "ESCALATE",
		RequiresAck:  true,
	}))
	publish(events.NewEvent(events.KindDecisionExecuted, "pipeline-coordinator", events.DecisionExecutedPayload{
		DecisionID: "dec_1",
		PatientID:  "pat_1",
		ExecutedBy: "nurse.lim",
	}))
	publish(events.NewEvent(events.KindSystemAlert, "capacity-producer", events.SystemAlertPayload{
		Level:   "critical",
		Message: "ICU at full occupancy",
	}))

	publish(events.NewEvent(events.KindRiskUpdate, "risk-producer", nil))

	if trail.Len() != 4 {
		t.Fatalf("trail holds %d entries, want 4", trail.Len())
	}

	executed := trail.List(Filter{Action: ActionDecisionExecuted})
	if len(executed) != 1 {
		t.Fatalf("found %d executed entries, want 1", len(executed))
	}
	if executed[0].ActorType != ActorTypeOperator || executed[0].ActorID != "nurse.lim" {
		t.Errorf("executed entry attributed to %s/%s, want operator/nurse.lim",
			executed[0].ActorType, executed[0].ActorID)
	}

	admitted := trail.List(Filter{Action: ActionPatientAdmitted})
	if len(admitted) != 1 || admitted[0].ActorType != ActorTypeSimulator {
		t.Errorf("admission not attributed to the simulator: %+v", admitted)
	}

	if result := trail.Verify(); !result.Valid {
		t.Errorf("Verify() = %+v, want valid", result)
	}
}

// TestGetEntryNotFound verifies missing IDs return a not found error.
func TestGetEntryNotFound(t *testing.T) {
	trail := NewTrail()
	if _, err := trail.Get("aud_missing"); err == nil {
		t.Fatal("Get() succeeded for a missing entry")
	}
}
