package explain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/krishx06/SKAG-MedTech/internal/decision"
	"github.com/krishx06/SKAG-MedTech/internal/hospital"
)

func explainFixture() (*hospital.Patient, *decision.Decision) {
	patient := &hospital.Patient{
		ID:            "pat_1",
		AdmissionTime: time.Now().Add(-45 * time.Minute),
		Status:        hospital.PatientStatusWaiting,
		AcuityLevel:   hospital.AcuityEmergent,
		RiskScore:     82,
		Vitals: hospital.VitalSigns{
			HeartRate: 95, SystolicBP: 118, SpO2: 96, Temperature: 37.2,
		},
	}
	d := &decision.Decision{
		ID:        "dec_1",
		PatientID: patient.ID,
		Type:      decision.TypeEscalate,
		Urgency:   decision.UrgencyUrgent,
		Score: decision.Score{
			PatientID: patient.ID,
			Total:     0.74,
			Risk:      0.85,
			Capacity:  0.4,
			WaitTime:  0.75,
			Resource:  0.6,
			Weights:   decision.DefaultWeights(),
		},
		RecommendedAction: "Arrange transfer to icu and brief the receiving team.",
		Status:            decision.StatusPending,
	}
	return patient, d
}

// TestFallbackTemplate verifies the template sentence structure and that the
// strongest factors appear
func TestFallbackTemplate(t *testing.T) {
	patient, d := explainFixture()

	text := Fallback(patient, d)

	if !strings.HasPrefix(text, "Patient should be escalated because ") {
		t.Errorf("unexpected opening: %q", text)
	}
	if !strings.Contains(text, "risk score is 82") {
		t.Errorf("dominant risk factor missing: %q", text)
	}
	if !strings.Contains(text, d.RecommendedAction) {
		t.Errorf("recommended action missing: %q", text)
	}
}

// TestFallbackNeverEmpty checks the degenerate zero-score case still
// produces a sentence
func TestFallbackNeverEmpty(t *testing.T) {
	patient, d := explainFixture()
	d.Score = decision.Score{PatientID: patient.ID, Weights: decision.DefaultWeights()}
	d.RecommendedAction = ""

	if text := Fallback(patient, d); text == "" {
		t.Error("fallback produced empty explanation")
	}
}

// TestContributingFactorsCriticalVitalsFirst verifies critical vitals lead
// the reason list
func TestContributingFactorsCriticalVitalsFirst(t *testing.T) {
	patient, d := explainFixture()
	patient.Vitals.SpO2 = 84

	reasons := ContributingFactors(patient, d)
	if len(reasons) == 0 || !strings.Contains(reasons[0], "critical") {
		t.Errorf("critical vitals not leading the reasons: %v", reasons)
	}
}

// TestExplainDisabledUsesFallback verifies no network call is made when the
// service is off
func TestExplainDisabledUsesFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://127.0.0.1:1" // would fail if dialed
	client := New(cfg, zap.NewNop())

	patient, d := explainFixture()
	text := client.Explain(context.Background(), patient, d, time.Now())
	if !strings.HasPrefix(text, "Patient ") {
		t.Errorf("unexpected fallback text: %q", text)
	}
}

// TestExplainRemoteSuccess verifies the remote text is used when the
// service responds
func TestExplainRemoteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/explain" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"explanation":"Escalation is warranted given sustained deterioration."}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.BaseURL = srv.URL
	client := New(cfg, zap.NewNop())

	patient, d := explainFixture()
	text := client.Explain(context.Background(), patient, d, time.Now())
	if text != "Escalation is warranted given sustained deterioration." {
		t.Errorf("remote explanation not used: %q", text)
	}
}

// TestExplainRemoteFailureFallsBack verifies server errors degrade to the
// template after retries
func TestExplainRemoteFailureFallsBack(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.BaseURL = srv.URL
	cfg.RetryAttempts = 1
	cfg.RetryDelay = time.Millisecond
	client := New(cfg, zap.NewNop())

	patient, d := explainFixture()
	text := client.Explain(context.Background(), patient, d, time.Now())
	if !strings.HasPrefix(text, "Patient should be escalated") {
		t.Errorf("fallback not used on server error: %q", text)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (initial plus one retry)", calls)
	}
}

// TestExplainEmptyRemoteTextFallsBack verifies a blank remote explanation is
// treated as a failure
func TestExplainEmptyRemoteTextFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"explanation":""}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.BaseURL = srv.URL
	client := New(cfg, zap.NewNop())

	patient, d := explainFixture()
	if text := client.Explain(context.Background(), patient, d, time.Now()); !strings.HasPrefix(text, "Patient ") {
		t.Errorf("fallback not used for empty remote text: %q", text)
	}
}
