package decision

import (
	"math"
	"testing"
	"time"

	"github.com/krishx06/SKAG-MedTech/internal/hospital"
)

func allInputs() Inputs {
	return Inputs{HasVitals: true, HasRiskFactors: true, HasCapacity: true, HasFlow: true}
}

// TestFreshnessBoundaries checks the piecewise freshness curve
func TestFreshnessBoundaries(t *testing.T) {
	est := NewEstimator(30*time.Minute, DefaultThresholds())
	now := time.Now()
	score := Score{Total: 0.55, Risk: 0.5, Capacity: 0.5, WaitTime: 0.5, Resource: 0.5}

	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"fresh data", 2 * time.Minute, 1.0},
		{"exactly five minutes", 5 * time.Minute, 1.0},
		{"midway", 17*time.Minute + 30*time.Second, 0.75},
		{"at max age", 30 * time.Minute, 0.5},
		{"beyond max age", 2 * time.Hour, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patient := scoringPatient(hospital.AcuityUrgent, 50, 10, now)
			patient.LastUpdated = now.Add(-tt.age)
			c := est.Estimate(patient, score, allInputs(), now)
			if math.Abs(c.Freshness-tt.want) > 1e-9 {
				t.Errorf("Freshness = %v, want %v", c.Freshness, tt.want)
			}
		})
	}
}

// TestConfidenceDecreasesWithAge verifies overall confidence is monotone in
// data age, all else equal
func TestConfidenceDecreasesWithAge(t *testing.T) {
	est := NewEstimator(30*time.Minute, DefaultThresholds())
	now := time.Now()
	score := Score{Total: 0.55, Risk: 0.6, Capacity: 0.5, WaitTime: 0.5, Resource: 0.55}

	var prev float64 = 2
	for _, age := range []time.Duration{0, 10 * time.Minute, 20 * time.Minute, 40 * time.Minute} {
		patient := scoringPatient(hospital.AcuityUrgent, 50, 10, now)
		patient.LastUpdated = now.Add(-age)
		c := est.Estimate(patient, score, allInputs(), now)
		if c.Overall > prev {
			t.Errorf("confidence rose from %v to %v as data aged", prev, c.Overall)
		}
		prev = c.Overall
	}
}

// TestClarityNearThresholds verifies scores inside the ambiguity band around
// a classification threshold or a scale endpoint reduce clarity
func TestClarityNearThresholds(t *testing.T) {
	est := NewEstimator(30*time.Minute, DefaultThresholds())

	tests := []struct {
		name  string
		total float64
		want  float64
	}{
		{"right on the escalate threshold", 0.70, 0.0},
		{"just under escalate", 0.69, 1.0 / 15.0},
		{"midway between thresholds", 0.55, 1.0},
		{"near observe threshold", 0.43, 0.2},
		{"near the zero endpoint", 0.10, 2.0 / 3.0},
		{"near the one endpoint", 0.95, 1.0 / 3.0},
		{"clear of thresholds and endpoints", 0.20, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := est.clarity(tt.total)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("clarity(%v) = %v, want %v", tt.total, got, tt.want)
			}
		})
	}
}

// TestConsistency verifies agreement between sub-scores raises consistency
// and disagreement collapses it
func TestConsistency(t *testing.T) {
	// unanimous high scores: zero variance plus the agreement bonus
	high := Score{Risk: 0.8, Capacity: 0.8, WaitTime: 0.8, Resource: 0.8}
	if got := consistency(high, subScoreVariance(high)); got != 1.0 {
		t.Errorf("unanimous consistency = %v, want 1.0", got)
	}

	// maximal disagreement: variance 0.25 zeroes the base and forfeits the bonus
	split := Score{Risk: 1, Capacity: 0, WaitTime: 1, Resource: 0}
	if got := consistency(split, subScoreVariance(split)); got != 0.0 {
		t.Errorf("split consistency = %v, want 0.0", got)
	}

	// unanimous low scores still earn the bonus
	low := Score{Risk: 0.2, Capacity: 0.2, WaitTime: 0.2, Resource: 0.2}
	if got := consistency(low, subScoreVariance(low)); got != 1.0 {
		t.Errorf("unanimous low consistency = %v, want 1.0", got)
	}
}

// TestCompletenessAffectsConfidence checks missing producer inputs lower the
// estimate and surface reasons
func TestCompletenessAffectsConfidence(t *testing.T) {
	est := NewEstimator(30*time.Minute, DefaultThresholds())
	now := time.Now()
	patient := scoringPatient(hospital.AcuityUrgent, 50, 10, now)
	score := Score{Total: 0.55, Risk: 0.5, Capacity: 0.5, WaitTime: 0.5, Resource: 0.5, Weights: DefaultWeights()}

	full := est.Estimate(patient, score, allInputs(), now)
	partial := est.Estimate(patient, score, Inputs{HasVitals: true, HasCapacity: true}, now)

	if partial.Overall >= full.Overall {
		t.Errorf("partial inputs confidence %v not below full inputs %v", partial.Overall, full.Overall)
	}
	if partial.Completeness != 0.5 {
		t.Errorf("Completeness = %v, want 0.5", partial.Completeness)
	}
	if len(partial.Reasons) == 0 {
		t.Error("missing inputs produced no reasons")
	}
	if len(full.Reasons) != 0 {
		t.Errorf("clean estimate carries reasons: %v", full.Reasons)
	}
}

// TestPredictionVarianceLowersConfidence verifies upstream prediction
// variance reduces the estimate and surfaces a reason past 0.3
func TestPredictionVarianceLowersConfidence(t *testing.T) {
	est := NewEstimator(30*time.Minute, DefaultThresholds())
	now := time.Now()
	patient := scoringPatient(hospital.AcuityUrgent, 50, 10, now)
	score := Score{Total: 0.55, Risk: 0.5, Capacity: 0.5, WaitTime: 0.5, Resource: 0.5, Weights: DefaultWeights()}

	calm := est.Estimate(patient, score, allInputs(), now)

	noisy := allInputs()
	noisy.PredictionVariance = 0.5
	jittery := est.Estimate(patient, score, noisy, now)

	if jittery.Overall >= calm.Overall {
		t.Errorf("confidence with prediction variance %v not below %v", jittery.Overall, calm.Overall)
	}
	if jittery.Variance != 0.5 {
		t.Errorf("Variance = %v, want 0.5", jittery.Variance)
	}
	found := false
	for _, r := range jittery.Reasons {
		if r == "high variance in capacity predictions" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing prediction variance reason, got %v", jittery.Reasons)
	}
}

// TestNoDominantFactorReason verifies a flat contribution spread is called
// out as an uncertainty reason
func TestNoDominantFactorReason(t *testing.T) {
	est := NewEstimator(30*time.Minute, DefaultThresholds())
	now := time.Now()
	patient := scoringPatient(hospital.AcuityUrgent, 50, 10, now)

	// contributions 15/31/31/23 percent, nothing reaches 35
	score := Score{Total: 0.52, Risk: 0.2, Capacity: 0.8, WaitTime: 0.64, Resource: 0.8, Weights: DefaultWeights()}
	c := est.Estimate(patient, score, allInputs(), now)

	found := false
	for _, r := range c.Reasons {
		if r == "no single dominant factor behind the score" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing dominant factor reason, got %v", c.Reasons)
	}
}

// TestStability covers the default with sparse history, a steady series and
// the oscillation penalty
func TestStability(t *testing.T) {
	if got := stability(0.5, nil); got != 0.8 {
		t.Errorf("stability with no priors = %v, want 0.8", got)
	}
	if got := stability(0.5, []float64{0.5}); got != 0.8 {
		t.Errorf("stability with one prior = %v, want 0.8", got)
	}

	steady := stability(0.5, []float64{0.5, 0.5})
	if steady != 1.0 {
		t.Errorf("steady stability = %v, want 1.0", steady)
	}

	oscillating := stability(0.3, []float64{0.3, 0.7})
	if oscillating >= steady {
		t.Errorf("oscillating stability %v not below steady %v", oscillating, steady)
	}
	if math.Abs(oscillating-0.75778) > 1e-3 {
		t.Errorf("oscillating stability = %v, want about 0.758", oscillating)
	}
}

// TestIsActionable checks the threshold comparison
func TestIsActionable(t *testing.T) {
	if !(Confidence{Overall: 0.65}).IsActionable(0.6) {
		t.Error("0.65 not actionable at 0.6 threshold")
	}
	if (Confidence{Overall: 0.55}).IsActionable(0.6) {
		t.Error("0.55 actionable at 0.6 threshold")
	}
	if !(Confidence{Overall: 0.6}).IsActionable(0.6) {
		t.Error("threshold should be inclusive")
	}
}
