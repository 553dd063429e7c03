// Package decision implements the scoring and arbitration core of the
// escalation pipeline. The calculator produces a weighted multi-criteria
// score, the estimator attaches a confidence measure, and the arbiter turns
// both into an actionable recommendation.
package decision

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/krishx06/SKAG-MedTech/internal/hospital"
)

// Acuity-dependent acceptable wait before the wait score starts climbing,
// in minutes. Indexed by acuity level 1-5.
var waitThresholdMinutes = map[hospital.AcuityLevel]float64{
	hospital.AcuityResuscitation: 5,
	hospital.AcuityEmergent:      15,
	hospital.AcuityUrgent:        30,
	hospital.AcuityLessUrgent:    60,
	hospital.AcuityNonUrgent:     120,
}

// Calculator computes multi-criteria priority scores
type Calculator struct {
	weights Weights
	logger  *zap.Logger
}

// NewCalculator creates a calculator. Weights that do not sum to 1.0 are
// renormalized once at construction, with a warning.
func NewCalculator(weights Weights, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sum := weights.Sum(); math.Abs(sum-1.0) > 1e-9 {
		logger.Warn("criterion weights do not sum to 1.0, renormalizing",
			zap.Float64("sum", sum))
		weights = weights.Normalized()
	}
	return &Calculator{weights: weights, logger: logger}
}

// Weights returns the effective (normalized) weights
func (c *Calculator) Weights() Weights {
	return c.weights
}

// Score computes the weighted priority score for a patient against the
// current capacity snapshot. The result is deterministic for identical
// inputs apart from the timestamp.
func (c *Calculator) Score(patient *hospital.Patient, capacity *hospital.CapacitySnapshot, now time.Time) Score {
	risk := c.riskScore(patient)
	capScore := c.capacityScore(patient, capacity)
	wait := c.waitTimeScore(patient, now)
	resource := c.resourceScore(patient, capacity)

	return Score{
		PatientID: patient.ID,
		Risk:      risk,
		Capacity:  capScore,
		WaitTime:  wait,
		Resource:  resource,
		Weights:   c.weights,
		Total: clamp01(risk*c.weights.Risk +
			capScore*c.weights.Capacity +
			wait*c.weights.WaitTime +
			resource*c.weights.Resource),
		ScoredAt: now,
	}
}

// riskScore blends the producer risk score with acuity, critical vitals and
// the strongest individual risk factor
func (c *Calculator) riskScore(patient *hospital.Patient) float64 {
	score := 0.5 * (patient.RiskScore / 100.0)

	acuityMult := 1.0 - float64(patient.AcuityLevel-1)*0.2
	if acuityMult < 0 {
		acuityMult = 0
	}
	score += 0.25 * acuityMult

	if patient.Vitals.IsCritical() {
		score += 0.15
	}

	score += 0.2 * patient.RiskFactors.Max()

	return clamp01(score)
}

// capacityScore reflects how much room the hospital has for this patient.
// Low capacity lowers the score, predicted discharges raise it slightly.
func (c *Calculator) capacityScore(patient *hospital.Patient, capacity *hospital.CapacitySnapshot) float64 {
	required := RequiredUnitType(patient)

	total, available := 0, 0
	for _, unit := range capacity.UnitsByType(required) {
		total += unit.TotalBeds()
		available += unit.AvailableBeds()
	}
	// no beds of the required type means no room, not neutral
	if total == 0 {
		return 0
	}

	ratio := float64(available) / float64(total)

	ratio += 0.02 * float64(capacity.PredictedDischarges1h-capacity.PredictedAdmissions1h)
	return clamp01(ratio)
}

// waitTimeScore grows along a sigmoid centered on the acuity-dependent
// acceptable wait. Zero wait scores 0, three times the threshold saturates
// at 1.
func (c *Calculator) waitTimeScore(patient *hospital.Patient, now time.Time) float64 {
	wait := float64(patient.WaitTimeMinutes(now))
	if wait <= 0 {
		return 0
	}

	threshold, ok := waitThresholdMinutes[patient.AcuityLevel]
	if !ok {
		threshold = waitThresholdMinutes[hospital.AcuityUrgent]
	}
	if wait >= 3*threshold {
		return 1
	}

	return clamp01(1.0 / (1.0 + math.Exp(-(wait-threshold)/(threshold*0.5))))
}

// resourceScore measures bed and staff availability in the unit type this
// patient needs
func (c *Calculator) resourceScore(patient *hospital.Patient, capacity *hospital.CapacitySnapshot) float64 {
	required := RequiredUnitType(patient)
	available := capacity.AvailableBedsByType(required)

	var base float64
	switch {
	case available >= 3:
		base = 1.0
	case available == 2:
		base = 0.9
	case available == 1:
		base = 0.75
	default:
		base = 0.1
		for _, alt := range AlternativeUnitTypes(required) {
			if capacity.AvailableBedsByType(alt) > 0 {
				base = 0.5
				break
			}
		}
	}

	units := capacity.UnitsByType(required)
	if len(units) > 0 {
		var loadSum float64
		for _, unit := range units {
			loadSum += unit.AverageStaffLoad()
		}
		avgLoad := loadSum / float64(len(units))
		base *= 1.0 - (avgLoad/100.0)*0.3
	}

	return clamp01(base)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
