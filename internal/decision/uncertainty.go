package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/krishx06/SKAG-MedTech/internal/hospital"
)

// Component weights of the overall confidence estimate
const (
	confWeightFreshness    = 0.25
	confWeightVariance     = 0.15
	confWeightCompleteness = 0.15
	confWeightClarity      = 0.25
	confWeightConsistency  = 0.20
)

// Estimator quantifies how much the pipeline should trust a score before
// acting on it
type Estimator struct {
	maxDataAge time.Duration
	thresholds Thresholds
}

// NewEstimator creates an estimator. maxDataAge is the age at which data
// freshness bottoms out.
func NewEstimator(maxDataAge time.Duration, thresholds Thresholds) *Estimator {
	if maxDataAge <= 0 {
		maxDataAge = 30 * time.Minute
	}
	return &Estimator{maxDataAge: maxDataAge, thresholds: thresholds}
}

// Inputs describes which upstream data was available when the score was
// computed
type Inputs struct {
	HasVitals      bool
	HasRiskFactors bool
	HasCapacity    bool
	HasFlow        bool

	// PredictionVariance is the variance reported by the upstream capacity
	// predictions, 0-1
	PredictionVariance float64

	// PriorTotals are the patient's recent weighted totals, oldest first,
	// used for the stability estimate
	PriorTotals []float64
}

// Completeness is the fraction of expected inputs that were present
func (in Inputs) Completeness() float64 {
	present := 0
	for _, ok := range []bool{in.HasVitals, in.HasRiskFactors, in.HasCapacity, in.HasFlow} {
		if ok {
			present++
		}
	}
	return float64(present) / 4.0
}

// Estimate computes the confidence attached to a score. Higher confidence
// means fresher data, clearer separation from the decision thresholds and
// sub-scores that agree with each other.
func (e *Estimator) Estimate(patient *hospital.Patient, score Score, inputs Inputs, now time.Time) Confidence {
	freshness := e.freshness(patient, now)
	variance := clamp01(inputs.PredictionVariance)
	completeness := inputs.Completeness()
	clarity := e.clarity(score.Total)
	consistency := consistency(score, subScoreVariance(score))

	overall := confWeightFreshness*freshness +
		confWeightVariance*(1.0-0.4*variance) +
		confWeightCompleteness*(0.5+0.5*completeness) +
		confWeightClarity*clarity +
		confWeightConsistency*consistency

	c := Confidence{
		Overall:      clamp01(overall),
		Freshness:    freshness,
		Variance:     variance,
		Completeness: completeness,
		Clarity:      clarity,
		Consistency:  consistency,
		Stability:    stability(score.Total, inputs.PriorTotals),
	}
	c.Reasons = e.reasons(c, score, inputs)
	return c
}

// freshness is 1.0 for data under five minutes old, declining linearly to
// 0.5 at the maximum age
func (e *Estimator) freshness(patient *hospital.Patient, now time.Time) float64 {
	age := now.Sub(patient.LastUpdated)
	if age <= 5*time.Minute {
		return 1.0
	}
	if age >= e.maxDataAge {
		return 0.5
	}
	span := e.maxDataAge - 5*time.Minute
	return 1.0 - 0.5*float64(age-5*time.Minute)/float64(span)
}

// clarity measures how far the total score sits from the nearest
// classification threshold or scale endpoint. Scores within the ambiguity
// band of 0.15 around any of them reduce confidence proportionally.
func (e *Estimator) clarity(total float64) float64 {
	minDist := math.Abs(total - e.thresholds.Escalate)
	for _, anchor := range []float64{e.thresholds.Observe, 0.0, 1.0} {
		if d := math.Abs(total - anchor); d < minDist {
			minDist = d
		}
	}
	return clamp01(minDist / 0.15)
}

// subScoreVariance is the population variance of the four sub-scores
func subScoreVariance(score Score) float64 {
	subs := []float64{score.Risk, score.Capacity, score.WaitTime, score.Resource}
	var mean float64
	for _, v := range subs {
		mean += v
	}
	mean /= float64(len(subs))

	var variance float64
	for _, v := range subs {
		variance += (v - mean) * (v - mean)
	}
	return variance / float64(len(subs))
}

// consistency rewards sub-scores that agree. Unanimously high or
// unanimously low criteria earn a bonus because they point in the same
// direction.
func consistency(score Score, variance float64) float64 {
	base := clamp01(1.0 - variance/0.25)

	subs := []float64{score.Risk, score.Capacity, score.WaitTime, score.Resource}
	allHigh, allLow := true, true
	for _, v := range subs {
		if v < 0.6 {
			allHigh = false
		}
		if v > 0.4 {
			allLow = false
		}
	}
	if allHigh || allLow {
		base += 0.1
	}
	return clamp01(base)
}

func (e *Estimator) reasons(c Confidence, score Score, inputs Inputs) []string {
	var reasons []string
	if c.Freshness < 0.7 {
		reasons = append(reasons, "patient data is going stale")
	}
	if c.Variance > 0.3 {
		reasons = append(reasons, "high variance in capacity predictions")
	}
	if c.Clarity < 0.5 {
		reasons = append(reasons, fmt.Sprintf("score is within the ambiguity band of a decision threshold (clarity %.2f)", c.Clarity))
	}
	if c.Consistency < 0.5 {
		reasons = append(reasons, "scoring criteria disagree with each other")
	}
	if maxContributionPercent(score) < 35 {
		reasons = append(reasons, "no single dominant factor behind the score")
	}
	if !inputs.HasVitals {
		reasons = append(reasons, "no recent vital signs")
	}
	if !inputs.HasRiskFactors {
		reasons = append(reasons, "no risk factor breakdown from the risk producer")
	}
	if !inputs.HasCapacity {
		reasons = append(reasons, "capacity snapshot unavailable")
	}
	if !inputs.HasFlow {
		reasons = append(reasons, "no routing recommendation from the flow producer")
	}
	return reasons
}

func maxContributionPercent(score Score) float64 {
	var max float64
	for _, c := range score.Breakdown() {
		if c.Percent > max {
			max = c.Percent
		}
	}
	return max
}

// stability tracks how steady the weighted total has been over the
// patient's recent evaluations. Variance across the series and direction
// flips both lower it. With fewer than two priors there is not enough
// signal, so a moderate 0.8 is assumed.
func stability(current float64, priors []float64) float64 {
	if len(priors) < 2 {
		return 0.8
	}

	series := append(append([]float64{}, priors...), current)
	var mean float64
	for _, v := range series {
		mean += v
	}
	mean /= float64(len(series))

	var variance float64
	for _, v := range series {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(series))

	changes := make([]float64, len(series)-1)
	for i := range changes {
		changes[i] = series[i+1] - series[i]
	}
	signFlips := 0
	for i := 0; i+1 < len(changes); i++ {
		if changes[i]*changes[i+1] < 0 {
			signFlips++
		}
	}

	penalty := math.Min(variance*4, 0.5) + 0.1*float64(signFlips)
	return clamp01(1.0 - penalty)
}
