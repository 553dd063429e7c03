package decision

import (
	"fmt"
	"sort"
	"time"

	"github.com/krishx06/SKAG-MedTech/internal/hospital"
)

// Type classifies the arbiter's recommended action
type Type string

const (
	TypeEscalate     Type = "ESCALATE"
	TypeObserve      Type = "OBSERVE"
	TypeDelay        Type = "DELAY"
	TypeReprioritize Type = "REPRIORITIZE"
	TypeDischarge    Type = "DISCHARGE"
	TypeTransfer     Type = "TRANSFER"
)

// Urgency expresses how quickly staff must act on a decision
type Urgency string

const (
	UrgencyImmediate Urgency = "IMMEDIATE"
	UrgencyUrgent    Urgency = "URGENT"
	UrgencySoon      Urgency = "SOON"
	UrgencyRoutine   Urgency = "ROUTINE"
)

// UrgencyRank maps urgency to a sortable rank, highest first
func UrgencyRank(u Urgency) int {
	switch u {
	case UrgencyImmediate:
		return 4
	case UrgencyUrgent:
		return 3
	case UrgencySoon:
		return 2
	default:
		return 1
	}
}

// Weights holds the relative importance of the four scoring criteria.
// They are expected to sum to 1.0.
type Weights struct {
	Risk     float64 `json:"risk"`
	Capacity float64 `json:"capacity"`
	WaitTime float64 `json:"wait_time"`
	Resource float64 `json:"resource"`
}

// Sum returns the total of all weights
func (w Weights) Sum() float64 {
	return w.Risk + w.Capacity + w.WaitTime + w.Resource
}

// Normalized returns weights rescaled to sum to 1.0. Weights that already
// sum to zero are returned unchanged.
func (w Weights) Normalized() Weights {
	sum := w.Sum()
	if sum == 0 {
		return w
	}
	return Weights{
		Risk:     w.Risk / sum,
		Capacity: w.Capacity / sum,
		WaitTime: w.WaitTime / sum,
		Resource: w.Resource / sum,
	}
}

// Score is the weighted multi-criteria priority score for one patient at one
// point in time. All components are in [0, 1].
type Score struct {
	PatientID string    `json:"patient_id"`
	Total     float64   `json:"total"`
	Risk      float64   `json:"risk"`
	Capacity  float64   `json:"capacity"`
	WaitTime  float64   `json:"wait_time"`
	Resource  float64   `json:"resource"`
	Weights   Weights   `json:"weights"`
	ScoredAt  time.Time `json:"scored_at"`
}

// Contribution is one criterion's share of the total score
type Contribution struct {
	Criterion string  `json:"criterion"`
	Value     float64 `json:"value"`
	Weight    float64 `json:"weight"`
	Weighted  float64 `json:"weighted"`
	Percent   float64 `json:"percent"`
}

// Breakdown returns per-criterion contributions sorted by weighted value,
// largest first. Percentages sum to 100 when the total is nonzero.
func (s Score) Breakdown() []Contribution {
	items := []Contribution{
		{Criterion: "risk", Value: s.Risk, Weight: s.Weights.Risk},
		{Criterion: "capacity", Value: s.Capacity, Weight: s.Weights.Capacity},
		{Criterion: "wait_time", Value: s.WaitTime, Weight: s.Weights.WaitTime},
		{Criterion: "resource", Value: s.Resource, Weight: s.Weights.Resource},
	}
	var total float64
	for i := range items {
		items[i].Weighted = items[i].Value * items[i].Weight
		total += items[i].Weighted
	}
	for i := range items {
		if total > 0 {
			items[i].Percent = items[i].Weighted / total * 100
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Weighted > items[j].Weighted
	})
	return items
}

// DominantFactor returns the criterion contributing most to the score
func (s Score) DominantFactor() string {
	breakdown := s.Breakdown()
	if len(breakdown) == 0 || breakdown[0].Weighted == 0 {
		return ""
	}
	return breakdown[0].Criterion
}

// Status of a decision in its lifecycle
type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
	StatusExpired  Status = "expired"
)

// Confidence holds the uncertainty estimate attached to a decision
type Confidence struct {
	Overall      float64 `json:"overall"` // 0-1
	Freshness    float64 `json:"freshness"`
	Variance     float64 `json:"variance"` // upstream prediction variance
	Completeness float64 `json:"completeness"`
	Clarity      float64 `json:"clarity"`
	Consistency  float64 `json:"consistency"`
	// Stability tracks how steady the total score has been over recent
	// evaluations. Informational, not part of the Overall blend.
	Stability float64  `json:"stability"`
	Reasons   []string `json:"reasons,omitempty"`
}

// IsActionable checks the confidence against the minimum threshold for
// autonomous action
func (c Confidence) IsActionable(threshold float64) bool {
	return c.Overall >= threshold
}

// Decision is the arbiter's complete recommendation for a patient
type Decision struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`

	Type    Type    `json:"type"`
	Urgency Urgency `json:"urgency"`

	// PriorityScore is the weighted total scaled to 0-100
	PriorityScore float64 `json:"priority_score"`

	Score               Score      `json:"score"`
	Confidence          Confidence `json:"confidence"`
	RequiresHumanReview bool       `json:"requires_human_review"`

	RequiredUnitType hospital.BedType   `json:"required_unit_type"`
	AlternativeUnits []hospital.BedType `json:"alternative_units,omitempty"`
	// TargetUnit is the unit picked to receive the patient, empty when no
	// unit of an acceptable type has a free bed
	TargetUnit string `json:"target_unit,omitempty"`

	Explanation       string `json:"explanation"`
	RecommendedAction string `json:"recommended_action"`

	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	ExecutedBy string     `json:"executed_by,omitempty"`
}

// RequiresImmediate checks both the decision type and urgency
func (d *Decision) RequiresImmediate() bool {
	return d.Type == TypeEscalate && d.Urgency == UrgencyImmediate
}

// Summary is a one-line description for logs and notifications
func (d *Decision) Summary() string {
	return fmt.Sprintf("%s %s for patient %s (score %.2f, confidence %.2f)",
		d.Urgency, d.Type, d.PatientID, d.Score.Total, d.Confidence.Overall)
}

// Thresholds holds the arbiter's classification cut-offs
type Thresholds struct {
	Escalate      float64 `json:"escalate"`       // total score at or above -> ESCALATE
	Observe       float64 `json:"observe"`        // total score at or above -> OBSERVE
	LowCapacity   float64 `json:"low_capacity"`   // capacity below -> DELAY candidate
	MinConfidence float64 `json:"min_confidence"` // below -> flag for review
}

// DefaultThresholds returns the production classification cut-offs
func DefaultThresholds() Thresholds {
	return Thresholds{
		Escalate:      0.70,
		Observe:       0.40,
		LowCapacity:   0.30,
		MinConfidence: 0.60,
	}
}

// DefaultWeights returns the production criterion weights
func DefaultWeights() Weights {
	return Weights{
		Risk:     0.40,
		Capacity: 0.20,
		WaitTime: 0.25,
		Resource: 0.15,
	}
}
