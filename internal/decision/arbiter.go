package decision

import (
	"fmt"
	"time"

	"github.com/krishx06/SKAG-MedTech/internal/hospital"
	"github.com/krishx06/SKAG-MedTech/internal/shared/types"
)

// RequiredUnitType maps a patient's acuity and risk profile to the unit
// type they should be placed in
func RequiredUnitType(patient *hospital.Patient) hospital.BedType {
	switch {
	case patient.AcuityLevel == hospital.AcuityResuscitation:
		return hospital.BedTypeICU
	case patient.AcuityLevel == hospital.AcuityEmergent:
		if patient.RiskFactors.CardiacRisk > 0.5 {
			return hospital.BedTypeCardiac
		}
		return hospital.BedTypeICU
	case patient.AcuityLevel == hospital.AcuityUrgent:
		return hospital.BedTypeER
	default:
		return hospital.BedTypeGeneral
	}
}

// AlternativeUnitTypes returns acceptable fallback unit types when the
// required type has no beds, in preference order
func AlternativeUnitTypes(required hospital.BedType) []hospital.BedType {
	switch required {
	case hospital.BedTypeICU:
		return []hospital.BedType{hospital.BedTypeCardiac, hospital.BedTypeER}
	case hospital.BedTypeCardiac:
		return []hospital.BedType{hospital.BedTypeICU}
	case hospital.BedTypeER:
		return []hospital.BedType{hospital.BedTypeGeneral}
	default:
		return nil
	}
}

// Arbiter converts scores and confidence into decisions
type Arbiter struct {
	thresholds Thresholds
}

// NewArbiter creates an arbiter with the given classification thresholds
func NewArbiter(thresholds Thresholds) *Arbiter {
	return &Arbiter{thresholds: thresholds}
}

// Classify determines the decision type from a score. Critical vitals
// override every score-based rule.
func (a *Arbiter) Classify(patient *hospital.Patient, score Score) Type {
	if patient.Vitals.IsCritical() {
		return TypeEscalate
	}

	switch {
	case score.Total >= a.thresholds.Escalate:
		return TypeEscalate
	case score.Capacity < a.thresholds.LowCapacity && score.Risk < 0.6:
		return TypeDelay
	case score.Total >= a.thresholds.Observe:
		return TypeObserve
	case score.WaitTime > 0.7 && score.Risk < 0.5:
		return TypeReprioritize
	default:
		return TypeObserve
	}
}

// ClassifyUrgency determines how quickly staff must act
func (a *Arbiter) ClassifyUrgency(patient *hospital.Patient, decisionType Type, score Score) Urgency {
	if patient.Vitals.IsCritical() || patient.AcuityLevel == hospital.AcuityResuscitation {
		return UrgencyImmediate
	}

	switch decisionType {
	case TypeEscalate:
		switch {
		case score.Risk >= 0.8:
			return UrgencyImmediate
		case score.Risk >= 0.6:
			return UrgencyUrgent
		default:
			return UrgencySoon
		}
	case TypeObserve:
		if score.WaitTime >= 0.7 {
			return UrgencySoon
		}
		return UrgencyRoutine
	default:
		return UrgencyRoutine
	}
}

// SelectTargetUnit picks the unit that should receive the patient. The
// required type is tried first, then the fallback types in order; the first
// unit with a free bed wins. Only escalations and transfers get a target.
func SelectTargetUnit(patient *hospital.Patient, capacity *hospital.CapacitySnapshot, decisionType Type) string {
	if decisionType != TypeEscalate && decisionType != TypeTransfer {
		return ""
	}
	if capacity == nil {
		return ""
	}

	required := RequiredUnitType(patient)
	for _, unitType := range append([]hospital.BedType{required}, AlternativeUnitTypes(required)...) {
		for _, unit := range capacity.UnitsByType(unitType) {
			if unit.AvailableBeds() > 0 {
				return unit.ID
			}
		}
	}
	return ""
}

// Decide builds the complete decision for a patient. The explanation is left
// empty for the pipeline to fill in.
func (a *Arbiter) Decide(patient *hospital.Patient, capacity *hospital.CapacitySnapshot, score Score, confidence Confidence, now time.Time) *Decision {
	decisionType := a.Classify(patient, score)
	urgency := a.ClassifyUrgency(patient, decisionType, score)
	required := RequiredUnitType(patient)
	target := SelectTargetUnit(patient, capacity, decisionType)

	return &Decision{
		ID:                  types.NewPrefixedID("dec"),
		PatientID:           patient.ID,
		Type:                decisionType,
		Urgency:             urgency,
		PriorityScore:       score.Total * 100,
		Score:               score,
		Confidence:          confidence,
		RequiresHumanReview: !confidence.IsActionable(a.thresholds.MinConfidence),
		RequiredUnitType:    required,
		AlternativeUnits:    AlternativeUnitTypes(required),
		TargetUnit:          target,
		RecommendedAction:   a.recommendedAction(patient, decisionType, urgency, required, target),
		Status:              StatusPending,
		CreatedAt:           now,
	}
}

func (a *Arbiter) recommendedAction(patient *hospital.Patient, decisionType Type, urgency Urgency, required hospital.BedType, target string) string {
	destination := string(required)
	if target != "" {
		destination = target
	}

	switch decisionType {
	case TypeEscalate:
		if urgency == UrgencyImmediate {
			return fmt.Sprintf("Transfer to %s immediately and notify the attending physician.", destination)
		}
		return fmt.Sprintf("Arrange transfer to %s and brief the receiving team.", destination)
	case TypeDelay:
		return fmt.Sprintf("Hold current placement until %s capacity recovers, reassess on the next update.", required)
	case TypeReprioritize:
		return "Move the patient up the queue and schedule the next available slot."
	case TypeTransfer:
		return fmt.Sprintf("Coordinate transfer to %s.", destination)
	case TypeDischarge:
		return "Begin discharge planning and free the bed."
	default:
		return "Continue monitoring and reassess on the next vitals or risk update."
	}
}
