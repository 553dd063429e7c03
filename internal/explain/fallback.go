package explain

import (
	"fmt"
	"strings"

	"github.com/krishx06/SKAG-MedTech/internal/decision"
	"github.com/krishx06/SKAG-MedTech/internal/hospital"
)

// Phrases for the decision types as they appear mid-sentence
var actionPhrases = map[decision.Type]string{
	decision.TypeEscalate:     "should be escalated",
	decision.TypeObserve:      "should remain under observation",
	decision.TypeDelay:        "placement should be delayed",
	decision.TypeReprioritize: "should be moved up the queue",
	decision.TypeDischarge:    "is ready for discharge planning",
	decision.TypeTransfer:     "should be transferred",
}

// Fallback builds a deterministic template explanation from the score
// breakdown. The result is never empty.
func Fallback(patient *hospital.Patient, d *decision.Decision) string {
	action, ok := actionPhrases[d.Type]
	if !ok {
		action = "requires review"
	}

	reasons := ContributingFactors(patient, d)
	if len(reasons) > 2 {
		reasons = reasons[:2]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Patient %s because %s.", action, strings.Join(reasons, " and "))
	if d.RecommendedAction != "" {
		b.WriteString(" ")
		b.WriteString(d.RecommendedAction)
	}
	return b.String()
}

// ContributingFactors renders the dominant score contributions as reasons,
// strongest first. There is always at least one entry.
func ContributingFactors(patient *hospital.Patient, d *decision.Decision) []string {
	var reasons []string
	for _, c := range d.Score.Breakdown() {
		if c.Percent < 15 {
			continue
		}
		if phrase := factorPhrase(c, patient); phrase != "" {
			reasons = append(reasons, phrase)
		}
	}

	if patient.Vitals.IsCritical() {
		reasons = append([]string{"vital signs are in the critical range"}, reasons...)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("the combined priority score is %.2f", d.Score.Total))
	}
	return reasons
}

func factorPhrase(c decision.Contribution, patient *hospital.Patient) string {
	switch c.Criterion {
	case "risk":
		return fmt.Sprintf("the clinical risk score is %.0f of 100 at acuity level %d (%.0f%% of the priority)",
			patient.RiskScore, patient.AcuityLevel, c.Percent)
	case "wait_time":
		return fmt.Sprintf("the wait has exceeded what is acceptable for this acuity (%.0f%% of the priority)", c.Percent)
	case "capacity":
		return fmt.Sprintf("unit capacity conditions account for %.0f%% of the priority", c.Percent)
	case "resource":
		return fmt.Sprintf("bed and staff availability account for %.0f%% of the priority", c.Percent)
	default:
		return ""
	}
}
