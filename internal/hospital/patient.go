package hospital

import (
	"time"
)

// PatientStatus represents the current status of a patient in the hospital
type PatientStatus string

const (
	PatientStatusWaiting     PatientStatus = "waiting"
	PatientStatusInTreatment PatientStatus = "in_treatment"
	PatientStatusAdmitted    PatientStatus = "admitted"
	PatientStatusDischarged  PatientStatus = "discharged"
	PatientStatusTransferred PatientStatus = "transferred"
	PatientStatusCritical    PatientStatus = "critical"
)

// AcuityLevel is the Emergency Severity Index (ESI) scale 1-5,
// where 1 means immediate life-saving intervention is required.
type AcuityLevel int

const (
	AcuityResuscitation AcuityLevel = 1
	AcuityEmergent      AcuityLevel = 2
	AcuityUrgent        AcuityLevel = 3
	AcuityLessUrgent    AcuityLevel = 4
	AcuityNonUrgent     AcuityLevel = 5
)

// VitalSigns is a point-in-time vital sign measurement
type VitalSigns struct {
	HeartRate       float64   `json:"heart_rate"`       // BPM
	SystolicBP      float64   `json:"systolic_bp"`      // mmHg
	DiastolicBP     float64   `json:"diastolic_bp"`     // mmHg
	SpO2            float64   `json:"spo2"`             // oxygen saturation %
	Temperature     float64   `json:"temperature"`      // Celsius
	RespiratoryRate float64   `json:"respiratory_rate"` // breaths/min
	MeasuredAt      time.Time `json:"measured_at"`
}

// IsCritical checks if vitals indicate a critical condition. Unmeasured
// vitals are never critical.
func (v VitalSigns) IsCritical() bool {
	if v.MeasuredAt.IsZero() {
		return false
	}
	return v.HeartRate < 40 || v.HeartRate > 150 ||
		v.SystolicBP < 80 || v.SystolicBP > 200 ||
		v.SpO2 < 90 ||
		v.Temperature < 35 || v.Temperature > 40
}

// RiskFactors holds the bounded sub-scores contributing to a patient's risk
// score. Factors that do not map to a known field land in Custom.
type RiskFactors struct {
	SepsisProbability float64 `json:"sepsis_probability"` // 0-1
	CardiacRisk       float64 `json:"cardiac_risk"`       // 0-1
	RespiratoryRisk   float64 `json:"respiratory_risk"`   // 0-1
	// DeteriorationTrend is negative when improving, positive when worsening
	DeteriorationTrend float64 `json:"deterioration_trend"` // -1..1
	ComorbidityScore   float64 `json:"comorbidity_score"`   // 0-1

	Custom map[string]float64 `json:"custom_factors,omitempty"`
}

// Set assigns a named risk factor, routing unknown names to the Custom map.
func (rf *RiskFactors) Set(name string, value float64) {
	switch name {
	case "sepsis_probability":
		rf.SepsisProbability = value
	case "cardiac_risk":
		rf.CardiacRisk = value
	case "respiratory_risk":
		rf.RespiratoryRisk = value
	case "deterioration_trend":
		rf.DeteriorationTrend = value
	case "comorbidity_score":
		rf.ComorbidityScore = value
	default:
		if rf.Custom == nil {
			rf.Custom = make(map[string]float64)
		}
		rf.Custom[name] = value
	}
}

// Max returns the largest of the primary risk factor signals. The
// deterioration trend contributes by magnitude regardless of direction.
func (rf RiskFactors) Max() float64 {
	max := rf.SepsisProbability
	if rf.CardiacRisk > max {
		max = rf.CardiacRisk
	}
	if rf.RespiratoryRisk > max {
		max = rf.RespiratoryRisk
	}
	trend := rf.DeteriorationTrend
	if trend < 0 {
		trend = -trend
	}
	if trend > max {
		max = trend
	}
	return max
}

// Clone returns a deep copy
func (rf RiskFactors) Clone() RiskFactors {
	out := rf
	if rf.Custom != nil {
		out.Custom = make(map[string]float64, len(rf.Custom))
		for k, v := range rf.Custom {
			out.Custom[k] = v
		}
	}
	return out
}

// Patient represents a patient in the hospital system
type Patient struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"` // M/F/O

	// Location and timing
	AdmissionTime   time.Time `json:"admission_time"`
	CurrentLocation string    `json:"current_location"`
	TargetLocation  string    `json:"target_location,omitempty"`

	// Medical information
	ChiefComplaint string   `json:"chief_complaint"`
	Diagnosis      string   `json:"diagnosis,omitempty"`
	Comorbidities  []string `json:"comorbidities,omitempty"`

	// Current state
	Vitals      VitalSigns    `json:"vitals"`
	Status      PatientStatus `json:"status"`
	AcuityLevel AcuityLevel   `json:"acuity_level"`

	// Risk assessment, populated by the upstream risk producer.
	// RiskScore is always kept in [0,100].
	RiskScore   float64     `json:"risk_score"`
	RiskFactors RiskFactors `json:"risk_factors"`

	LastUpdated time.Time `json:"last_updated"`
}

// WaitTimeMinutes returns the elapsed wait since admission at the given time
func (p Patient) WaitTimeMinutes(now time.Time) int {
	if now.Before(p.AdmissionTime) {
		return 0
	}
	return int(now.Sub(p.AdmissionTime).Minutes())
}

// IsHighRisk checks if the patient is considered high risk
func (p Patient) IsHighRisk() bool {
	return p.RiskScore >= 70 || p.AcuityLevel <= AcuityEmergent
}

// Clone returns a deep copy safe to hand to readers
func (p Patient) Clone() Patient {
	out := p
	out.RiskFactors = p.RiskFactors.Clone()
	if p.Comorbidities != nil {
		out.Comorbidities = append([]string(nil), p.Comorbidities...)
	}
	return out
}

// ClampRiskScore constrains a raw risk score to the valid [0,100] range
func ClampRiskScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
