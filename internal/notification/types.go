package notification

import (
	"time"

	"github.com/krishx06/SKAG-MedTech/internal/decision"
)

// Channel is the delivery channel for a staff notification
type Channel string

const (
	ChannelPager Channel = "pager"
	ChannelInApp Channel = "in_app"
)

// Priority of a staff notification
type Priority string

const (
	PriorityRoutine  Priority = "routine"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PriorityFromUrgency maps a decision urgency onto a notification priority
func PriorityFromUrgency(u decision.Urgency) Priority {
	switch u {
	case decision.UrgencyImmediate:
		return PriorityCritical
	case decision.UrgencyUrgent:
		return PriorityHigh
	case decision.UrgencySoon:
		return PriorityNormal
	default:
		return PriorityRoutine
	}
}

// priorityRank orders priorities for threshold comparisons
func priorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	default:
		return 1
	}
}

// Status of a notification in its delivery lifecycle
type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusAcknowledged Status = "acknowledged"
	StatusFailed       Status = "failed"
)

// Notification is a single message to a staff role about a decision
type Notification struct {
	ID       string   `json:"id"`
	Channel  Channel  `json:"channel"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	// Recipient role, e.g. charge_nurse, attending_physician
	Role string `json:"role"`

	PatientID  string `json:"patient_id"`
	DecisionID string `json:"decision_id"`

	Subject string `json:"subject"`
	Body    string `json:"body"`

	CorrelationID string `json:"correlation_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	AckedAt   *time.Time `json:"acked_at,omitempty"`
	AckedBy   string     `json:"acked_by,omitempty"`

	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
}

// RolePreferences controls which notifications a role receives and where
type RolePreferences struct {
	Role string `json:"role"`

	// MinPriority suppresses notifications below it
	MinPriority Priority `json:"min_priority"`

	// PreferredChannel overrides the default channel selection
	PreferredChannel Channel `json:"preferred_channel,omitempty"`

	// AlwaysAllowCritical delivers critical notifications regardless of
	// the minimum priority
	AlwaysAllowCritical bool `json:"always_allow_critical"`
}

// DefaultRolePreferences returns the default delivery policy for a role
func DefaultRolePreferences(role string) *RolePreferences {
	return &RolePreferences{
		Role:                role,
		MinPriority:         PriorityRoutine,
		AlwaysAllowCritical: true,
	}
}

// Stats aggregates notification delivery counters
type Stats struct {
	TotalQueued  int64              `json:"total_queued"`
	TotalSent    int64              `json:"total_sent"`
	TotalFailed  int64              `json:"total_failed"`
	TotalAcked   int64              `json:"total_acked"`
	Suppressed   int64              `json:"suppressed"`
	ByChannel    map[Channel]int64  `json:"by_channel"`
	ByPriority   map[Priority]int64 `json:"by_priority"`
	DeliveryRate float64            `json:"delivery_rate"`
}
