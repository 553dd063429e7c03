// Package audit keeps a hash-chained, append-only record of every decision
// the pipeline makes and every action staff take on it. Entries are linked
// by their predecessor's hash so silent edits are detectable.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// canonicalJSON produces deterministic JSON with sorted map keys. Go maps
// iterate in random order, so hashing requires a canonical encoding.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// ActorType defines who performed the recorded action
type ActorType string

const (
	ActorTypeSystem    ActorType = "system"
	ActorTypeOperator  ActorType = "operator"
	ActorTypeSimulator ActorType = "simulator"
)

// Recorded actions
const (
	ActionDecisionMade      = "decision.made"
	ActionDecisionExecuted  = "decision.executed"
	ActionPatientAdmitted   = "patient.admitted"
	ActionPatientDischarged = "patient.discharged"
	ActionAlertRaised       = "alert.raised"
)

// Entry is one immutable audit record
type Entry struct {
	ID        string    `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	ActorType ActorType `json:"actor_type"`
	ActorID   string    `json:"actor_id"`

	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	PatientID    string `json:"patient_id,omitempty"`

	Details map[string]any `json:"details,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
}

// calculateHash hashes the entry content plus the predecessor's hash. The
// timestamp is always hashed in UTC so verification is timezone independent.
func (e *Entry) calculateHash() string {
	data := map[string]any{
		"id":            e.ID,
		"sequence":      e.Sequence,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor_type":    e.ActorType,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
	}
	if e.ResourceID != "" {
		data["resource_id"] = e.ResourceID
	}
	if e.PatientID != "" {
		data["patient_id"] = e.PatientID
	}
	if len(e.Details) > 0 {
		data["details"] = e.Details
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash checks the stored hash against the entry content
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// ComputeHash returns the correct hash for this entry
func (e *Entry) ComputeHash() string {
	return e.calculateHash()
}

// Filter narrows List results
type Filter struct {
	Action       string     `json:"action,omitempty"`
	ActorID      string     `json:"actor_id,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	PatientID    string     `json:"patient_id,omitempty"`
	Since        *time.Time `json:"since,omitempty"`
	Limit        int        `json:"limit,omitempty"`
}
