package audit

import (
	"strings"
	"sync"
	"time"

	apperrors "github.com/krishx06/SKAG-MedTech/internal/shared/errors"
	"github.com/krishx06/SKAG-MedTech/internal/shared/types"
)

// Trail is an in-memory append-only audit log. Old entries are evicted once
// the capacity is exceeded; the hash of the newest evicted entry is kept as
// an anchor so the remaining chain still verifies back to it.
type Trail struct {
	mu       sync.RWMutex
	entries  []*Entry
	lastHash string
	lastSeq  int64
	capacity int

	// anchor is the hash and sequence of the last evicted entry
	anchorHash string
	anchorSeq  int64
}

// Option configures a Trail
type Option func(*Trail)

// WithCapacity bounds the number of retained entries
func WithCapacity(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// NewTrail creates an empty audit trail
func NewTrail(opts ...Option) *Trail {
	t := &Trail{capacity: 10000}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record appends a new entry, chaining it to the current head
func (t *Trail) Record(actorType ActorType, actorID, action, resourceType, resourceID, patientID string, details map[string]any) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastSeq++
	entry := &Entry{
		ID:           types.NewPrefixedID("aud"),
		Sequence:     t.lastSeq,
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		PrevHash:     t.lastHash,
		ActorType:    actorType,
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		PatientID:    patientID,
		Details:      details,
	}
	entry.Hash = entry.calculateHash()

	t.entries = append(t.entries, entry)
	t.lastHash = entry.Hash

	for len(t.entries) > t.capacity {
		evicted := t.entries[0]
		t.entries = t.entries[1:]
		t.anchorHash = evicted.Hash
		t.anchorSeq = evicted.Sequence
	}
	return entry
}

// Head returns the hash of the newest entry
func (t *Trail) Head() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastHash
}

// Len returns the number of retained entries
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Get returns an entry by ID
func (t *Trail) Get(id string) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if e.ID == id {
			c := *e
			return &c, nil
		}
	}
	return nil, apperrors.NotFound("audit entry", id)
}

// List returns entries matching the filter, newest first
func (t *Trail) List(filter Filter) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 || limit > len(t.entries) {
		limit = len(t.entries)
	}

	out := make([]*Entry, 0, limit)
	for i := len(t.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := t.entries[i]
		if filter.Action != "" && !strings.HasPrefix(e.Action, filter.Action) {
			continue
		}
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		if filter.ResourceType != "" && e.ResourceType != filter.ResourceType {
			continue
		}
		if filter.PatientID != "" && e.PatientID != filter.PatientID {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out
}

// VerifyResult reports the outcome of a chain verification
type VerifyResult struct {
	Valid          bool     `json:"valid"`
	Checked        int      `json:"checked"`
	ContentInvalid int      `json:"content_invalid"`
	LinkageInvalid int      `json:"linkage_invalid"`
	Violations     []string `json:"violations,omitempty"`
	AnchorSeq      int64    `json:"anchor_seq,omitempty"`
}

// Verify walks the retained chain oldest to newest. Each entry's content
// hash is recomputed, and its prev_hash is checked against the predecessor
// (or the eviction anchor for the oldest retained entry).
func (t *Trail) Verify() *VerifyResult {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := &VerifyResult{Valid: true, AnchorSeq: t.anchorSeq}

	expectedPrev := t.anchorHash
	for _, e := range t.entries {
		result.Checked++

		if !e.VerifyHash() {
			result.ContentInvalid++
			result.Valid = false
			result.Violations = append(result.Violations,
				"content tampered: entry "+e.ID+" hash does not match content")
		}
		if e.PrevHash != expectedPrev {
			result.LinkageInvalid++
			result.Valid = false
			result.Violations = append(result.Violations,
				"chain broken: entry "+e.ID+" prev_hash does not match predecessor")
		}
		expectedPrev = e.Hash
	}
	return result
}
