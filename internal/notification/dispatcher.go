// Package notification pushes decisions to the staff roles that must act on
// them. It subscribes to the event bus and fans decisions out over delivery
// channels with per-role preferences and bounded retry.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krishx06/SKAG-MedTech/internal/decision"
	"github.com/krishx06/SKAG-MedTech/internal/pipeline"
	apperrors "github.com/krishx06/SKAG-MedTech/internal/shared/errors"
	"github.com/krishx06/SKAG-MedTech/internal/shared/events"
	"github.com/krishx06/SKAG-MedTech/internal/shared/types"
	"github.com/krishx06/SKAG-MedTech/internal/state"
)

const subscriberName = "notification-dispatcher"

// Config holds dispatcher configuration
type Config struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration

	// Retain bounds the in-memory notification log
	Retain int

	// MinConfidence mirrors the pipeline's review threshold; decisions
	// below it are always pushed for human review
	MinConfidence float64
}

// DefaultConfig returns default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		Workers:       2,
		BufferSize:    256,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Second,
		Retain:        500,
		MinConfidence: 0.60,
	}
}

// Dispatcher routes decision events to staff notification channels
type Dispatcher struct {
	config    Config
	bus       *events.Bus
	store     *state.Store
	providers map[Channel]Provider
	logger    *zap.Logger

	queue chan *Notification

	mu       sync.RWMutex
	prefs    map[string]*RolePreferences
	retained map[string]*Notification
	order    []string
	stats    Stats

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Subscribe to attach it to the bus
// and Start to begin delivery.
func NewDispatcher(cfg Config, bus *events.Bus, store *state.Store, providers map[Channel]Provider, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Retain <= 0 {
		cfg.Retain = 500
	}
	return &Dispatcher{
		config:    cfg,
		bus:       bus,
		store:     store,
		providers: providers,
		logger:    logger,
		queue:     make(chan *Notification, cfg.BufferSize),
		prefs:     make(map[string]*RolePreferences),
		retained:  make(map[string]*Notification),
		stopCh:    make(chan struct{}),
	}
}

// Subscribe attaches the dispatcher to the bus. Decisions are handled after
// the pipeline and feed so the store already holds the full decision.
func (d *Dispatcher) Subscribe() {
	d.bus.Subscribe(events.KindDecisionMade, subscriberName, 4, d.handleDecisionMade)
	d.bus.Subscribe(events.KindSystemAlert, subscriberName, 4, d.handleSystemAlert)
}

// Start launches the delivery workers
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true
	d.mu.Unlock()

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	return nil
}

// Stop halts delivery. Queued notifications are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
}

func (d *Dispatcher) handleDecisionMade(ctx context.Context, evt events.Event) error {
	payload, ok := evt.Payload.(events.DecisionMadePayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for %s", evt.Payload, evt.Kind)
	}

	dec, err := d.store.Decision(payload.DecisionID)
	if err != nil {
		return err
	}
	if !pipeline.ShouldNotify(dec, d.config.MinConfidence) {
		d.mu.Lock()
		d.stats.Suppressed++
		d.mu.Unlock()
		return nil
	}

	priority := PriorityFromUrgency(dec.Urgency)
	for _, role := range pipeline.NotificationTargets(dec) {
		n := &Notification{
			Channel:       d.channelFor(role, priority),
			Priority:      priority,
			Role:          role,
			PatientID:     dec.PatientID,
			DecisionID:    dec.ID,
			Subject:       subjectFor(dec),
			Body:          bodyFor(dec),
			CorrelationID: evt.CorrelationID,
		}
		if err := d.Dispatch(ctx, n); err != nil {
			d.logger.Warn("failed to dispatch notification",
				zap.String("role", role),
				zap.String("decision_id", dec.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) handleSystemAlert(ctx context.Context, evt events.Event) error {
	payload, ok := evt.Payload.(events.SystemAlertPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for %s", evt.Payload, evt.Kind)
	}

	priority := PriorityNormal
	if payload.Level == "critical" {
		priority = PriorityCritical
	} else if payload.Level == "error" {
		priority = PriorityHigh
	}

	subject := "System alert: " + payload.Message
	if len(payload.AffectedUnits) > 0 {
		subject += " (units: " + strings.Join(payload.AffectedUnits, ", ") + ")"
	}
	return d.Dispatch(ctx, &Notification{
		Channel:       d.channelFor("charge_nurse", priority),
		Priority:      priority,
		Role:          "charge_nurse",
		Subject:       subject,
		Body:          payload.Message,
		CorrelationID: evt.CorrelationID,
	})
}

// Dispatch queues a notification for delivery. Notifications below the
// recipient role's minimum priority are suppressed.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) error {
	if n.Role == "" {
		return apperrors.Validation("notification role is required", nil)
	}
	if !d.allowedByPreferences(n) {
		d.mu.Lock()
		d.stats.Suppressed++
		d.mu.Unlock()
		return nil
	}

	if n.ID == "" {
		n.ID = types.NewPrefixedID("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Status = StatusPending

	d.mu.Lock()
	d.retain(n)
	d.stats.TotalQueued++
	d.mu.Unlock()

	select {
	case d.queue <- n:
		return nil
	default:
		d.markFailed(n, "notification buffer full")
		return fmt.Errorf("notification buffer full")
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification) {
	provider, ok := d.providers[n.Channel]
	if !ok {
		d.markFailed(n, "no provider for channel "+string(n.Channel))
		return
	}

	if err := provider.Send(ctx, n); err != nil {
		d.mu.Lock()
		n.RetryCount++
		n.LastError = err.Error()
		exhausted := n.RetryCount >= d.config.RetryAttempts
		d.mu.Unlock()

		if exhausted {
			d.markFailed(n, err.Error())
			return
		}
		// requeue after the retry delay
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			select {
			case <-time.After(d.config.RetryDelay):
			case <-d.stopCh:
				return
			}
			select {
			case d.queue <- n:
			default:
			}
		}()
		return
	}

	now := time.Now().UTC()
	d.mu.Lock()
	n.SentAt = &now
	n.Status = StatusSent
	d.stats.TotalSent++
	d.countDelivery(n)
	d.mu.Unlock()
}

// Acknowledge marks a sent notification as seen by a staff member
func (d *Dispatcher) Acknowledge(id, ackedBy string) (*Notification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.retained[id]
	if !ok {
		return nil, apperrors.NotFound("notification", id)
	}
	if n.Status == StatusAcknowledged {
		return nil, apperrors.Conflict("notification " + id + " already acknowledged by " + n.AckedBy)
	}

	now := time.Now().UTC()
	n.AckedAt = &now
	n.AckedBy = ackedBy
	n.Status = StatusAcknowledged
	d.stats.TotalAcked++

	out := *n
	return &out, nil
}

// Get returns a notification by ID
func (d *Dispatcher) Get(id string) (*Notification, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.retained[id]
	if !ok {
		return nil, apperrors.NotFound("notification", id)
	}
	out := *n
	return &out, nil
}

// Recent returns retained notifications, newest first
func (d *Dispatcher) Recent(limit int) []*Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 || limit > len(d.order) {
		limit = len(d.order)
	}
	out := make([]*Notification, 0, limit)
	for i := len(d.order) - 1; i >= 0 && len(out) < limit; i-- {
		if n, ok := d.retained[d.order[i]]; ok {
			c := *n
			out = append(out, &c)
		}
	}
	return out
}

// SetRolePreferences replaces the delivery policy for a role
func (d *Dispatcher) SetRolePreferences(prefs *RolePreferences) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prefs[prefs.Role] = prefs
}

// Stats returns delivery counters
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := d.stats
	out.ByChannel = make(map[Channel]int64, len(d.stats.ByChannel))
	for k, v := range d.stats.ByChannel {
		out.ByChannel[k] = v
	}
	out.ByPriority = make(map[Priority]int64, len(d.stats.ByPriority))
	for k, v := range d.stats.ByPriority {
		out.ByPriority[k] = v
	}
	if d.stats.TotalQueued > 0 {
		out.DeliveryRate = float64(d.stats.TotalSent) / float64(d.stats.TotalQueued)
	}
	return out
}

// --- Internals ---

// allowedByPreferences checks the role's delivery policy
func (d *Dispatcher) allowedByPreferences(n *Notification) bool {
	d.mu.RLock()
	prefs, ok := d.prefs[n.Role]
	d.mu.RUnlock()
	if !ok {
		return true
	}
	if priorityRank(n.Priority) >= priorityRank(prefs.MinPriority) {
		return true
	}
	return prefs.AlwaysAllowCritical && n.Priority == PriorityCritical
}

// channelFor selects the delivery channel. Critical notifications page,
// everything else lands in the app.
func (d *Dispatcher) channelFor(role string, priority Priority) Channel {
	d.mu.RLock()
	prefs, ok := d.prefs[role]
	d.mu.RUnlock()
	if ok && prefs.PreferredChannel != "" {
		return prefs.PreferredChannel
	}
	if priority == PriorityCritical {
		return ChannelPager
	}
	return ChannelInApp
}

// retain appends to the bounded log. Caller holds d.mu.
func (d *Dispatcher) retain(n *Notification) {
	d.retained[n.ID] = n
	d.order = append(d.order, n.ID)
	for len(d.order) > d.config.Retain {
		delete(d.retained, d.order[0])
		d.order = d.order[1:]
	}
}

func (d *Dispatcher) markFailed(n *Notification, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n.Status = StatusFailed
	n.LastError = reason
	d.stats.TotalFailed++
}

// countDelivery updates channel and priority counters. Caller holds d.mu.
func (d *Dispatcher) countDelivery(n *Notification) {
	if d.stats.ByChannel == nil {
		d.stats.ByChannel = make(map[Channel]int64)
	}
	if d.stats.ByPriority == nil {
		d.stats.ByPriority = make(map[Priority]int64)
	}
	d.stats.ByChannel[n.Channel]++
	d.stats.ByPriority[n.Priority]++
}

func subjectFor(dec *decision.Decision) string {
	return fmt.Sprintf("%s %s for patient %s", dec.Urgency, dec.Type, dec.PatientID)
}

func bodyFor(dec *decision.Decision) string {
	if dec.Explanation != "" {
		return dec.Explanation
	}
	return dec.RecommendedAction
}
