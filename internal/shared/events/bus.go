package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handler processes a delivered event. A handler returning an error does not
// stop delivery to other subscribers.
type Handler func(ctx context.Context, event Event) error

// DefaultHistoryCapacity bounds the retained event history
const DefaultHistoryCapacity = 1000

type subscription struct {
	name     string
	priority int
	seq      int
	handler  Handler
}

// Bus is an in-process publish/subscribe event bus. Subscribers are invoked
// synchronously in priority order (highest first, registration order for
// ties) on the publisher's goroutine.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]subscription
	wildcard    []subscription
	history     []Event
	historyCap  int
	nextSeq     int
	stopped     bool

	published uint64
	dropped   uint64
	failures  uint64

	logger *zap.Logger
}

// BusOption configures a Bus
type BusOption func(*Bus)

// WithHistoryCapacity overrides the retained history bound
func WithHistoryCapacity(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.historyCap = n
		}
	}
}

// WithLogger sets the bus logger
func WithLogger(logger *zap.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates a started event bus
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers: make(map[Kind][]subscription),
		historyCap:  DefaultHistoryCapacity,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.history = make([]Event, 0, b.historyCap)
	return b
}

// Subscribe registers a named handler for an event kind. Re-subscribing with
// the same name replaces the previous handler, keeping its priority slot
// updated. Higher priority handlers run first.
func (b *Bus) Subscribe(kind Kind, name string, priority int, handler Handler) error {
	if name == "" {
		return fmt.Errorf("subscriber name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[kind]
	for i, s := range subs {
		if s.name == name {
			subs[i].priority = priority
			subs[i].handler = handler
			b.sortLocked(kind)
			return nil
		}
	}

	b.nextSeq++
	b.subscribers[kind] = append(subs, subscription{
		name:     name,
		priority: priority,
		seq:      b.nextSeq,
		handler:  handler,
	})
	b.sortLocked(kind)
	return nil
}

// SubscribeAll registers a named handler for every event kind. Wildcard
// handlers are merged into each delivery list by the same priority ordering
// as kind handlers. Re-subscribing with the same name replaces the previous
// handler.
func (b *Bus) SubscribeAll(name string, priority int, handler Handler) error {
	if name == "" {
		return fmt.Errorf("subscriber name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.wildcard {
		if s.name == name {
			b.wildcard[i].priority = priority
			b.wildcard[i].handler = handler
			return nil
		}
	}

	b.nextSeq++
	b.wildcard = append(b.wildcard, subscription{
		name:     name,
		priority: priority,
		seq:      b.nextSeq,
		handler:  handler,
	})
	return nil
}

// UnsubscribeAll removes a named wildcard handler
func (b *Bus) UnsubscribeAll(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.wildcard {
		if s.name == name {
			b.wildcard = append(b.wildcard[:i], b.wildcard[i+1:]...)
			return
		}
	}
}

// Unsubscribe removes a named handler. Removing an unknown name is a no-op.
func (b *Bus) Unsubscribe(kind Kind, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[kind]
	for i, s := range subs {
		if s.name == name {
			b.subscribers[kind] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) sortLocked(kind Kind) {
	subs := b.subscribers[kind]
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority > subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
}

// Publish delivers an event to all subscribers of its kind. Handler errors
// and panics are logged and counted but never propagate to other handlers or
// the publisher. Publishing on a stopped bus drops the event.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	if b.stopped {
		b.dropped++
		b.mu.Unlock()
		return nil
	}
	b.published++
	b.appendHistoryLocked(event)
	subs := make([]subscription, 0, len(b.subscribers[event.Kind])+len(b.wildcard))
	subs = append(subs, b.subscribers[event.Kind]...)
	subs = append(subs, b.wildcard...)
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority > subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
	b.mu.Unlock()

	for _, sub := range subs {
		if err := b.safeCall(ctx, sub, event); err != nil {
			b.mu.Lock()
			b.failures++
			b.mu.Unlock()
			b.logger.Warn("event handler failed",
				zap.String("kind", string(event.Kind)),
				zap.String("subscriber", sub.name),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (b *Bus) safeCall(ctx context.Context, sub subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}

func (b *Bus) appendHistoryLocked(event Event) {
	if len(b.history) >= b.historyCap {
		// drop oldest
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, event)
}

// History returns the most recent retained events, newest last. A kind filter
// of "" returns all kinds; limit <= 0 returns everything retained.
func (b *Bus) History(kind Kind, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.history))
	for _, e := range b.history {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stop halts delivery. Subsequent publishes are silently dropped.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

// Start resumes delivery after a Stop
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = false
}

// Stats reports bus counters for observability endpoints
type Stats struct {
	Published   uint64       `json:"published"`
	Dropped     uint64       `json:"dropped"`
	Failures    uint64       `json:"handler_failures"`
	HistorySize int          `json:"history_size"`
	Subscribers map[Kind]int `json:"subscribers"`
	Wildcard    int          `json:"wildcard_subscribers"`
	Running     bool         `json:"running"`
}

// Stats returns a snapshot of bus counters
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make(map[Kind]int, len(b.subscribers))
	for kind, list := range b.subscribers {
		if len(list) > 0 {
			subs[kind] = len(list)
		}
	}
	return Stats{
		Published:   b.published,
		Dropped:     b.dropped,
		Failures:    b.failures,
		HistorySize: len(b.history),
		Subscribers: subs,
		Wildcard:    len(b.wildcard),
		Running:     !b.stopped,
	}
}
