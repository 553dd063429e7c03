package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// TestPublishDeliversInPriorityOrder verifies that higher priority handlers
// run before lower priority ones, with registration order breaking ties
func TestPublishDeliversInPriorityOrder(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var order []string

	record := func(name string) Handler {
		return func(ctx context.Context, e Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	bus.Subscribe(KindRiskUpdate, "low", 2, record("low"))
	bus.Subscribe(KindRiskUpdate, "high", 9, record("high"))
	bus.Subscribe(KindRiskUpdate, "mid-a", 5, record("mid-a"))
	bus.Subscribe(KindRiskUpdate, "mid-b", 5, record("mid-b"))

	bus.Publish(context.Background(), NewEvent(KindRiskUpdate, "test", nil))

	want := []string{"high", "mid-a", "mid-b", "low"}
	if len(order) != len(want) {
		t.Fatalf("delivered to %d handlers, want %d", len(order), len(want))
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("delivery[%d] = %s, want %s", i, order[i], name)
		}
	}
}

// TestHandlerFailureIsolation verifies that a failing or panicking handler
// does not prevent delivery to the remaining subscribers
func TestHandlerFailureIsolation(t *testing.T) {
	bus := NewBus()
	delivered := false

	bus.Subscribe(KindCapacityUpdate, "broken", 10, func(ctx context.Context, e Event) error {
		return errors.New("downstream unavailable")
	})
	bus.Subscribe(KindCapacityUpdate, "panics", 9, func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(KindCapacityUpdate, "healthy", 1, func(ctx context.Context, e Event) error {
		delivered = true
		return nil
	})

	if err := bus.Publish(context.Background(), NewEvent(KindCapacityUpdate, "test", nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !delivered {
		t.Error("healthy handler not invoked after earlier failures")
	}
	if got := bus.Stats().Failures; got != 2 {
		t.Errorf("Failures = %d, want 2", got)
	}
}

// TestResubscribeReplacesHandler verifies that subscribing with an existing
// name swaps the handler instead of adding a duplicate
func TestResubscribeReplacesHandler(t *testing.T) {
	bus := NewBus()
	calls := 0

	bus.Subscribe(KindFlowUpdate, "pipeline", 5, func(ctx context.Context, e Event) error {
		t.Error("replaced handler was invoked")
		return nil
	})
	bus.Subscribe(KindFlowUpdate, "pipeline", 5, func(ctx context.Context, e Event) error {
		calls++
		return nil
	})

	bus.Publish(context.Background(), NewEvent(KindFlowUpdate, "test", nil))

	if calls != 1 {
		t.Errorf("replacement handler calls = %d, want 1", calls)
	}
	if got := bus.Stats().Subscribers[KindFlowUpdate]; got != 1 {
		t.Errorf("subscriber count = %d, want 1", got)
	}
}

// TestUnsubscribeStopsDelivery verifies removal, including that removing an
// unknown name is a harmless no-op
func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	calls := 0

	bus.Subscribe(KindVitalsUpdated, "monitor", 5, func(ctx context.Context, e Event) error {
		calls++
		return nil
	})
	bus.Unsubscribe(KindVitalsUpdated, "monitor")
	bus.Unsubscribe(KindVitalsUpdated, "never-registered")

	bus.Publish(context.Background(), NewEvent(KindVitalsUpdated, "test", nil))

	if calls != 0 {
		t.Errorf("calls after unsubscribe = %d, want 0", calls)
	}
}

// TestStoppedBusDropsEvents verifies publish on a stopped bus delivers
// nothing and resumes after Start
func TestStoppedBusDropsEvents(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.Subscribe(KindSystemAlert, "ops", 5, func(ctx context.Context, e Event) error {
		calls++
		return nil
	})

	bus.Stop()
	bus.Publish(context.Background(), NewEvent(KindSystemAlert, "test", nil))
	if calls != 0 {
		t.Fatalf("calls on stopped bus = %d, want 0", calls)
	}
	if got := bus.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}

	bus.Start()
	bus.Publish(context.Background(), NewEvent(KindSystemAlert, "test", nil))
	if calls != 1 {
		t.Errorf("calls after restart = %d, want 1", calls)
	}
}

// TestHistoryBounded verifies the retained history never exceeds its
// capacity and keeps the newest events
func TestHistoryBounded(t *testing.T) {
	bus := NewBus(WithHistoryCapacity(10))

	for i := 0; i < 25; i++ {
		e := NewEvent(KindRiskUpdate, "test", nil)
		e.CorrelationID = fmt.Sprintf("seq-%d", i)
		bus.Publish(context.Background(), e)
	}

	history := bus.History("", 0)
	if len(history) != 10 {
		t.Fatalf("history length = %d, want 10", len(history))
	}
	if history[0].CorrelationID != "seq-15" {
		t.Errorf("oldest retained = %s, want seq-15", history[0].CorrelationID)
	}
	if history[9].CorrelationID != "seq-24" {
		t.Errorf("newest retained = %s, want seq-24", history[9].CorrelationID)
	}
}

// TestHistoryFilterAndLimit verifies kind filtering and the limit cap
func TestHistoryFilterAndLimit(t *testing.T) {
	bus := NewBus()

	bus.Publish(context.Background(), NewEvent(KindRiskUpdate, "test", nil))
	bus.Publish(context.Background(), NewEvent(KindCapacityUpdate, "test", nil))
	bus.Publish(context.Background(), NewEvent(KindRiskUpdate, "test", nil))
	bus.Publish(context.Background(), NewEvent(KindRiskUpdate, "test", nil))

	if got := len(bus.History(KindRiskUpdate, 0)); got != 3 {
		t.Errorf("risk history = %d, want 3", got)
	}
	if got := len(bus.History(KindRiskUpdate, 2)); got != 2 {
		t.Errorf("limited risk history = %d, want 2", got)
	}
	if got := len(bus.History(KindCapacityUpdate, 0)); got != 1 {
		t.Errorf("capacity history = %d, want 1", got)
	}
}

// TestConcurrentPublishSafe exercises the bus from many goroutines
func TestConcurrentPublishSafe(t *testing.T) {
	bus := NewBus(WithHistoryCapacity(50))
	var count sync.Map
	bus.Subscribe(KindRiskUpdate, "counter", 5, func(ctx context.Context, e Event) error {
		count.Store(e.ID, true)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				bus.Publish(context.Background(), NewEvent(KindRiskUpdate, "test", nil))
			}
		}()
	}
	wg.Wait()

	if got := bus.Stats().Published; got != 200 {
		t.Errorf("Published = %d, want 200", got)
	}
}

// TestEventBuilders verifies priority clamping and correlation chaining
func TestEventBuilders(t *testing.T) {
	e := NewEvent(KindRiskUpdate, "risk-producer", RiskUpdatePayload{NewScore: 80})

	if e.Priority != DefaultPriority {
		t.Errorf("default priority = %d, want %d", e.Priority, DefaultPriority)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Error("NewEvent did not populate ID and timestamp")
	}
	if got := e.WithPriority(15).Priority; got != 10 {
		t.Errorf("clamped priority = %d, want 10", got)
	}
	if got := e.WithPriority(-3).Priority; got != 1 {
		t.Errorf("clamped priority = %d, want 1", got)
	}
	if got := e.WithCorrelation("evt_parent").CorrelationID; got != "evt_parent" {
		t.Errorf("correlation = %s, want evt_parent", got)
	}
}

// TestRiskUpdatePayloadSignificance checks the significant-change threshold
func TestRiskUpdatePayloadSignificance(t *testing.T) {
	tests := []struct {
		name        string
		old, new    float64
		significant bool
	}{
		{"large increase", 40, 55, true},
		{"large decrease", 70, 55, true},
		{"exactly ten", 40, 50, true},
		{"small change", 40, 45, false},
		{"no change", 40, 40, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := RiskUpdatePayload{OldScore: tt.old, NewScore: tt.new}
			if got := p.IsSignificantChange(); got != tt.significant {
				t.Errorf("IsSignificantChange() = %v, want %v", got, tt.significant)
			}
		})
	}
}

// TestWildcardSubscriberReceivesAllKinds verifies wildcard handlers see
// every published kind and slot into the priority order of each delivery
func TestWildcardSubscriberReceivesAllKinds(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var order []string

	record := func(name string) Handler {
		return func(ctx context.Context, e Event) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	bus.Subscribe(KindRiskUpdate, "kind-high", 8, record("kind-high"))
	bus.Subscribe(KindRiskUpdate, "kind-low", 2, record("kind-low"))
	bus.SubscribeAll("everything", 5, record("everything"))

	bus.Publish(context.Background(), NewEvent(KindRiskUpdate, "test", nil))
	bus.Publish(context.Background(), NewEvent(KindCapacityUpdate, "test", nil))

	want := []string{"kind-high", "everything", "kind-low", "everything"}
	if len(order) != len(want) {
		t.Fatalf("delivered %d times, want %d: %v", len(order), len(want), order)
	}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("delivery[%d] = %s, want %s", i, order[i], name)
		}
	}

	if got := bus.Stats().Wildcard; got != 1 {
		t.Errorf("Stats().Wildcard = %d, want 1", got)
	}

	bus.UnsubscribeAll("everything")
	order = nil
	bus.Publish(context.Background(), NewEvent(KindFlowUpdate, "test", nil))
	if len(order) != 0 {
		t.Errorf("unsubscribed wildcard still delivered: %v", order)
	}
}
