package alarms

import (
	"context"
	"sync"
	"testing"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func TestGateNotifiesOnTransitionsOnly(t *testing.T) {
	rec := &recordingNotifier{}
	gate := NewGate(WithNotifier(rec))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := gate.Raise(ctx, BrokerAlarm, "connection refused"); err != nil {
			t.Fatalf("raise: %v", err)
		}
	}
	if !gate.Active(BrokerAlarm) {
		t.Fatalf("expected alarm active")
	}
	if st := gate.Snapshot()[BrokerAlarm]; st.Failures != 3 {
		t.Fatalf("expected 3 failures, got %d", st.Failures)
	}
	if err := gate.Release(ctx, BrokerAlarm); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := gate.Release(ctx, BrokerAlarm); err != nil {
		t.Fatalf("release: %v", err)
	}
	if gate.Active(BrokerAlarm) {
		t.Fatalf("single success must release the alarm")
	}

	if len(rec.events) != 2 {
		t.Fatalf("expected 2 transitions, got %#v", rec.events)
	}
	if rec.events[0].Type != EventRaised || rec.events[1].Type != EventReleased {
		t.Fatalf("unexpected events %#v", rec.events)
	}
	if rec.events[1].Failures != 3 {
		t.Fatalf("release should report accumulated failures, got %d", rec.events[1].Failures)
	}
}

func TestGateRejectsEmptyKey(t *testing.T) {
	gate := NewGate()
	if err := gate.Raise(context.Background(), "", "x"); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestGateConcurrentUse(t *testing.T) {
	gate := NewGate()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = gate.Raise(ctx, BrokerAlarm, "down")
		}()
		go func() {
			defer wg.Done()
			_ = gate.Release(ctx, BrokerAlarm)
		}()
	}
	wg.Wait()
	_ = gate.Release(ctx, BrokerAlarm)
	if gate.Active(BrokerAlarm) {
		t.Fatalf("final release must win")
	}
}

func TestGateNotificationsFollowStateOrder(t *testing.T) {
	rec := &recordingNotifier{}
	gate := NewGate(WithNotifier(rec))
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = gate.Raise(ctx, BrokerAlarm, "down")
		}()
		go func() {
			defer wg.Done()
			_ = gate.Release(ctx, BrokerAlarm)
		}()
	}
	wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, event := range rec.events {
		want := EventRaised
		if i%2 == 1 {
			want = EventReleased
		}
		if event.Type != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, event.Type)
		}
	}
	last := EventReleased
	if n := len(rec.events); n > 0 {
		last = rec.events[n-1].Type
	}
	if (last == EventRaised) != gate.Active(BrokerAlarm) {
		t.Fatalf("last event %s disagrees with gate state %v", last, gate.Active(BrokerAlarm))
	}
}
