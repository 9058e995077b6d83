package alarms

import (
	"context"
	"sync"
	"time"
)

// BrokerAlarm is raised while the context broker cannot be reached.
const BrokerAlarm = "CONTEXT-BROKER"

// Event types.
const (
	EventRaised   = "raised"
	EventReleased = "released"
)

// Event describes an alarm transition.
type Event struct {
	Type   string
	Key    string
	Detail string
	At     time.Time
	// Failures counts the raises seen since the alarm was last released.
	Failures int
}

// Notifier receives alarm transitions.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// State is the current state of one alarm key.
type State struct {
	Active   bool
	Detail   string
	Since    time.Time
	Failures int
}

// Gate tracks process-wide alarm state. It is safe for concurrent use; the
// last writer wins. Transitions are delivered in the order they were applied.
type Gate struct {
	// transition serialises a state change with its notification.
	transition sync.Mutex
	mu         sync.Mutex
	states     map[string]State
	notifier   Notifier
	now        func() time.Time
}

// GateOption configures the gate.
type GateOption func(*Gate)

// WithNotifier sets the transition sink.
func WithNotifier(n Notifier) GateOption {
	return func(g *Gate) {
		g.notifier = n
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate constructs an alarm gate.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{
		states: make(map[string]State),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Raise marks key active. The notifier hears only the first raise.
func (g *Gate) Raise(ctx context.Context, key, detail string) error {
	if key == "" {
		return ErrEmptyKey
	}
	g.transition.Lock()
	defer g.transition.Unlock()

	g.mu.Lock()
	st := g.states[key]
	wasActive := st.Active
	st.Failures++
	st.Detail = detail
	if !wasActive {
		st.Active = true
		st.Since = g.now()
	}
	g.states[key] = st
	g.mu.Unlock()

	if !wasActive {
		g.notify(ctx, Event{Type: EventRaised, Key: key, Detail: detail, At: st.Since, Failures: st.Failures})
	}
	return nil
}

// Release clears key. A single release ends the alarm however many raises preceded it.
func (g *Gate) Release(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	g.transition.Lock()
	defer g.transition.Unlock()

	g.mu.Lock()
	st, ok := g.states[key]
	wasActive := ok && st.Active
	failures := st.Failures
	delete(g.states, key)
	g.mu.Unlock()

	if wasActive {
		g.notify(ctx, Event{Type: EventReleased, Key: key, At: g.now(), Failures: failures})
	}
	return nil
}

// Active reports whether key is raised.
func (g *Gate) Active(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[key].Active
}

// Snapshot copies the raised alarms.
func (g *Gate) Snapshot() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]State, len(g.states))
	for k, v := range g.states {
		out[k] = v
	}
	return out
}

func (g *Gate) notify(ctx context.Context, event Event) {
	if g.notifier != nil {
		g.notifier.Notify(ctx, event)
	}
}
