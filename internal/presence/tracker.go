// Package presence tracks live entity states pushed by external systems.
// The engine reads a snapshot per notification for condition evaluation
// and occupancy filtering.
package presence

import (
	"sync"
	"time"

	"supernotify/internal/eventbus"
	logx "supernotify/pkg/logx"
)

// EventStateChanged is published when an entity's state actually changes.
const EventStateChanged = "presence.state_changed"

// Tracker is a concurrency-safe entity-state map. Zero history: only the
// latest state per entity is kept.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]string
	seen   map[string]time.Time

	bus eventbus.Bus
	log logx.Logger
}

func NewTracker(bus eventbus.Bus, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		states: map[string]string{},
		seen:   map[string]time.Time{},
		bus:    bus,
		log:    log,
	}
}

// Seed loads initial states from configuration without publishing events.
func (t *Tracker) Seed(states map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for entity, state := range states {
		t.states[entity] = state
		t.seen[entity] = now
	}
}

// Set records entity's state and returns whether it changed.
func (t *Tracker) Set(entity, state string) bool {
	t.mu.Lock()
	prev, had := t.states[entity]
	t.states[entity] = state
	t.seen[entity] = time.Now()
	t.mu.Unlock()

	changed := !had || prev != state
	if changed {
		t.log.Debug("state changed",
			logx.String("entity", entity),
			logx.String("from", prev),
			logx.String("to", state))
		if t.bus != nil {
			t.bus.Publish(eventbus.Event{Type: EventStateChanged, Data: map[string]any{
				"entity": entity, "from": prev, "to": state,
			}})
		}
	}
	return changed
}

// Get returns entity's state, or "" when unknown.
func (t *Tracker) Get(entity string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[entity]
	return s, ok
}

// States returns a snapshot of all entity states. The engine reads one
// snapshot per notification so a request sees a consistent view.
func (t *Tracker) States() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}

// LastSeen returns when the entity's state was last written.
func (t *Tracker) LastSeen(entity string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ts, ok := t.seen[entity]
	return ts, ok
}
