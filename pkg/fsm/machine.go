// Package fsm implements a small serializable state machine with guarded
// transitions, per-state timeouts and a checkpoint hook. Behavior lives in
// registered Definitions; only state, context and history are persisted.
package fsm

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Machine is a live instance of a Definition.
type Machine struct {
	id       string
	def      *Definition
	handlers Handlers

	mu        sync.Mutex
	state     State
	data      map[string]any
	history   []HistoryEntry
	timer     *time.Timer
	timerGen  uint64
	destroyed bool
}

// New creates an instance in the definition's initial state and arms the
// initial state's timeout.
func New(id string, def *Definition, handlers Handlers, data map[string]any) (*Machine, error) {
	if def == nil {
		return nil, fmt.Errorf("fsm: definition is required")
	}
	if data == nil {
		data = map[string]any{}
	}
	m := &Machine{
		id:       id,
		def:      def,
		handlers: handlers,
		state:    def.Initial,
		data:     data,
	}
	slog.Debug("fsm_created", "fsm_id", id, "definition", def.Name, "state", def.Initial)

	m.mu.Lock()
	m.armLocked()
	m.mu.Unlock()
	return m, nil
}

// Restore rehydrates an instance from a snapshot. The definition is looked up
// by the name recorded in the snapshot.
func Restore(snap Snapshot, handlers Handlers) (*Machine, error) {
	def, ok := Lookup(snap.Definition)
	if !ok {
		return nil, fmt.Errorf("fsm: unknown definition %q", snap.Definition)
	}
	if snap.State == "" {
		snap.State = def.Initial
	}
	data := map[string]any{}
	maps.Copy(data, snap.Context)

	history := append([]HistoryEntry(nil), snap.History...)
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}

	m := &Machine{
		id:       snap.ID,
		def:      def,
		handlers: handlers,
		state:    snap.State,
		data:     data,
		history:  history,
	}
	slog.Debug("fsm_restored", "fsm_id", snap.ID, "definition", def.Name, "state", snap.State)

	m.mu.Lock()
	m.armLocked()
	m.mu.Unlock()
	return m, nil
}

// ID returns the instance id.
func (m *Machine) ID() string { return m.id }

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Get reads a context value.
func (m *Machine) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// Set writes a context value. It does not checkpoint on its own; the value is
// included in the next snapshot.
func (m *Machine) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// History returns a copy of the transition history, oldest first.
func (m *Machine) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.history...)
}

// Snapshot returns the serializable form of the instance.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	data := make(map[string]any, len(m.data))
	maps.Copy(data, m.data)
	return Snapshot{
		ID:         m.id,
		Definition: m.def.Name,
		State:      m.state,
		Context:    data,
		History:    append([]HistoryEntry(nil), m.history...),
	}
}

// Send delivers an event. Unknown events and rejecting guards are no-ops.
func (m *Machine) Send(event Event, payload any) Result {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		slog.Debug("fsm_send_destroyed", "fsm_id", m.id, "event", event)
		return Result{From: m.state, To: m.state}
	}

	from := m.state
	candidates := m.def.find(from, event)
	if len(candidates) == 0 {
		m.mu.Unlock()
		slog.Debug("fsm_event_ignored", "fsm_id", m.id, "state", from, "event", event)
		return Result{From: from, To: from}
	}
	m.mu.Unlock()

	// Guards read context through the machine, so they run unlocked.
	var chosen *Transition
	for i := range candidates {
		t := candidates[i]
		if t.Guard == nil || t.Guard(m, payload) {
			chosen = &t
			break
		}
	}
	if chosen == nil {
		slog.Debug("fsm_guard_rejected", "fsm_id", m.id, "state", from, "event", event)
		return Result{From: from, To: from}
	}

	m.mu.Lock()
	if m.destroyed || m.state != from {
		// Another event won the race.
		cur := m.state
		m.mu.Unlock()
		return Result{From: cur, To: cur}
	}
	m.clearTimerLocked()
	m.state = chosen.Target
	m.history = append(m.history, HistoryEntry{From: from, To: chosen.Target, Event: event, At: time.Now().UTC()})
	if len(m.history) > HistoryLimit {
		m.history = m.history[len(m.history)-HistoryLimit:]
	}
	gen := m.timerGen
	m.mu.Unlock()

	slog.Debug("fsm_transition", "fsm_id", m.id, "from", from, "to", chosen.Target, "event", event)

	if chosen.Action != nil {
		if err := chosen.Action(m, payload); err != nil {
			slog.Error("fsm_action_failed", "fsm_id", m.id, "from", from, "to", chosen.Target, "event", event, "error", err)
		}
	}
	if m.handlers.OnTransition != nil {
		m.handlers.OnTransition(from, chosen.Target, event, payload)
	}
	if m.handlers.OnCheckpoint != nil {
		m.handlers.OnCheckpoint(m.Snapshot())
	}

	m.mu.Lock()
	if !m.destroyed && m.timerGen == gen && m.state == chosen.Target {
		m.armLocked()
	}
	m.mu.Unlock()

	return Result{Changed: true, From: from, To: chosen.Target}
}

// Destroy clears any pending timer. Later sends are no-ops.
func (m *Machine) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearTimerLocked()
	m.destroyed = true
	slog.Debug("fsm_destroyed", "fsm_id", m.id, "state", m.state)
}

// Destroyed reports whether Destroy was called.
func (m *Machine) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

func (m *Machine) clearTimerLocked() {
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) armLocked() {
	to, ok := m.def.Timeouts[m.state]
	if !ok || to.After <= 0 {
		return
	}
	gen := m.timerGen
	state := m.state
	m.timer = time.AfterFunc(to.After, func() {
		m.mu.Lock()
		stale := m.destroyed || m.timerGen != gen || m.state != state
		m.mu.Unlock()
		if stale {
			return
		}
		slog.Warn("fsm_state_timeout", "fsm_id", m.id, "state", state, "event", to.Event, "after", to.After)
		m.Send(to.Event, TimeoutPayload{Reason: ReasonTimeout, State: state})
	})
}
