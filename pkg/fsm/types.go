package fsm

import "time"

// State is a named machine state.
type State string

// Event triggers a transition out of the current state.
type Event string

// HistoryLimit bounds the transition history kept per instance.
const HistoryLimit = 50

// ReasonTimeout is the payload reason attached to timeout-raised events.
const ReasonTimeout = "timeout"

// Guard decides whether a matching transition may fire.
type Guard func(m *Machine, payload any) bool

// Action runs after the state has changed. A returned error is logged and
// does not undo the transition.
type Action func(m *Machine, payload any) error

// Transition is one entry of a state's transition list.
type Transition struct {
	Event  Event
	Target State
	Guard  Guard
	Action Action
}

// Timeout raises Event when the state is held longer than After.
type Timeout struct {
	After time.Duration
	Event Event
}

// Definition is the behavior of a machine: transitions and timeouts keyed by
// state. Definitions are registered by name and never persisted.
type Definition struct {
	Name        string
	Initial     State
	Transitions map[State][]Transition
	Timeouts    map[State]Timeout
}

// HistoryEntry records one transition.
type HistoryEntry struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Event Event     `json:"event"`
	At    time.Time `json:"at"`
}

// Snapshot is the persisted form of a machine. It carries data only.
type Snapshot struct {
	ID         string         `json:"id"`
	Definition string         `json:"definition"`
	State      State          `json:"state"`
	Context    map[string]any `json:"context,omitempty"`
	History    []HistoryEntry `json:"history,omitempty"`
}

// Handlers are the live callbacks attached to an instance.
type Handlers struct {
	OnTransition func(from, to State, event Event, payload any)
	OnCheckpoint func(snap Snapshot)
}

// Result describes the outcome of Send.
type Result struct {
	Changed bool
	From    State
	To      State
}

// TimeoutPayload is the payload sent with a timeout-raised event.
type TimeoutPayload struct {
	Reason string `json:"reason"`
	State  State  `json:"state"`
}
