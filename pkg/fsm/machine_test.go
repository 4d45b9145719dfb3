package fsm

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

const (
	stateIdle    State = "idle"
	stateRunning State = "running"
	stateDone    State = "done"
	stateFailed  State = "failed"

	eventStart  Event = "start"
	eventFinish Event = "finish"
	eventFail   Event = "fail"
)

func testDefinition(name string, timeout time.Duration) *Definition {
	def := &Definition{
		Name:    name,
		Initial: stateIdle,
		Transitions: map[State][]Transition{
			stateIdle: {
				{Event: eventStart, Target: stateRunning, Guard: func(m *Machine, payload any) bool {
					allowed, _ := payload.(bool)
					return allowed
				}},
			},
			stateRunning: {
				{Event: eventFinish, Target: stateDone, Action: func(m *Machine, payload any) error {
					m.Set("finished", true)
					return nil
				}},
				{Event: eventFail, Target: stateFailed},
			},
			stateDone: {
				{Event: eventStart, Target: stateRunning},
			},
		},
	}
	if timeout > 0 {
		def.Timeouts = map[State]Timeout{stateRunning: {After: timeout, Event: eventFail}}
	}
	return def
}

type recorder struct {
	mu          sync.Mutex
	transitions []string
	checkpoints []Snapshot
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnTransition: func(from, to State, event Event, payload any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transitions = append(r.transitions, fmt.Sprintf("%s->%s", from, to))
		},
		OnCheckpoint: func(snap Snapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.checkpoints = append(r.checkpoints, snap)
		},
	}
}

func (r *recorder) checkpointCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.checkpoints)
}

func TestSend_Transition(t *testing.T) {
	rec := &recorder{}
	m, err := New("job-1", testDefinition("test-transition", 0), rec.handlers(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Destroy()

	res := m.Send(eventStart, true)
	if !res.Changed || res.From != stateIdle || res.To != stateRunning {
		t.Fatalf("unexpected result: %+v", res)
	}
	m.Send(eventFinish, nil)

	if m.State() != stateDone {
		t.Errorf("state = %s, want %s", m.State(), stateDone)
	}
	if v, _ := m.Get("finished"); v != true {
		t.Error("action should have set context value")
	}
	if len(m.History()) != 2 {
		t.Errorf("history length = %d, want 2", len(m.History()))
	}
	if rec.checkpointCount() != 2 {
		t.Errorf("checkpoints = %d, want 2", rec.checkpointCount())
	}
	last := rec.checkpoints[1]
	if last.State != stateDone || last.Context["finished"] != true {
		t.Errorf("checkpoint snapshot mismatch: %+v", last)
	}
}

func TestSend_UnknownEventIsNoop(t *testing.T) {
	rec := &recorder{}
	m, _ := New("job-2", testDefinition("test-unknown", 0), rec.handlers(), map[string]any{"k": "v"})
	defer m.Destroy()

	before := m.Snapshot()
	res := m.Send(eventFinish, nil)

	if res.Changed {
		t.Error("unknown event should not change state")
	}
	after := m.Snapshot()
	if after.State != before.State || len(after.History) != len(before.History) || after.Context["k"] != "v" {
		t.Errorf("snapshot changed: before=%+v after=%+v", before, after)
	}
	if rec.checkpointCount() != 0 {
		t.Error("no checkpoint should be written for ignored events")
	}
}

func TestSend_GuardRejects(t *testing.T) {
	rec := &recorder{}
	m, _ := New("job-3", testDefinition("test-guard", 0), rec.handlers(), nil)
	defer m.Destroy()

	if res := m.Send(eventStart, false); res.Changed {
		t.Fatal("guard should reject")
	}
	if m.State() != stateIdle || rec.checkpointCount() != 0 {
		t.Error("rejected guard must leave machine untouched")
	}
}

func TestSend_ActionErrorDoesNotAbort(t *testing.T) {
	def := &Definition{
		Name:    "test-action-error",
		Initial: stateIdle,
		Transitions: map[State][]Transition{
			stateIdle: {{Event: eventStart, Target: stateRunning, Action: func(m *Machine, payload any) error {
				return fmt.Errorf("boom")
			}}},
		},
	}
	m, _ := New("job-4", def, Handlers{}, nil)
	defer m.Destroy()

	if res := m.Send(eventStart, nil); !res.Changed {
		t.Fatal("transition should happen despite action error")
	}
	if m.State() != stateRunning {
		t.Errorf("state = %s, want %s", m.State(), stateRunning)
	}
}

func TestTimeout_RaisesEvent(t *testing.T) {
	done := make(chan any, 1)
	handlers := Handlers{
		OnTransition: func(from, to State, event Event, payload any) {
			if to == stateFailed {
				done <- payload
			}
		},
	}
	m, _ := New("job-5", testDefinition("test-timeout", 20*time.Millisecond), handlers, nil)
	defer m.Destroy()

	m.Send(eventStart, true)

	select {
	case payload := <-done:
		tp, ok := payload.(TimeoutPayload)
		if !ok || tp.Reason != ReasonTimeout || tp.State != stateRunning {
			t.Errorf("unexpected timeout payload: %#v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout event never fired")
	}
	if m.State() != stateFailed {
		t.Errorf("state = %s, want %s", m.State(), stateFailed)
	}
}

func TestTimeout_ClearedByTransition(t *testing.T) {
	m, _ := New("job-6", testDefinition("test-timeout-cleared", 30*time.Millisecond), Handlers{}, nil)
	defer m.Destroy()

	m.Send(eventStart, true)
	m.Send(eventFinish, nil)
	time.Sleep(80 * time.Millisecond)

	if m.State() != stateDone {
		t.Errorf("stale timeout fired: state = %s", m.State())
	}
}

func TestDestroy_MakesSendNoop(t *testing.T) {
	rec := &recorder{}
	m, _ := New("job-7", testDefinition("test-destroy", 10*time.Millisecond), rec.handlers(), nil)
	m.Send(eventStart, true)
	m.Destroy()
	time.Sleep(40 * time.Millisecond)

	if res := m.Send(eventFinish, nil); res.Changed {
		t.Error("send after destroy should be a no-op")
	}
	if m.State() != stateRunning {
		t.Errorf("state = %s, want %s", m.State(), stateRunning)
	}
	if !m.Destroyed() {
		t.Error("machine should report destroyed")
	}
}

func TestHistory_Bounded(t *testing.T) {
	def := &Definition{
		Name:    "test-history",
		Initial: stateIdle,
		Transitions: map[State][]Transition{
			stateIdle:    {{Event: eventStart, Target: stateRunning}},
			stateRunning: {{Event: eventFinish, Target: stateIdle}},
		},
	}
	m, _ := New("job-8", def, Handlers{}, nil)
	defer m.Destroy()

	for i := 0; i < 40; i++ {
		m.Send(eventStart, nil)
		m.Send(eventFinish, nil)
	}
	h := m.History()
	if len(h) != HistoryLimit {
		t.Fatalf("history length = %d, want %d", len(h), HistoryLimit)
	}
	if h[len(h)-1].To != stateIdle {
		t.Errorf("last entry should be the most recent transition, got %+v", h[len(h)-1])
	}
}

func TestRestore_FromSnapshot(t *testing.T) {
	def := MustRegister(testDefinition("test-restore", 0))
	m, _ := New("job-9", def, Handlers{}, map[string]any{"index": 3})
	m.Send(eventStart, true)
	snap := m.Snapshot()
	m.Destroy()

	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	rec := &recorder{}
	restored, err := Restore(decoded, rec.handlers())
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	defer restored.Destroy()

	if restored.State() != stateRunning {
		t.Errorf("restored state = %s, want %s", restored.State(), stateRunning)
	}
	if len(restored.History()) != 1 {
		t.Errorf("restored history = %d, want 1", len(restored.History()))
	}
	restored.Send(eventFinish, nil)
	if restored.State() != stateDone || rec.checkpointCount() != 1 {
		t.Error("restored machine should use the registered definition and fresh handlers")
	}
}

func TestRestore_UnknownDefinition(t *testing.T) {
	if _, err := Restore(Snapshot{ID: "x", Definition: "does-not-exist"}, Handlers{}); err == nil {
		t.Error("expected error for unregistered definition")
	}
}
