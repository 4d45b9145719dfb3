package gateway

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc answers one action.
type HandlerFunc func(ctx context.Context, params Params) (*Result, error)

// Call is a recorded dispatch.
type Call struct {
	Action string
	Params Params
}

// Fake is an in-memory Gateway. Unscripted actions succeed with a plausible
// default payload.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []Call
	awaits   int
}

// NewFake creates an empty fake.
func NewFake() *Fake {
	return &Fake{handlers: map[string]HandlerFunc{}}
}

// On scripts the answer to action.
func (f *Fake) On(action string, fn HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[action] = fn
}

// Dispatch records the call and runs its handler.
func (f *Fake) Dispatch(ctx context.Context, action string, params Params) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Action: action, Params: params})
	fn, ok := f.handlers[action]
	f.mu.Unlock()

	if ok {
		return fn(ctx, params)
	}
	return f.defaultResult(action), nil
}

func (f *Fake) defaultResult(action string) *Result {
	switch action {
	case ActionCreateWorkspace, ActionCurrentURL:
		return NewResult(map[string]string{"url": "https://remote.invalid/workspace/1"})
	case ActionConfigureSettings:
		return NewResult(map[string]bool{"applied": true})
	case ActionAwait:
		f.mu.Lock()
		f.awaits++
		n := f.awaits
		f.mu.Unlock()
		return NewResult(Output{URL: fmt.Sprintf("https://remote.invalid/media/%d", n), RemoteID: fmt.Sprintf("m%d", n)})
	case ActionRewritePrompt:
		return NewResult(map[string]string{"prompt": "rewritten prompt"})
	case ActionCountItems, ActionPendingVideos:
		return NewResult(map[string]int{"count": 0})
	case ActionListCompleted:
		return NewResult(map[string][]RemoteItem{"items": nil})
	}
	return &Result{}
}

// Calls returns the recorded calls, optionally filtered by action.
func (f *Fake) Calls(action string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if action == "" || c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many times action was dispatched.
func (f *Fake) Count(action string) int {
	return len(f.Calls(action))
}
