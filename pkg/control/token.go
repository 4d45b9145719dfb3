// Package control provides the cancellation token checked at every
// suspension point of a running job.
package control

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAborted is returned from suspension points once the job was stopped.
var ErrAborted = errors.New("job aborted")

// DefaultPollInterval is how often a paused job re-checks its token.
const DefaultPollInterval = time.Second

// Token carries the pause and abort signals of one job run.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	poll   time.Duration

	mu     sync.Mutex
	paused bool
}

// New creates a token bound to parent. Cancelling parent aborts the token.
func New(parent context.Context, poll time.Duration) *Token {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel, poll: poll}
}

// Context is cancelled when the token is aborted. Remote calls use it so an
// abort also unblocks in-flight waits on the transport.
func (t *Token) Context() context.Context { return t.ctx }

// Abort stops the job. It is idempotent.
func (t *Token) Abort() { t.cancel() }

// Aborted reports whether Abort was called or the parent was cancelled.
func (t *Token) Aborted() bool { return t.ctx.Err() != nil }

// Pause asks the job to hold at its next suspension point.
func (t *Token) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

// Resume releases a paused job.
func (t *Token) Resume() {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
}

// Paused reports the pause flag.
func (t *Token) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Checkpoint is a suspension point. It blocks while paused and returns
// ErrAborted once aborted. Abort takes priority over pause.
func (t *Token) Checkpoint() error {
	for {
		if t.Aborted() {
			return ErrAborted
		}
		if !t.Paused() {
			return nil
		}
		select {
		case <-t.ctx.Done():
			return ErrAborted
		case <-time.After(t.poll):
		}
	}
}

// Sleep waits for d, honoring pause before and after and abort throughout.
func (t *Token) Sleep(d time.Duration) error {
	if err := t.Checkpoint(); err != nil {
		return err
	}
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-t.ctx.Done():
			return ErrAborted
		case <-timer.C:
		}
	}
	return t.Checkpoint()
}

// IsAborted reports whether err marks an abort, including context
// cancellation surfaced by a remote call.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}
