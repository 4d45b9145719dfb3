package control

import (
	"context"
	"testing"
	"time"
)

func TestCheckpoint_BlocksWhilePaused(t *testing.T) {
	tok := New(context.Background(), 5*time.Millisecond)
	tok.Pause()

	released := make(chan error, 1)
	go func() { released <- tok.Checkpoint() }()

	select {
	case <-released:
		t.Fatal("checkpoint returned while paused")
	case <-time.After(30 * time.Millisecond):
	}

	tok.Resume()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not release after resume")
	}
}

func TestCheckpoint_AbortWinsOverPause(t *testing.T) {
	tok := New(context.Background(), 5*time.Millisecond)
	tok.Pause()

	released := make(chan error, 1)
	go func() { released <- tok.Checkpoint() }()
	tok.Abort()

	select {
	case err := <-released:
		if err != ErrAborted {
			t.Errorf("err = %v, want ErrAborted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("abort did not release paused checkpoint")
	}
}

func TestSleep_InterruptedByAbort(t *testing.T) {
	tok := New(context.Background(), 0)
	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		tok.Abort()
	}()

	err := tok.Sleep(5 * time.Second)
	if !IsAborted(err) {
		t.Errorf("err = %v, want abort", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep was not interrupted")
	}
}

func TestParentCancelAborts(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tok := New(parent, 0)
	cancel()
	if !tok.Aborted() {
		t.Error("token should be aborted when parent is cancelled")
	}
	if err := tok.Checkpoint(); err != ErrAborted {
		t.Errorf("err = %v, want ErrAborted", err)
	}
}
