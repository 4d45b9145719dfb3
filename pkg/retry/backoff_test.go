package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ski11z/autoboom/pkg/control"
)

func TestCeiling(t *testing.T) {
	c := DefaultConfig()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 3 * time.Second},
		{2, 6 * time.Second},
		{3, 12 * time.Second},
		{4, 24 * time.Second},
		{5, 30 * time.Second},
		{12, 30 * time.Second},
		{0, 3 * time.Second},
	}

	for _, tt := range tests {
		if got := c.Ceiling(tt.attempt); got != tt.want {
			t.Errorf("Ceiling(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSchedule_JitterBounds(t *testing.T) {
	c := Config{Base: 100 * time.Millisecond, Multiplier: 2, Max: time.Second}

	for run := 0; run < 20; run++ {
		s := c.NewSchedule()
		for attempt := 1; attempt <= 6; attempt++ {
			ceiling := c.Ceiling(attempt)
			got := s.Next()
			lo := time.Duration(float64(ceiling) * (1 - Jitter))
			hi := time.Duration(float64(ceiling) * (1 + Jitter))
			if got < lo-time.Millisecond || got > hi+time.Millisecond {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, got, lo, hi)
			}
		}
	}
}

func TestConfig_NormalizesZeroValues(t *testing.T) {
	var c Config
	if got := c.Ceiling(1); got != DefaultBase {
		t.Errorf("zero config should fall back to defaults, got %v", got)
	}
}

func TestFixed_Do(t *testing.T) {
	tok := control.New(context.Background(), time.Millisecond)
	defer tok.Abort()

	calls := 0
	err := Fixed{Attempts: 3, Delay: time.Millisecond}.Do(tok, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("Do = %v after %d calls, want success on third", err, calls)
	}

	calls = 0
	err = Fixed{Attempts: 3, Delay: time.Millisecond}.Do(tok, func(int) error {
		calls++
		return errors.New("always")
	})
	if err == nil || err.Error() != "always" || calls != 3 {
		t.Errorf("Do = %v after %d calls, want last error after 3", err, calls)
	}
}

func TestFixed_DoStopsOnAbort(t *testing.T) {
	tok := control.New(context.Background(), time.Millisecond)

	calls := 0
	err := Fixed{Attempts: 3, Delay: time.Hour}.Do(tok, func(int) error {
		calls++
		tok.Abort()
		return errors.New("failed")
	})
	if !errors.Is(err, control.ErrAborted) || calls != 1 {
		t.Errorf("Do = %v after %d calls, want ErrAborted after 1", err, calls)
	}
}
