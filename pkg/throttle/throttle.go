// Package throttle bounds how many video generations are in flight at the
// remote system by polling its pending count before each submission.
package throttle

import (
	"context"
	"log/slog"
	"time"

	"github.com/ski11z/autoboom/pkg/control"
)

// Remote-imposed defaults.
const (
	DefaultCeiling  = 5
	DefaultInterval = 15 * time.Second
	DefaultMaxWait  = 10 * time.Minute
)

// PendingCounter reports how many videos are still rendering remotely.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// Config holds the throttle bounds.
type Config struct {
	Ceiling  int           `mapstructure:"throttle-ceiling"`
	Interval time.Duration `mapstructure:"throttle-interval"`
	MaxWait  time.Duration `mapstructure:"throttle-max-wait"`
}

// DefaultConfig returns a ceiling of 5, a 15s poll and a 10 minute bound.
func DefaultConfig() Config {
	return Config{Ceiling: DefaultCeiling, Interval: DefaultInterval, MaxWait: DefaultMaxWait}
}

// Throttle gates video submissions.
type Throttle struct {
	cfg     Config
	counter PendingCounter
	now     func() time.Time
}

// New creates a throttle. Zero config fields take defaults.
func New(counter PendingCounter, cfg Config) *Throttle {
	def := DefaultConfig()
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = def.Ceiling
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	return &Throttle{cfg: cfg, counter: counter, now: time.Now}
}

// Ceiling returns the configured in-flight limit.
func (t *Throttle) Ceiling() int { return t.cfg.Ceiling }

// Wait blocks before submitting the video at index until the pending count
// drops below the ceiling. Query failures and the max-wait bound both let
// the submission proceed. Only an abort returns an error.
func (t *Throttle) Wait(tok *control.Token, index int) error {
	if index < t.cfg.Ceiling || t.counter == nil {
		return nil
	}

	start := t.now()
	for {
		if err := tok.Checkpoint(); err != nil {
			return err
		}

		pending, err := t.counter.PendingCount(tok.Context())
		if err != nil {
			if control.IsAborted(err) || tok.Aborted() {
				return control.ErrAborted
			}
			slog.Warn("throttle_query_failed", "index", index, "error", err)
			return nil
		}
		if pending < t.cfg.Ceiling {
			slog.Debug("throttle_clear", "index", index, "pending", pending)
			return nil
		}

		waited := t.now().Sub(start)
		if waited >= t.cfg.MaxWait {
			slog.Warn("throttle_max_wait_elapsed", "index", index, "pending", pending, "waited", waited)
			return nil
		}

		slog.Info("throttle_waiting", "index", index, "pending", pending, "ceiling", t.cfg.Ceiling)
		if err := tok.Sleep(t.cfg.Interval); err != nil {
			return err
		}
	}
}
