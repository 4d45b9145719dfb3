// Package retry holds the backoff policies used between item attempts and
// between settings-gate attempts.
package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ski11z/autoboom/pkg/control"
)

// Defaults for item retries.
const (
	DefaultBase       = 3 * time.Second
	DefaultMultiplier = 2.0
	DefaultMax        = 30 * time.Second

	// Jitter spreads each delay uniformly over [1-Jitter, 1+Jitter].
	Jitter = 0.2
)

// Config describes an exponential schedule.
type Config struct {
	Base       time.Duration `mapstructure:"backoff-base"`
	Multiplier float64       `mapstructure:"backoff-multiplier"`
	Max        time.Duration `mapstructure:"backoff-max"`
}

// DefaultConfig returns base 3s, multiplier 2, cap 30s.
func DefaultConfig() Config {
	return Config{Base: DefaultBase, Multiplier: DefaultMultiplier, Max: DefaultMax}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Base <= 0 {
		c.Base = def.Base
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.Max <= 0 {
		c.Max = def.Max
	}
	if c.Max < c.Base {
		c.Max = c.Base
	}
	return c
}

// Ceiling returns the un-jittered delay before the given attempt:
// min(base * multiplier^(attempt-1), max).
func (c Config) Ceiling(attempt int) time.Duration {
	c = c.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.Base) * math.Pow(c.Multiplier, float64(attempt-1))
	if d > float64(c.Max) || math.IsInf(d, 0) {
		return c.Max
	}
	return time.Duration(d)
}

// Schedule hands out successive jittered delays for one item.
type Schedule struct {
	b *backoff.ExponentialBackOff
}

// NewSchedule starts a fresh schedule. The first Next is the delay before
// the second attempt.
func (c Config) NewSchedule() *Schedule {
	c = c.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Base
	b.Multiplier = c.Multiplier
	b.MaxInterval = c.Max
	b.RandomizationFactor = Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return &Schedule{b: b}
}

// Next returns the next delay.
func (s *Schedule) Next() time.Duration {
	return s.b.NextBackOff()
}

// Fixed is a constant-delay policy used by the settings gate.
type Fixed struct {
	Attempts int
	Delay    time.Duration
}

// Do calls fn up to Attempts times, sleeping Delay between failures, and
// returns the last error. The sleeps are suspension points of tok; an abort
// is returned as soon as it is seen.
func (f Fixed) Do(tok *control.Token, fn func(attempt int) error) error {
	attempts := max(f.Attempts, 1)
	var err error
	for a := 1; a <= attempts; a++ {
		if a > 1 {
			if serr := tok.Sleep(f.Delay); serr != nil {
				return serr
			}
		}
		if err = fn(a); err == nil {
			return nil
		}
		if control.IsAborted(err) || tok.Aborted() {
			return control.ErrAborted
		}
	}
	return err
}
