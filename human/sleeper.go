// Package human provides the randomised pacing primitives the engagement
// loop uses: jittered sleeps, scroll bursts and a typist that makes and
// corrects single-character mistakes.
package human

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Range is an inclusive duration interval.
type Range struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// R is shorthand for Range{min, max}.
func R(lo, hi time.Duration) Range { return Range{Min: lo, Max: hi} }

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleeper draws random durations and waits them out. All randomness used by
// the engagement loop goes through one Sleeper so a seeded Sleeper makes a
// whole pass reproducible.
type Sleeper struct {
	mu    sync.Mutex
	rng   *rand.Rand
	sleep SleepFunc
}

// Option configures a Sleeper.
type Option func(*Sleeper)

// WithSeed makes the Sleeper deterministic.
func WithSeed(seed uint64) Option {
	return func(s *Sleeper) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithSleepFunc replaces the real wait, typically with NoSleep in tests.
func WithSleepFunc(fn SleepFunc) Option {
	return func(s *Sleeper) { s.sleep = fn }
}

// NewSleeper creates a Sleeper seeded from the runtime source unless WithSeed
// is given.
func NewSleeper(opts ...Option) *Sleeper {
	s := &Sleeper{
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep: Wait,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Wait is the real SleepFunc.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep returns immediately unless ctx is already done.
func NoSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// Sleep waits exactly d.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	return s.sleep(ctx, d)
}

// Between waits a uniformly drawn duration in [lo, hi].
func (s *Sleeper) Between(ctx context.Context, lo, hi time.Duration) error {
	return s.sleep(ctx, s.Duration(R(lo, hi)))
}

// In waits a duration drawn from r.
func (s *Sleeper) In(ctx context.Context, r Range) error {
	return s.sleep(ctx, s.Duration(r))
}

// Duration draws from r. A reversed range is swapped.
func (s *Sleeper) Duration(r Range) time.Duration {
	lo, hi := r.Min, r.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi == lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + time.Duration(s.rng.Int64N(int64(hi-lo)+1))
}

// IntBetween draws an int in [lo, hi].
func (s *Sleeper) IntBetween(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.IntN(hi-lo+1)
}

// Chance reports true with probability p.
func (s *Sleeper) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < p
}

// Shuffle permutes n elements through swap.
func (s *Sleeper) Shuffle(n int, swap func(i, j int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(n, swap)
}

// Rune draws a lowercase ASCII letter different from not.
func (s *Sleeper) Rune(not rune) rune {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		r := rune('a' + s.rng.IntN(26))
		if r != not {
			return r
		}
	}
}
