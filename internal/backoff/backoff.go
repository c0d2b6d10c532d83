// Package backoff produces jittered exponential delays for polling loops.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Defaults for the polling loop against ComfyUI.
const (
	DefaultBase       = 1000 * time.Millisecond
	DefaultMultiplier = 1.5
	DefaultMaxDelay   = 8000 * time.Millisecond
	DefaultJitter     = 0.2
)

// Options tunes the delay sequence. Zero values fall back to the defaults.
type Options struct {
	Base       time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Jitter is the symmetric jitter fraction in [0, 1]; 0.2 means ±20%.
	// Use a negative value to request exactly zero jitter.
	Jitter float64
}

func (o Options) withDefaults() Options {
	if o.Base <= 0 {
		o.Base = DefaultBase
	}
	if o.Multiplier <= 0 {
		o.Multiplier = DefaultMultiplier
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Jitter == 0 {
		o.Jitter = DefaultJitter
	} else if o.Jitter < 0 {
		o.Jitter = 0
	}
	return o
}

// NextDelay computes the delay for the attempt-th retry (0-indexed), pure and
// side-effect free. random must be in [0, 1); pass it explicitly in tests.
//
// Formula: round(min(base × multiplier^attempt, maxDelay) × (1 + jitter×(2r−1))),
// clamped to be never negative.
func NextDelay(attempt int, opts Options, random float64) time.Duration {
	o := opts.withDefaults()

	raw := math.Min(float64(o.Base)*math.Pow(o.Multiplier, float64(attempt)), float64(o.MaxDelay))
	offset := o.Jitter * (2*random - 1)
	d := time.Duration(math.Round(raw * (1 + offset)))
	if d < 0 {
		d = 0
	}
	return d
}

// Timer tracks consecutive attempts and hands out growing delays. Reset it
// when forward progress is observed so the next poll is fast again.
type Timer struct {
	attempt int
	opts    Options
	rand    func() float64
}

// NewTimer returns a Timer using the given options.
func NewTimer(opts Options) *Timer {
	return &Timer{opts: opts, rand: rand.Float64}
}

// Next returns the delay for the current attempt and advances the counter.
func (t *Timer) Next() time.Duration {
	d := NextDelay(t.attempt, t.opts, t.rand())
	t.attempt++
	return d
}

// Reset rewinds the counter to zero.
func (t *Timer) Reset() {
	t.attempt = 0
}

// Attempt reports the current attempt index.
func (t *Timer) Attempt() int {
	return t.attempt
}
