// Package resilience keeps final transcription working when a recognizer
// backend goes away.
//
// Each backend sits behind a [Breaker] that stops calling it after a run of
// failures and lets a single probe through once a cooldown has passed.
// [RecognizerFallback] chains several backends and asks them in order,
// skipping the ones whose breaker is open.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while its breaker
// is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the position of a [Breaker].
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls are refused until the cooldown ends
	StateHalfOpen              // one probe at a time decides
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// breaker. Default 3.
	Threshold int

	// Cooldown is how long an open breaker refuses calls. Default 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls that close the
	// breaker again. Default 1.
	Probes int

	// IsFailure reports whether err is the backend's fault. By default a
	// cancelled context is not: stopping a recording aborts decodes.
	IsFailure func(error) bool

	// OnStateChange observes transitions. It runs with the breaker locked
	// and must not call back into it.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker for one backend.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probing   bool
	successes int
}

// NewBreaker returns a closed breaker labelled name.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the backend label.
func (b *Breaker) Name() string { return b.name }

// Do calls fn unless the breaker refuses, and books the outcome.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.release(probe, err)
	return err
}

// acquire decides whether a call may start. probe is true for the single
// half-open call in flight.
func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.successes = 0
		b.transition(StateHalfOpen)
	}
	switch b.state {
	case StateOpen:
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}

	failed := err != nil && b.cfg.IsFailure(err)
	switch {
	case err != nil && !failed:
		// Neither evidence for nor against the backend.
	case b.state == StateHalfOpen && failed:
		b.trip()
	case b.state == StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.failures = 0
			b.transition(StateClosed)
		}
	case failed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.trip()
		}
	default:
		b.failures = 0
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "resilience: breaker "+to.String(),
		"backend", b.name, "from", from.String(), "failures", b.failures)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// State reports the current state. An open breaker whose cooldown has
// passed reports half-open; the switch itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and forgets past failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.successes, b.probing = 0, 0, false
	b.transition(StateClosed)
}
