package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last backend error once every backend in a chain
// failed or refused.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig is shared by every backend of a chain; each still gets its
// own [Breaker].
type FallbackConfig struct {
	Breaker BreakerConfig
}

// BackendStatus describes one backend of a chain.
type BackendStatus struct {
	Name  string
	State State
}

type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// chain is an ordered list of interchangeable backends. Backends are added
// before the chain is shared and never removed.
type chain[T any] struct {
	cfg      FallbackConfig
	backends []backend[T]
}

func (c *chain[T]) add(name string, v T) {
	c.backends = append(c.backends, backend[T]{
		name:    name,
		value:   v,
		breaker: NewBreaker(name, c.cfg.Breaker),
	})
}

func (c *chain[T]) status() []BackendStatus {
	out := make([]BackendStatus, 0, len(c.backends))
	for _, b := range c.backends {
		out = append(out, BackendStatus{Name: b.name, State: b.breaker.State()})
	}
	return out
}

func (c *chain[T]) healthy() bool {
	for _, b := range c.backends {
		if b.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// first returns the result of the first backend that succeeds, along with
// that backend's name. Cancellation ends the walk with ctx's error.
func first[T, R any](ctx context.Context, c *chain[T], call func(T) (R, error)) (R, string, error) {
	var (
		zero R
		last error
	)
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		var out R
		err := b.breaker.Do(func() error {
			var err error
			out, err = call(b.value)
			return err
		})
		switch {
		case err == nil:
			return out, b.name, nil
		case ctx.Err() != nil:
			return zero, "", ctx.Err()
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: backend skipped, circuit open", "backend", b.name)
		default:
			slog.Warn("resilience: backend failed, trying next", "backend", b.name, "err", err)
		}
		last = err
	}
	if last == nil {
		last = errors.New("no backends")
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, last)
}
