package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

// fakeClock lets tests move a breaker through its cooldown without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := NewBreaker("whisper", cfg)
	b.now = clock.now
	return b, clock
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Threshold: 3})

	for i := range 3 {
		if got := b.State(); got != StateClosed {
			t.Fatalf("state before failure %d = %s, want closed", i+1, got)
		}
		if err := b.Do(fail); !errors.Is(err, errBackend) {
			t.Fatalf("Do = %v, want the backend error", err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{Threshold: 2})

	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %s, want closed: failures were not consecutive", got)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{name: "success closes", probe: succeed, want: StateClosed},
		{name: "failure reopens", probe: fail, want: StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b, clock := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Minute})
			_ = b.Do(fail)

			clock.advance(59 * time.Second)
			if got := b.State(); got != StateOpen {
				t.Fatalf("state inside cooldown = %s, want open", got)
			}
			clock.advance(time.Second)
			if got := b.State(); got != StateHalfOpen {
				t.Fatalf("state after cooldown = %s, want half-open", got)
			}

			_ = b.Do(tc.probe)
			if got := b.State(); got != tc.want {
				t.Errorf("state after probe = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestBreaker_OneProbeAtATime(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second})
	_ = b.Do(fail)
	clock.advance(time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe

	if err := b.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call during probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestBreaker_ProbesRequired(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second, Probes: 2})
	_ = b.Do(fail)
	clock.advance(time.Second)

	_ = b.Do(succeed)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after one probe = %s, want half-open", got)
	}
	_ = b.Do(succeed)
	if got := b.State(); got != StateClosed {
		t.Errorf("state after two probes = %s, want closed", got)
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	b, clock := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second})

	cancelled := func() error { return fmt.Errorf("deepgram: %w", context.Canceled) }
	_ = b.Do(cancelled)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed after a cancellation", got)
	}

	// A cancelled probe frees the slot without deciding anything.
	_ = b.Do(fail)
	clock.advance(time.Second)
	_ = b.Do(cancelled)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after cancelled probe = %s, want half-open", got)
	}
	if err := b.Do(succeed); err != nil {
		t.Errorf("next probe refused: %v", err)
	}
}

func TestBreaker_OnStateChangeAndReset(t *testing.T) {
	t.Parallel()

	var got []string
	b, clock := newTestBreaker(BreakerConfig{
		Threshold: 1,
		Cooldown:  time.Second,
		OnStateChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+">"+to.String())
		},
	})
	_ = b.Do(fail)
	clock.advance(time.Second)
	_ = b.Do(fail)
	b.Reset()
	b.Reset()

	want := []string{
		"whisper:closed>open",
		"whisper:open>half-open",
		"whisper:half-open>open",
		"whisper:open>closed",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
