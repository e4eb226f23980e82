// Package streaming transcribes a recording while it is still being captured.
//
// A [Coordinator] polls a [samplestream.Stream] on its own goroutine, feeds
// new audio to a [stt.Recognizer] and publishes the growing transcript to a
// [Sink]. Two strategies exist:
//
//   - [Segmented] gates the stream with voice activity detection and decodes
//     each finished utterance once. It suits batch decoders that are fast on
//     short clips.
//   - [Sliding] re-decodes everything after the last confirmed boundary every
//     few seconds and confirms all but the newest segments. It suits
//     full-context decoders that revise their output as audio arrives.
//
// Recognizer errors during a tick are logged, counted and retried on the
// next tick. Results that arrive after Stop are discarded.
package streaming

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/recod/internal/observe"
	"github.com/MrWong99/recod/pkg/audio/samplestream"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

// Strategy names a streaming strategy.
type Strategy string

const (
	// StrategySegmented selects [Segmented].
	StrategySegmented Strategy = "segmented"

	// StrategySliding selects [Sliding].
	StrategySliding Strategy = "sliding"
)

// Sink receives the live transcript after every tick that changed it.
// Update is called on the coordinator goroutine and must not block for long.
type Sink interface {
	Update(liveText string, segments []stt.Segment)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(liveText string, segments []stt.Segment)

// Update implements [Sink].
func (f SinkFunc) Update(liveText string, segments []stt.Segment) { f(liveText, segments) }

// Coordinator is the contract shared by both strategies.
type Coordinator interface {
	// Start begins polling source. Calling Start on a running coordinator is
	// a no-op. A nil rec disables streaming with a warning.
	Start(ctx context.Context, target Sink, source *samplestream.Stream, rec stt.Recognizer)

	// Stop halts polling. It does not wait for an in-flight decode; that
	// decode's result is discarded.
	Stop()

	// FlushAndCollectRemaining decodes the audio not yet transcribed and
	// returns the full transcript and its segments.
	FlushAndCollectRemaining(ctx context.Context) (string, []stt.Segment)

	// Running reports whether the coordinator is polling.
	Running() bool

	// LiveText returns the current transcript.
	LiveText() string

	// Parts splits the live transcript into text that will not change and
	// text a later decode may still revise.
	Parts() (confirmed, pending string)
}

var (
	_ Coordinator = (*Segmented)(nil)
	_ Coordinator = (*Sliding)(nil)
)

// config is shared by both strategies.
type config struct {
	poll     time.Duration
	opts     stt.Options
	provider string
	metrics  *observe.Metrics

	minNewAudio time.Duration // sliding only
	confirm     int           // sliding only
}

// Option configures a coordinator.
type Option func(*config)

// WithPollInterval sets how often the stream is polled. Non-positive values
// are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithOptions sets the base recognizer options: language, prompt and
// keywords. Offsets and clipping are managed by the coordinator.
func WithOptions(opts stt.Options) Option {
	return func(c *config) { c.opts = opts }
}

// WithProviderName labels metrics with the recognizer name.
func WithProviderName(name string) Option {
	return func(c *config) { c.provider = name }
}

// WithMetrics records recognizer calls to m. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithMinNewAudio sets how much audio past the last confirmed boundary a
// [Sliding] tick needs before it decodes. Default: 3s.
func WithMinNewAudio(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.minNewAudio = d
		}
	}
}

// WithConfirmationWindow sets how many trailing segments [Sliding] keeps
// pending after each decode. Default: 2.
func WithConfirmationWindow(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.confirm = n
		}
	}
}

func newConfig(poll time.Duration, opts []Option) config {
	c := config{
		poll:        poll,
		provider:    "unknown",
		minNewAudio: DefaultMinNewAudio,
		confirm:     DefaultConfirmationWindow,
	}
	for _, o := range opts {
		o(&c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// runner owns the polling goroutine and the liveness flag. Each Start bumps
// the generation so that a decode begun before Stop cannot publish into the
// next session.
type runner struct {
	mu      sync.Mutex
	running bool
	gen     uint64
	cancel  context.CancelFunc
}

// start launches tick every poll interval. It returns false when already
// running.
func (r *runner) start(ctx context.Context, poll time.Duration, tick func(ctx context.Context, gen uint64)) (context.Context, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil, 0, false
	}
	r.running = true
	r.gen++
	gen := r.gen
	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		t := time.NewTicker(poll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if !r.live(gen) {
					return
				}
				tick(ctx, gen)
			}
		}
	}()
	return ctx, gen, true
}

// stop clears the liveness flag and cancels the loop. It reports whether the
// runner was running.
func (r *runner) stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	r.running = false
	r.cancel()
	return true
}

// live reports whether gen is the current, running generation.
func (r *runner) live(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && r.gen == gen
}

func (r *runner) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *runner) generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// joinNonEmpty joins the non-blank parts with a single space.
func joinNonEmpty(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
