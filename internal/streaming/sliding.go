package streaming

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/recod/internal/observe"
	"github.com/MrWong99/recod/pkg/audio/samplestream"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

// Sliding defaults.
const (
	DefaultSlidingPoll        = 3 * time.Second
	DefaultMinNewAudio        = 3 * time.Second
	DefaultConfirmationWindow = 2
)

// minFlushAudio is the least unconfirmed audio worth a final decode.
const minFlushAudio = 100 * time.Millisecond

// Sliding re-decodes the unconfirmed tail of the stream on every tick and
// confirms all but the last few segments. The confirmed boundary only moves
// forward.
type Sliding struct {
	cfg config
	r   runner

	// work serialises ticks and flushes and guards the fields up to mu.
	work     sync.Mutex
	source   *samplestream.Stream
	rec      stt.Recognizer
	target   Sink
	language string // fixed after the first detection

	mu        sync.Mutex
	confirmed []stt.Segment
	pending   []stt.Segment
	boundary  time.Duration // end of the last confirmed segment
}

// NewSliding returns a sliding-window coordinator.
func NewSliding(opts ...Option) *Sliding {
	return &Sliding{cfg: newConfig(DefaultSlidingPoll, opts)}
}

// Start implements [Coordinator]. State from a previous session is
// discarded.
func (c *Sliding) Start(ctx context.Context, target Sink, source *samplestream.Stream, rec stt.Recognizer) {
	if rec == nil {
		slog.Warn("streaming: no recognizer, live transcription disabled", "strategy", StrategySliding)
		return
	}
	if c.r.isRunning() {
		return
	}

	c.work.Lock()
	defer c.work.Unlock()
	c.source, c.rec, c.target = source, rec, target
	c.language = ""
	c.mu.Lock()
	c.confirmed, c.pending, c.boundary = nil, nil, 0
	c.mu.Unlock()

	if _, _, ok := c.r.start(ctx, c.cfg.poll, c.tick); !ok {
		return
	}
	c.cfg.metrics.ActiveStreams.Add(ctx, 1, observe.StrategyAttr(string(StrategySliding)))
	slog.Debug("streaming: sliding coordinator started", "provider", c.cfg.provider)
}

// Stop implements [Coordinator].
func (c *Sliding) Stop() {
	if c.r.stop() {
		c.cfg.metrics.ActiveStreams.Add(context.Background(), -1, observe.StrategyAttr(string(StrategySliding)))
		slog.Debug("streaming: sliding coordinator stopped")
	}
}

// Running implements [Coordinator].
func (c *Sliding) Running() bool { return c.r.isRunning() }

// LiveText implements [Coordinator]: the confirmed text followed by the
// pending text.
func (c *Sliding) LiveText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return joinNonEmpty(stt.JoinText(c.confirmed), stt.JoinText(c.pending))
}

// Parts implements [Coordinator].
func (c *Sliding) Parts() (confirmed, pending string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return stt.JoinText(c.confirmed), stt.JoinText(c.pending)
}

// ConfirmedEnd returns the confirmed boundary.
func (c *Sliding) ConfirmedEnd() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundary
}

// Language returns the detected or configured language, or "" before the
// first successful detection.
func (c *Sliding) Language() string {
	c.work.Lock()
	defer c.work.Unlock()
	return c.language
}

func (c *Sliding) tick(ctx context.Context, gen uint64) {
	c.work.Lock()
	defer c.work.Unlock()
	if !c.r.live(gen) {
		return
	}
	from := c.ConfirmedEnd()
	if c.source.Duration()-from < c.cfg.minNewAudio {
		return
	}
	if c.decodeFrom(ctx, gen, from, false) {
		c.publish()
	}
}

// decodeFrom transcribes the stream from the confirmed boundary on. A final
// decode confirms every returned segment.
func (c *Sliding) decodeFrom(ctx context.Context, gen uint64, from time.Duration, final bool) bool {
	index := int(from * stt.SampleRate / time.Second)
	samples := c.source.ReadFrom(index)
	if len(samples) == 0 {
		return false
	}
	// Reading from the boundary equals clipping the whole stream at it; the
	// offset keeps the returned timestamps session-relative.
	offset := stt.SamplesDuration(index)

	opts := c.cfg.opts
	opts.Offset = offset
	opts.ClipFrom = 0
	opts.Temperature = 0
	switch {
	case c.language != "":
		opts.Language, opts.DetectLanguage = c.language, false
	case opts.Language == "" || opts.Language == "auto":
		opts.Language, opts.DetectLanguage = "", true
	}

	ctx, span := observe.StartSpan(ctx, "stt.transcribe",
		trace.WithAttributes(
			attribute.String("provider", c.cfg.provider),
			attribute.String("strategy", string(StrategySliding)),
			attribute.Float64("offset_s", offset.Seconds()),
		))
	start := time.Now()
	res, err := c.rec.Transcribe(ctx, samples, opts)
	c.cfg.metrics.RecordTranscription(ctx, c.cfg.provider, string(StrategySliding), time.Since(start), err)
	if err != nil {
		observe.FailSpan(span, err)
	}
	span.End()

	if !c.r.live(gen) {
		return false
	}
	if err != nil {
		observe.Logger(ctx).Warn("streaming: sliding decode failed, retrying next tick",
			"from", from, "err", err)
		return false
	}

	if c.language == "" {
		switch {
		case opts.DetectLanguage && res.Language != "":
			c.language = res.Language
			slog.Info("streaming: language detected", "language", c.language)
		case !opts.DetectLanguage:
			c.language = opts.Language
		}
	}

	segs := c.relevant(res, offset, from, stt.SamplesDuration(len(samples)))

	c.mu.Lock()
	defer c.mu.Unlock()
	confirm := len(segs) - c.cfg.confirm
	if final {
		confirm = len(segs)
	}
	if confirm > 0 {
		c.confirmed = append(c.confirmed, segs[:confirm]...)
		c.boundary = max(c.boundary, segs[confirm-1].End)
	}
	c.pending = slices.Clone(segs[max(confirm, 0):])
	return true
}

// relevant cleans a result's segments and drops any that end before the
// boundary.
func (c *Sliding) relevant(res stt.Result, offset, from, length time.Duration) []stt.Segment {
	segs := cleanSegments(res.Segments)
	if len(segs) == 0 {
		segs = stt.SegmentsFromText(stt.CleanText(res.Text), offset, length)
	}
	out := segs[:0]
	for _, s := range segs {
		if s.End <= from && from > 0 {
			continue
		}
		s.Start = max(s.Start, from)
		s.End = max(s.End, s.Start)
		out = append(out, s)
	}
	return out
}

func (c *Sliding) publish() {
	if c.target == nil {
		return
	}
	c.mu.Lock()
	live := joinNonEmpty(stt.JoinText(c.confirmed), stt.JoinText(c.pending))
	segs := append(slices.Clone(c.confirmed), c.pending...)
	c.mu.Unlock()
	c.target.Update(live, segs)
}

// FlushAndCollectRemaining implements [Coordinator]. It runs one final
// decode over the unconfirmed tail and confirms everything it returns. When
// the tail is too short to decode or the final decode fails, the pending
// segments are confirmed as they are. After Stop it returns the confirmed and
// pending text without decoding.
func (c *Sliding) FlushAndCollectRemaining(ctx context.Context) (string, []stt.Segment) {
	c.work.Lock()
	gen := c.r.generation()
	if c.r.live(gen) && c.source != nil {
		from := c.ConfirmedEnd()
		decoded := false
		if c.source.Duration()-from >= minFlushAudio {
			decoded = c.decodeFrom(ctx, gen, from, true)
		}
		if !decoded {
			c.mu.Lock()
			c.confirmed = append(c.confirmed, c.pending...)
			if n := len(c.confirmed); n > 0 {
				c.boundary = max(c.boundary, c.confirmed[n-1].End)
			}
			c.pending = nil
			c.mu.Unlock()
		}
	}
	c.work.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	all := append(slices.Clone(c.confirmed), c.pending...)
	return stt.JoinText(all), all
}
