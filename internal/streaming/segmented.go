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
	"github.com/MrWong99/recod/internal/vadgate"
	"github.com/MrWong99/recod/pkg/audio/samplestream"
	"github.com/MrWong99/recod/pkg/provider/stt"
	"github.com/MrWong99/recod/pkg/provider/vad"
)

// DefaultSegmentedPoll is the polling interval of [Segmented].
const DefaultSegmentedPoll = 100 * time.Millisecond

// maxSegmentAttempts bounds how often a failing segment is retried before
// it is dropped.
const maxSegmentAttempts = 3

// Segmented decodes each utterance found by a voice activity gate.
type Segmented struct {
	cfg     config
	engine  vad.Engine
	gateCfg vadgate.Config

	r runner

	// work serialises ticks and flushes and guards everything below it up
	// to mu.
	work    sync.Mutex
	source  *samplestream.Stream
	rec     stt.Recognizer
	target  Sink
	session vad.SessionHandle
	gate    *vadgate.Gate
	cursor  int
	carry   []float32 // samples read but shorter than one window
	retry   []queued

	mu       sync.Mutex
	texts    []string
	segments []stt.Segment
}

type queued struct {
	seg      vadgate.Segment
	attempts int
}

// NewSegmented returns a coordinator that classifies windows with sessions
// from engine and gates them with gateCfg.
func NewSegmented(engine vad.Engine, gateCfg vadgate.Config, opts ...Option) *Segmented {
	return &Segmented{
		cfg:     newConfig(DefaultSegmentedPoll, opts),
		engine:  engine,
		gateCfg: gateCfg.WithDefaults(),
	}
}

// Start implements [Coordinator]. State from a previous session is
// discarded.
func (c *Segmented) Start(ctx context.Context, target Sink, source *samplestream.Stream, rec stt.Recognizer) {
	if rec == nil {
		slog.Warn("streaming: no recognizer, live transcription disabled", "strategy", StrategySegmented)
		return
	}
	if c.r.isRunning() {
		return
	}

	c.work.Lock()
	defer c.work.Unlock()

	if c.session != nil {
		_ = c.session.Close()
		c.session, c.gate = nil, nil
	}
	session, err := c.engine.NewSession(vad.Config{
		SampleRate: c.gateCfg.SampleRate,
		WindowSize: c.gateCfg.Window,
	})
	if err != nil {
		slog.Error("streaming: failed to create VAD session", "err", err)
		return
	}
	gate, err := vadgate.New(session, c.gateCfg)
	if err != nil {
		_ = session.Close()
		slog.Error("streaming: invalid gate configuration", "err", err)
		return
	}

	c.session, c.gate = session, gate
	c.source, c.rec, c.target = source, rec, target
	c.cursor, c.carry, c.retry = 0, nil, nil
	c.mu.Lock()
	c.texts, c.segments = nil, nil
	c.mu.Unlock()

	if _, _, ok := c.r.start(ctx, c.cfg.poll, c.tick); !ok {
		return
	}
	c.cfg.metrics.ActiveStreams.Add(ctx, 1, observe.StrategyAttr(string(StrategySegmented)))
	slog.Debug("streaming: segmented coordinator started", "provider", c.cfg.provider)
}

// Stop implements [Coordinator].
func (c *Segmented) Stop() {
	if c.r.stop() {
		c.cfg.metrics.ActiveStreams.Add(context.Background(), -1, observe.StrategyAttr(string(StrategySegmented)))
		slog.Debug("streaming: segmented coordinator stopped")
	}
}

// Running implements [Coordinator].
func (c *Segmented) Running() bool { return c.r.isRunning() }

// LiveText implements [Coordinator].
func (c *Segmented) LiveText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return joinNonEmpty(c.texts...)
}

// Parts implements [Coordinator]. Decoded utterances are final, so nothing
// is ever pending.
func (c *Segmented) Parts() (confirmed, pending string) {
	return c.LiveText(), ""
}

// Segments returns a copy of the accumulated segments.
func (c *Segmented) Segments() []stt.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.segments)
}

func (c *Segmented) tick(ctx context.Context, gen uint64) {
	c.work.Lock()
	defer c.work.Unlock()
	if !c.r.live(gen) {
		return
	}
	c.readAndFeed(ctx)
	if c.decodeQueued(ctx, gen) {
		c.publish()
	}
}

// readAndFeed pulls new samples from the cursor and feeds whole windows to
// the gate, carrying the remainder to the next tick.
func (c *Segmented) readAndFeed(ctx context.Context) {
	fresh := c.source.ReadFrom(c.cursor)
	c.cursor += len(fresh)
	c.carry = append(c.carry, fresh...)

	n, err := c.gate.Feed(c.carry)
	if err != nil {
		observe.Logger(ctx).Warn("streaming: voice activity detection failed", "err", err)
	}
	c.carry = append(c.carry[:0], c.carry[n:]...)

	for {
		seg, ok := c.gate.Pop()
		if !ok {
			break
		}
		c.cfg.metrics.RecordSpeechSegment(ctx)
		c.retry = append(c.retry, queued{seg: seg})
	}
}

// decodeQueued transcribes queued segments in order. It stops at the first
// failure so later segments never overtake an earlier one, and reports
// whether any text was added.
func (c *Segmented) decodeQueued(ctx context.Context, gen uint64) bool {
	changed := false
	for len(c.retry) > 0 {
		q := &c.retry[0]
		if !c.r.live(gen) {
			return changed
		}
		res, err := c.decode(ctx, q.seg)
		if !c.r.live(gen) {
			// Stopped mid-decode: the result belongs to a finished session.
			return changed
		}
		if err != nil {
			q.attempts++
			log := observe.Logger(ctx)
			if q.attempts < maxSegmentAttempts {
				log.Warn("streaming: segment decode failed, retrying next tick",
					"offset", q.seg.Offset(), "attempt", q.attempts, "err", err)
				return changed
			}
			log.Error("streaming: dropping segment after repeated failures",
				"offset", q.seg.Offset(), "duration", q.seg.Duration(), "err", err)
			c.retry = c.retry[1:]
			continue
		}
		c.retry = c.retry[1:]
		if c.accept(q.seg, res) {
			changed = true
		}
	}
	return changed
}

func (c *Segmented) decode(ctx context.Context, seg vadgate.Segment) (stt.Result, error) {
	opts := c.cfg.opts
	opts.Offset = seg.Offset()
	opts.ClipFrom = 0

	ctx, span := observe.StartSpan(ctx, "stt.transcribe",
		trace.WithAttributes(
			attribute.String("provider", c.cfg.provider),
			attribute.String("strategy", string(StrategySegmented)),
			attribute.Float64("offset_s", seg.Offset().Seconds()),
		))
	defer span.End()

	start := time.Now()
	res, err := c.rec.Transcribe(ctx, seg.Samples, opts)
	c.cfg.metrics.RecordTranscription(ctx, c.cfg.provider, string(StrategySegmented), time.Since(start), err)
	if err != nil {
		observe.FailSpan(span, err)
	}
	return res, err
}

// accept appends a decoded segment's text. Empty results are skipped.
func (c *Segmented) accept(seg vadgate.Segment, res stt.Result) bool {
	text := stt.CleanText(res.Text)
	segs := cleanSegments(res.Segments)
	if text == "" {
		text = stt.JoinText(segs)
	}
	if text == "" {
		return false
	}
	if len(segs) == 0 {
		segs = stt.SegmentsFromText(text, seg.Offset(), seg.Duration())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	c.segments = append(c.segments, segs...)
	return true
}

func (c *Segmented) publish() {
	if c.target == nil {
		return
	}
	c.mu.Lock()
	live := joinNonEmpty(c.texts...)
	segs := slices.Clone(c.segments)
	c.mu.Unlock()
	c.target.Update(live, segs)
}

// FlushAndCollectRemaining implements [Coordinator]. It reads the rest of the
// stream, closes any open utterance and decodes every queued segment. Audio
// shorter than one window at the very end is discarded. After Stop it only
// returns what was already collected.
func (c *Segmented) FlushAndCollectRemaining(ctx context.Context) (string, []stt.Segment) {
	c.work.Lock()
	gen := c.r.generation()
	if c.r.live(gen) && c.gate != nil {
		c.readAndFeed(ctx)
		c.gate.Flush()
		for {
			seg, ok := c.gate.Pop()
			if !ok {
				break
			}
			c.cfg.metrics.RecordSpeechSegment(ctx)
			c.retry = append(c.retry, queued{seg: seg})
		}
		for len(c.retry) > 0 && c.r.live(gen) {
			before := len(c.retry)
			c.decodeQueued(ctx, gen)
			if len(c.retry) == before {
				// Still failing: give it the remaining attempts now rather than
				// waiting for a tick that will not come.
				c.retry[0].attempts = max(c.retry[0].attempts, maxSegmentAttempts-1)
			}
		}
		c.carry = nil
	}
	c.work.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return joinNonEmpty(c.texts...), slices.Clone(c.segments)
}

// cleanSegments strips recognizer tags and drops empty segments.
func cleanSegments(in []stt.Segment) []stt.Segment {
	out := make([]stt.Segment, 0, len(in))
	for _, s := range in {
		s.Text = stt.CleanText(s.Text)
		if s.Text == "" {
			continue
		}
		if s.End < s.Start {
			s.End = s.Start
		}
		out = append(out, s)
	}
	return out
}
