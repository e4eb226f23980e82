package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/recod/internal/observe"
	"github.com/MrWong99/recod/internal/recording"
	"github.com/MrWong99/recod/internal/streaming"
	"github.com/MrWong99/recod/internal/transcript"
	"github.com/MrWong99/recod/internal/vadgate"
	"github.com/MrWong99/recod/pkg/audio/capture"
	"github.com/MrWong99/recod/pkg/provider/stt"
	"github.com/MrWong99/recod/pkg/provider/vad"
)

// persistTimeout bounds store writes made after the caller's context is gone.
const persistTimeout = 10 * time.Second

// ErrNotRecording is returned by operations that need an active recording.
var ErrNotRecording = errors.New("app: not recording")

// RecorderConfig holds all dependencies for a [Recorder].
type RecorderConfig struct {
	Graph *capture.Graph
	Store recording.Store

	// Recognizer decodes live audio. Nil disables streaming transcription.
	Recognizer     stt.Recognizer
	RecognizerName string

	// Transcriber decodes the finished file when streaming produced no text.
	Transcriber *Transcriber

	// VAD and Gate drive the segmented strategy. Without a VAD engine the
	// sliding strategy is used.
	VAD  vad.Engine
	Gate vadgate.Config

	Strategy streaming.Strategy

	// Language is passed to every recognizer call. Empty or "auto" detects.
	Language string

	Rules []transcript.Rule

	// StreamingOptions tune both coordinators (poll interval and the like).
	StreamingOptions []streaming.Option

	Metrics *observe.Metrics
}

// Result is the outcome of the most recent recording.
type Result struct {
	RecordingID string
	Path        string
	Text        string
	Status      recording.Status
	Duration    time.Duration
	Err         string
}

// Snapshot is a point-in-time view of the recorder for the UI.
type Snapshot struct {
	Recording   bool
	Finishing   bool
	SystemAudio bool
	RecordingID string
	Strategy    streaming.Strategy
	Elapsed     time.Duration
	Level       float32
	Confirmed   string
	Pending     string
	Last        *Result
}

// session is the state of one recording between Start and Stop. Its plain
// fields are fixed before the session is published; the live transcription
// is swapped atomically because Snapshot reads it without the lock.
type session struct {
	rec         *recording.Recording
	persisted   bool
	path        string
	systemAudio bool
	started     time.Time
	live        atomic.Pointer[liveStream]
}

// liveStream is one run of live transcription within a session.
type liveStream struct {
	strategy streaming.Strategy
	coord    streaming.Coordinator
	relay    *liveRelay // nil when the recording is not persisted
}

// Recorder owns the capture graph, both streaming coordinators, the
// replacement rules and the store, and runs the record, stream, stop and
// transcribe lifecycle. Only one recording is active at a time. All
// exported methods are safe for concurrent use.
type Recorder struct {
	cfg     RecorderConfig
	metrics *observe.Metrics

	rules atomic.Pointer[transcript.Engine]
	bias  atomic.Pointer[transcript.Bias]

	// mu serialises the lifecycle methods. Snapshot never takes it.
	mu        sync.Mutex
	segmented *streaming.Segmented
	sliding   *streaming.Sliding

	cur       atomic.Pointer[session]
	finishing atomic.Bool
	last      atomic.Pointer[Result]
}

// NewRecorder creates a Recorder with the given dependencies.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = streaming.StrategySegmented
	}
	if cfg.Transcriber == nil {
		fr, _ := cfg.Recognizer.(stt.FileRecognizer)
		cfg.Transcriber = NewTranscriber(fr, cfg.RecognizerName, cfg.Metrics)
	}
	r := &Recorder{cfg: cfg, metrics: cfg.Metrics}
	r.SetRules(cfg.Rules)
	return r
}

// SetRules replaces the replacement rules and the recognizer biasing derived
// from them. Recordings started afterwards use the new bias; replacements
// apply immediately.
func (r *Recorder) SetRules(rules []transcript.Rule) {
	bias := transcript.CompileBias(rules)
	r.rules.Store(transcript.NewEngine(rules))
	r.bias.Store(&bias)
}

// ApplyReplacements rewrites text with the current rules.
func (r *Recorder) ApplyReplacements(text string) string {
	return r.rules.Load().Apply(text)
}

// Graph returns the capture graph.
func (r *Recorder) Graph() *capture.Graph { return r.cfg.Graph }

// StartRecording clears the stream, starts capture, registers the recording
// and starts live transcription. Capture errors are returned as
// [capture.ErrPermissionDenied], [capture.ErrScreenCapturePermissionDenied]
// or [capture.ErrSetupFailed]. A failing store is logged; the audio is
// still recorded.
func (r *Recorder) StartRecording(ctx context.Context, systemAudio bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur.Load() != nil || r.finishing.Load() {
		return capture.ErrRecording
	}

	graph := r.cfg.Graph
	graph.Stream().Clear()
	if err := graph.Start(ctx, systemAudio); err != nil {
		return err
	}

	path := graph.Path()
	s := &session{
		rec:         recording.New(filepath.Base(path), time.Now()),
		path:        path,
		systemAudio: systemAudio,
		started:     time.Now(),
	}
	if err := r.cfg.Store.Create(ctx, s.rec); err != nil {
		slog.Error("app: failed to register recording, transcript will not be saved",
			"filename", s.rec.Filename,
			"err", err,
		)
	} else {
		s.persisted = true
	}
	if err := r.startStreaming(ctx, s, r.cfg.Strategy); err != nil {
		slog.Warn("app: live transcription unavailable", "err", err)
	}
	r.cur.Store(s)
	r.metrics.ActiveRecordings.Add(ctx, 1)

	var strategy streaming.Strategy
	if ls := s.live.Load(); ls != nil {
		strategy = ls.strategy
	}
	slog.Info("app: recording started",
		"id", s.rec.ID,
		"path", path,
		"system_audio", systemAudio,
		"strategy", strategy,
	)
	return nil
}

// StartStreaming starts live transcription of the active recording with the
// given strategy. Any running coordinator is stopped first, so switching
// strategies mid-recording restarts from the current stream.
func (r *Recorder) StartStreaming(ctx context.Context, recordingID string, strategy streaming.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.cur.Load()
	if s == nil || s.rec.ID != recordingID {
		return fmt.Errorf("%w: %s", ErrNotRecording, recordingID)
	}
	return r.startStreaming(ctx, s, strategy)
}

func (r *Recorder) startStreaming(ctx context.Context, s *session, strategy streaming.Strategy) error {
	r.stopStreaming()
	if old := s.live.Swap(nil); old != nil && old.relay != nil {
		old.relay.Close()
	}
	if r.cfg.Recognizer == nil {
		return ErrNoRecognizer
	}
	if strategy == streaming.StrategySegmented && r.cfg.VAD == nil {
		slog.Warn("app: no VAD engine, falling back to sliding transcription")
		strategy = streaming.StrategySliding
	}

	opts := append(slices.Clone(r.cfg.StreamingOptions),
		streaming.WithOptions(r.options()),
		streaming.WithProviderName(r.cfg.RecognizerName),
		streaming.WithMetrics(r.metrics),
	)
	var coord streaming.Coordinator
	switch strategy {
	case streaming.StrategySliding:
		r.sliding = streaming.NewSliding(opts...)
		coord = r.sliding
	default:
		strategy = streaming.StrategySegmented
		r.segmented = streaming.NewSegmented(r.cfg.VAD, r.cfg.Gate, opts...)
		coord = r.segmented
	}

	ls := &liveStream{strategy: strategy, coord: coord}
	var sink streaming.Sink
	if s.persisted {
		ls.relay = newLiveRelay(r.cfg.Store, s.rec.ID)
		sink = ls.relay
	}
	s.live.Store(ls)
	coord.Start(ctx, sink, r.cfg.Graph.Stream(), r.cfg.Recognizer)

	if s.persisted && coord.Running() {
		r.setStatus(ctx, s, recording.StatusStreaming)
	}
	return nil
}

// StopStreaming stops both coordinators. Transcript state is kept until the
// next start, so FlushAndCollectRemaining still returns it.
func (r *Recorder) StopStreaming() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopStreaming()
}

func (r *Recorder) stopStreaming() {
	if r.segmented != nil {
		r.segmented.Stop()
	}
	if r.sliding != nil {
		r.sliding.Stop()
	}
}

// FlushAndCollectRemaining decodes the audio the active coordinator has not
// transcribed yet and returns the full live transcript.
func (r *Recorder) FlushAndCollectRemaining(ctx context.Context) (string, []stt.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.cur.Load()
	if s == nil {
		return "", nil
	}
	ls := s.live.Load()
	if ls == nil {
		return "", nil
	}
	return ls.coord.FlushAndCollectRemaining(ctx)
}

// StopRecording finishes the active recording: it stops capture, flushes
// live transcription over everything captured, falls back to a full-file decode when
// streaming produced no text, applies the replacements and completes the
// recording in the store. A transcription failure marks the recording
// failed and is not returned. It returns the WAV path, or ("", false) when
// not recording.
func (r *Recorder) StopRecording(ctx context.Context) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.cur.Load()
	if s == nil {
		return "", false
	}
	r.finishing.Store(true)
	defer r.finishing.Store(false)

	// Capture stops first so blocks still in flight during the grace period
	// and the mixer remainder reach the stream before the final decode. The
	// stream is only cleared by the next Start.
	path, ok := r.cfg.Graph.Stop(ctx)

	var (
		text string
		segs []stt.Segment
	)
	ls := s.live.Load()
	if ls != nil {
		text, segs = ls.coord.FlushAndCollectRemaining(ctx)
	}
	r.stopStreaming()
	if ls != nil && ls.relay != nil {
		ls.relay.Close()
	}
	duration := r.cfg.Graph.Stream().Duration()
	r.cur.Store(nil)
	r.metrics.ActiveRecordings.Add(ctx, -1)
	if !ok {
		slog.Warn("app: capture already stopped", "id", s.rec.ID)
		path = s.path
	}

	res := r.finish(ctx, s, path, text, segs, duration)
	r.last.Store(res)
	return path, true
}

// finish produces and persists the final transcript.
func (r *Recorder) finish(ctx context.Context, s *session, path, text string, segs []stt.Segment, duration time.Duration) *Result {
	ctx, span := observe.StartSpan(ctx, "app.finish_recording")
	defer span.End()
	log := observe.Logger(ctx)

	res := &Result{
		RecordingID: s.rec.ID,
		Path:        path,
		Status:      recording.StatusCompleted,
		Duration:    duration,
	}

	if strings.TrimSpace(text) == "" {
		if s.persisted {
			r.setStatus(ctx, s, recording.StatusTranscribing)
		}
		opts := r.options()
		if opts.Language == "" || opts.Language == "auto" {
			opts.Language = ""
			opts.DetectLanguage = true
		}
		out, err := r.cfg.Transcriber.TranscribeFile(ctx, path, opts)
		if err != nil {
			log.Error("app: final transcription failed", "id", s.rec.ID, "path", path, "err", err)
			res.Status = recording.StatusFailed
			res.Err = err.Error()
			observe.FailSpan(span, err)
		} else {
			text = out.Text
			segs = cleanSegments(out.Segments)
			if len(segs) == 0 {
				segs = stt.SegmentsFromText(text, 0, duration)
			}
		}
	}

	res.Text = r.ApplyReplacements(text)
	segs = slices.Clone(segs)
	for i := range segs {
		segs[i].Text = r.ApplyReplacements(segs[i].Text)
	}

	if s.persisted {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		err := r.cfg.Store.Complete(pctx, s.rec.ID, recording.Completion{
			Text:     res.Text,
			Segments: segs,
			Status:   res.Status,
			Duration: duration,
			Error:    res.Err,
		})
		cancel()
		if err != nil {
			log.Error("app: failed to save transcript", "id", s.rec.ID, "err", err)
		}
	}

	r.metrics.RecordRecording(ctx, string(res.Status), duration)
	log.Info("app: recording finished",
		"id", s.rec.ID,
		"status", res.Status,
		"duration", duration,
		"chars", len(res.Text),
	)
	return res
}

func (r *Recorder) setStatus(ctx context.Context, s *session, status recording.Status) {
	if err := r.cfg.Store.SetStatus(ctx, s.rec.ID, status); err != nil {
		slog.Warn("app: failed to update recording status", "id", s.rec.ID, "status", status, "err", err)
	}
}

// options returns the recognizer options for new decodes.
func (r *Recorder) options() stt.Options {
	opts := stt.Options{Language: r.cfg.Language}
	if b := r.bias.Load(); b != nil {
		opts = b.Apply(opts)
	}
	return opts
}

// Recording reports whether a capture is active.
func (r *Recorder) Recording() bool { return r.cur.Load() != nil }

// Last returns the result of the most recent recording, or nil.
func (r *Recorder) Last() *Result { return r.last.Load() }

// Snapshot returns the current recorder state. It never blocks on a running
// Stop.
func (r *Recorder) Snapshot() Snapshot {
	snap := Snapshot{
		Finishing: r.finishing.Load(),
		Last:      r.last.Load(),
	}
	s := r.cur.Load()
	if s == nil {
		return snap
	}
	snap.Recording = true
	snap.SystemAudio = s.systemAudio
	snap.RecordingID = s.rec.ID
	snap.Elapsed = time.Since(s.started)
	snap.Level = r.cfg.Graph.Level()
	if ls := s.live.Load(); ls != nil {
		snap.Strategy = ls.strategy
		snap.Confirmed, snap.Pending = ls.coord.Parts()
	}
	return snap
}

// Close stops an active recording and finishes it.
func (r *Recorder) Close(ctx context.Context) error {
	if _, ok := r.StopRecording(ctx); ok {
		slog.Info("app: active recording stopped on shutdown")
	}
	return nil
}

// cleanSegments drops blank segments and strips recognizer tags.
func cleanSegments(in []stt.Segment) []stt.Segment {
	out := make([]stt.Segment, 0, len(in))
	for _, s := range in {
		s.Text = stt.CleanText(s.Text)
		if s.Text != "" {
			out = append(out, s)
		}
	}
	return out
}

// liveRelay moves live transcript updates from the coordinator goroutine to
// the store on its own goroutine. Updates that arrive while a write is in
// flight are coalesced; only the newest state is written.
type liveRelay struct {
	store recording.Store
	id    string

	mu    sync.Mutex
	text  string
	segs  []stt.Segment
	dirty bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ streaming.Sink = (*liveRelay)(nil)

func newLiveRelay(store recording.Store, id string) *liveRelay {
	l := &liveRelay{
		store:  store,
		id:     id,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	l.wg.Go(l.run)
	return l
}

// Update implements [streaming.Sink]. It never blocks on the store.
func (l *liveRelay) Update(liveText string, segments []stt.Segment) {
	l.mu.Lock()
	l.text = liveText
	l.segs = segments
	l.dirty = true
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *liveRelay) run() {
	for {
		select {
		case <-l.done:
			l.flush()
			return
		case <-l.notify:
			l.flush()
		}
	}
}

func (l *liveRelay) flush() {
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return
	}
	text, segs := l.text, l.segs
	l.dirty = false
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := l.store.UpdateLive(ctx, l.id, text, segs); err != nil {
		slog.Warn("app: failed to save live transcript", "id", l.id, "err", err)
	}
}

// Close writes any pending update and stops the relay goroutine.
func (l *liveRelay) Close() {
	l.closeOnce.Do(func() { close(l.done) })
	l.wg.Wait()
}
