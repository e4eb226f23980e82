package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/recod/internal/observe"
	"github.com/MrWong99/recod/pkg/audio/wavfile"
	"github.com/MrWong99/recod/pkg/provider/stt"
)

// MinTranscribeAudio is the shortest capture worth sending to a recognizer.
const MinTranscribeAudio = 100 * time.Millisecond

// ErrNoRecognizer is returned when a transcription is requested but no
// recognizer is configured.
var ErrNoRecognizer = errors.New("app: no recognizer configured")

// Transcriber decodes finished recording files in one pass.
type Transcriber struct {
	rec     stt.FileRecognizer
	name    string
	metrics *observe.Metrics
}

// NewTranscriber returns a Transcriber backed by rec, which is usually a
// [resilience.RecognizerFallback]. name labels metrics. A nil rec makes
// every non-empty file fail with [ErrNoRecognizer].
func NewTranscriber(rec stt.FileRecognizer, name string, metrics *observe.Metrics) *Transcriber {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Transcriber{rec: rec, name: name, metrics: metrics}
}

// TranscribeFile waits until path is a readable WAV file and decodes it.
// Files shorter than [MinTranscribeAudio] yield an empty result without
// calling the recognizer.
func (t *Transcriber) TranscribeFile(ctx context.Context, path string, opts stt.Options) (stt.Result, error) {
	log := observe.Logger(ctx)
	if err := wavfile.WaitReady(ctx, path); err != nil {
		return stt.Result{}, fmt.Errorf("app: recording not readable: %w", err)
	}
	info, err := wavfile.Probe(path)
	if err != nil {
		return stt.Result{}, fmt.Errorf("app: probe %s: %w", filepath.Base(path), err)
	}
	if info.Duration < MinTranscribeAudio {
		log.Info("app: nothing to transcribe", "path", path, "duration", info.Duration)
		return stt.Result{}, nil
	}
	if t.rec == nil {
		return stt.Result{}, ErrNoRecognizer
	}

	ctx, span := observe.StartSpan(ctx, "stt.transcribe_file",
		trace.WithAttributes(
			attribute.String("provider", t.name),
			attribute.String("file", filepath.Base(path)),
			attribute.Float64("duration_s", info.Duration.Seconds()),
		))
	defer span.End()

	start := time.Now()
	res, err := t.rec.TranscribeFile(ctx, path, opts)
	t.metrics.RecordTranscription(ctx, t.name, "file", time.Since(start), err)
	if err != nil {
		observe.FailSpan(span, err)
		return stt.Result{}, fmt.Errorf("app: transcribe %s: %w", filepath.Base(path), err)
	}
	res.Text = stt.CleanText(res.Text)
	log.Debug("app: file transcribed",
		"path", path,
		"chars", len(res.Text),
		"segments", len(res.Segments),
		"elapsed", time.Since(start),
	)
	return res, nil
}
