// Package observe is the telemetry layer of recod: OpenTelemetry metrics
// exported for Prometheus, tracing around recognizer calls and recording
// finalisation, trace-aware slog loggers, and the middleware for the
// health and metrics listener.
//
// Production code records through [DefaultMetrics], which binds to the
// global meter provider set up by [InitProvider]. Tests build their own
// [Metrics] with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/recod"

// Values of the "status" attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the recod instruments. Instruments are safe for concurrent
// use.
type Metrics struct {
	// Recognizer calls, labelled provider and strategy
	// (segmented, sliding or file).
	STTDuration      metric.Float64Histogram
	ProviderRequests metric.Int64Counter // + status
	ProviderErrors   metric.Int64Counter

	// Recordings, labelled status (completed, failed).
	Recordings        metric.Int64Counter
	RecordingDuration metric.Float64Histogram
	ActiveRecordings  metric.Int64UpDownCounter

	// Live transcription.
	ActiveStreams  metric.Int64UpDownCounter // by strategy
	SpeechSegments metric.Int64Counter

	BreakerTransitions  metric.Int64Counter // provider, state entered
	ConfigReloads       metric.Int64Counter // status
	HTTPRequestDuration metric.Float64Histogram
}

var (
	// Recognizer latency, from a short utterance to a whole-file decode.
	latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

	// Dictation length, from a word to a meeting.
	recordingBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}
)

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	histogram := func(name, desc string, buckets ...float64) metric.Float64Histogram {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if len(buckets) > 0 {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		h, err := meter.Float64Histogram(name, opts...)
		keep(err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		keep(err)
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		g, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		keep(err)
		return g
	}

	m := &Metrics{
		STTDuration:      histogram("recod.stt.duration", "Latency of speech-to-text recognizer calls.", latencyBuckets...),
		ProviderRequests: counter("recod.provider.requests", "Recognizer requests by provider, strategy and status."),
		ProviderErrors:   counter("recod.provider.errors", "Failed recognizer requests by provider and strategy."),

		Recordings:        counter("recod.recordings", "Finished recordings by status."),
		RecordingDuration: histogram("recod.recording.duration", "Audio length of finished recordings.", recordingBuckets...),
		ActiveRecordings:  gauge("recod.active_recordings", "Captures in progress."),

		ActiveStreams:  gauge("recod.active_streams", "Running live transcription coordinators by strategy."),
		SpeechSegments: counter("recod.vad.segments", "Speech segments cut by the voice activity gate."),

		BreakerTransitions:  counter("recod.breaker.transitions", "Recognizer circuit breaker transitions by provider and state entered."),
		ConfigReloads:       counter("recod.config.reloads", "Configuration reloads by status."),
		HTTPRequestDuration: histogram("recod.http.request.duration", "Latency of health, readiness and metrics requests by method, route and status."),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic(err)
	}
	return m
})

// DefaultMetrics returns the process-wide instruments, created on first use
// from the global meter provider. Call it after [InitProvider].
func DefaultMetrics() *Metrics { return defaultMetrics() }

// RecordTranscription books one recognizer call. strategy is "segmented",
// "sliding" or "file".
func (m *Metrics) RecordTranscription(ctx context.Context, provider, strategy string, d time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("strategy", strategy),
	}
	m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))

	status := StatusOK
	if err != nil {
		status = StatusError
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("status", status))...))
}

func (m *Metrics) RecordSpeechSegment(ctx context.Context) {
	m.SpeechSegments.Add(ctx, 1)
}

// RecordRecording books a finished recording and its audio length.
func (m *Metrics) RecordRecording(ctx context.Context, status string, audio time.Duration) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.RecordingDuration.Record(ctx, audio.Seconds())
}

func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("state", state),
	))
}

func (m *Metrics) RecordConfigReload(ctx context.Context, status string) {
	m.ConfigReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// StrategyAttr labels the live transcription gauges.
func StrategyAttr(strategy string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("strategy", strategy))
}
