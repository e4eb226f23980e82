package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures telemetry export.
type ProviderConfig struct {
	ServiceName    string // default "recod"
	ServiceVersion string

	// OTLPEndpoint sends spans to a collector over gRPC (host:port).
	OTLPEndpoint string
	OTLPInsecure bool

	// TraceFile appends spans as JSON lines. Ignored when OTLPEndpoint is set.
	TraceFile string

	// SampleRatio keeps that fraction of root traces; 0 and 1 keep all.
	SampleRatio float64

	// TraceExporter overrides the exporter chosen from the fields above.
	// Tests pass an in-memory exporter here.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider registers global meter and tracer providers. Metrics are
// read by the Prometheus exporter, which feeds the default registry behind
// /metrics. The returned function flushes pending spans and releases the
// exporters; call it once on exit.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "recod"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(promExp))

	exp, closeExp, err := spanExporter(ctx, cfg)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		// Spans flush before their sink closes.
		return errors.Join(tp.Shutdown(ctx), closeExp(), mp.Shutdown(ctx))
	}, nil
}

// spanExporter picks the exporter for cfg. A nil exporter means spans are
// sampled for log correlation but never leave the process.
func spanExporter(ctx context.Context, cfg ProviderConfig) (sdktrace.SpanExporter, func() error, error) {
	noClose := func() error { return nil }
	switch {
	case cfg.TraceExporter != nil:
		return cfg.TraceExporter, noClose, nil

	case cfg.OTLPEndpoint != "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("observe: otlp exporter %s: %w", cfg.OTLPEndpoint, err)
		}
		slog.Info("observe: exporting traces", "exporter", "otlp", "endpoint", cfg.OTLPEndpoint)
		return exp, noClose, nil

	case cfg.TraceFile != "":
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("observe: open trace file: %w", err)
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("observe: file exporter: %w", err)
		}
		slog.Info("observe: exporting traces", "exporter", "file", "path", cfg.TraceFile)
		return exp, f.Close, nil
	}
	return nil, noClose, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
