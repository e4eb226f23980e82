package observe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// restoreGlobals undoes the provider registration InitProvider performs.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func TestInitProvider_TraceFile(t *testing.T) {
	restoreGlobals(t)
	path := filepath.Join(t.TempDir(), "spans.json")

	shutdown, err := InitProvider(context.Background(), ProviderConfig{TraceFile: path})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	_, span := StartSpan(context.Background(), "app.finish_recording")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace file: %v", err)
	}
	if !strings.Contains(string(data), `"app.finish_recording"`) {
		t.Errorf("trace file lacks the span:\n%s", data)
	}
}

func TestInitProvider_BadTraceFile(t *testing.T) {
	restoreGlobals(t)
	path := filepath.Join(t.TempDir(), "missing", "spans.json")

	if _, err := InitProvider(context.Background(), ProviderConfig{TraceFile: path}); err == nil {
		t.Fatal("expected an error for an unwritable trace file")
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()

	for _, ratio := range []float64{0, 1, 2} {
		if got := sampler(ratio).Description(); got != sdktrace.AlwaysSample().Description() {
			t.Errorf("sampler(%v) = %s, want AlwaysOnSampler", ratio, got)
		}
	}
	if got := sampler(0.25).Description(); !strings.Contains(got, "TraceIDRatioBased{0.25}") {
		t.Errorf("sampler(0.25) = %s, want a parent-based ratio sampler", got)
	}
}
