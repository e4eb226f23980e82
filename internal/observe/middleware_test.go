package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented wraps a mux shaped like the app's health surface and returns
// it with the metric reader and span exporter behind it.
func instrumented(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /recordings/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return Middleware(m)(mux), reader, exp
}

func serve(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func spanAttr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, a := range s.Attributes {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	h, _, exp := instrumented(t)

	rec := serve(h, "/recordings/0193-abc", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got, want := spans[0].Name, "HTTP GET /recordings/{id}"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
	if v, ok := spanAttr(spans[0], "http.route"); !ok || v.AsString() != "GET /recordings/{id}" {
		t.Errorf("http.route = %v, want the mux pattern", v.Emit())
	}
	if v, ok := spanAttr(spans[0], "http.response.status_code"); !ok || v.AsInt64() != 204 {
		t.Errorf("http.response.status_code = %v, want 204", v.Emit())
	}
}

func TestMiddleware_ImplicitOKStatus(t *testing.T) {
	h, _, exp := instrumented(t)

	serve(h, "/healthz", nil)
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if v, _ := spanAttr(spans[0], "http.response.status_code"); v.AsInt64() != 200 {
		t.Errorf("status attribute = %d, want 200 for a handler that only writes a body", v.AsInt64())
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("successful request marked as error")
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	h, _, exp := instrumented(t)

	serve(h, "/readyz", nil)
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want error for a 503", spans[0].Status.Code)
	}
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	h, _, _ := instrumented(t)

	t.Run("new trace", func(t *testing.T) {
		rec := serve(h, "/healthz", nil)
		if got := rec.Header().Get(CorrelationHeader); len(got) != 32 {
			t.Errorf("%s = %q, want a 32-digit trace ID", CorrelationHeader, got)
		}
	})

	t.Run("continues traceparent", func(t *testing.T) {
		const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
		rec := serve(h, "/healthz", http.Header{
			"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
		})
		if got := rec.Header().Get(CorrelationHeader); got != traceID {
			t.Errorf("%s = %q, want the incoming trace ID %q", CorrelationHeader, got, traceID)
		}
	})
}

func TestMiddleware_DurationByRoute(t *testing.T) {
	h, reader, _ := instrumented(t)

	serve(h, "/recordings/a", nil)
	serve(h, "/recordings/b", nil)
	serve(h, "/no/such/path", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "recod.http.request.duration")
	if met == nil {
		t.Fatal("recod.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		counts[route.AsString()] += dp.Count
	}
	if got := counts["GET /recordings/{id}"]; got != 2 {
		t.Errorf("samples for the recordings route = %d, want 2 (one series for both IDs)", got)
	}
	if got := counts[unmatchedRoute]; got != 1 {
		t.Errorf("samples for unmatched paths = %d, want 1", got)
	}
	if len(counts) != 2 {
		t.Errorf("routes = %v, want exactly two series", counts)
	}
}
