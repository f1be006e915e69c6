package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func TestMiddleware(t *testing.T) {
	t.Run("sets correlation id and span", func(t *testing.T) {
		m, _, exp := testSetup(t)

		var cid string
		handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cid = CorrelationID(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

		if len(cid) != 32 {
			t.Fatalf("correlation ID length = %d, want 32", len(cid))
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != cid {
			t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
		}
		spans := exp.GetSpans()
		if len(spans) != 1 || spans[0].Name != "HTTP GET /readyz" {
			t.Fatalf("spans = %v, want one HTTP GET /readyz", spans)
		}
	})

	t.Run("continues incoming trace", func(t *testing.T) {
		m, _, _ := testSetup(t)

		var cid string
		handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cid = CorrelationID(r.Context())
		}))

		req := httptest.NewRequest("GET", "/metrics", nil)
		req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if cid != "4bf92f3577b34da6a3ce929d0e0e4736" {
			t.Errorf("correlation ID = %q, want incoming trace ID", cid)
		}
	})

	t.Run("records duration and status", func(t *testing.T) {
		m, reader, exp := testSetup(t)

		handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}

		rm := collect(t, reader)
		met := findMetric(rm, "streamscribe.http.request.duration")
		if met == nil {
			t.Fatal("metric not found")
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) != 1 {
			t.Fatalf("expected one histogram data point, got %+v", met.Data)
		}
		if v, ok := hist.DataPoints[0].Attributes.Value("path"); !ok || v.AsString() != "/readyz" {
			t.Errorf("path attribute = %v, want /readyz", v)
		}

		spans := exp.GetSpans()
		if len(spans) == 0 {
			t.Fatal("no spans recorded")
		}
		found := false
		for _, a := range spans[0].Attributes {
			if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 503 {
				found = true
			}
		}
		if !found {
			t.Error("span missing http.response.status_code attribute")
		}
	})
}
