package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newMiddlewareFixture returns an instrumented no-op handler together with
// the metric reader and span exporter backing it.
func newMiddlewareFixture(t *testing.T, inner http.HandlerFunc) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)
	exp := installTestTracer(t)
	if inner == nil {
		inner = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	}
	return Middleware(m)(inner), reader, exp
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	var seen string
	h, _, _ := newMiddlewareFixture(t, func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if len(seen) != 32 {
		t.Fatalf("handler saw correlation ID %q, want a 32-char trace ID", seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, seen)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var seen string
	h, _, _ := newMiddlewareFixture(t, func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != traceID {
		t.Errorf("correlation ID = %q, want incoming trace ID %q", seen, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_RecordsRouteDuration(t *testing.T) {
	h, reader, _ := newMiddlewareFixture(t, nil)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/favicon.ico", nil))

	rm := collect(t, reader)
	met := findMetric(rm, "earshot.http.request.duration")
	if met == nil {
		t.Fatal("earshot.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want Histogram[float64]", met.Data)
	}

	routes := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "route" {
				routes[kv.Value.AsString()] += dp.Count
			}
		}
	}
	if routes["/readyz"] != 1 {
		t.Errorf("route /readyz count = %d, want 1", routes["/readyz"])
	}
	// Unknown paths collapse into one label so scanners cannot blow up
	// metric cardinality.
	if routes["other"] != 1 {
		t.Errorf("route other count = %d, want 1", routes["other"])
	}
}

func TestMiddleware_SpanCarriesStatusCode(t *testing.T) {
	h, _, exp := newMiddlewareFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("response status = %d, want 404", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /missing" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if v, ok := spanAttr(spans[0], "http.response.status_code"); !ok || v != "404" {
		t.Errorf("http.response.status_code = %q ok=%v, want 404", v, ok)
	}
}

func TestMiddleware_CountsResponseBytes(t *testing.T) {
	body := []byte(`{"status":"ok"}`)
	h, _, _ := newMiddlewareFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Body.Len() != len(body) {
		t.Errorf("body length = %d, want %d", rec.Body.Len(), len(body))
	}
	if rec.Code != http.StatusOK {
		t.Errorf("implicit status = %d, want 200", rec.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := []struct {
		path, want string
	}{
		{"/metrics", "/metrics"},
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/admin.php", "other"},
		{"/", "other"},
	}
	for _, c := range cases {
		if got := routeLabel(c.path); got != c.want {
			t.Errorf("routeLabel(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}
