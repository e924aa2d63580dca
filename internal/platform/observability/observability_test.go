package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/cart/internal/platform/requestctx"
)

func TestRequestLoggerRecordsRoutePattern(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	metrics := NewMetrics("test")

	router := chi.NewRouter()
	router.Use(RequestLogger(zap.New(core), metrics))
	router.Get("/cart/items/{itemID}", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requestctx.LoggerFromContext(r.Context()); !ok {
			t.Fatalf("expected request logger on context")
		}
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/cart/items/abc", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(metrics.requestsTotal.WithLabelValues(http.MethodGet, "/cart/items/{itemID}", "404"))
	if got != 1 {
		t.Fatalf("expected one request counted, got %v", got)
	}
	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entries[0].Level)
	}
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	metrics := NewMetrics("cart")
	metrics.ObserveCartOperation("add_item", "ok")
	metrics.ObserveLifecycle("abandoned", 3)
	metrics.ObserveLifecycle("expired", 0)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{`cart_operations_total{operation="add_item",outcome="ok"} 1`, `cart_lifecycle_carts_total{stage="abandoned"} 3`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
	if strings.Contains(body, `stage="expired"`) {
		t.Fatalf("zero counts must not create series")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveCartOperation("x", "ok")
	metrics.SetBreakerState("catalog", 2)
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}

func TestCloudTraceHeaderRoundTrip(t *testing.T) {
	spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if !spanCtx.IsSampled() || !spanCtx.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}
	info := requestctx.TraceInfo{TraceID: spanCtx.TraceID().String(), SpanID: spanCtx.SpanID().String(), Sampled: true}
	if got := formatCloudTraceHeader(info); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected formatted header %q", got)
	}

	for _, header := range []string{"", "nope", "105445aa7843bc8bf206b12000100000/0", "short/1", "105445aa7843bc8bf206b12000100000/xyz"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var captured requestctx.TraceInfo
	handler := TraceMiddleware("proj")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = requestctx.Trace(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured.ProjectID != "proj" {
		t.Fatalf("expected project id on trace info, got %+v", captured)
	}
}

func TestSanitizeHelpers(t *testing.T) {
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("expected empty route to log as /, got %q", got)
	}
	if got := SanitizeRoute("/cart\n/items"); got != "/cart/items" {
		t.Fatalf("expected control characters stripped, got %q", got)
	}
	if got := SanitizeMethod(" patch "); got != "PATCH" {
		t.Fatalf("expected upper-cased method, got %q", got)
	}
	long := strings.Repeat("é", maxUserIDLen+10)
	if got := SanitizeUserID(long); len([]rune(got)) != maxUserIDLen {
		t.Fatalf("expected user id capped at %d runes, got %d", maxUserIDLen, len([]rune(got)))
	}
}
