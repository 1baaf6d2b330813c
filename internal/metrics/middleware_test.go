package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestHTTPMiddleware_RecordsRequests(t *testing.T) {
	reg := NewRegistry()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	wrapped := HTTPMiddleware(reg)(handler)

	req := httptest.NewRequest("POST", "/api/backtest", nil)
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	// Scrape the registry and check the counter landed.
	scrape := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).
		ServeHTTP(scrape, httptest.NewRequest("GET", "/metrics", nil))

	body := scrape.Body.String()
	if !strings.Contains(body, `http_requests_total{method="POST",path="/api/backtest",status="2xx"} 1`) {
		t.Errorf("expected request counter in scrape output")
	}
}

func TestHTTPMiddleware_DefaultStatusIsOK(t *testing.T) {
	reg := NewRegistry()

	// Handler that never calls WriteHeader.
	wrapped := HTTPMiddleware(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest("GET", "/api/health", nil))

	scrape := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).
		ServeHTTP(scrape, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(scrape.Body.String(), `status="2xx"`) {
		t.Error("implicit 200 should count as 2xx")
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	logger := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(&buf), zapcore.InfoLevel))

	wrapped := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/backtest/abc", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v, log: %s", err, buf.String())
	}

	if entry["method"] != "GET" {
		t.Errorf("method = %v", entry["method"])
	}
	if entry["path"] != "/api/backtest/abc" {
		t.Errorf("path = %v", entry["path"])
	}
	if entry["status"].(float64) != 200 {
		t.Errorf("status = %v", entry["status"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected duration_ms in log entry")
	}

	requestID := w.Header().Get("X-Request-ID")
	if requestID == "" {
		t.Fatal("expected X-Request-ID header")
	}
	if entry["request_id"] != requestID {
		t.Errorf("request_id %v does not match header %s", entry["request_id"], requestID)
	}
}

func TestLoggingMiddleware_KeepsCallerRequestID(t *testing.T) {
	logger := zap.NewNop()
	wrapped := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "caller-supplied" {
		t.Errorf("request id = %q, want caller-supplied", got)
	}
}

func TestRegistry_BacktestMetrics(t *testing.T) {
	reg := NewRegistry()
	reg.RecordBacktest("standard", "completed", 1.5, 5000)
	reg.RunStarted()
	reg.RunFinished()
	reg.SetPoolQueueDepth("interactive", 3)
	reg.SetStoredRuns(7)

	scrape := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).
		ServeHTTP(scrape, httptest.NewRequest("GET", "/metrics", nil))
	body := scrape.Body.String()

	for _, want := range []string{
		`tracer_backtests_total{mode="standard",status="completed"} 1`,
		`tracer_bars_replayed_total 5000`,
		`tracer_runs_active 0`,
		`tracer_pool_queue_depth{pool="interactive"} 3`,
		`tracer_stored_runs 7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}
