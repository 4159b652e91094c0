package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if metrics.PermissionChecksTotal == nil || metrics.AuthAttemptsTotal == nil {
		t.Fatal("auth metrics not initialized")
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewMetrics(registry)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordAuthAttempt("api_key", "success")
	m.RecordPermissionCheck("ideas:read", "allowed")
	m.RecordKeyIssued()
	m.RecordKeyRevoked()
	m.RecordLastUsedFlush("success", 3)
	m.RecordCaptureEnqueued("success")
	m.RecordCacheLookup("user", true)
	m.RecordRedisCommand("incr", nil)
	m.UpdateDBStats(sql.DBStats{})
}

func TestMetrics_DomainCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordPermissionCheck("apikeys:manage", "denied")
	m.RecordPermissionCheck("apikeys:manage", "denied")
	m.RecordPermissionCheck("ideas:read", "allowed")
	if got := testutil.ToFloat64(m.PermissionChecksTotal.WithLabelValues("apikeys:manage", "denied")); got != 2 {
		t.Errorf("expected 2 denied checks, got %v", got)
	}

	m.RecordKeyIssued()
	m.RecordKeyRevoked()
	m.RecordKeyRevoked()
	if got := testutil.ToFloat64(m.APIKeysRevokedTotal); got != 2 {
		t.Errorf("expected 2 revocations, got %v", got)
	}

	m.RecordLastUsedFlush("success", 5)
	if got := testutil.ToFloat64(m.LastUsedFlushTotal.WithLabelValues("success")); got != 5 {
		t.Errorf("expected 5 flushed ids, got %v", got)
	}

	m.RecordCacheLookup("user", true)
	m.RecordCacheLookup("user", false)
	if got := testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("user")); got != 1 {
		t.Errorf("expected 1 miss, got %v", got)
	}

	m.RecordRedisCommand("incr", errors.New("down"))
	if got := testutil.ToFloat64(m.RedisCommandsTotal.WithLabelValues("incr", "error")); got != 1 {
		t.Errorf("expected 1 redis error, got %v", got)
	}

	m.UpdateDBStats(sql.DBStats{InUse: 3, Idle: 2, WaitCount: 7})
	if got := testutil.ToFloat64(m.DBConnectionsActive); got != 3 {
		t.Errorf("expected 3 active connections, got %v", got)
	}
}

func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: recorder, statusCode: http.StatusOK}

		rw.WriteHeader(http.StatusCreated)

		if rw.statusCode != http.StatusCreated {
			t.Errorf("Expected status code %d, got %d", http.StatusCreated, rw.statusCode)
		}
		if recorder.Code != http.StatusCreated {
			t.Errorf("Expected recorder status code %d, got %d", http.StatusCreated, recorder.Code)
		}
	})

	t.Run("accumulates bytes across multiple writes", func(t *testing.T) {
		rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}

		rw.Write([]byte("Hello, "))
		rw.Write([]byte("World!"))

		expected := len("Hello, ") + len("World!")
		if rw.bytesWritten != expected {
			t.Errorf("Expected %d bytes written, got %d", expected, rw.bytesWritten)
		}
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	t.Run("records HTTP metrics", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())

		handler := HTTPMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

		expected := `
# HELP ideahub_http_requests_total Total number of HTTP requests
# TYPE ideahub_http_requests_total counter
ideahub_http_requests_total{method="GET",path="/test",status="200"} 1
`
		if err := testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)); err != nil {
			t.Errorf("Unexpected counter value: %v", err)
		}
		if count := testutil.CollectAndCount(metrics.HTTPRequestDuration); count != 1 {
			t.Errorf("Expected 1 duration metric, got %d", count)
		}
	})

	t.Run("labels by route template", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())

		router := mux.NewRouter()
		router.Use(HTTPMetricsMiddleware(metrics))
		router.HandleFunc("/task/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		for _, id := range []string{"a", "b", "c"} {
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/task/"+id, nil))
		}

		if got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/task/{id}", "404")); got != 3 {
			t.Errorf("expected 3 requests under the route template, got %v", got)
		}
	})

	t.Run("nil metrics passes through", func(t *testing.T) {
		called := false
		handler := HTTPMetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
		if !called {
			t.Error("next handler was not called")
		}
	})
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordAuthAttempt("api_key", "failure")

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `ideahub_auth_attempts_total{method="api_key",result="failure"} 1`) {
		t.Error("Expected ideahub_auth_attempts_total in metrics output")
	}
}
