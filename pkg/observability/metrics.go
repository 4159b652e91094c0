package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authentication and authorization
	AuthAttemptsTotal     *prometheus.CounterVec
	PermissionChecksTotal *prometheus.CounterVec
	APIKeysIssuedTotal    prometheus.Counter
	APIKeysRevokedTotal   prometheus.Counter
	LastUsedFlushTotal    *prometheus.CounterVec

	// Captures
	CapturesEnqueuedTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Redis metrics
	RedisCommandsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideahub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ideahub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ideahub_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ideahub_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideahub_auth_attempts_total",
				Help: "Authentication attempts by method and result",
			},
			[]string{"method", "result"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideahub_permission_checks_total",
				Help: "Workspace permission decisions by permission and result",
			},
			[]string{"permission", "result"},
		),
		APIKeysIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ideahub_api_keys_issued_total",
				Help: "Total number of API keys issued",
			},
		),
		APIKeysRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ideahub_api_keys_revoked_total",
				Help: "Total number of API keys revoked",
			},
		),
		LastUsedFlushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideahub_last_used_flush_total",
				Help: "Last-used timestamp writes by result",
			},
			[]string{"result"},
		),

		CapturesEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideahub_captures_enqueued_total",
				Help: "Capture tasks submitted by result",
			},
			[]string{"result"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideahub_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideahub_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ideahub_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ideahub_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ideahub_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ideahub_redis_commands_total",
				Help: "Total number of Redis commands",
			},
			[]string{"command", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.AuthAttemptsTotal,
		m.PermissionChecksTotal,
		m.APIKeysIssuedTotal,
		m.APIKeysRevokedTotal,
		m.LastUsedFlushTotal,
		m.CapturesEnqueuedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.RedisCommandsTotal,
	)

	return m
}

// RecordAuthAttempt counts an authentication attempt. method is "api_key" or "session".
func (m *Metrics) RecordAuthAttempt(method, result string) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(method, result).Inc()
}

// RecordPermissionCheck counts a guard decision
func (m *Metrics) RecordPermissionCheck(permission, result string) {
	if m == nil {
		return
	}
	m.PermissionChecksTotal.WithLabelValues(permission, result).Inc()
}

func (m *Metrics) RecordKeyIssued() {
	if m == nil {
		return
	}
	m.APIKeysIssuedTotal.Inc()
}

func (m *Metrics) RecordKeyRevoked() {
	if m == nil {
		return
	}
	m.APIKeysRevokedTotal.Inc()
}

// RecordLastUsedFlush counts last-used writes, n ids at a time
func (m *Metrics) RecordLastUsedFlush(result string, n int) {
	if m == nil {
		return
	}
	m.LastUsedFlushTotal.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) RecordCaptureEnqueued(result string) {
	if m == nil {
		return
	}
	m.CapturesEnqueuedTotal.WithLabelValues(result).Inc()
}

// RecordCacheLookup counts a hit or miss for a named cache
func (m *Metrics) RecordCacheLookup(cacheType string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// RecordRedisCommand counts a Redis command issued by the rate limiter
func (m *Metrics) RecordRedisCommand(command string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RedisCommandsTotal.WithLabelValues(command, status).Inc()
}

// UpdateDBStats copies pool statistics into the database gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the mux route template so ids in paths don't explode cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routeLabel(r)
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
			}
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
