package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics (admin surface)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginAttemptsTotal *prometheus.CounterVec
	LockoutsTotal      *prometheus.CounterVec
	RegistrationsTotal *prometheus.CounterVec
	PasswordResetTotal *prometheus.CounterVec

	// Credential metrics
	TokensTotal *prometheus.CounterVec

	// Membership metrics
	MembershipChangesTotal *prometheus.CounterVec
	LockWaitDuration       prometheus.Histogram

	// Sweeper metrics
	SweepRemovedTotal *prometheus.CounterVec
	SweepDuration     prometheus.Histogram
	SweepErrorsTotal  prometheus.Counter

	// Database metrics
	DBConnectionsOpen prometheus.Gauge
	DBConnectionsIdle prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_http_requests_total",
				Help: "Total number of HTTP requests served by the admin listener",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskboard_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_login_attempts_total",
				Help: "Login attempts by outcome and failure reason",
			},
			[]string{"outcome", "reason"},
		),
		LockoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_throttle_lockouts_total",
				Help: "Number of times a throttle key entered lockout",
			},
			[]string{"namespace"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_registrations_total",
				Help: "Registration attempts by result",
			},
			[]string{"result"},
		),
		PasswordResetTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_password_reset_total",
				Help: "Password reset flow steps by result",
			},
			[]string{"step", "result"},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_tokens_total",
				Help: "Credential token operations by kind and operation",
			},
			[]string{"kind", "operation"},
		),
		MembershipChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_membership_changes_total",
				Help: "Applied membership mutations by operation",
			},
			[]string{"operation"},
		),
		LockWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskboard_membership_lock_wait_seconds",
				Help:    "Time spent waiting for a per-user membership lock",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		SweepRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_sweep_removed_total",
				Help: "Rows removed by the background sweeper",
			},
			[]string{"kind"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskboard_sweep_duration_seconds",
				Help:    "Duration of a sweeper run",
				Buckets: prometheus.DefBuckets,
			},
		),
		SweepErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskboard_sweep_errors_total",
				Help: "Sweeper runs that returned an error",
			},
		),
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskboard_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskboard_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.LockoutsTotal,
		m.RegistrationsTotal,
		m.PasswordResetTotal,
		m.TokensTotal,
		m.MembershipChangesTotal,
		m.LockWaitDuration,
		m.SweepRemovedTotal,
		m.SweepDuration,
		m.SweepErrorsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordLogin counts a login attempt. reason is empty for successes and lockouts.
func (m *Metrics) RecordLogin(outcome, reason string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordLockout counts a throttle key crossing its threshold.
func (m *Metrics) RecordLockout(namespace string) {
	if m == nil {
		return
	}
	m.LockoutsTotal.WithLabelValues(namespace).Inc()
}

// RecordRegistration counts a registration attempt.
func (m *Metrics) RecordRegistration(result string) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(result).Inc()
}

// RecordPasswordReset counts a step of the reset flow ("request" or "complete").
func (m *Metrics) RecordPasswordReset(step, result string) {
	if m == nil {
		return
	}
	m.PasswordResetTotal.WithLabelValues(step, result).Inc()
}

// RecordToken counts a token operation such as ("refresh", "issue").
func (m *Metrics) RecordToken(kind, operation string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(kind, operation).Inc()
}

// RecordMembershipChange counts an applied membership mutation.
func (m *Metrics) RecordMembershipChange(operation string) {
	if m == nil {
		return
	}
	m.MembershipChangesTotal.WithLabelValues(operation).Inc()
}

// ObserveLockWait records how long a caller waited on a membership lock.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWaitDuration.Observe(d.Seconds())
}

// RecordSweep records the outcome of one sweeper run.
func (m *Metrics) RecordSweep(d time.Duration, removed map[string]int64, err error) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
	for kind, n := range removed {
		m.SweepRemovedTotal.WithLabelValues(kind).Add(float64(n))
	}
	if err != nil {
		m.SweepErrorsTotal.Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
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
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordDBStats copies pool stats onto the connection gauges.
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}
