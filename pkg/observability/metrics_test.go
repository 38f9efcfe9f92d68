package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordLogin("failure", "password_invalid")
	m.RecordLogin("failure", "password_invalid")
	m.RecordLockout("login")
	m.RecordToken("refresh", "issue")
	m.RecordMembershipChange("add_member")
	m.RecordRegistration("created")
	m.RecordPasswordReset("request", "sent")
	m.ObserveLockWait(time.Millisecond)

	if got := testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues("failure", "password_invalid")); got != 2 {
		t.Errorf("Expected 2 failed logins, got %v", got)
	}
	if got := testutil.ToFloat64(m.LockoutsTotal.WithLabelValues("login")); got != 1 {
		t.Errorf("Expected 1 lockout, got %v", got)
	}
	if got := testutil.ToFloat64(m.TokensTotal.WithLabelValues("refresh", "issue")); got != 1 {
		t.Errorf("Expected 1 token issue, got %v", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected registered metric families")
	}
}

func TestMetrics_RecordSweep(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSweep(time.Second, map[string]int64{"boards": 2, "refresh_tokens": 5}, nil)
	m.RecordSweep(time.Second, nil, errors.New("db down"))

	if got := testutil.ToFloat64(m.SweepRemovedTotal.WithLabelValues("boards")); got != 2 {
		t.Errorf("Expected 2 boards removed, got %v", got)
	}
	if got := testutil.ToFloat64(m.SweepErrorsTotal); got != 1 {
		t.Errorf("Expected 1 sweep error, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordLogin("success", "")
	m.RecordLockout("login")
	m.RecordRegistration("created")
	m.RecordPasswordReset("complete", "ok")
	m.RecordToken("reset", "consume")
	m.RecordMembershipChange("remove_member")
	m.ObserveLockWait(time.Second)
	m.RecordSweep(time.Second, map[string]int64{"boards": 1}, nil)
	m.RecordDBStats(sql.DBStats{})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/readyz", "418")); got != 1 {
		t.Errorf("Expected 1 request recorded, got %v", got)
	}

	passthrough := HTTPMetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec = httptest.NewRecorder()
	passthrough.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected nil metrics to pass through, got %d", rec.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordLockout("reset-email")

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `taskboard_throttle_lockouts_total{namespace="reset-email"} 1`) {
		t.Errorf("Expected lockout series in output, got:\n%s", rec.Body.String())
	}
}
