package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOperation_Counts(t *testing.T) {
	t.Parallel()

	m := New(false)
	m.Operation("register", OutcomeOK)
	m.Operation("register", OutcomeOK)
	m.Operation("register", OutcomeError)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("register", OutcomeOK)); got != 2 {
		t.Fatalf("ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("register", OutcomeError)); got != 1 {
		t.Fatalf("error count = %v, want 1", got)
	}
}

func TestObserveHash_AndDrops(t *testing.T) {
	t.Parallel()

	m := New(false)
	m.ObserveHash("hash", 20*time.Millisecond)
	m.ObserveHash("verify", 20*time.Millisecond)
	m.NotificationDropped()
	m.LimiterError()

	if n := testutil.CollectAndCount(m.hashSeconds); n != 2 {
		t.Fatalf("histogram series = %d, want 2", n)
	}
	if got := testutil.ToFloat64(m.notifyDropped); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.limiterErrors); got != 1 {
		t.Fatalf("limiter errors = %v, want 1", got)
	}
}

func TestNilMetrics_IsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Operation("login", OutcomeOK)
	m.ObserveHash("hash", time.Second)
	m.NotificationDropped()
	m.LimiterError()
}

func TestHandler_Exposes(t *testing.T) {
	t.Parallel()

	m := New(true)
	m.Operation("login", OutcomeLimited)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), `comminq_account_operations_total{operation="login",outcome="limited"} 1`) {
		t.Fatalf("metric not exposed:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("runtime collectors missing")
	}
}
