// Package metrics exposes Prometheus counters for account workflows.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "comminq"

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeLimited = "limited"
)

// Metrics owns a private registry so tests and multiple instances never collide.
type Metrics struct {
	reg *prometheus.Registry

	operations    *prometheus.CounterVec
	hashSeconds   *prometheus.HistogramVec
	notifyDropped prometheus.Counter
	limiterErrors prometheus.Counter
}

// New registers every collector. withRuntime adds Go and process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_operations_total",
			Help:      "Account workflow operations by outcome.",
		}, []string{"operation", "outcome"}),
		hashSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "password_hash_seconds",
			Help:      "Time spent in bcrypt hash and verify.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"op"}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications discarded because the queue was full or closed.",
		}),
		limiterErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_backend_errors_total",
			Help:      "Rate limiter backend failures (requests were allowed).",
		}),
	}

	m.reg.MustRegister(m.operations, m.hashSeconds, m.notifyDropped, m.limiterErrors)
	if withRuntime {
		m.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Operation counts one workflow call.
func (m *Metrics) Operation(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// ObserveHash matches password.Observer.
func (m *Metrics) ObserveHash(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.hashSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// NotificationDropped matches the notify drop hook.
func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notifyDropped.Inc()
}

// LimiterError counts a fail-open limiter call.
func (m *Metrics) LimiterError() {
	if m == nil {
		return
	}
	m.limiterErrors.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Operations is the account_operations_total vector, exposed for tests.
func (m *Metrics) Operations() *prometheus.CounterVec { return m.operations }
