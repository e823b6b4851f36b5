// Package metrics holds the portal's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patient_portal"

// Token transition kinds.
const (
	TransitionSet     = "set"
	TransitionClear   = "clear"
	TransitionRestore = "restore"
)

// Current-user fetch outcomes.
const (
	FetchOK        = "ok"
	FetchFailed    = "failed"
	FetchDiscarded = "discarded"
)

// Metrics owns a registry and the collectors registered in it.
type Metrics struct {
	Registry *prometheus.Registry

	httpInFlight     prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	apiCalls         *prometheus.CounterVec
	apiDuration      *prometheus.HistogramVec
	tokenTransitions *prometheus.CounterVec
	userFetches      *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

// New creates a Metrics with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"service", "method", "path"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "calls_total",
			Help:      "Calls made to the patient API.",
		}, []string{"endpoint", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "call_duration_seconds",
			Help:      "Duration of patient API calls.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"endpoint"}),
		tokenTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "token_transitions_total",
			Help:      "Session token changes by kind.",
		}, []string{"kind"}),
		userFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "user_fetches_total",
			Help:      "Current-user fetch outcomes.",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Browser sessions held in memory.",
		}),
	}

	m.Registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.apiCalls,
		m.apiDuration,
		m.tokenTransitions,
		m.userFetches,
		m.activeSessions,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }

func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordAPICall records one call to the patient API. Its signature matches api.Observer.
func (m *Metrics) RecordAPICall(endpoint, status string, duration time.Duration) {
	m.apiCalls.WithLabelValues(endpoint, status).Inc()
	m.apiDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordTokenTransition counts a token change of the given kind.
func (m *Metrics) RecordTokenTransition(kind string) {
	m.tokenTransitions.WithLabelValues(kind).Inc()
}

// RecordUserFetch counts a current-user fetch outcome.
func (m *Metrics) RecordUserFetch(result string) {
	m.userFetches.WithLabelValues(result).Inc()
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}
