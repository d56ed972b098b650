// Package metrics exposes Prometheus collectors for HTTP traffic and
// dispatch outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

const namespace = "tutor"

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	attempts         *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Dispatch results by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "End-to-end dispatch latency in seconds.",
				Buckets:   []float64{.005, .05, .25, 1, 2.5, 5, 10, 30, 60, 90},
			},
			[]string{"mode"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "target_attempts_total",
				Help:      "Network attempts per target and result kind.",
			},
			[]string{"target", "mode", "result"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "target_attempt_duration_seconds",
				Help:      "Per-target call latency in seconds.",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 90},
			},
			[]string{"target", "mode"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.dispatches,
		m.dispatchDuration,
		m.attempts,
		m.attemptDuration,
	)
	return m
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) ObserveAttempt(target string, mode models.Mode, kind models.FailureKind, latency time.Duration) {
	result := string(kind)
	if result == "" {
		result = "success"
	}
	m.attempts.WithLabelValues(target, string(mode), result).Inc()
	m.attemptDuration.WithLabelValues(target, string(mode)).Observe(latency.Seconds())
}

func (m *Metrics) ObserveDispatch(mode models.Mode, outcome string, latency time.Duration) {
	m.dispatches.WithLabelValues(string(mode), outcome).Inc()
	m.dispatchDuration.WithLabelValues(string(mode)).Observe(latency.Seconds())
}

// RegisterGauge exposes a value sampled at scrape time, such as the number
// of live sessions.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		fn,
	))
}

// RegisterCounter exposes a monotonic value kept elsewhere, such as a cache
// backend's hit counter.
func (m *Metrics) RegisterCounter(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		fn,
	))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
