// Package telemetry owns the Prometheus registry and the OpenTelemetry
// tracer provider shared by the API, the MCP server and recompute.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RecomputeRuns     *prometheus.CounterVec
	RecomputeDuration prometheus.Histogram
	FindingsGenerated *prometheus.CounterVec
	FindingActions    *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RecomputeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesslens",
			Name:      "recompute_runs_total",
			Help:      "Recompute runs by outcome (ok, locked, error).",
		}, []string{"outcome"}),
		RecomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "accesslens",
			Name:      "recompute_duration_seconds",
			Help:      "Wall time of successful recompute runs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		FindingsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesslens",
			Name:      "findings_generated_total",
			Help:      "Findings inserted by recompute, by type and severity.",
		}, []string{"finding_type", "severity"}),
		FindingActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesslens",
			Name:      "finding_actions_total",
			Help:      "Finding actions by result code (ok or the rejection kind).",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accesslens",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "accesslens",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RecomputeRuns, m.RecomputeDuration, m.FindingsGenerated,
		m.FindingActions, m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one request.
func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
