// Package metrics exposes Prometheus metrics for recognition and attendance.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing,
// which keeps tests and the live client free of registration.
type Metrics struct {
	registry *prometheus.Registry

	Captures        *prometheus.CounterVec
	Faces           *prometheus.CounterVec
	WriteFailures   *prometheus.CounterVec
	CaptureDuration *prometheus.HistogramVec
	MatchDistance   prometheus.Histogram
	Overrides       *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_captures_total",
			Help: "Captures reconciled, partitioned by mode.",
		}, []string{"mode"}),
		Faces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_faces_total",
			Help: "Detected faces, partitioned by mode and outcome (recognized or unknown).",
		}, []string{"mode", "outcome"}),
		WriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_write_failures_total",
			Help: "Persistence failures tolerated during reconciliation, partitioned by operation.",
		}, []string{"op"}),
		CaptureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendance_capture_duration_seconds",
			Help:    "Time spent reconciling one capture, excluding detection.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		MatchDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_match_distance",
			Help:    "Euclidean distance of accepted matches.",
			Buckets: prometheus.LinearBuckets(0.05, 0.05, 10),
		}),
		Overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_overrides_total",
			Help: "Manual attendance overrides, partitioned by status.",
		}, []string{"status"}),
	}

	collectors := []prometheus.Collector{
		m.Captures, m.Faces, m.WriteFailures, m.CaptureDuration, m.MatchDistance, m.Overrides,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCapture records one reconciled capture.
func (m *Metrics) ObserveCapture(mode string, recognized, unknown int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Captures.WithLabelValues(mode).Inc()
	m.Faces.WithLabelValues(mode, "recognized").Add(float64(recognized))
	m.Faces.WithLabelValues(mode, "unknown").Add(float64(unknown))
	m.CaptureDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveMatch records the distance of an accepted match.
func (m *Metrics) ObserveMatch(distance float64) {
	if m == nil {
		return
	}
	m.MatchDistance.Observe(distance)
}

// IncWriteFailure counts a tolerated persistence failure.
func (m *Metrics) IncWriteFailure(op string) {
	if m == nil {
		return
	}
	m.WriteFailures.WithLabelValues(op).Inc()
}

// IncOverride counts a manual override.
func (m *Metrics) IncOverride(status string) {
	if m == nil {
		return
	}
	m.Overrides.WithLabelValues(status).Inc()
}
