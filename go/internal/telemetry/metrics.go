package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector defines the interface for collecting engine metrics
type MetricsCollector interface {
	RecordChangeApplied(table, op string)
	RecordChangeDropped(table, reason string)
	RecordRemoteWrite(kind string, success bool, duration time.Duration)
	RecordCaptureAttempt(outcome string)
	RecordOverlay(kind string, accepted bool)
	RecordSafeZoneRadius(radius float64)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordChangeApplied(table, op string)                           {}
func (NoOpMetricsCollector) RecordChangeDropped(table, reason string)                       {}
func (NoOpMetricsCollector) RecordRemoteWrite(kind string, success bool, d time.Duration) {}
func (NoOpMetricsCollector) RecordCaptureAttempt(outcome string)                            {}
func (NoOpMetricsCollector) RecordOverlay(kind string, accepted bool)                       {}
func (NoOpMetricsCollector) RecordSafeZoneRadius(radius float64)                            {}

// OrNoOp returns m, or a no-op collector when m is nil.
func OrNoOp(m MetricsCollector) MetricsCollector {
	if m == nil {
		return NoOpMetricsCollector{}
	}
	return m
}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	changesApplied *prometheus.CounterVec
	changesDropped *prometheus.CounterVec
	remoteWrites   *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec
	captures       *prometheus.CounterVec
	overlays       *prometheus.CounterVec
	safeZoneRadius prometheus.Gauge
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		changesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_applied_total",
			Help:      "Realtime change records applied to local state",
		}, []string{"table", "op"}),
		changesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_dropped_total",
			Help:      "Realtime change records dropped before reaching local state",
		}, []string{"table", "reason"}),
		remoteWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_writes_total",
			Help:      "Remote write calls by kind and status",
		}, []string{"kind", "status"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_write_seconds",
			Help:      "Remote write latency",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"kind"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_attempts_total",
			Help:      "Capture attempts by outcome",
		}, []string{"outcome"}),
		overlays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlay_requests_total",
			Help:      "Overlay requests by kind and whether they were shown",
		}, []string{"kind", "accepted"}),
		safeZoneRadius: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "safe_zone_radius_meters",
			Help:      "Current safe zone radius",
		}),
	}

	reg.MustRegister(
		m.changesApplied,
		m.changesDropped,
		m.remoteWrites,
		m.remoteLatency,
		m.captures,
		m.overlays,
		m.safeZoneRadius,
	)
	return m
}

func (m *PrometheusMetrics) RecordChangeApplied(table, op string) {
	m.changesApplied.WithLabelValues(table, op).Inc()
}

func (m *PrometheusMetrics) RecordChangeDropped(table, reason string) {
	m.changesDropped.WithLabelValues(table, reason).Inc()
}

func (m *PrometheusMetrics) RecordRemoteWrite(kind string, success bool, duration time.Duration) {
	m.remoteWrites.WithLabelValues(kind, statusLabel(success)).Inc()
	m.remoteLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordCaptureAttempt(outcome string) {
	m.captures.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordOverlay(kind string, accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	m.overlays.WithLabelValues(kind, label).Inc()
}

func (m *PrometheusMetrics) RecordSafeZoneRadius(radius float64) {
	m.safeZoneRadius.Set(radius)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
