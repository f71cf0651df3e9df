// Package metric provides Prometheus metrics for the P2000 monitor: a core
// set of pipeline metrics, a registry that owns the Prometheus registry, and
// an HTTP server exposing /metrics.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Component status values reported on the component status gauge.
const (
	StatusStopped = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusFailed
)

// Metrics contains platform-level metrics shared across the pipeline.
// Component-specific metrics (hub queue drops, gateway clients, ...) are
// created by the components themselves against the same registry.
type Metrics struct {
	ComponentStatus    *prometheus.GaugeVec
	LinesReceived      prometheus.Counter
	ParseErrors        *prometheus.CounterVec
	AlertsProcessed    *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "p2000",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		LinesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "p2000",
				Subsystem: "ingest",
				Name:      "lines_received_total",
				Help:      "Total decoder lines received",
			},
		),

		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "p2000",
				Subsystem: "ingest",
				Name:      "parse_errors_total",
				Help:      "Total decoder lines dropped due to parse failures",
			},
			[]string{"reason"},
		),

		AlertsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "p2000",
				Subsystem: "alerts",
				Name:      "processed_total",
				Help:      "Total alerts processed by stage",
			},
			[]string{"stage", "status"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "p2000",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Per-line processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "p2000",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "p2000",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "p2000",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "p2000",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordComponentStatus updates the component status metric
func (c *Metrics) RecordComponentStatus(component string, status int) {
	c.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordLineReceived increments the received line counter
func (c *Metrics) RecordLineReceived() {
	c.LinesReceived.Inc()
}

// RecordParseError increments the parse error counter for a reason
func (c *Metrics) RecordParseError(reason string) {
	c.ParseErrors.WithLabelValues(reason).Inc()
}

// RecordAlertProcessed increments the per-stage alert counter
func (c *Metrics) RecordAlertProcessed(stage, status string) {
	c.AlertsProcessed.WithLabelValues(stage, status).Inc()
}

// RecordProcessingDuration records processing time for an operation
func (c *Metrics) RecordProcessingDuration(component, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(component, operation).Observe(duration.Seconds())
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
