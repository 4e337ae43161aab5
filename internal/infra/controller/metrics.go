package controller

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsSubsystem = "controller"

// PrometheusMetrics implements Metrics using Prometheus.
type PrometheusMetrics struct {
	reconcileTotal    *prometheus.CounterVec
	reconcileErrors   *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	itemsProcessed    *prometheus.CounterVec
	controllerRunning *prometheus.GaugeVec
	lastReconcileTime *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the controller metrics with the default
// registry. It must be called once per namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "qualitygate"
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: metricsSubsystem, Name: name, Help: help,
		}, labels)
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: metricsSubsystem, Name: name, Help: help,
		}, []string{"controller"})
	}

	return &PrometheusMetrics{
		reconcileTotal:  counter("reconcile_total", "Total number of reconciliations by controller", "controller", "result"),
		reconcileErrors: counter("reconcile_errors_total", "Total number of reconciliation errors by controller", "controller"),
		itemsProcessed:  counter("items_processed_total", "Total number of items processed by controller", "controller"),
		reconcileDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"controller"}),
		controllerRunning: gauge("running", "Whether the controller is running (1) or not (0)"),
		lastReconcileTime: gauge("last_reconcile_timestamp_seconds", "Unix timestamp of the last reconciliation"),
	}
}

// RecordReconcile records a reconciliation run.
func (m *PrometheusMetrics) RecordReconcile(controller string, itemsProcessed int, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.reconcileTotal.WithLabelValues(controller, result).Inc()
	m.reconcileDuration.WithLabelValues(controller).Observe(duration.Seconds())
	if itemsProcessed > 0 {
		m.itemsProcessed.WithLabelValues(controller).Add(float64(itemsProcessed))
	}
}

// SetControllerRunning sets whether a controller is running.
func (m *PrometheusMetrics) SetControllerRunning(controller string, running bool) {
	val := 0.0
	if running {
		val = 1.0
	}
	m.controllerRunning.WithLabelValues(controller).Set(val)
}

// IncrementReconcileErrors increments the error counter.
func (m *PrometheusMetrics) IncrementReconcileErrors(controller string) {
	m.reconcileErrors.WithLabelValues(controller).Inc()
}

// SetLastReconcileTime sets the last reconcile timestamp.
func (m *PrometheusMetrics) SetLastReconcileTime(controller string, t time.Time) {
	m.lastReconcileTime.WithLabelValues(controller).Set(float64(t.Unix()))
}

var _ Metrics = (*PrometheusMetrics)(nil)
