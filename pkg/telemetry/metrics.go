package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the update engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	config MetricsConfig

	// Update metrics
	updatesStarted   *prometheus.CounterVec
	updatesCompleted *prometheus.CounterVec
	updateDuration   *prometheus.HistogramVec

	// Operation metrics
	operationsExecuted *prometheus.CounterVec
	operationsSkipped  *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	activeUpdates prometheus.Gauge
	queueDepth    prometheus.Gauge
	chutes        *prometheus.GaugeVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		updatesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_started_total",
				Help:      "Total number of updates started",
			},
			[]string{"type"},
		),
		updatesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_completed_total",
				Help:      "Total number of updates finished, by final state",
			},
			[]string{"type", "state"},
		),
		updateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "update_duration_seconds",
				Help:      "Duration of update processing in seconds",
				Buckets:   buckets,
			},
			[]string{"type", "state"},
		),

		operationsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_executed_total",
				Help:      "Total number of plan operations run",
			},
			[]string{"operation", "phase", "status"},
		),
		operationsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_skipped_total",
				Help:      "Total number of skip requests raised by operations",
			},
			[]string{"operation"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of plan operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "phase"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		activeUpdates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_updates",
				Help:      "Number of updates currently being processed",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "update_queue_depth",
				Help:      "Number of updates waiting to be processed",
			},
		),
		chutes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "chutes",
				Help:      "Number of installed chutes by state",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		m.updatesStarted,
		m.updatesCompleted,
		m.updateDuration,
		m.operationsExecuted,
		m.operationsSkipped,
		m.operationDuration,
		m.errorsByClass,
		m.activeUpdates,
		m.queueDepth,
		m.chutes,
	)

	return m, nil
}

// RecordUpdateStarted increments the counter for started updates.
func (m *Metrics) RecordUpdateStarted(updateType string) {
	if m == nil || m.updatesStarted == nil {
		return
	}
	m.updatesStarted.WithLabelValues(updateType).Inc()
	m.activeUpdates.Inc()
}

// RecordUpdateCompleted records a finished update with its final state and duration.
func (m *Metrics) RecordUpdateCompleted(updateType, state string, duration time.Duration) {
	if m == nil || m.updatesCompleted == nil {
		return
	}
	m.updatesCompleted.WithLabelValues(updateType, state).Inc()
	m.updateDuration.WithLabelValues(updateType, state).Observe(duration.Seconds())
	m.activeUpdates.Dec()
}

// RecordOperation records one operation invocation.
func (m *Metrics) RecordOperation(operation, phase, status string, duration time.Duration) {
	if m == nil || m.operationsExecuted == nil {
		return
	}
	m.operationsExecuted.WithLabelValues(operation, phase, status).Inc()
	m.operationDuration.WithLabelValues(operation, phase).Observe(duration.Seconds())
}

// RecordSkip records a skip request naming operation.
func (m *Metrics) RecordSkip(operation string) {
	if m == nil || m.operationsSkipped == nil {
		return
	}
	m.operationsSkipped.WithLabelValues(operation).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// SetQueueDepth sets the number of updates waiting to be processed.
func (m *Metrics) SetQueueDepth(count float64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(count)
}

// SetChuteCount sets the number of installed chutes in a state.
func (m *Metrics) SetChuteCount(state string, count float64) {
	if m == nil || m.chutes == nil {
		return
	}
	m.chutes.WithLabelValues(state).Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. Serve errors are
// passed to onError.
func (m *Metrics) StartMetricsServer(onError func(error)) error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()

	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
