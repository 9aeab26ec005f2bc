package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the record store.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Backend mode metrics
	backendMode *prometheus.GaugeVec
	demotions   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// CSV interchange metrics
	csvRows *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
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

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of record store operations",
			},
			[]string{"operation", "backend", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Duration of record store operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "backend"},
		),

		backendMode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_backend_mode",
				Help:      "Active backend mode (1 for the current mode, 0 otherwise)",
			},
			[]string{"mode"},
		),
		demotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_demotions_total",
				Help:      "Total number of remote to local demotions",
			},
			[]string{"backend"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		csvRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "csv_rows_total",
				Help:      "Total number of CSV rows processed by result",
			},
			[]string{"collection", "result"},
		),
	}

	registry.MustRegister(
		m.operations,
		m.operationDuration,
		m.backendMode,
		m.demotions,
		m.errorsByClass,
		m.csvRows,
	)

	return m, nil
}

// RecordOperation records one store operation with its outcome and duration.
func (m *Metrics) RecordOperation(operation, backend, outcome string, duration time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(operation, backend, outcome).Inc()
	m.operationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// SetMode marks mode as the active backend mode.
func (m *Metrics) SetMode(mode string) {
	if m == nil || m.backendMode == nil {
		return
	}
	for _, known := range []string{"uninitialized", "remote", "local"} {
		value := 0.0
		if known == mode {
			value = 1.0
		}
		m.backendMode.WithLabelValues(known).Set(value)
	}
}

// RecordDemotion counts a demotion away from the named backend.
func (m *Metrics) RecordDemotion(backend string) {
	if m == nil || m.demotions == nil {
		return
	}
	m.demotions.WithLabelValues(backend).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// RecordCSVRows adds n rows for a collection under result
// (imported, invalid, duplicate, failed, exported).
func (m *Metrics) RecordCSVRows(collection, result string, n int) {
	if m == nil || m.csvRows == nil || n == 0 {
		return
	}
	m.csvRows.WithLabelValues(collection, result).Add(float64(n))
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// StartMetricsServer starts an HTTP server to expose metrics. The returned
// server is nil when metrics are disabled.
func (m *Metrics) StartMetricsServer(logger *Logger) (*http.Server, error) {
	if m == nil || !m.config.Enabled {
		return nil, nil
	}
	if m.config.ListenAddress == "" {
		return nil, errors.New("metrics listen address is required")
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	return server, nil
}
