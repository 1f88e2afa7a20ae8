package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for pipeline evaluation.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Term metrics
	termsComputed *prometheus.CounterVec
	termDuration  *prometheus.HistogramVec

	// Loader metrics
	loaderCalls    *prometheus.CounterVec
	loaderDuration *prometheus.HistogramVec
	loaderErrors   *prometheus.CounterVec

	// Cache metrics
	cacheReleases prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
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

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of pipeline runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of pipeline runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		termsComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terms_computed_total",
				Help:      "Total number of graph nodes computed",
			},
			[]string{"kind"},
		),
		termDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "term_duration_seconds",
				Help:      "Duration of graph node computation in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		loaderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loader_calls_total",
				Help:      "Total number of loader requests",
			},
			[]string{"column"},
		),
		loaderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "loader_call_duration_seconds",
				Help:      "Duration of loader requests in seconds",
				Buckets:   buckets,
			},
			[]string{"column"},
		),
		loaderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loader_errors_total",
				Help:      "Total number of failed loader requests",
			},
			[]string{"column"},
		),

		cacheReleases: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_releases_total",
				Help:      "Total number of intermediate frames released early",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active pipeline runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.termsComputed,
		m.termDuration,
		m.loaderCalls,
		m.loaderDuration,
		m.loaderErrors,
		m.cacheReleases,
		m.errorsByClass,
		m.errorsByCode,
		m.activeRuns,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted() {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Term Metrics

// RecordTermComputed records the computation of one graph node.
func (m *Metrics) RecordTermComputed(kind string, duration time.Duration) {
	if m.termsComputed == nil {
		return
	}
	m.termsComputed.WithLabelValues(kind).Inc()
	m.termDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Loader Metrics

// RecordLoaderCall records a loader request with its duration.
func (m *Metrics) RecordLoaderCall(column string, duration time.Duration) {
	if m.loaderCalls == nil {
		return
	}
	m.loaderCalls.WithLabelValues(column).Inc()
	m.loaderDuration.WithLabelValues(column).Observe(duration.Seconds())
}

// RecordLoaderError records a failed loader request.
func (m *Metrics) RecordLoaderError(column string) {
	if m.loaderErrors == nil {
		return
	}
	m.loaderErrors.WithLabelValues(column).Inc()
}

// Cache Metrics

// RecordCacheRelease records the early release of an intermediate frame.
func (m *Metrics) RecordCacheRelease() {
	if m.cacheReleases == nil {
		return
	}
	m.cacheReleases.Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// System Metrics

// IncActiveRuns increments the active-run gauge.
func (m *Metrics) IncActiveRuns() {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Inc()
}

// DecActiveRuns decrements the active-run gauge.
func (m *Metrics) DecActiveRuns() {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Dec()
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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
