package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Capstan.
type Metrics struct {
	config MetricsConfig

	// Resolution metrics
	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Probe metrics
	probeAttempts *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	// Installation metrics
	installsTotal   *prometheus.CounterVec
	installDuration *prometheus.HistogramVec

	// Remote command metrics
	remoteCommands       *prometheus.CounterVec
	remoteCommandDuration *prometheus.HistogramVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	activeTargets       prometheus.Gauge
	inflightResolutions prometheus.Gauge

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

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Resolution metrics
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of capability resolutions by outcome",
			},
			[]string{"capability", "outcome"},
		),
		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Duration of capability resolution in seconds",
				Buckets:   buckets,
			},
			[]string{"capability", "outcome"},
		),

		// Cache metrics
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of resolution cache hits",
			},
			[]string{"capability"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of resolution cache misses",
			},
			[]string{"capability"},
		),

		// Probe metrics
		probeAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_attempts_total",
				Help:      "Total number of probe candidate executions",
			},
			[]string{"capability", "outcome"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Duration of probe chains in seconds",
				Buckets:   buckets,
			},
			[]string{"capability"},
		),

		// Installation metrics
		installsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_total",
				Help:      "Total number of installation attempts by strategy",
			},
			[]string{"capability", "strategy", "outcome"},
		),
		installDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "install_duration_seconds",
				Help:      "Duration of installation attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"capability", "strategy"},
		),

		// Remote command metrics
		remoteCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_commands_total",
				Help:      "Total number of remote command executions",
			},
			[]string{"target", "status"},
		),
		remoteCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_command_duration_seconds",
				Help:      "Duration of remote command executions in seconds",
				Buckets:   buckets,
			},
			[]string{"target"},
		),

		// Error metrics
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of engine errors by kind",
			},
			[]string{"kind"},
		),

		// System metrics
		activeTargets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_targets",
				Help:      "Current number of connected targets",
			},
		),
		inflightResolutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_resolutions",
				Help:      "Current number of resolutions in progress",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.resolutionsTotal,
		m.resolutionDuration,
		m.cacheHits,
		m.cacheMisses,
		m.probeAttempts,
		m.probeDuration,
		m.installsTotal,
		m.installDuration,
		m.remoteCommands,
		m.remoteCommandDuration,
		m.errorsByKind,
		m.activeTargets,
		m.inflightResolutions,
	)

	return m, nil
}

// Resolution Metrics

// RecordResolutionStarted increments the in-flight resolution gauge.
func (m *Metrics) RecordResolutionStarted() {
	if m.inflightResolutions == nil {
		return
	}
	m.inflightResolutions.Inc()
}

// RecordResolutionCompleted records a finished resolution with its outcome and duration.
func (m *Metrics) RecordResolutionCompleted(capability, outcome string, duration time.Duration) {
	if m.resolutionsTotal == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(capability, outcome).Inc()
	m.resolutionDuration.WithLabelValues(capability, outcome).Observe(duration.Seconds())
	m.inflightResolutions.Dec()
}

// Cache Metrics

// RecordCacheHit records a resolution cache hit.
func (m *Metrics) RecordCacheHit(capability string) {
	if m.cacheHits == nil {
		return
	}
	m.cacheHits.WithLabelValues(capability).Inc()
}

// RecordCacheMiss records a resolution cache miss.
func (m *Metrics) RecordCacheMiss(capability string) {
	if m.cacheMisses == nil {
		return
	}
	m.cacheMisses.WithLabelValues(capability).Inc()
}

// Probe Metrics

// RecordProbeAttempt records a single probe candidate execution.
func (m *Metrics) RecordProbeAttempt(capability, outcome string) {
	if m.probeAttempts == nil {
		return
	}
	m.probeAttempts.WithLabelValues(capability, outcome).Inc()
}

// RecordProbeDuration records the duration of a full probe chain.
func (m *Metrics) RecordProbeDuration(capability string, duration time.Duration) {
	if m.probeDuration == nil {
		return
	}
	m.probeDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// Installation Metrics

// RecordInstall records an installation attempt with its strategy and outcome.
func (m *Metrics) RecordInstall(capability, strategy, outcome string, duration time.Duration) {
	if m.installsTotal == nil {
		return
	}
	m.installsTotal.WithLabelValues(capability, strategy, outcome).Inc()
	m.installDuration.WithLabelValues(capability, strategy).Observe(duration.Seconds())
}

// Remote Command Metrics

// RecordRemoteCommand records a remote command execution.
func (m *Metrics) RecordRemoteCommand(target, status string, duration time.Duration) {
	if m.remoteCommands == nil {
		return
	}
	m.remoteCommands.WithLabelValues(target, status).Inc()
	m.remoteCommandDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an engine error by kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// System Metrics

// SetActiveTargets sets the current number of connected targets.
func (m *Metrics) SetActiveTargets(count float64) {
	if m.activeTargets == nil {
		return
	}
	m.activeTargets.Set(count)
}

// TargetConnected increments the active target gauge.
func (m *Metrics) TargetConnected() {
	if m.activeTargets == nil {
		return
	}
	m.activeTargets.Inc()
}

// TargetDisconnected decrements the active target gauge.
func (m *Metrics) TargetDisconnected() {
	if m.activeTargets == nil {
		return
	}
	m.activeTargets.Dec()
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
