package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for infravista.
type Metrics struct {
	config MetricsConfig

	// Twirp RPC metrics
	rpcAttempts *prometheus.CounterVec
	rpcRetries  *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	// Plan attempt metrics
	planAttempts *prometheus.CounterVec
	planDuration *prometheus.HistogramVec

	// Artifact metrics
	artifactsPublished *prometheus.CounterVec
	artifactBytes      prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		rpcAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "twirp_attempts_total",
				Help:      "Total number of Twirp RPC attempts",
			},
			[]string{"method", "outcome"},
		),
		rpcRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "twirp_retries_total",
				Help:      "Total number of Twirp RPC retries",
			},
			[]string{"method"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "twirp_call_duration_seconds",
				Help:      "Duration of Twirp RPC calls including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		planAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_attempts_total",
				Help:      "Total number of plan attempts executed",
			},
			[]string{"outcome"},
		),
		planDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_attempt_duration_seconds",
				Help:      "Duration of a single plan attempt",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),

		artifactsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_published_total",
				Help:      "Total number of artifacts published",
			},
			[]string{"status"},
		),
		artifactBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_bytes_total",
				Help:      "Total artifact bytes uploaded to blob storage",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors by classification",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.rpcAttempts,
		m.rpcRetries,
		m.rpcDuration,
		m.planAttempts,
		m.planDuration,
		m.artifactsPublished,
		m.artifactBytes,
		m.errorsByClass,
	)

	return m, nil
}

// Registry returns the underlying Prometheus registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRPCAttempt records a single transport-level RPC try.
func (m *Metrics) RecordRPCAttempt(method, outcome string) {
	if m.rpcAttempts == nil {
		return
	}
	m.rpcAttempts.WithLabelValues(method, outcome).Inc()
}

// RecordRPCRetry records a retry sleep for a method.
func (m *Metrics) RecordRPCRetry(method string) {
	if m.rpcRetries == nil {
		return
	}
	m.rpcRetries.WithLabelValues(method).Inc()
}

// RecordRPCDuration records the total duration of a logical RPC call.
func (m *Metrics) RecordRPCDuration(method string, d time.Duration) {
	if m.rpcDuration == nil {
		return
	}
	m.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordPlanAttempt records a plan attempt outcome ("success" or "failure").
func (m *Metrics) RecordPlanAttempt(outcome string, d time.Duration) {
	if m.planAttempts == nil {
		return
	}
	m.planAttempts.WithLabelValues(outcome).Inc()
	m.planDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordArtifactPublished records an artifact publish outcome.
func (m *Metrics) RecordArtifactPublished(status string, sizeBytes int64) {
	if m.artifactsPublished == nil {
		return
	}
	m.artifactsPublished.WithLabelValues(status).Inc()
	if sizeBytes > 0 {
		m.artifactBytes.Add(float64(sizeBytes))
	}
}

// RecordError records an error by classification.
func (m *Metrics) RecordError(class string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}
