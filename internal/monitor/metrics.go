package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the simulation service.
type Metrics struct {
	Registry *prometheus.Registry

	SimulationsTotal        *prometheus.CounterVec
	PipelineDuration        prometheus.Histogram
	StageDuration           *prometheus.HistogramVec
	EngineErrors            *prometheus.CounterVec
	ActivePipelines         prometheus.Gauge
	PoolWaiting             prometheus.Gauge
	RequestsInFlight        prometheus.Gauge
	RateLimited             *prometheus.CounterVec
	ArtifactCleanupFailures prometheus.Counter
	SeriesPoints            prometheus.Histogram
	AuditDropped            prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		SimulationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "simulator",
				Name:      "simulations_total",
				Help:      "Total number of simulation requests by outcome.",
			},
			[]string{"status"},
		),

		PipelineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "simulator",
				Name:      "pipeline_duration_seconds",
				Help:      "Wall-clock duration of complete simulation pipelines.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "simulator",
				Name:      "stage_duration_seconds",
				Help:      "Duration of individual pipeline stages.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		EngineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "simulator",
				Name:      "engine_errors_total",
				Help:      "Total engine failures by engine and error type.",
			},
			[]string{"engine", "type"},
		),

		ActivePipelines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "simulator",
				Name:      "active_pipelines",
				Help:      "Number of simulation pipelines currently running.",
			},
		),

		PoolWaiting: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "simulator",
				Subsystem: "pool",
				Name:      "waiting",
				Help:      "Number of engine invocations waiting for a worker.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "simulator",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "simulator",
				Subsystem: "api",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by admission control, by limit scope.",
			},
			[]string{"scope"},
		),

		ArtifactCleanupFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "simulator",
				Name:      "artifact_cleanup_failures_total",
				Help:      "Working areas that could not be removed after a run.",
			},
		),

		SeriesPoints: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "simulator",
				Name:      "series_points",
				Help:      "Number of points in returned simulation series.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "simulator",
				Subsystem: "audit",
				Name:      "dropped_total",
				Help:      "Run records dropped because the audit buffer was full.",
			},
		),
	}

	reg.MustRegister(
		m.SimulationsTotal,
		m.PipelineDuration,
		m.StageDuration,
		m.EngineErrors,
		m.ActivePipelines,
		m.PoolWaiting,
		m.RequestsInFlight,
		m.RateLimited,
		m.ArtifactCleanupFailures,
		m.SeriesPoints,
		m.AuditDropped,
	)

	return m
}

// RecordSimulation records metrics for a finished pipeline.
func (m *Metrics) RecordSimulation(status string, durationSec float64) {
	if m == nil {
		return
	}
	m.SimulationsTotal.WithLabelValues(status).Inc()
	m.PipelineDuration.Observe(durationSec)
}

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(stage string, durationSec float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSec)
}

// RecordEngineError records an engine failure by type.
func (m *Metrics) RecordEngineError(engine, errType string) {
	if m == nil {
		return
	}
	m.EngineErrors.WithLabelValues(engine, errType).Inc()
}

// RecordRateLimited records an admission-control rejection.
func (m *Metrics) RecordRateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}

// RecordCleanupFailure records a working area that survived release.
func (m *Metrics) RecordCleanupFailure() {
	if m == nil {
		return
	}
	m.ArtifactCleanupFailures.Inc()
}

// RecordAuditDropped records a run record lost to a full audit buffer.
func (m *Metrics) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}
