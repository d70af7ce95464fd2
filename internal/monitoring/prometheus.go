package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autoforge/internal/learning/monitor"
)

const namespace = "autoforge"

// Metrics holds all Prometheus metrics of the pipeline
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	stageDuration    *prometheus.HistogramVec
	stageErrors      *prometheus.CounterVec
	candidateFits    *prometheus.CounterVec
	candidateSeconds *prometheus.HistogramVec
	driftRatio       *prometheus.GaugeVec
	driftAlerts      *prometheus.CounterVec
	predictionDrift  *prometheus.GaugeVec
	predictions      *prometheus.CounterVec
	throttled        prometheus.Counter
	registeredModels prometheus.Gauge
}

// NewMetrics creates the metrics on a private registry that also carries the Go runtime collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Total number of pipeline runs",
			},
			[]string{"problem_type", "status"},
		),
		pipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "End-to-end pipeline duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"problem_type"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18),
			},
			[]string{"stage"},
		),
		stageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_errors_total",
				Help:      "Total number of failed pipeline stages",
			},
			[]string{"stage"},
		),
		candidateFits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "candidate_fits_total",
				Help:      "Total number of candidate fits by outcome",
			},
			[]string{"candidate", "status"},
		),
		candidateSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "candidate_fit_seconds",
				Help:      "Candidate fit duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18),
			},
			[]string{"candidate"},
		),
		driftRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "drift_ratio",
				Help:      "Fraction of drifted features at the latest check",
			},
			[]string{"model_id", "method"},
		),
		driftAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_alerts_total",
				Help:      "Total number of drift checks that raised an alert",
			},
			[]string{"model_id"},
		),
		predictionDrift: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "prediction_drift_score",
				Help:      "Prediction drift score at the latest check",
			},
			[]string{"model_id", "method"},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictions_total",
				Help:      "Total number of predicted records",
			},
			[]string{"model_id"},
		),
		throttled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "train_requests_throttled_total",
				Help:      "Total number of train requests rejected by the rate limiter",
			},
		),
		registeredModels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_models",
				Help:      "Number of models in the registry",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pipelineRuns,
		m.pipelineDuration,
		m.stageDuration,
		m.stageErrors,
		m.candidateFits,
		m.candidateSeconds,
		m.driftRatio,
		m.driftAlerts,
		m.predictionDrift,
		m.predictions,
		m.throttled,
		m.registeredModels,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for tests
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCandidate records one candidate fit
func (m *Metrics) ObserveCandidate(candidate string, status string, d time.Duration) {
	m.candidateFits.WithLabelValues(candidate, status).Inc()
	m.candidateSeconds.WithLabelValues(candidate).Observe(d.Seconds())
}

// ObserveStage records a finished pipeline stage
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

// ObserveRun records a finished pipeline run
func (m *Metrics) ObserveRun(problemType, status string, d time.Duration) {
	m.pipelineRuns.WithLabelValues(problemType, status).Inc()
	m.pipelineDuration.WithLabelValues(problemType).Observe(d.Seconds())
}

// ObserveDrift exports a drift report as gauges
func (m *Metrics) ObserveDrift(report *monitor.DriftReport) {
	if report == nil {
		return
	}
	m.driftRatio.WithLabelValues(report.ModelID, string(report.Method)).Set(report.DriftRatio)
	if report.Alert {
		m.driftAlerts.WithLabelValues(report.ModelID).Inc()
	}
	if report.Prediction != nil {
		m.predictionDrift.WithLabelValues(report.ModelID, report.Prediction.Method).Set(report.Prediction.Score)
	}
}

// ObservePredictions counts predicted records
func (m *Metrics) ObservePredictions(modelID string, n int) {
	m.predictions.WithLabelValues(modelID).Add(float64(n))
}

// RecordThrottled counts a rejected train request
func (m *Metrics) RecordThrottled() {
	m.throttled.Inc()
}

// SetRegisteredModels sets the registry size
func (m *Metrics) SetRegisteredModels(n int) {
	m.registeredModels.Set(float64(n))
}

// ForgetModel drops the per-model series of a deleted model
func (m *Metrics) ForgetModel(modelID string) {
	m.driftRatio.DeletePartialMatch(prometheus.Labels{"model_id": modelID})
	m.predictionDrift.DeletePartialMatch(prometheus.Labels{"model_id": modelID})
	m.driftAlerts.DeleteLabelValues(modelID)
	m.predictions.DeleteLabelValues(modelID)
}
