package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	observations *prometheus.CounterVec
	analyses     *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	drawsTotal   prometheus.Counter
	latency      *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		observations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratingflow_observations_total",
				Help: "Total number of rating observations sent to backend",
			},
			[]string{"backend", "cohort"},
		),
		analyses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratingflow_analyses_total",
				Help: "Total number of stability analyses served",
			},
			[]string{"kind"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratingflow_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		drawsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ratingflow_bootstrap_draws_total",
				Help: "Total number of bootstrap draws executed",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratingflow_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordObservation records an observation forwarded to a backend.
func (r *Recorder) RecordObservation(backend, cohort string) {
	r.observations.WithLabelValues(backend, cohort).Inc()
}

// RecordAnalysis records a completed analysis by kind.
func (r *Recorder) RecordAnalysis(kind string) {
	r.analyses.WithLabelValues(kind).Inc()
}

// RecordDraws adds completed bootstrap draws to the running total.
func (r *Recorder) RecordDraws(n int) {
	r.drawsTotal.Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
