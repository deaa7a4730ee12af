// Package metrics exposes Prometheus instruments for the meeting pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meetbot"

// Metrics holds all pipeline instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal         *prometheus.CounterVec
	JobsInFlight      prometheus.Gauge
	StageDuration     *prometheus.HistogramVec
	StageFailures     *prometheus.CounterVec
	JoinSteps         *prometheus.CounterVec
	ReportingFailures *prometheus.CounterVec
	RecordingSeconds  prometheus.Histogram
	QueueDepth        prometheus.Gauge
}

// New creates the instruments on a dedicated registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := NewWithRegisterer(reg)
	m.registry = reg
	return m
}

// NewWithRegisterer creates the instruments on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Meeting jobs by final outcome",
		}, []string{"outcome", "platform"}),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Meeting jobs currently executing",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600},
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Fatal pipeline failures by stage",
		}, []string{"stage"}),
		JoinSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "steps_total",
			Help:      "Join step outcomes",
		}, []string{"platform", "step", "outcome"}),
		ReportingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reporting_failures_total",
			Help:      "Non-fatal reporting failures by sink",
		}, []string{"sink"}),
		RecordingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_seconds",
			Help:      "Length of captured recordings",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 8),
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs accepted but not yet started",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

func (m *Metrics) JobFinished(outcome, platform string) {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
	m.JobsTotal.WithLabelValues(outcome, platform).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) StageFailed(stage string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage).Inc()
}

// ObserveJoinStep implements join.StepObserver.
func (m *Metrics) ObserveJoinStep(platform, step, outcome string) {
	if m == nil {
		return
	}
	m.JoinSteps.WithLabelValues(platform, step, outcome).Inc()
}

func (m *Metrics) ReportingFailed(sink string) {
	if m == nil {
		return
	}
	m.ReportingFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) ObserveRecording(d time.Duration) {
	if m == nil {
		return
	}
	m.RecordingSeconds.Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
