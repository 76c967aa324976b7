// Package metrics records run statistics as Prometheus collectors fed from
// progress events and backend calls.
package metrics

import (
	"errors"
	"time"

	"github.com/aristath/docflow/internal/events"
	"github.com/aristath/docflow/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docflow"

// Task outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeBlocked   = "blocked"
	OutcomeAborted   = "aborted"
)

// Recorder holds the collectors for one registry. It implements events.Sink.
type Recorder struct {
	TasksTotal      *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	TasksRunning    prometheus.Gauge
	QualityScore    *prometheus.HistogramVec
	QualityAttempts *prometheus.HistogramVec
	BelowThreshold  *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	RunsTotal       *prometheus.CounterVec
	BackendCalls    *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	EventsObserved  *prometheus.CounterVec
	gatherer        prometheus.Gatherer
}

// NewRecorder registers the collectors with registry.
func NewRecorder(registry *prometheus.Registry) *Recorder {
	factory := promauto.With(registry)

	return &Recorder{
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Tasks that reached a terminal state",
			},
			[]string{"phase", "kind", "outcome"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Wall time from task start to completion",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		TasksRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_running",
				Help:      "Tasks currently running",
			},
		),
		QualityScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "quality_score",
				Help:      "Score of every quality pass",
				Buckets:   prometheus.LinearBuckets(10, 10, 10),
			},
			[]string{"kind"},
		),
		QualityAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "quality_attempts",
				Help:      "Quality loop attempts consumed per completed task",
				Buckets:   prometheus.LinearBuckets(1, 1, scheduler.MaxQualityAttempts),
			},
			[]string{"kind"},
		),
		BelowThreshold: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quality_below_threshold_total",
				Help:      "Documents accepted without reaching their quality threshold",
			},
			[]string{"kind"},
		),
		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Wall time per phase",
				Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
			},
			[]string{"phase"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished runs by final state",
			},
			[]string{"state"},
		),
		BackendCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_calls_total",
				Help:      "Model backend calls by provider and result",
			},
			[]string{"provider", "success"},
		),
		BackendLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_latency_seconds",
				Help:      "Model backend call latency",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		EventsObserved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Progress events observed by type",
			},
			[]string{"type"},
		),
		gatherer: registry,
	}
}

// Notify updates collectors from a progress event.
func (r *Recorder) Notify(e events.Event) {
	r.EventsObserved.WithLabelValues(e.EventType()).Inc()

	switch ev := e.(type) {
	case events.TaskStartedEvent:
		r.TasksRunning.Inc()

	case events.TaskScoredEvent:
		r.QualityScore.WithLabelValues(ev.Kind).Observe(ev.Score)

	case events.TaskCompletedEvent:
		r.TasksRunning.Dec()
		r.TasksTotal.WithLabelValues(ev.Phase, ev.Kind, OutcomeSucceeded).Inc()
		r.TaskDuration.WithLabelValues(ev.Kind).Observe(ev.Duration.Seconds())
		r.QualityAttempts.WithLabelValues(ev.Kind).Observe(float64(ev.Attempts))
		if !ev.Passed {
			r.BelowThreshold.WithLabelValues(ev.Kind).Inc()
		}

	case events.TaskFailedEvent:
		outcome := OutcomeFailed
		switch {
		case ev.Blocked:
			outcome = OutcomeBlocked
		case errors.Is(ev.Err, scheduler.ErrAborted):
			outcome = OutcomeAborted
		default:
			// Only started tasks were counted as running.
			r.TasksRunning.Dec()
			r.TaskDuration.WithLabelValues(ev.Kind).Observe(ev.Duration.Seconds())
		}
		r.TasksTotal.WithLabelValues(ev.Phase, ev.Kind, outcome).Inc()

	case events.PhaseCompletedEvent:
		r.PhaseDuration.WithLabelValues(ev.Phase).Observe(ev.Duration.Seconds())

	case events.RunFinishedEvent:
		r.RunsTotal.WithLabelValues(ev.State).Inc()
	}
}

// ObserveBackendCall records one call to a model backend.
func (r *Recorder) ObserveBackendCall(provider string, elapsed time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	r.BackendCalls.WithLabelValues(provider, success).Inc()
	r.BackendLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}
