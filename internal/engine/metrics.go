package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the scheduler's Prometheus instruments.
type Metrics struct {
	armed          *prometheus.GaugeVec
	scheduled      *prometheus.CounterVec
	executions     *prometheus.CounterVec
	lockContention *prometheus.CounterVec
	tasksSkipped   *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the instruments. A nil reg uses the
// default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		armed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_armed_timers",
				Help:      "Number of armed in-process timers",
			},
			[]string{"action"},
		),
		scheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_entries_total",
				Help:      "Schedule entries armed, by origin (planned or recovered)",
			},
			[]string{"action", "origin"},
		),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_executions_total",
				Help:      "Fired timers by result",
			},
			[]string{"action", "result"},
		),
		lockContention: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_lock_contention_total",
				Help:      "Lock acquisitions lost to another holder",
			},
			[]string{"action", "phase"},
		),
		tasksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_task_overlaps_total",
				Help:      "Ticks skipped because the previous run was still going",
			},
			[]string{"task"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduler_task_duration_seconds",
				Help:      "Duration of periodic task runs",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"task", "status"},
		),
	}

	reg.MustRegister(
		m.armed,
		m.scheduled,
		m.executions,
		m.lockContention,
		m.tasksSkipped,
		m.taskDuration,
	)
	return m
}

// Result labels for executions.
const (
	resultSuccess    = "success"
	resultFailure    = "failure"
	resultIneligible = "ineligible"
	resultStale      = "stale"
	resultDeferred   = "deferred"
)
