package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TaskFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redo_task_failures_total",
			Help: "Total number of failed invocations queued for retry",
		},
		[]string{"runner"},
	)

	TasksStopped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redo_tasks_stopped_total",
			Help: "Total number of tasks that exhausted their retry budget",
		},
	)

	TasksInterrupted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redo_tasks_interrupted_total",
			Help: "Total number of tasks abandoned because their runner disappeared",
		},
	)

	// Worker metrics
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redo_dispatch_duration_seconds",
			Help:    "Retry dispatch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"runner"},
	)
)
