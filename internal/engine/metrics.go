package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proctor_queue_depth",
			Help: "Number of queued executions awaiting a worker slot, per pool.",
		},
		[]string{"pool"},
	)

	activeExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_active_executions",
			Help: "Number of executions currently owned by a worker.",
		},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_executions_total",
			Help: "Total completed executions by kind and result.",
		},
		[]string{"kind", "result"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proctor_execution_duration_seconds",
			Help:    "End-to-end execution duration from running to completed, in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"kind"},
	)

	duplicateSubmissions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_duplicate_submissions_total",
			Help: "Job submissions rejected by the duplicate-submission guard.",
		},
	)
)

func init() {
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(activeExecutions)
	prometheus.MustRegister(executionsTotal)
	prometheus.MustRegister(executionDuration)
	prometheus.MustRegister(duplicateSubmissions)
}
