package runner

import "github.com/prometheus/client_golang/prometheus"

var (
	processDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proctor_process_duration_seconds",
			Help:    "Wall-clock duration of script processes from spawn to exit, in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
	)

	activeProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_active_processes",
			Help: "Number of currently running script processes.",
		},
	)

	processOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_process_outcomes_total",
			Help: "Total process invocations by outcome classification.",
		},
		[]string{"class"},
	)
)

func init() {
	prometheus.MustRegister(processDuration)
	prometheus.MustRegister(activeProcesses)
	prometheus.MustRegister(processOutcomes)
}
