package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/stepwise/internal/model"
)

var (
	stepTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_step_transitions_total",
			Help: "Total number of step status updates, by previous and new status.",
		},
		[]string{"from", "to"},
	)

	stepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stepwise_step_duration_seconds",
			Help:    "Time from a step's first start to its completion, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		},
	)

	plansActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepwise_plans",
			Help: "Number of plans currently held by the engine.",
		},
	)

	persistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stepwise_persist_failures_total",
			Help: "Total number of plan snapshots that could not be written to the store.",
		},
	)
)

func init() {
	prometheus.MustRegister(stepTransitionsTotal)
	prometheus.MustRegister(stepDuration)
	prometheus.MustRegister(plansActive)
	prometheus.MustRegister(persistFailuresTotal)

	// Pre-initialize every transition pair so they appear in /metrics with
	// value 0 from startup.
	for _, from := range model.Statuses {
		for _, to := range model.Statuses {
			stepTransitionsTotal.WithLabelValues(string(from), string(to))
		}
	}
}
