package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	trialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmsql_trials_total",
			Help: "Total number of comparison trials by outcome.",
		},
		[]string{"outcome"},
	)
	generationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmsql_generation_seconds",
			Help:    "Model generation latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"model", "outcome"},
	)
	sanitizerVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmsql_sanitizer_verdicts_total",
			Help: "Sanitizer verdicts by rejection reason (accepted for passing candidates).",
		},
		[]string{"reason"},
	)
	executionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmsql_execution_seconds",
			Help:    "Candidate execution latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"database", "outcome"},
	)
	recordAppendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llmsql_record_append_failures_total",
			Help: "Total number of comparison records the store failed to persist.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		trialsTotal,
		generationSeconds,
		sanitizerVerdictsTotal,
		executionSeconds,
		recordAppendFailuresTotal,
	)
}

func ObserveTrial(outcome string) {
	trialsTotal.WithLabelValues(outcome).Inc()
}

func ObserveGeneration(model, outcome string, elapsed time.Duration) {
	generationSeconds.WithLabelValues(model, outcome).Observe(elapsed.Seconds())
}

func ObserveSanitizerVerdict(reason string) {
	if reason == "" {
		reason = "accepted"
	}
	sanitizerVerdictsTotal.WithLabelValues(reason).Inc()
}

func ObserveExecution(database, outcome string, elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	executionSeconds.WithLabelValues(database, outcome).Observe(elapsed.Seconds())
}

func IncrementRecordAppendFailures() {
	recordAppendFailuresTotal.Inc()
}
