package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swot_form_transitions_total",
			Help: "Form transitions by kind and outcome",
		},
		[]string{"transition", "step", "outcome"},
	)

	GenerationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swot_generation_attempts_total",
			Help: "Calls made to the analysis endpoint",
		},
		[]string{"outcome"},
	)

	GenerationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swot_generations_total",
			Help: "Finished generations by result",
		},
		[]string{"result", "error_code"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swot_generation_duration_seconds",
			Help:    "Wall time of a generation including retries",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
		},
		[]string{"result"},
	)

	GenerationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swot_generations_active",
			Help: "Generations currently in flight",
		},
	)

	PersistenceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swot_persistence_writes_total",
			Help: "Form store writes by key kind and outcome",
		},
		[]string{"key", "outcome"},
	)

	PersistenceLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swot_persistence_loads_total",
			Help: "Form store loads by recovery source",
		},
		[]string{"source"},
	)
)
