package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts state changes by target state
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopease_lifecycle_transitions_total",
		Help: "Lifecycle state transitions by target state",
	}, []string{"state"})

	// CurrentState exposes the numeric lifecycle state (0=parsed .. 5=redundant)
	CurrentState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shopease_lifecycle_state",
		Help: "Current lifecycle state (0=parsed, 1=installing, 2=installed, 3=activating, 4=active, 5=redundant)",
	})

	// InstallDuration tracks install durations
	InstallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shopease_lifecycle_install_duration_seconds",
		Help:    "Time to pre-populate the static generation",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)
