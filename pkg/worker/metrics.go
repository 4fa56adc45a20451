package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts dispatched events by type
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopease_worker_events_total",
		Help: "Dispatched worker events by type",
	}, []string{"type"})

	// EventsInFlight tracks events that are not done yet
	EventsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shopease_worker_events_in_flight",
		Help: "Worker events still running or kept alive",
	})
)
