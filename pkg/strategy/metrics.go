package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Source labels for Outcomes.
const (
	SourceNetwork = "network"
	SourceCache   = "cache"
	SourceShell   = "shell"
	SourceError   = "error"
)

var (
	// Outcomes counts answered requests by request class and answer source.
	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopease_strategy_outcomes_total",
		Help: "Intercepted requests by class and answer source (network, cache, shell, error)",
	}, []string{"class", "source"})

	// CacheWriteFailures counts dropped cache writes by generation role.
	CacheWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopease_strategy_cache_write_failures_total",
		Help: "Cache writes that failed and were dropped",
	}, []string{"role"})
)
