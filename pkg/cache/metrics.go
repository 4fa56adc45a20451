package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by generation role
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopease_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"role"}, // "static", "dynamic", "foreign"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopease_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheWrittenBytes tracks bytes written by generation role
	CacheWrittenBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopease_cache_written_bytes_total",
			Help: "Total bytes written to cache generations",
		},
		[]string{"role"},
	)

	// CacheEvictions tracks deleted stale generations
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shopease_cache_evictions_total",
			Help: "Total number of stale cache generations deleted",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopease_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "open", "get", "set", "evict"
	)
)
