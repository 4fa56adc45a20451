// Package metrics exposes the Prometheus metrics of the worker.
// All metrics are defined in their respective packages (cache, client,
// strategy, lifecycle, notify, bgsync, worker) to maintain modularity and avoid
// circular dependencies.
//
// This package provides the HTTP handler and documentation for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the worker.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the registered metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - shopease_cache_hits_total{role} (Counter): Cache hits by generation role (static, dynamic, foreign)
//   - shopease_cache_misses_total (Counter): Cache misses
//   - shopease_cache_written_bytes_total{role} (Counter): Bytes written by generation role
//   - shopease_cache_evictions_total (Counter): Stale generations deleted
//   - shopease_cache_errors_total{operation} (Counter): Cache operation errors
//
// Network Metrics (pkg/client):
//   - shopease_network_requests_total{method, status} (Counter): Requests by method and HTTP status
//   - shopease_network_request_duration_seconds{method} (Histogram): Request duration
//   - shopease_network_errors_total{class} (Counter): Failures by class (client, server, network)
//   - shopease_network_retries_total (Counter): Retry attempts
//   - shopease_network_retry_backoff_seconds (Histogram): Backoff duration
//   - shopease_network_retry_exhausted_total (Counter): Requests that exhausted max retries
//
// Strategy Metrics (pkg/strategy):
//   - shopease_strategy_outcomes_total{class, source} (Counter): Answers by class and source (network, cache, shell, error)
//   - shopease_strategy_cache_write_failures_total{role} (Counter): Dropped cache writes
//
// Lifecycle Metrics (pkg/lifecycle):
//   - shopease_lifecycle_transitions_total{state} (Counter): State changes by target state
//   - shopease_lifecycle_state (Gauge): Current state
//   - shopease_lifecycle_install_duration_seconds (Histogram): Static pre-population time
//
// Notification Metrics (pkg/notify):
//   - shopease_notifications_shown_total (Counter): Displayed notifications
//   - shopease_notification_interactions_total{action, outcome} (Counter): Clicks by action and outcome
//   - shopease_push_malformed_payloads_total (Counter): Payloads that fell back to defaults
//
// Sync Metrics (pkg/bgsync):
//   - shopease_sync_runs_total{result} (Counter): Sync events by result
//   - shopease_sync_dropped_total (Counter): Registrations dropped after MaxAttempts
//   - shopease_sync_pending (Gauge): Pending registrations at the last replay
//   - shopease_connectivity_online (Gauge): Origin reachability
//
// Worker Metrics (pkg/worker):
//   - shopease_worker_events_total{type} (Counter): Dispatched events by type
//   - shopease_worker_events_in_flight (Gauge): Events not yet done
//
// Example Prometheus Queries:
//
//   # Offline answer rate (cache or shell instead of network)
//   sum(rate(shopease_strategy_outcomes_total{source=~"cache|shell"}[5m])) /
//   sum(rate(shopease_strategy_outcomes_total[5m]))
//
//   # Failed loads
//   rate(shopease_strategy_outcomes_total{source="error"}[5m])
//
//   # P95 Origin Latency
//   histogram_quantile(0.95, rate(shopease_network_request_duration_seconds_bucket[5m]))
//
//   # Dropped cache writes
//   rate(shopease_strategy_cache_write_failures_total[5m])
