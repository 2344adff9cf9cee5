// Package metrics exposes the Prometheus registry used by the Warcraft Logs
// client. Metrics are defined in their owning packages (client, cache,
// ratelimit) and registered through promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all client metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the registered metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - wcl_requests_total{operation, status} (Counter): HTTP attempts by status, "network_error" or "circuit_open"
//   - wcl_request_duration_seconds{operation} (Histogram): HTTP attempt duration
//   - wcl_queries_total{operation, result} (Counter): Logical queries by result (cache_hit, fetched, error)
//   - wcl_pages_fetched_total{operation} (Counter): Result pages fetched
//   - wcl_circuit_breaker_state (Gauge): 0=closed, 1=half-open, 2=open
//
// Retry Metrics (pkg/client):
//   - wcl_retries_total{operation} (Counter): Retry attempts
//   - wcl_retry_backoff_seconds{operation} (Histogram): Backoff before each retry
//   - wcl_retry_exhausted_total{operation} (Counter): Requests that exhausted max attempts
//
// Cache Metrics (pkg/cache):
//   - wcl_cache_hits_total{layer} (Counter): Cache hits by layer (disk, redis, badger)
//   - wcl_cache_misses_total{layer} (Counter): Cache misses by layer
//   - wcl_cache_written_bytes_total{layer} (Counter): Bytes written
//   - wcl_cache_errors_total{layer, operation} (Counter): Cache errors, corrupt entries included
//
// Rate Limit Metrics (pkg/ratelimit):
//   - wcl_rate_limit_waits_total{reason} (Counter): Requests delayed by "rate" or "cooldown"
//   - wcl_rate_limit_wait_seconds (Histogram): Time spent waiting
//   - wcl_rate_limit_cooldowns_total (Counter): 429 responses that started a cooldown
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(wcl_cache_hits_total[5m])) /
//   (sum(rate(wcl_cache_hits_total[5m])) + sum(rate(wcl_cache_misses_total[5m])))
//
//   # Retry exhaustion by operation
//   sum by (operation) (rate(wcl_retry_exhausted_total[5m]))
//
//   # P95 attempt latency
//   histogram_quantile(0.95, rate(wcl_request_duration_seconds_bucket[5m]))
