// Package metrics provides the Prometheus registry handles for subvault.
// All metrics are defined in their respective packages (reddit, coordinator,
// store) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by the pipeline.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer, handed to promhttp by cmd/subvault.
var Gatherer = prometheus.DefaultGatherer

// Metrics Documentation
//
// Pipeline Metrics (pkg/coordinator):
//   - subvault_items_collected_total (Counter): Work items discovered by the collector
//   - subvault_items_processed_total (Counter): Items processed successfully
//   - subvault_items_failed_total (Counter): Item-level processing failures
//   - subvault_items_dead_lettered_total (Counter): Items dropped after exhausting attempts
//   - subvault_items_requeued_total{reason} (Counter): Requeues by reason
//     (failure, checkpoint_recovery, stalled_worker, checkpoint_error)
//   - subvault_queue_depth (Gauge): Bounded queue occupancy
//   - subvault_worker_restarts_total (Counter): Forced restarts after heartbeat timeouts
//   - subvault_item_process_duration_seconds (Histogram): Per-item processing duration
//
// Request Metrics (pkg/reddit):
//   - reddit_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - reddit_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - reddit_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - reddit_ratelimit_remaining (Gauge): Remaining request budget from response headers
//
// Retry Metrics (pkg/reddit):
//   - reddit_retries_total{error_class} (Counter): Retry attempts by error class
//   - reddit_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - reddit_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Store Metrics (pkg/store):
//   - subvault_store_writes_total{type} (Counter): Writes by record type (checkpoint, results)
//   - subvault_store_errors_total{operation} (Counter): Store operation errors
//
// Example Prometheus Queries:
//
//   # Pipeline throughput
//   rate(subvault_items_processed_total[5m])
//
//   # Failure ratio
//   rate(subvault_items_failed_total[5m]) / rate(subvault_items_processed_total[5m])
//
//   # Queue saturation
//   subvault_queue_depth
//
//   # Rate limit pressure
//   reddit_ratelimit_remaining < 10
//
//   # P95 item latency
//   histogram_quantile(0.95, rate(subvault_item_process_duration_seconds_bucket[5m]))
