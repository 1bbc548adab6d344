// Package metrics provides the Prometheus registry and handler for the tap.
// All metrics are defined in their respective packages (auth, classify,
// client, ratelimit, pagination, state, tap) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the tap.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Signing Metrics (pkg/auth):
//   - sunwave_tokens_signed_total (Counter): Digest tokens produced
//
// Classification Metrics (pkg/classify):
//   - sunwave_classifications_total{stream, outcome} (Counter): Responses by outcome (success, fatal, skippable)
//
// Request Metrics (pkg/client):
//   - sunwave_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - sunwave_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - sunwave_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - sunwave_retries_total{error_class} (Counter): Retry attempts by error class
//   - sunwave_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - sunwave_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - sunwave_rate_limit_hits_total (Counter): 429 responses received
//   - sunwave_rate_limit_blocks_total (Counter): Requests delayed by an active block
//   - sunwave_rate_limit_wait_seconds (Histogram): Time spent waiting for a block to pass
//
// Extraction Metrics (pkg/pagination, pkg/tap):
//   - sunwave_pages_total{stream} (Counter): Pages fetched
//   - sunwave_records_emitted_total{stream} (Counter): Records written to the sink
//   - sunwave_stream_failures_total{stream} (Counter): Streams ended by a fatal error
//
// State Metrics (pkg/state):
//   - sunwave_bookmark_advances_total{stream} (Counter): Bookmarks moved forward
//   - sunwave_state_errors_total{operation} (Counter): Bookmark store errors
//
// Example Prometheus Queries:
//
//   # Skippable response rate per stream
//   sum by (stream) (rate(sunwave_classifications_total{outcome="skippable"}[5m]))
//
//   # Request Error Rate
//   rate(sunwave_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(sunwave_request_duration_seconds_bucket[5m]))
//
//   # Records per run
//   increase(sunwave_records_emitted_total[1h])
