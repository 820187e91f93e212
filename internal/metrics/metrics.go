// Package metrics exposes Prometheus collectors for the trading core.
//
// Primary series:
//   - hantu_api_requests_total{endpoint,outcome} — REST calls by endpoint and result
//   - hantu_api_retries_total{endpoint}          — retry attempts
//   - hantu_cache_ops_total{op,result}           — cache hits/misses/errors
//   - hantu_cache_fallback                       — 1 once the LRU fallback engages
//   - hantu_batch_symbols_total{result}          — batch fetch outcomes per symbol
//   - hantu_ws_reconnects_total                  — realtime reconnect count
//   - hantu_exit_events_total{reason}            — position exits by signal
//
// Collectors are registered once in init; the outer layer serves them at
// /metrics via promhttp.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hantu_api_requests_total",
			Help: "REST API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok|retryable|failed
	)

	APIRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hantu_api_retries_total",
			Help: "REST API retry attempts by endpoint",
		},
		[]string{"endpoint"},
	)

	CacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hantu_cache_ops_total",
			Help: "Cache operations by op and result",
		},
		[]string{"op", "result"}, // op: get|set|delete, result: hit|miss|ok|error
	)

	CacheFallback = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hantu_cache_fallback",
			Help: "1 when the cache has switched to the in-process LRU fallback",
		},
	)

	BatchSymbols = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hantu_batch_symbols_total",
			Help: "Batch price fetch outcomes per symbol",
		},
		[]string{"result"}, // success|failure
	)

	WSReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hantu_ws_reconnects_total",
			Help: "Realtime websocket reconnect count",
		},
	)

	ExitEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hantu_exit_events_total",
			Help: "Position exits by triggering signal",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequests,
		APIRetries,
		CacheOps,
		CacheFallback,
		BatchSymbols,
		WSReconnects,
		ExitEvents,
	)
}
