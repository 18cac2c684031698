// Package metrics provides the in-process Prometheus collectors the wallet
// memory layer's components update. No HTTP exposition endpoint is built
// here; these counters and gauges exist for internal consumption (e.g. a
// scrape endpoint outside this module's scope), grounded on the teacher's
// infrastructure/metrics.Metrics registered-collector pattern.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the wallet memory layer's Prometheus collectors.
type Metrics struct {
	CacheHitsTotal    *prometheus.CounterVec
	CacheMissesTotal  *prometheus.CounterVec
	CircuitBreakerTrips *prometheus.CounterVec
	DegradeQueueDepth prometheus.Gauge
	TransactionsIndexedTotal *prometheus.CounterVec
	AnomaliesDetectedTotal   *prometheus.CounterVec
}

// New constructs a Metrics instance and registers its collectors with
// registerer. Pass nil to skip registration (e.g. in tests that construct
// multiple instances and would otherwise collide on the default registry).
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "walletmemory_cache_hits_total", Help: "Total cache hits by namespace."},
			[]string{"namespace"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "walletmemory_cache_misses_total", Help: "Total cache misses by namespace."},
			[]string{"namespace"},
		),
		CircuitBreakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "walletmemory_circuit_breaker_trips_total", Help: "Total circuit breaker open transitions by breaker name."},
			[]string{"breaker"},
		),
		DegradeQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "walletmemory_degrade_queue_depth", Help: "Current depth of the degradation controller's pending write queue."},
		),
		TransactionsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "walletmemory_transactions_indexed_total", Help: "Total transactions indexed, excluding deduplicated re-index no-ops."},
			[]string{"wallet_addr"},
		),
		AnomaliesDetectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "walletmemory_anomalies_detected_total", Help: "Total risk anomalies detected by kind."},
			[]string{"kind"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CircuitBreakerTrips,
			m.DegradeQueueDepth,
			m.TransactionsIndexedTotal,
			m.AnomaliesDetectedTotal,
		)
	}

	return m
}
