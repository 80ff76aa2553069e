// Package metrics exposes Prometheus collectors for the poller: upstream
// request/retry counters and refresh-cycle outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors shared by the transport, the retry
// wrapper and the coordinator.
type Metrics struct {
	APIRequests     *prometheus.CounterVec
	APIRetries      *prometheus.CounterVec
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	LastRefresh     prometheus.Gauge
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kskmon_api_requests_total",
				Help: "Upstream API requests by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		APIRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kskmon_api_retries_total",
				Help: "Retry attempts by operation.",
			},
			[]string{"operation"},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kskmon_refresh_cycles_total",
				Help: "Refresh cycles by outcome.",
			},
			[]string{"outcome"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kskmon_refresh_duration_seconds",
				Help:    "Duration of full refresh cycles.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		LastRefresh: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kskmon_last_successful_refresh_timestamp_seconds",
				Help: "Unix time of the last successful refresh.",
			},
		),
	}

	reg.MustRegister(
		m.APIRequests,
		m.APIRetries,
		m.RefreshTotal,
		m.RefreshDuration,
		m.LastRefresh,
	)

	return m
}
