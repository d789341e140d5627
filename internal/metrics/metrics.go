// Package metrics exposes Prometheus collectors for the HTTP server and the
// catalog loader:
//   - http_request_total: counter with method, path and status labels
//   - http_request_duration_seconds: histogram with method and path labels
//   - http_request_in_flight: gauge of concurrent requests
//   - rate_limiter_buckets_total: gauge of tracked client buckets
//   - catalog_reload_total: counter of catalog reloads by result
//   - catalog_medicines: gauge of medicines stored by the last reload
//
// Collectors are registered with the default registry at init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_request_in_flight",
			Help: "Current in-flight requests",
		},
	)

	RateLimiterBucketsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limiter_buckets_total",
			Help: "Number of rate limiter buckets currently tracked",
		},
	)

	CatalogReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_reload_total",
			Help: "Catalog reloads by result (success, failure, skipped)",
		},
		[]string{"result"},
	)

	CatalogMedicines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_medicines",
			Help: "Medicines stored by the last successful catalog reload",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestTotals)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestInFlight)
	prometheus.MustRegister(RateLimiterBucketsTotal)
	prometheus.MustRegister(CatalogReloads)
	prometheus.MustRegister(CatalogMedicines)
}
