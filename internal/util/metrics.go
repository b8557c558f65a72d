package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders accepted by the vendor and charged",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order placements",
	}, []string{"reason"})

	QuotesComputedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quotes_computed_total",
		Help: "Total number of quotes computed",
	})

	VendorRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vendor_request_duration_seconds",
		Help:    "Latency of vendor panel API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	VendorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_requests_total",
		Help: "Total number of vendor panel API requests",
	}, []string{"action", "outcome"})

	CatalogCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_cache_hits_total",
		Help: "Total number of catalog cache hits",
	})

	CatalogCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_cache_misses_total",
		Help: "Total number of catalog cache misses",
	})

	StatusRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "status_refresh_total",
		Help: "Total number of per-order status refresh attempts",
	}, []string{"result"})

	ReconciliationAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconciliation_alerts_total",
		Help: "Vendor-accepted orders that failed to commit and need manual reconciliation",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
