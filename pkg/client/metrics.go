package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for Warcraft Logs client operations.
var (
	wclRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wcl_requests_total",
		Help: "Total HTTP attempts by operation and status",
	}, []string{"operation", "status"})

	wclRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wcl_request_duration_seconds",
		Help:    "HTTP attempt duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	wclRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wcl_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	wclRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wcl_retry_backoff_seconds",
		Help:    "Backoff duration before retries by operation",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 120},
	}, []string{"operation"})

	wclRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wcl_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})

	wclQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wcl_queries_total",
		Help: "Total logical queries by operation and result",
	}, []string{"operation", "result"})

	wclPagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wcl_pages_fetched_total",
		Help: "Total result pages fetched by operation",
	}, []string{"operation"})

	wclCircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wcl_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	})
)
