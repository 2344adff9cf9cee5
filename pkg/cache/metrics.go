package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	layerDisk   = "disk"
	layerRedis  = "redis"
	layerBadger = "badger"
)

var (
	// CacheHits tracks cache hits by layer (disk, redis, badger)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcl_cache_hits_total",
			Help: "Total number of query cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses by layer
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcl_cache_misses_total",
			Help: "Total number of query cache misses",
		},
		[]string{"layer"},
	)

	// CacheBytesWritten tracks payload bytes written by layer
	CacheBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcl_cache_written_bytes_total",
			Help: "Total bytes written to the query cache",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wcl_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"layer", "operation"}, // "get", "set"
	)
)
