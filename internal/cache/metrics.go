package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide cache counters, labeled by cache instrumentation name. Tests
// rely on the per-instance atomic counters in Stats; these exist for
// deployments scraping the default prometheus registry.
var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pisa",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Number of cache lookups that found a live entry.",
	}, []string{"cache"})

	missesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pisa",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Number of cache lookups that missed.",
	}, []string{"cache"})

	putsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pisa",
		Subsystem: "cache",
		Name:      "puts_total",
		Help:      "Number of entries stored.",
	}, []string{"cache"})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pisa",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Number of entries evicted by the LRU policy.",
	}, []string{"cache"})
)
