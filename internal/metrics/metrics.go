// Package metrics exposes prometheus instrumentation for the feed pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelayFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pacerelay_relay_fetches_total",
		Help: "Relay fetch attempts by relay URL and outcome (ok, error, timeout).",
	}, []string{"relay", "outcome"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pacerelay_relay_breaker_state",
		Help: "Circuit breaker state per relay (0 closed, 1 half-open, 2 open).",
	}, []string{"relay"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pacerelay_cache_hits_total",
		Help: "Feed cache hits.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pacerelay_cache_misses_total",
		Help: "Feed cache misses, including expired entries.",
	})

	DedupDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pacerelay_dedup_dropped_total",
		Help: "Records dropped as near-duplicates during feed assembly.",
	})

	JoinFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pacerelay_join_failures_total",
		Help: "Supplementary join fetch failures by record kind.",
	}, []string{"kind"})

	AssemblyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pacerelay_feed_assembly_seconds",
		Help:    "Wall time to assemble one feed page, network included.",
		Buckets: prometheus.DefBuckets,
	})

	StaleCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pacerelay_stale_completions_total",
		Help: "Feed builds discarded because a newer build finished first.",
	})
)
