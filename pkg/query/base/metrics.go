package base

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_search_requests_total",
		Help: "Search requests by outcome (hit, miss, failed, cancelled)",
	}, []string{"outcome"})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_search_duration_seconds",
		Help:    "Time to answer a search request",
		Buckets: prometheus.DefBuckets,
	})

	strategyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_search_strategy_failures_total",
		Help: "Search strategies that failed, panicked or timed out",
	}, []string{"strategy"})

	traversalVisited = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_search_traversal_visited",
		Help:    "Entities visited per traversal seed",
		Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000},
	})
)
