package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inferenceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_inference_runs_total",
		Help: "Inference runs by result",
	}, []string{"result"})

	inferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_inference_duration_seconds",
		Help:    "Inference run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	detectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_detector_failures_total",
		Help: "Detector invocations that failed or panicked",
	}, []string{"detector"})

	evidenceCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_evidence_collected_total",
		Help: "Evidence records returned by detectors",
	}, []string{"detector"})

	relationshipsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_relationships_emitted_total",
		Help: "Relationships emitted by inference, by type",
	}, []string{"type"})

	relationshipPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_relationship_persist_failures_total",
		Help: "Inferred relationships that could not be written to the store",
	})
)
