// Package catalog assembles the inference and search engines from the
// service configuration. The binaries share it so the server, the worker
// and the CLI run identical detector sets.
package catalog

import (
	"context"
	"time"

	"github.com/asklokesh/next-portal/catalog/internal/config"
	"github.com/asklokesh/next-portal/catalog/internal/storage"
	"github.com/asklokesh/next-portal/catalog/pkg/collector"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
	"github.com/asklokesh/next-portal/catalog/pkg/leaselock"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/query/base"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

// Detectors returns the detectors that work from catalog data alone plus,
// when a bucket is configured, the infrastructure detector over the
// manifests stored there. Extra manifest sources are appended to it.
func Detectors(ctx context.Context, cfg config.Config, extra ...collector.ManifestSource) ([]graph.Detector, error) {
	detectors := []graph.Detector{
		collector.NewStaticDetector(),
		collector.NewOrganizationalDetector(),
	}

	sources := append([]collector.ManifestSource(nil), extra...)
	if cfg.S3.Bucket != "" {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		sources = append(sources, storage.NewManifestSource(client, cfg.S3.Bucket, cfg.S3.ManifestPrefix))
		logger.Info("Reading manifests from S3", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.ManifestPrefix)
	}
	if len(sources) > 0 {
		detectors = append(detectors, collector.NewInfrastructureDetector(sources))
	}
	return detectors, nil
}

func NewGraphClient(cfg config.Inference, st store.GraphStorage, detectors []graph.Detector) (*graph.GraphClient, error) {
	return graph.NewGraphClient(graph.NewGraphClientParams{
		Storage:             st,
		Detectors:           detectors,
		ConfidenceThreshold: &cfg.ConfidenceThreshold,
		AutoUpdate:          cfg.AutoUpdate,
		EvidenceRetention:   cfg.EvidenceRetention,
		ParallelDetectors:   cfg.ParallelDetectors,
	})
}

func NewSearchClient(cfg config.Search, st store.GraphStorage) (*base.BaseSearchClient, error) {
	return base.NewSearchClient(base.NewSearchClientParams{
		Storage:         st,
		StrategyTimeout: cfg.StrategyTimeout,
		DefaultDepth:    cfg.MaxDepth,
		CacheEnabled:    cfg.CacheEnabled,
		CacheSize:       cfg.CacheSize,
		CacheTTL:        cfg.CacheTTL,
	})
}

const runLockTTL = 5 * time.Minute

// RunLock returns the lease lock that serialises full inference runs across
// processes, or nil when the backend has no database. With wait unset a
// busy lock fails with leaselock.ErrBusy.
func RunLock(backend *storage.GraphBackend, wait bool) graph.RunLock {
	if backend == nil || backend.Pool == nil {
		return nil
	}
	return leaselock.NewLocker(leaselock.New(backend.Pool), leaselock.Options{
		TTL:        runLockTTL,
		Wait:       wait,
		WaitJitter: 250 * time.Millisecond,
	})
}
