package graph

import (
	"context"
	"errors"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

// persist upserts every inferred relationship and marks earlier inferred
// relationships for the same pair with a different type as stale. Inferred
// relationships between entities of the run that were not emitted again are
// marked stale too. Failures are logged per relationship; the run itself does
// not fail.
func (g *GraphClient) persist(ctx context.Context, results []InferredRelationship, index map[string]common.Entity, analyzedAt time.Time) {
	for i := range results {
		rel := results[i].Relationship

		saved, err := g.storage.UpsertRelationship(ctx, rel)
		if err != nil {
			relationshipPersistFailures.Inc()
			logger.Warn("[Inference] Failed to persist relationship", "relationship", rel.Key().String(), "err", err)
			continue
		}
		results[i].Relationship = saved

		superseded, err := g.supersededBy(ctx, saved)
		if err != nil {
			logger.Warn("[Inference] Failed to load existing relationships", "source", rel.SourceID, "err", err)
			continue
		}
		if len(superseded) == 0 {
			continue
		}
		if err := g.storage.MarkRelationshipsStale(ctx, superseded, analyzedAt); err != nil {
			logger.Warn("[Inference] Failed to mark superseded relationships stale", "count", len(superseded), "err", err)
			continue
		}
		logger.Debug("[Inference] Marked superseded relationships stale", "relationship", rel.Key().String(), "count", len(superseded))
	}

	vanished, err := g.vanished(ctx, results, index)
	if err != nil {
		logger.Warn("[Inference] Failed to load relationships of the run", "err", err)
		return
	}
	if len(vanished) == 0 {
		return
	}
	if err := g.storage.MarkRelationshipsStale(ctx, vanished, analyzedAt); err != nil {
		logger.Warn("[Inference] Failed to mark vanished relationships stale", "count", len(vanished), "err", err)
		return
	}
	logger.Debug("[Inference] Marked vanished relationships stale", "count", len(vanished))
}

// vanished returns the live inferred relationships whose endpoints are both
// part of the run but which the run no longer emits. Manual and
// auto-discovered relationships are left alone.
func (g *GraphClient) vanished(ctx context.Context, results []InferredRelationship, index map[string]common.Entity) ([]common.RelationshipKey, error) {
	emitted := make(map[common.RelationshipKey]struct{}, len(results))
	for _, r := range results {
		emitted[r.Relationship.Key()] = struct{}{}
	}

	var keys []common.RelationshipKey
	for id := range index {
		rels, err := g.storage.GetRelationships(ctx, id, store.RelatedOptions{})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, rel := range rels {
			if rel.DiscoveredBy != common.DiscoveredInferred || rel.Stale {
				continue
			}
			if _, ok := index[rel.TargetID]; !ok {
				continue
			}
			if _, ok := emitted[rel.Key()]; ok {
				continue
			}
			keys = append(keys, rel.Key())
		}
	}
	return keys, nil
}

func (g *GraphClient) supersededBy(ctx context.Context, rel common.Relationship) ([]common.RelationshipKey, error) {
	existing, err := g.storage.GetRelationships(ctx, rel.SourceID, store.RelatedOptions{})
	if err != nil {
		return nil, err
	}
	var keys []common.RelationshipKey
	for _, other := range existing {
		if other.TargetID != rel.TargetID || other.Type == rel.Type {
			continue
		}
		if other.DiscoveredBy != common.DiscoveredInferred {
			continue
		}
		keys = append(keys, other.Key())
	}
	return keys, nil
}
