package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/asklokesh/next-portal/catalog/internal/util"
	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// InferredRelationship is a relationship computed from evidence together
// with the evidence that supports it and the score of every candidate type.
type InferredRelationship struct {
	Relationship common.Relationship                 `json:"relationship"`
	Evidence     []common.Evidence                   `json:"evidence"`
	TypeScores   map[common.RelationshipType]float64 `json:"typeScores"`
}

type entityPair struct {
	source string
	target string
}

// InferRelationships runs every registered detector over entities and turns
// the retained evidence into scored relationships.
//
// Detector failures are logged and skipped. The call only fails when every
// detector failed or ctx was cancelled. Evidence referencing entities outside
// the input set is ignored. Results are ordered by source, target and type.
func (g *GraphClient) InferRelationships(ctx context.Context, entities []common.Entity) ([]InferredRelationship, error) {
	start := time.Now()
	analyzedAt := g.now()

	collected, failed := g.collectEvidence(ctx, entities)
	if err := ctx.Err(); err != nil {
		inferenceRuns.WithLabelValues("cancelled").Inc()
		return nil, err
	}
	if n := len(g.registry); n > 0 && failed == n {
		inferenceRuns.WithLabelValues("failed").Inc()
		logger.Error("[Inference] All detectors failed", "detectors", n)
		return nil, ErrNoEvidence
	}

	pruned := g.evidence.Prune(analyzedAt)
	g.evidence.Add(analyzedAt, collected...)

	index := make(map[string]common.Entity, len(entities))
	for _, e := range entities {
		if e.ID != "" {
			index[e.ID] = e
		}
	}

	pairs := g.groupEvidence(g.evidence.Snapshot(), index)

	results := make([]InferredRelationship, 0, len(pairs))
	for pair, evs := range pairs {
		inferred := g.scorePair(pair, evs, index, analyzedAt)
		if inferred.Relationship.Confidence < g.threshold {
			logger.Debug("[Inference] Pair below threshold",
				"source", pair.source, "target", pair.target,
				"confidence", inferred.Relationship.Confidence)
			continue
		}
		results = append(results, inferred)
	}
	sortInferred(results)

	if g.autoUpdate {
		g.persist(ctx, results, index, analyzedAt)
	}

	for _, r := range results {
		relationshipsEmitted.WithLabelValues(string(r.Relationship.Type)).Inc()
	}
	inferenceRuns.WithLabelValues("ok").Inc()
	inferenceDuration.Observe(time.Since(start).Seconds())

	logger.Info("[Inference] Run complete",
		"entities", len(entities),
		"evidence", len(collected),
		"pruned", pruned,
		"failedDetectors", failed,
		"relationships", len(results),
		"duration", time.Since(start))

	return results, nil
}

func (g *GraphClient) collectEvidence(ctx context.Context, entities []common.Entity) ([]common.Evidence, int) {
	var (
		mu     sync.Mutex
		all    []common.Evidence
		failed int
	)

	var eg errgroup.Group
	eg.SetLimit(g.parallelDetectors)
	for _, d := range g.registry.Detectors() {
		eg.Go(func() error {
			evs, err := g.runDetector(ctx, d, entities)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				detectorFailures.WithLabelValues(string(d.Kind())).Inc()
				logger.Warn("[Inference] Detector failed", "detector", d.Kind(), "err", err)
				return nil
			}
			evidenceCollected.WithLabelValues(string(d.Kind())).Add(float64(len(evs)))
			for _, ev := range evs {
				if ev.Source == "" {
					ev.Source = string(d.Kind())
				}
				all = append(all, ev)
			}
			return nil
		})
	}
	_ = eg.Wait()

	return all, failed
}

func (g *GraphClient) runDetector(ctx context.Context, d Detector, entities []common.Entity) (evs []common.Evidence, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector %s panicked: %v", d.Kind(), r)
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, g.detectorTimeout)
	defer cancel()

	return util.RetryWithContext(dctx, g.maxRetries, func(ctx context.Context) ([]common.Evidence, error) {
		return d.DetectRelationships(ctx, entities)
	})
}

// groupEvidence buckets evidence by (sourceId, targetId). Evidence without
// both ids, self-referencing evidence and evidence naming entities outside
// index is dropped.
func (g *GraphClient) groupEvidence(evidence []common.Evidence, index map[string]common.Entity) map[entityPair][]common.Evidence {
	pairs := make(map[entityPair][]common.Evidence)
	var unattributed, selfRefs, missing int

	for _, ev := range evidence {
		src, dst := ev.SourceID(), ev.TargetID()
		if src == "" || dst == "" {
			unattributed++
			continue
		}
		if src == dst {
			selfRefs++
			continue
		}
		_, okSrc := index[src]
		_, okDst := index[dst]
		if !okSrc || !okDst {
			missing++
			logger.Debug("[Inference] Evidence references entity outside working set",
				"evidence", ev.ID, "type", ev.Type, "source", src, "target", dst)
			continue
		}
		p := entityPair{source: src, target: dst}
		pairs[p] = append(pairs[p], ev)
	}

	if unattributed+selfRefs+missing > 0 {
		logger.Debug("[Inference] Dropped evidence",
			"unattributed", unattributed, "selfReferences", selfRefs, "missingEntities", missing)
	}
	return pairs
}

func (g *GraphClient) scorePair(pair entityPair, evs []common.Evidence, index map[string]common.Entity, now time.Time) InferredRelationship {
	scores := TypeScores(evs)
	health := Health(evs, index[pair.target])

	ids := make([]string, len(evs))
	for i, ev := range evs {
		ids[i] = ev.ID
	}

	rel := common.Relationship{
		SourceID:     pair.source,
		TargetID:     pair.target,
		Type:         Classify(scores),
		Confidence:   Confidence(evs, now),
		Strength:     Strength(evs),
		Health:       health,
		Properties:   Properties(evs),
		DiscoveredBy: common.DiscoveredInferred,
		EvidenceIDs:  ids,
		LastAnalyzed: now,
	}

	return InferredRelationship{
		Relationship: rel,
		Evidence:     evs,
		TypeScores:   scores,
	}
}

func sortInferred(rs []InferredRelationship) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i].Relationship, rs[j].Relationship
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Type < b.Type
	})
}
