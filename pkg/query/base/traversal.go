package base

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/fuzzy"
	"github.com/asklokesh/next-portal/catalog/pkg/query"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxVisited bounds the entities a single seed traversal may visit.
	MaxVisited = 1000
	// DefaultMaxDepth applies when a query sets no traversal depth.
	DefaultMaxDepth = 2

	maxSeeds            = 10
	seedParallelism     = 4
	minTraversalScore   = 0.3
	nameMatchWeight     = 0.4
	descMatchWeight     = 0.3
	typeMatchWeight     = 0.2
	metadataMatchWeight = 0.1
)

// traversalStrategy runs a bounded breadth-first search from each seed
// entity and scores what it reaches. Seeds are traversed concurrently, each
// with its own visited set.
type traversalStrategy struct {
	storage    store.GraphStorage
	maxVisited int
}

func (*traversalStrategy) Kind() StrategyKind { return StrategyTraversal }

func (*traversalStrategy) Enabled(q query.SearchQuery, a query.AnalyzedQuery) bool {
	if !q.Has(query.SearchGraphTraversal, query.SearchRelationships) {
		return false
	}
	return len(q.Traversal.SeedIDs) > 0 || len(a.Keywords) > 0
}

func (s *traversalStrategy) Run(ctx context.Context, q query.SearchQuery, a query.AnalyzedQuery) ([]query.SearchResult, error) {
	seeds, err := s.seeds(ctx, q, a)
	if err != nil {
		return nil, err
	}
	tracer := query.TracerFromContext(ctx)
	ids := make([]string, len(seeds))
	for i, e := range seeds {
		ids[i] = e.ID
	}
	query.RecordSeedIDs(tracer, ids...)

	var mu sync.Mutex
	var out []query.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedParallelism)
	for _, seed := range seeds {
		g.Go(func() error {
			res, err := s.traverse(gctx, seed, q.Traversal, a)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, res...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *traversalStrategy) seeds(ctx context.Context, q query.SearchQuery, a query.AnalyzedQuery) ([]common.Entity, error) {
	var seeds []common.Entity
	if len(q.Traversal.SeedIDs) > 0 {
		for _, id := range store.DedupeStrings(q.Traversal.SeedIDs) {
			e, err := s.storage.GetEntity(ctx, id)
			if err != nil {
				continue
			}
			seeds = append(seeds, e)
		}
		return seeds, nil
	}

	seen := map[string]bool{}
	for _, kw := range store.DedupeStrings(a.Keywords) {
		ents, err := s.storage.FindByKeyword(ctx, store.FieldName, kw)
		if err != nil {
			return nil, err
		}
		for _, e := range ents {
			if !seen[e.ID] {
				seen[e.ID] = true
				seeds = append(seeds, e)
			}
		}
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].ID < seeds[j].ID })
	if len(seeds) > maxSeeds {
		seeds = seeds[:maxSeeds]
	}
	return seeds, nil
}

type hop struct {
	entity   common.Entity
	distance int
	path     []string
}

func (s *traversalStrategy) traverse(ctx context.Context, seed common.Entity, opts query.TraversalOptions, a query.AnalyzedQuery) ([]query.SearchResult, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	limit := s.maxVisited
	if limit <= 0 || limit > MaxVisited {
		limit = MaxVisited
	}
	related := store.RelatedOptions{Types: opts.RelationshipTypes, IncludeReverse: opts.IncludeReverse}

	visited := map[string]bool{seed.ID: true}
	order := []string{seed.ID}
	queue := []hop{{entity: seed, path: []string{seed.ID}}}

	var out []query.SearchResult
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		if cur.distance > 0 {
			score := EntityMatch(cur.entity, a)
			if score > minTraversalScore {
				if opts.WeightByDistance {
					score /= float64(cur.distance + 1)
				}
				out = append(out, query.SearchResult{
					Entity:        cur.entity,
					Score:         score,
					MatchedFields: []string{"relationships"},
					Context: query.ResultContext{
						Strategy: string(StrategyTraversal),
						SeedID:   seed.ID,
						Distance: cur.distance,
						Path:     cur.path,
					},
				})
			}
		}

		if cur.distance >= maxDepth || len(visited) >= limit {
			continue
		}
		neighbours, err := s.storage.GetRelated(ctx, cur.entity.ID, related)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbours {
			if len(visited) >= limit {
				break
			}
			if visited[n.ID] {
				continue
			}
			visited[n.ID] = true
			order = append(order, n.ID)
			queue = append(queue, hop{
				entity:   n,
				distance: cur.distance + 1,
				path:     append(slices.Clone(cur.path), n.ID),
			})
		}
	}

	traversalVisited.Observe(float64(len(visited)))
	query.RecordVisitedEntities(query.TracerFromContext(ctx), order...)
	return out, nil
}

// EntityMatch scores e against the expanded query terms: name 0.4,
// description 0.3, entity type 0.2 and metadata 0.1.
func EntityMatch(e common.Entity, a query.AnalyzedQuery) float64 {
	terms := a.ExpandedTerms
	typeScore := fuzzy.Match(string(e.Type), terms)
	if slices.Contains(a.EntityTypes, e.Type) {
		typeScore = 1
	}
	return nameMatchWeight*fuzzy.Match(nameText(e), terms) +
		descMatchWeight*fuzzy.Match(e.Description, terms) +
		typeMatchWeight*typeScore +
		metadataMatchWeight*fuzzy.Match(e.SearchableText(), terms)
}
