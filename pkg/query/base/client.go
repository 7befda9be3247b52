// Package base implements query.GraphSearchClient on top of a
// store.GraphStorage: strategies run in parallel, their hits are
// deduplicated, ranked, filtered, sorted and paginated, and finished
// responses are cached.
package base

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/query"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
	"golang.org/x/sync/errgroup"
)

var log = logger.With("Search")

const (
	DefaultLimit = 20
	MaxLimit     = 100

	defaultStrategyTimeout = 5 * time.Second
	defaultCacheSize       = 1024
	defaultCacheTTL        = 5 * time.Minute
	fewResults             = 5
)

var errAllStrategiesFailed = errors.New("search: every strategy failed")

// NewSearchClientParams configures a BaseSearchClient. Storage is required
// unless Strategies replaces every built-in strategy. DefaultDepth replaces
// a zero traversal depth in incoming queries.
type NewSearchClientParams struct {
	Storage         store.GraphStorage
	Analyzer        *query.Analyzer
	Strategies      Strategies
	Weights         *RankingWeights
	StrategyTimeout time.Duration
	DefaultDepth    int
	CacheEnabled    bool
	CacheSize       int
	CacheTTL        time.Duration
	Tracer          query.Tracer
	Clock           func() time.Time
}

type BaseSearchClient struct {
	analyzer        *query.Analyzer
	strategies      []Strategy
	weights         RankingWeights
	strategyTimeout time.Duration
	defaultDepth    int
	cache           *resultCache
	tracer          query.Tracer
	now             func() time.Time
}

func NewSearchClient(params NewSearchClientParams) (*BaseSearchClient, error) {
	strategies := params.Strategies
	if strategies == nil {
		if params.Storage == nil {
			return nil, errors.New("search: storage is required")
		}
		strategies = DefaultStrategies(params.Storage)
	}
	analyzer := params.Analyzer
	if analyzer == nil {
		analyzer = query.NewAnalyzer()
	}
	weights := DefaultRankingWeights()
	if params.Weights != nil {
		weights = *params.Weights
	}
	timeout := params.StrategyTimeout
	if timeout <= 0 {
		timeout = defaultStrategyTimeout
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}

	c := &BaseSearchClient{
		analyzer:        analyzer,
		strategies:      strategies.sorted(),
		weights:         weights,
		strategyTimeout: timeout,
		defaultDepth:    params.DefaultDepth,
		tracer:          params.Tracer,
		now:             now,
	}
	if params.CacheEnabled {
		size := params.CacheSize
		if size <= 0 {
			size = defaultCacheSize
		}
		ttl := params.CacheTTL
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		c.cache = newResultCache(size, ttl)
	}
	return c, nil
}

// InvalidateCache drops every cached response. Call it after the graph
// changes to stop serving stale results before the TTL runs out.
func (c *BaseSearchClient) InvalidateCache() {
	if c.cache != nil {
		c.cache.purge()
	}
}

// Search runs q and always returns a well-formed response. Failures yield
// an empty result set with a suggestion and are logged.
func (c *BaseSearchClient) Search(ctx context.Context, q query.SearchQuery) query.SearchResponse {
	start := time.Now()
	if c.tracer != nil {
		ctx = query.ContextWithTracer(ctx, query.MultiTracer{c.tracer, query.TracerFromContext(ctx)})
	}
	q = normalize(q)
	if q.Traversal.MaxDepth <= 0 && c.defaultDepth > 0 {
		q.Traversal.MaxDepth = c.defaultDepth
	}

	resp, outcome := c.searchCached(ctx, q)
	searchRequests.WithLabelValues(outcome).Inc()

	resp.SearchTime = time.Since(start)
	searchDuration.Observe(resp.SearchTime.Seconds())
	return resp
}

func (c *BaseSearchClient) searchCached(ctx context.Context, q query.SearchQuery) (query.SearchResponse, string) {
	if c.cache == nil {
		return c.searchOrFail(ctx, q)
	}

	key := cacheKey(q)
	if resp, ok := c.cache.get(key); ok {
		query.RecordCacheHit(query.TracerFromContext(ctx))
		resp = cloneResponse(resp)
		resp.Cached = true
		return resp, "hit"
	}

	v, err, _ := c.cache.group.Do(key, func() (any, error) {
		if resp, ok := c.cache.get(key); ok {
			return resp, nil
		}
		resp, err := c.search(ctx, q)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, resp)
		return resp, nil
	})
	if err != nil {
		// The shared search ran on another caller's context.
		if ctx.Err() == nil && isContextErr(err) {
			return c.searchOrFail(ctx, q)
		}
		return c.failed(ctx, q, err)
	}
	return cloneResponse(v.(query.SearchResponse)), "miss"
}

func (c *BaseSearchClient) searchOrFail(ctx context.Context, q query.SearchQuery) (query.SearchResponse, string) {
	resp, err := c.search(ctx, q)
	if err != nil {
		return c.failed(ctx, q, err)
	}
	return resp, "miss"
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *BaseSearchClient) failed(ctx context.Context, q query.SearchQuery, err error) (query.SearchResponse, string) {
	outcome := "failed"
	if isContextErr(err) && ctx.Err() != nil {
		outcome = "cancelled"
		log.Debug("Search cancelled", "text", q.Text, "err", err)
	} else {
		log.Error("Search failed", "text", q.Text, "err", err)
	}
	return query.SearchResponse{
		Results:     []query.SearchResult{},
		Offset:      q.Offset,
		Limit:       q.Limit,
		Facets:      query.Facets{"type": {}},
		Suggestions: []string{"Check the spelling of your search terms or try again"},
		Intent:      query.IntentGeneral,
	}, outcome
}

func normalize(q query.SearchQuery) query.SearchQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func (c *BaseSearchClient) search(ctx context.Context, q query.SearchQuery) (query.SearchResponse, error) {
	analyzed := c.analyzer.Analyze(q)

	results, err := c.runStrategies(ctx, q, analyzed)
	if err != nil {
		return query.SearchResponse{}, err
	}

	results = dedupe(results)
	rank(results, c.weights, analyzed, c.now())

	docs := documents{}
	results = applyFilters(results, q.Filters, docs)
	sortResults(results, q.Sort, docs)

	total := len(results)
	return query.SearchResponse{
		Results:     paginate(results, q.Offset, q.Limit),
		Total:       total,
		Offset:      q.Offset,
		Limit:       q.Limit,
		Facets:      facets(results),
		Suggestions: suggestions(q, analyzed, total),
		Intent:      analyzed.Intent,
	}, nil
}

// runStrategies fans out to every enabled strategy and joins their hits in
// strategy order. A failing strategy contributes nothing; only the failure
// of all of them, or cancellation, is an error.
func (c *BaseSearchClient) runStrategies(ctx context.Context, q query.SearchQuery, a query.AnalyzedQuery) ([]query.SearchResult, error) {
	var enabled []Strategy
	names := make([]string, 0, len(c.strategies))
	for _, st := range c.strategies {
		if st.Enabled(q, a) {
			enabled = append(enabled, st)
			names = append(names, string(st.Kind()))
		}
	}
	query.RecordStrategies(query.TracerFromContext(ctx), names...)
	if len(enabled) == 0 {
		return nil, ctx.Err()
	}

	hits := make([][]query.SearchResult, len(enabled))
	errs := make([]error, len(enabled))

	var g errgroup.Group
	for i, st := range enabled {
		g.Go(func() error {
			hits[i], errs[i] = c.runStrategy(ctx, st, q, a)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []query.SearchResult
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			continue
		}
		out = append(out, hits[i]...)
	}
	if failed == len(enabled) {
		return nil, fmt.Errorf("%w: %w", errAllStrategiesFailed, errors.Join(errs...))
	}
	return out, nil
}

func (c *BaseSearchClient) runStrategy(ctx context.Context, st Strategy, q query.SearchQuery, a query.AnalyzedQuery) (res []query.SearchResult, err error) {
	start := time.Now()
	kind := string(st.Kind())
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", kind, r)
		}
		if err != nil {
			res = nil
			strategyFailures.WithLabelValues(kind).Inc()
			query.RecordStrategyFailure(query.TracerFromContext(ctx), kind, time.Since(start).Milliseconds(), err)
			log.Warn("Strategy failed", "strategy", kind, "err", err)
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, c.strategyTimeout)
	defer cancel()
	return st.Run(sctx, q, a)
}

func paginate(results []query.SearchResult, offset, limit int) []query.SearchResult {
	if offset >= len(results) {
		return []query.SearchResult{}
	}
	end := min(offset+limit, len(results))
	page := make([]query.SearchResult, end-offset)
	copy(page, results[offset:end])
	return page
}

// facets counts results by entity type, health and namespace.
func facets(results []query.SearchResult) query.Facets {
	f := query.Facets{"type": {}, "health": {}, "namespace": {}}
	for _, r := range results {
		f["type"][string(r.Entity.Type)]++
		f["health"][string(r.Entity.Health())]++
		ns := r.Entity.Namespace
		if ns == "" {
			ns = common.DefaultNamespace
		}
		f["namespace"][ns]++
	}
	return f
}

func suggestions(q query.SearchQuery, a query.AnalyzedQuery, total int) []string {
	if total >= fewResults {
		return nil
	}
	if len(a.Keywords) == 0 {
		return []string{"Add descriptive search terms such as a service name or tag"}
	}
	out := []string{"Try broader or fewer search terms"}
	if len(q.Filters) > 0 {
		out = append(out, "Remove some filters to widen the search")
	}
	if len(q.SearchTypes) > 0 {
		out = append(out, "Search more fields by allowing additional search types")
	}
	if q.Has(query.SearchGraphTraversal, query.SearchRelationships) && q.Traversal.MaxDepth < 3 {
		out = append(out, "Increase the traversal depth to reach more related entities")
	}
	return out
}
