package base

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/query"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// resultCache holds finished responses for a bounded time. Concurrent
// misses on the same key are collapsed into one search.
type resultCache struct {
	lru   *expirable.LRU[string, query.SearchResponse]
	group singleflight.Group
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	return &resultCache{lru: expirable.NewLRU[string, query.SearchResponse](size, nil, ttl)}
}

func (c *resultCache) get(key string) (query.SearchResponse, bool) {
	return c.lru.Get(key)
}

func (c *resultCache) put(key string, resp query.SearchResponse) {
	c.lru.Add(key, resp)
}

func (c *resultCache) purge() {
	c.lru.Purge()
}

// cacheKey hashes every query field that influences the response.
func cacheKey(q query.SearchQuery) string {
	q.SearchTypes = q.Types()
	b, err := json.Marshal(q)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// cloneResponse deep-copies resp, entities included, so callers cannot
// mutate a cached value.
func cloneResponse(resp query.SearchResponse) query.SearchResponse {
	out := resp
	out.Results = slices.Clone(resp.Results)
	for i := range out.Results {
		out.Results[i].Entity = out.Results[i].Entity.Clone()
		out.Results[i].MatchedFields = slices.Clone(out.Results[i].MatchedFields)
		out.Results[i].Context.Path = slices.Clone(out.Results[i].Context.Path)
	}
	out.Suggestions = slices.Clone(resp.Suggestions)
	if resp.Facets != nil {
		out.Facets = make(query.Facets, len(resp.Facets))
		for name, counts := range resp.Facets {
			out.Facets[name] = maps.Clone(counts)
		}
	}
	return out
}
