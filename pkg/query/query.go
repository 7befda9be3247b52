// Package query defines the search request and response model of the
// catalog, the query analyzer and query tracing. The search engine itself
// lives in query/base.
package query

import (
	"context"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
)

// GraphSearchClient answers catalog searches. Search never fails: internal
// errors produce an empty response carrying a suggestion.
type GraphSearchClient interface {
	Search(ctx context.Context, q SearchQuery) SearchResponse
}

type SearchType string

const (
	SearchEntityName        SearchType = "entity_name"
	SearchEntityDescription SearchType = "entity_description"
	SearchMetadata          SearchType = "metadata"
	SearchTags              SearchType = "tags"
	SearchRelationships     SearchType = "relationships"
	SearchGraphTraversal    SearchType = "graph_traversal"
	SearchHealthStatus      SearchType = "health_status"
	SearchCompliance        SearchType = "compliance"
)

// DefaultSearchTypes is used when a query requests no search type.
var DefaultSearchTypes = []SearchType{
	SearchEntityName,
	SearchEntityDescription,
	SearchMetadata,
	SearchTags,
	SearchGraphTraversal,
}

type FilterOperator string

const (
	OpEquals     FilterOperator = "equals"
	OpContains   FilterOperator = "contains"
	OpStartsWith FilterOperator = "startsWith"
	OpEndsWith   FilterOperator = "endsWith"
	OpIn         FilterOperator = "in"
	OpRange      FilterOperator = "range"
	OpRegex      FilterOperator = "regex"
)

// SearchFilter restricts results on a dotted entity field path such as
// "status.health" or "labels.tier". For OpIn, Value is a list; for
// OpRange it is {"min": x, "max": y} with either bound optional.
type SearchFilter struct {
	Field    string         `json:"field" validate:"required"`
	Operator FilterOperator `json:"operator" validate:"required,oneof=equals contains startsWith endsWith in range regex"`
	Value    any            `json:"value"`
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortOption orders results by a field. "score" sorts by result score;
// anything else is a dotted entity field path. Secondary breaks ties.
type SortOption struct {
	Field     string        `json:"field" validate:"required"`
	Direction SortDirection `json:"direction,omitempty" validate:"omitempty,oneof=asc desc"`
	Secondary *SortOption   `json:"secondary,omitempty"`
}

// TraversalOptions bounds graph traversal searches. Without SeedIDs, seeds
// are entities whose name partially matches a query keyword.
type TraversalOptions struct {
	MaxDepth          int                       `json:"maxDepth,omitempty" validate:"gte=0,lte=10"`
	RelationshipTypes []common.RelationshipType `json:"relationshipTypes,omitempty"`
	IncludeReverse    bool                      `json:"includeReverse,omitempty"`
	WeightByDistance  bool                      `json:"weightByDistance,omitempty"`
	SeedIDs           []string                  `json:"seedIds,omitempty"`
}

type SearchQuery struct {
	Text        string           `json:"text" validate:"max=512"`
	SearchTypes []SearchType     `json:"searchTypes,omitempty"`
	Filters     []SearchFilter   `json:"filters,omitempty" validate:"dive"`
	Sort        *SortOption      `json:"sort,omitempty"`
	Traversal   TraversalOptions `json:"traversal"`
	Offset      int              `json:"offset,omitempty" validate:"gte=0"`
	Limit       int              `json:"limit,omitempty" validate:"gte=0,lte=100"`
}

// Types returns the requested search types, or DefaultSearchTypes.
func (q SearchQuery) Types() []SearchType {
	if len(q.SearchTypes) == 0 {
		return DefaultSearchTypes
	}
	return q.SearchTypes
}

// Has reports whether any of types is requested.
func (q SearchQuery) Has(types ...SearchType) bool {
	for _, want := range types {
		for _, t := range q.Types() {
			if t == want {
				return true
			}
		}
	}
	return false
}

// ResultContext explains how a result was found.
type ResultContext struct {
	Strategy string   `json:"strategy"`
	SeedID   string   `json:"seedId,omitempty"`
	Distance int      `json:"distance"`
	Path     []string `json:"path,omitempty"`
}

type SearchResult struct {
	Entity        common.Entity `json:"entity"`
	Score         float64       `json:"score"`
	MatchedFields []string      `json:"matchedFields"`
	Context       ResultContext `json:"context"`
}

// Facets maps a facet name ("type", "health", "namespace") to value counts.
type Facets map[string]map[string]int

type SearchResponse struct {
	Results     []SearchResult `json:"results"`
	Total       int            `json:"total"`
	Offset      int            `json:"offset"`
	Limit       int            `json:"limit"`
	Facets      Facets         `json:"facets"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Intent      Intent         `json:"intent"`
	SearchTime  time.Duration  `json:"searchTime"`
	Cached      bool           `json:"cached"`
}
