package base

import (
	"context"
	"sort"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/fuzzy"
	"github.com/asklokesh/next-portal/catalog/pkg/query"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

type StrategyKind string

const (
	StrategyDirect     StrategyKind = "direct"
	StrategyMetadata   StrategyKind = "metadata"
	StrategyTraversal  StrategyKind = "traversal"
	StrategyHealth     StrategyKind = "health"
	StrategyCompliance StrategyKind = "compliance"
)

// Strategy produces candidate results for an analyzed query. Scores are in
// [0, 1]; ranking rescales them later.
type Strategy interface {
	Kind() StrategyKind
	Enabled(q query.SearchQuery, a query.AnalyzedQuery) bool
	Run(ctx context.Context, q query.SearchQuery, a query.AnalyzedQuery) ([]query.SearchResult, error)
}

// Strategies is the strategy table of a search client.
type Strategies map[StrategyKind]Strategy

// DefaultStrategies returns every built-in strategy reading from s.
func DefaultStrategies(s store.GraphStorage) Strategies {
	return Strategies{
		StrategyDirect:     directStrategy{storage: s},
		StrategyMetadata:   metadataStrategy{storage: s},
		StrategyTraversal:  &traversalStrategy{storage: s},
		StrategyHealth:     healthStrategy{storage: s},
		StrategyCompliance: complianceStrategy{storage: s},
	}
}

func (s Strategies) sorted() []Strategy {
	out := make([]Strategy, 0, len(s))
	for _, st := range s {
		if st != nil {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind() < out[j].Kind() })
	return out
}

func nameText(e common.Entity) string {
	if e.Title == "" {
		return e.Name
	}
	return e.Name + " " + e.Title
}

// collector accumulates strategy hits per entity.
type collector struct {
	order   []string
	results map[string]*query.SearchResult
}

func newCollector() *collector {
	return &collector{results: map[string]*query.SearchResult{}}
}

func (c *collector) add(e common.Entity, strategy StrategyKind, field string) *query.SearchResult {
	r, ok := c.results[e.ID]
	if !ok {
		r = &query.SearchResult{Entity: e, Context: query.ResultContext{Strategy: string(strategy)}}
		c.results[e.ID] = r
		c.order = append(c.order, e.ID)
	}
	if field != "" && !containsString(r.MatchedFields, field) {
		r.MatchedFields = append(r.MatchedFields, field)
	}
	return r
}

func (c *collector) list() []query.SearchResult {
	out := make([]query.SearchResult, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.results[id])
	}
	return out
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// directStrategy looks up every keyword in entity names and descriptions.
type directStrategy struct {
	storage store.GraphStorage
}

func (directStrategy) Kind() StrategyKind { return StrategyDirect }

func (directStrategy) Enabled(q query.SearchQuery, a query.AnalyzedQuery) bool {
	return len(a.Keywords) > 0 && q.Has(query.SearchEntityName, query.SearchEntityDescription)
}

func (s directStrategy) Run(ctx context.Context, q query.SearchQuery, a query.AnalyzedQuery) ([]query.SearchResult, error) {
	c := newCollector()
	for _, kw := range store.DedupeStrings(a.Keywords) {
		if q.Has(query.SearchEntityName) {
			ents, err := s.storage.FindByKeyword(ctx, store.FieldName, kw)
			if err != nil {
				return nil, err
			}
			for _, e := range ents {
				c.add(e, StrategyDirect, "name")
			}
		}
		if q.Has(query.SearchEntityDescription) {
			ents, err := s.storage.FindByKeyword(ctx, store.FieldDescription, kw)
			if err != nil {
				return nil, err
			}
			for _, e := range ents {
				c.add(e, StrategyDirect, "description")
			}
		}
	}

	out := c.list()
	for i := range out {
		r := &out[i]
		for _, f := range r.MatchedFields {
			var score float64
			switch f {
			case "name":
				score = fuzzy.Match(nameText(r.Entity), a.Keywords)
			case "description":
				score = fuzzy.Match(r.Entity.Description, a.Keywords)
			}
			r.Score = max(r.Score, score)
		}
	}
	return out, nil
}

// metadataStrategy matches expanded terms against labels, annotations and
// tags. The score is the share of keywords, synonyms included, that hit.
type metadataStrategy struct {
	storage store.GraphStorage
}

func (metadataStrategy) Kind() StrategyKind { return StrategyMetadata }

func (metadataStrategy) Enabled(q query.SearchQuery, a query.AnalyzedQuery) bool {
	return len(a.ExpandedTerms) > 0 && q.Has(query.SearchMetadata, query.SearchTags)
}

func (s metadataStrategy) Run(ctx context.Context, _ query.SearchQuery, a query.AnalyzedQuery) ([]query.SearchResult, error) {
	c := newCollector()
	hits := map[string]int{}
	for _, term := range a.ExpandedTerms {
		ents, err := s.storage.FindByKeyword(ctx, store.FieldTags, term)
		if err != nil {
			return nil, err
		}
		for _, e := range ents {
			c.add(e, StrategyMetadata, "metadata")
			hits[e.ID]++
		}
	}

	keywords := max(1, len(store.DedupeStrings(a.Keywords)))
	out := c.list()
	for i := range out {
		out[i].Score = min(1, float64(hits[out[i].Entity.ID])/float64(keywords))
	}
	return out, nil
}

var healthWords = map[string][]common.HealthStatus{
	"healthy":    {common.HealthHealthy},
	"unhealthy":  {common.HealthCritical, common.HealthDegraded, common.HealthWarning},
	"down":       {common.HealthCritical},
	"failing":    {common.HealthCritical},
	"broken":     {common.HealthCritical},
	"critical":   {common.HealthCritical},
	"outage":     {common.HealthCritical},
	"incident":   {common.HealthCritical, common.HealthDegraded},
	"warning":    {common.HealthWarning},
	"degraded":   {common.HealthDegraded},
	"recovering": {common.HealthRecovering},
	"unknown":    {common.HealthUnknown},
}

var defaultHealthStates = []common.HealthStatus{common.HealthCritical, common.HealthDegraded, common.HealthWarning}

// healthStrategy lists entities in the health states the query asks about,
// or in any unhealthy state.
type healthStrategy struct {
	storage store.GraphStorage
}

func (healthStrategy) Kind() StrategyKind { return StrategyHealth }

func (healthStrategy) Enabled(q query.SearchQuery, a query.AnalyzedQuery) bool {
	return q.Has(query.SearchHealthStatus) || a.Intent == query.IntentHealth
}

func (s healthStrategy) Run(ctx context.Context, _ query.SearchQuery, a query.AnalyzedQuery) ([]query.SearchResult, error) {
	var states []common.HealthStatus
	for _, t := range a.Tokens {
		for _, st := range healthWords[t] {
			if !containsHealth(states, st) {
				states = append(states, st)
			}
		}
	}
	if len(states) == 0 {
		states = defaultHealthStates
	}

	ents, err := s.storage.Query(ctx, store.Query{Types: a.EntityTypes, Health: states})
	if err != nil {
		return nil, err
	}
	return specialised(ents, StrategyHealth, "status.health", a.Keywords), nil
}

func containsHealth(s []common.HealthStatus, v common.HealthStatus) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// complianceStrategy lists entities by compliance state, non-compliant and
// partially compliant ones unless the query names a state.
type complianceStrategy struct {
	storage store.GraphStorage
}

func (complianceStrategy) Kind() StrategyKind { return StrategyCompliance }

func (complianceStrategy) Enabled(q query.SearchQuery, a query.AnalyzedQuery) bool {
	return q.Has(query.SearchCompliance) || a.Intent == query.IntentCompliance
}

func (s complianceStrategy) Run(ctx context.Context, _ query.SearchQuery, a query.AnalyzedQuery) ([]query.SearchResult, error) {
	states := complianceStates(a.Tokens)
	ents, err := s.storage.Query(ctx, store.Query{Types: a.EntityTypes, Compliance: states})
	if err != nil {
		return nil, err
	}
	return specialised(ents, StrategyCompliance, "compliance.state", a.Keywords), nil
}

func complianceStates(tokens []string) []common.ComplianceState {
	negated := false
	var states []common.ComplianceState
	add := func(st common.ComplianceState) {
		for _, x := range states {
			if x == st {
				return
			}
		}
		states = append(states, st)
	}
	for _, t := range tokens {
		switch t {
		case "non", "not":
			negated = true
			continue
		case "noncompliant", "violation", "violations", "failing":
			add(common.ComplianceNonCompliant)
		case "partial", "partially":
			add(common.CompliancePartial)
		case "compliant":
			if negated {
				add(common.ComplianceNonCompliant)
			} else {
				add(common.ComplianceCompliant)
			}
		}
		negated = false
	}
	if len(states) == 0 {
		return []common.ComplianceState{common.ComplianceNonCompliant, common.CompliancePartial}
	}
	return states
}

// specialised scores lookup hits at 0.5, raised by how well the name
// matches the remaining keywords.
func specialised(ents []common.Entity, kind StrategyKind, field string, keywords []string) []query.SearchResult {
	out := make([]query.SearchResult, 0, len(ents))
	for _, e := range ents {
		out = append(out, query.SearchResult{
			Entity:        e,
			Score:         0.5 + 0.5*fuzzy.Match(nameText(e), keywords),
			MatchedFields: []string{field},
			Context:       query.ResultContext{Strategy: string(kind)},
		})
	}
	return out
}
