package base

import (
	"sort"
	"strings"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/fuzzy"
	"github.com/asklokesh/next-portal/catalog/pkg/query"
)

// RecentWindow is how recently an entity must have been updated to earn
// the recency bonus.
const RecentWindow = 7 * 24 * time.Hour

// RankingWeights are the points each ranking dimension contributes to a
// final score out of 100.
type RankingWeights struct {
	NameMatch             float64 `json:"nameMatch"`
	DescriptionMatch      float64 `json:"descriptionMatch"`
	RelationshipRelevance float64 `json:"relationshipRelevance"`
	HealthStatus          float64 `json:"healthStatus"`
	Recency               float64 `json:"recency"`
	Ownership             float64 `json:"ownership"`
	Compliance            float64 `json:"compliance"`
}

func DefaultRankingWeights() RankingWeights {
	return RankingWeights{
		NameMatch:             30,
		DescriptionMatch:      20,
		RelationshipRelevance: 20,
		HealthStatus:          10,
		Recency:               5,
		Ownership:             10,
		Compliance:            5,
	}
}

// Score computes the final score of r. The strategy score of r stands in
// for relationship relevance; traversal scores already carry distance.
func (w RankingWeights) Score(r query.SearchResult, a query.AnalyzedQuery, now time.Time) float64 {
	e := r.Entity
	s := w.NameMatch*fuzzy.Match(nameText(e), a.Keywords) +
		w.DescriptionMatch*fuzzy.Match(e.Description, a.Keywords) +
		w.RelationshipRelevance*common.Clamp(r.Score, 0, 1)

	if e.Health() == common.HealthHealthy {
		s += w.HealthStatus
	}
	if !e.UpdatedAt.IsZero() {
		if age := now.Sub(e.UpdatedAt); age >= 0 && age <= RecentWindow {
			s += w.Recency
		}
	}
	if owners := ownershipText(e); owners != "" {
		s += w.Ownership * fuzzy.Match(owners, a.Keywords)
	}
	s += w.Compliance * common.Clamp(e.Compliance.Score, 0, 100) / 100
	return common.Clamp(s, 0, 100)
}

func ownershipText(e common.Entity) string {
	parts := make([]string, 0, 2+len(e.Lifecycle.Maintainers))
	if e.Lifecycle.Owner != "" {
		parts = append(parts, e.Lifecycle.Owner)
	}
	if e.Lifecycle.Team != "" {
		parts = append(parts, e.Lifecycle.Team)
	}
	parts = append(parts, e.Lifecycle.Maintainers...)
	return strings.Join(parts, " ")
}

// dedupe keeps one result per entity: the higher scoring one, carrying the
// union of matched fields.
func dedupe(results []query.SearchResult) []query.SearchResult {
	index := make(map[string]int, len(results))
	out := make([]query.SearchResult, 0, len(results))
	for _, r := range results {
		i, ok := index[r.Entity.ID]
		if !ok {
			index[r.Entity.ID] = len(out)
			r.MatchedFields = append([]string(nil), r.MatchedFields...)
			out = append(out, r)
			continue
		}
		fields := out[i].MatchedFields
		for _, f := range r.MatchedFields {
			if !containsString(fields, f) {
				fields = append(fields, f)
			}
		}
		if r.Score > out[i].Score {
			out[i] = r
		}
		out[i].MatchedFields = fields
	}
	return out
}

// rank rescores results with w and sorts them by score, then ID.
func rank(results []query.SearchResult, w RankingWeights, a query.AnalyzedQuery, now time.Time) {
	for i := range results {
		results[i].Score = w.Score(results[i], a, now)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})
}
