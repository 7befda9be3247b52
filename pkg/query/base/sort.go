package base

import (
	"sort"
	"strings"

	"github.com/asklokesh/next-portal/catalog/pkg/query"
	"github.com/tidwall/gjson"
)

// sortResults orders results by opt and its secondary keys. Results missing
// a sort field go last. Without opt the ranking order is kept.
func sortResults(results []query.SearchResult, opt *query.SortOption, docs documents) {
	if opt == nil || opt.Field == "" {
		return
	}
	sort.SliceStable(results, func(i, j int) bool {
		for o := opt; o != nil && o.Field != ""; o = o.Secondary {
			c, presence := compareField(results[i], results[j], o.Field, docs)
			if c == 0 {
				continue
			}
			if presence || o.Direction != query.SortDesc {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

// compareField returns -1, 0 or 1. presence is set when only one side has
// the field; the result then puts the missing side last whatever the
// direction.
func compareField(a, b query.SearchResult, field string, docs documents) (c int, presence bool) {
	if field == "score" {
		return compareFloat(a.Score, b.Score), false
	}
	va, vb := docs.of(a).get(field), docs.of(b).get(field)
	switch {
	case !va.Exists() && !vb.Exists():
		return 0, false
	case !va.Exists():
		return 1, true
	case !vb.Exists():
		return -1, true
	}
	if va.Type == gjson.Number && vb.Type == gjson.Number {
		return compareFloat(va.Num, vb.Num), false
	}
	return strings.Compare(strings.ToLower(va.String()), strings.ToLower(vb.String())), false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
