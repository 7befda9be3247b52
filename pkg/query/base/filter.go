package base

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/query"
	"github.com/tidwall/gjson"
)

// document is the JSON form of a result's entity, addressed by dotted
// field paths.
type document []byte

// documents memoises entity documents by entity ID for one search.
type documents map[string]document

func (d documents) of(r query.SearchResult) document {
	if doc, ok := d[r.Entity.ID]; ok {
		return doc
	}
	b, err := json.Marshal(r.Entity)
	if err != nil {
		b = nil
	}
	d[r.Entity.ID] = b
	return b
}

func (d document) get(path string) gjson.Result {
	if len(d) == 0 || path == "" {
		return gjson.Result{}
	}
	return gjson.GetBytes(d, path)
}

// matcher tests one field value. Compiled once per filter.
type matcher func(v gjson.Result) bool

// compileFilter turns f into a matcher. Malformed filters return an error
// and match nothing.
func compileFilter(f query.SearchFilter) (matcher, error) {
	if f.Field == "" {
		return nil, fmt.Errorf("filter without field")
	}
	switch f.Operator {
	case query.OpEquals:
		return func(v gjson.Result) bool { return anyValue(v, func(x gjson.Result) bool { return equal(x, f.Value) }) }, nil

	case query.OpContains:
		needle := strings.ToLower(fmt.Sprint(f.Value))
		return func(v gjson.Result) bool {
			if v.IsArray() {
				return anyValue(v, func(x gjson.Result) bool { return strings.EqualFold(x.String(), needle) })
			}
			return strings.Contains(strings.ToLower(v.String()), needle)
		}, nil

	case query.OpStartsWith:
		prefix := strings.ToLower(fmt.Sprint(f.Value))
		return func(v gjson.Result) bool { return strings.HasPrefix(strings.ToLower(v.String()), prefix) }, nil

	case query.OpEndsWith:
		suffix := strings.ToLower(fmt.Sprint(f.Value))
		return func(v gjson.Result) bool { return strings.HasSuffix(strings.ToLower(v.String()), suffix) }, nil

	case query.OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			if ss, isStrings := f.Value.([]string); isStrings {
				for _, s := range ss {
					values = append(values, s)
				}
				ok = true
			}
		}
		if !ok {
			return nil, fmt.Errorf("in filter on %q needs a list", f.Field)
		}
		return func(v gjson.Result) bool {
			return anyValue(v, func(x gjson.Result) bool {
				for _, want := range values {
					if equal(x, want) {
						return true
					}
				}
				return false
			})
		}, nil

	case query.OpRange:
		lo, hi, err := rangeBounds(f.Value)
		if err != nil {
			return nil, fmt.Errorf("range filter on %q: %w", f.Field, err)
		}
		return func(v gjson.Result) bool { return inRange(v, lo, hi) }, nil

	case query.OpRegex:
		pattern, ok := f.Value.(string)
		if !ok {
			return nil, fmt.Errorf("regex filter on %q needs a string", f.Field)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("regex filter on %q: %w", f.Field, err)
		}
		return func(v gjson.Result) bool {
			return anyValue(v, func(x gjson.Result) bool { return re.MatchString(x.String()) })
		}, nil
	}
	return nil, fmt.Errorf("unknown filter operator %q", f.Operator)
}

// anyValue applies fn to v, or to each element when v is an array.
func anyValue(v gjson.Result, fn func(gjson.Result) bool) bool {
	if !v.IsArray() {
		return fn(v)
	}
	for _, x := range v.Array() {
		if fn(x) {
			return true
		}
	}
	return false
}

func equal(v gjson.Result, want any) bool {
	switch w := want.(type) {
	case nil:
		return v.Type == gjson.Null
	case bool:
		return (v.Type == gjson.True || v.Type == gjson.False) && v.Bool() == w
	case float64:
		return v.Type == gjson.Number && v.Num == w
	case int:
		return v.Type == gjson.Number && v.Num == float64(w)
	case string:
		return v.String() == w
	default:
		return v.String() == fmt.Sprint(w)
	}
}

// bound is one side of a range: a number or an RFC 3339 time.
type bound struct {
	set  bool
	num  float64
	time time.Time
	isT  bool
}

func parseBound(v any) (bound, error) {
	switch t := v.(type) {
	case nil:
		return bound{}, nil
	case float64:
		return bound{set: true, num: t}, nil
	case int:
		return bound{set: true, num: float64(t)}, nil
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return bound{set: true, time: ts, isT: true}, nil
		}
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return bound{}, fmt.Errorf("bound %q is neither a number nor a time", t)
		}
		return bound{set: true, num: n}, nil
	}
	return bound{}, fmt.Errorf("unsupported bound %v", v)
}

func rangeBounds(v any) (bound, bound, error) {
	var rawLo, rawHi any
	switch t := v.(type) {
	case map[string]any:
		rawLo, rawHi = t["min"], t["max"]
	case []any:
		if len(t) != 2 {
			return bound{}, bound{}, fmt.Errorf("range needs two bounds")
		}
		rawLo, rawHi = t[0], t[1]
	default:
		return bound{}, bound{}, fmt.Errorf("range needs {min, max}")
	}
	lo, err := parseBound(rawLo)
	if err != nil {
		return bound{}, bound{}, err
	}
	hi, err := parseBound(rawHi)
	if err != nil {
		return bound{}, bound{}, err
	}
	if !lo.set && !hi.set {
		return bound{}, bound{}, fmt.Errorf("range without bounds")
	}
	return lo, hi, nil
}

func inRange(v gjson.Result, lo, hi bound) bool {
	if lo.isT || hi.isT {
		ts, err := time.Parse(time.RFC3339, v.String())
		if err != nil {
			return false
		}
		if lo.set && (!lo.isT || ts.Before(lo.time)) {
			return false
		}
		if hi.set && (!hi.isT || ts.After(hi.time)) {
			return false
		}
		return true
	}
	if v.Type != gjson.Number {
		return false
	}
	if lo.set && v.Num < lo.num {
		return false
	}
	if hi.set && v.Num > hi.num {
		return false
	}
	return true
}

type compiledFilter struct {
	field string
	match matcher
}

// applyFilters keeps the results passing every filter. A missing field or
// a malformed filter fails the result.
func applyFilters(results []query.SearchResult, filters []query.SearchFilter, docs documents) []query.SearchResult {
	if len(filters) == 0 {
		return results
	}
	compiled := make([]compiledFilter, 0, len(filters))
	for _, f := range filters {
		m, err := compileFilter(f)
		if err != nil {
			log.Debug("Ignoring malformed filter", "field", f.Field, "operator", f.Operator, "err", err)
			return results[:0]
		}
		compiled = append(compiled, compiledFilter{field: f.Field, match: m})
	}

	out := results[:0]
	for _, r := range results {
		doc := docs.of(r)
		ok := true
		for _, f := range compiled {
			v := doc.get(f.field)
			if !v.Exists() || !f.match(v) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}
