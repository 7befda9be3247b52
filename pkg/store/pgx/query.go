package pgx

import (
	"strconv"
	"strings"

	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

const entityColumns = "id, document, inactive, created_at, updated_at"

// where accumulates AND-ed conditions. Every "?" in a condition refers to
// the single argument added with it.
type where struct {
	conds []string
	args  []any
}

func (w *where) raw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func stringsOf[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// buildEntityQuery renders q as a SELECT over the entities table.
func buildEntityQuery(q store.Query) (string, []any) {
	var w where
	if !q.IncludeInactive {
		w.raw("NOT inactive")
	}
	if len(q.Types) > 0 {
		w.add("type = ANY(?)", stringsOf(q.Types))
	}
	if q.Namespace != "" {
		w.add("namespace = ?", q.Namespace)
	}
	if len(q.Health) > 0 {
		w.add("coalesce(nullif(document->'status'->>'health', ''), 'unknown') = ANY(?)", stringsOf(q.Health))
	}
	if len(q.Compliance) > 0 {
		w.add("coalesce(nullif(document->'compliance'->>'state', ''), 'unknown') = ANY(?)", stringsOf(q.Compliance))
	}
	if q.Owner != "" {
		w.add("document->'lifecycle'->>'owner' = ?", q.Owner)
	}
	if q.Team != "" {
		w.add("document->'lifecycle'->>'team' = ?", q.Team)
	}

	sql := "SELECT " + entityColumns + " FROM entities" + w.String() + " ORDER BY id"
	if q.Limit > 0 {
		w.args = append(w.args, q.Limit)
		sql += " LIMIT $" + strconv.Itoa(len(w.args))
	}
	return sql, w.args
}

// buildKeywordQuery renders a case-insensitive substring lookup on field.
// ok is false for unknown fields.
func buildKeywordQuery(field store.KeywordField, term string) (sql string, args []any, ok bool) {
	var w where
	w.raw("NOT inactive")
	pattern := likePattern(term)
	switch field {
	case store.FieldName:
		w.add(`(lower(name) LIKE ? ESCAPE '\' OR lower(coalesce(document->>'title', '')) LIKE ? ESCAPE '\')`, pattern)
	case store.FieldDescription:
		w.add(`lower(coalesce(document->>'description', '')) LIKE ? ESCAPE '\'`, pattern)
	case store.FieldTags:
		w.add(`search_text LIKE ? ESCAPE '\'`, pattern)
	default:
		return "", nil, false
	}
	return "SELECT " + entityColumns + " FROM entities" + w.String() + " ORDER BY id", w.args, true
}
