package pgx

import (
	"strings"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
)

// sanitizeText drops invalid UTF-8 and NUL bytes, neither of which
// PostgreSQL accepts in text or jsonb values.
func sanitizeText(value string) string {
	if value == "" {
		return value
	}
	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

func sanitizeMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[sanitizeText(k)] = sanitizeText(v)
	}
	return out
}

func sanitizeEntity(e common.Entity) common.Entity {
	e.Name = sanitizeText(e.Name)
	e.Namespace = sanitizeText(e.Namespace)
	e.Title = sanitizeText(e.Title)
	e.Description = sanitizeText(e.Description)
	e.Labels = sanitizeMap(e.Labels)
	e.Annotations = sanitizeMap(e.Annotations)
	if e.Tags != nil {
		tags := make([]string, len(e.Tags))
		for i, t := range e.Tags {
			tags[i] = sanitizeText(t)
		}
		e.Tags = tags
	}
	return e
}

// likePattern builds a case-insensitive substring pattern for LIKE with
// backslash as the escape character.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(strings.TrimSpace(term))) + "%"
}
