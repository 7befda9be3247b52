package store

import (
	"context"
	"strings"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

// NewID returns a random nanoid for a new entity or relationship.
func NewID() string {
	return gonanoid.Must()
}

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize elements.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings drops empty and repeated values, keeping first occurrences.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// MatchesKeyword reports whether term occurs, case-insensitively, in the
// selected field of e.
func MatchesKeyword(e common.Entity, field KeywordField, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	switch field {
	case FieldName:
		return strings.Contains(strings.ToLower(e.Name), term) ||
			strings.Contains(strings.ToLower(e.Title), term)
	case FieldDescription:
		return strings.Contains(strings.ToLower(e.Description), term)
	case FieldTags:
		return strings.Contains(e.SearchableText(), term)
	default:
		return false
	}
}

// ImportGraph upserts every entity of g and then its relationships,
// upserting entities in parallel. Relationship endpoints may reference
// entity IDs assigned by the file itself.
func ImportGraph(ctx context.Context, s GraphStorage, g common.Graph, parallel int) error {
	if parallel <= 0 {
		parallel = 8
	}
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)
	for i := range g.Entities {
		ent := g.Entities[i]
		eg.Go(func() error {
			_, err := s.UpsertEntity(ectx, ent)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, rel := range g.Relationships {
		if _, err := s.UpsertRelationship(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}
