package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const staleChunkSize = 500

const countEntitiesSQL = `SELECT count(*) FROM entities WHERE id = ANY($1)`

const upsertRelationshipSQL = `
INSERT INTO relationships (id, source_id, target_id, type, stale, last_analyzed, document, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
ON CONFLICT (source_id, target_id, type) DO UPDATE
SET stale         = EXCLUDED.stale,
    last_analyzed = EXCLUDED.last_analyzed,
    document      = EXCLUDED.document,
    updated_at    = EXCLUDED.updated_at
RETURNING id, created_at
`

const selectRelationshipsSQL = `
SELECT id, document, stale, last_analyzed, created_at, updated_at
FROM relationships
WHERE (source_id = $1 OR ($2 AND target_id = $1))
  AND (cardinality($3::text[]) = 0 OR type = ANY($3))
  AND ($4 OR NOT stale)
ORDER BY source_id, target_id, type
`

const selectEntitiesByIDSQL = `
SELECT ` + entityColumns + `
FROM entities
WHERE id = ANY($1) AND NOT inactive
ORDER BY id
`

const markStaleSQL = `
UPDATE relationships r
SET stale         = TRUE,
    last_analyzed = $4,
    updated_at    = $5
FROM unnest($1::text[], $2::text[], $3::text[]) AS k(source_id, target_id, type)
WHERE r.source_id = k.source_id
  AND r.target_id = k.target_id
  AND r.type = k.type
`

func (s *GraphDBStorage) UpsertRelationship(ctx context.Context, rel common.Relationship) (common.Relationship, error) {
	if err := store.ValidateRelationship(rel); err != nil {
		return common.Relationship{}, err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return common.Relationship{}, err
	}
	defer tx.Rollback(ctx)

	var found int
	endpoints := []string{rel.SourceID, rel.TargetID}
	if err := tx.QueryRow(ctx, countEntitiesSQL, endpoints).Scan(&found); err != nil {
		return common.Relationship{}, err
	}
	want := 2
	if rel.SourceID == rel.TargetID {
		want = 1
	}
	if found < want {
		return common.Relationship{}, fmt.Errorf("%w: relationship endpoint %s -> %s", store.ErrNotFound, rel.SourceID, rel.TargetID)
	}

	if rel.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return common.Relationship{}, err
		}
		rel.ID = id
	}
	now := s.now()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	rel.UpdatedAt = now

	doc, err := json.Marshal(rel)
	if err != nil {
		return common.Relationship{}, fmt.Errorf("pgx: encode relationship %s: %w", rel.Key(), err)
	}
	var lastAnalyzed *time.Time
	if !rel.LastAnalyzed.IsZero() {
		lastAnalyzed = &rel.LastAnalyzed
	}

	err = tx.QueryRow(ctx, upsertRelationshipSQL,
		rel.ID, rel.SourceID, rel.TargetID, string(rel.Type), rel.Stale, lastAnalyzed,
		string(doc), rel.CreatedAt, now,
	).Scan(&rel.ID, &rel.CreatedAt)
	if err != nil {
		return common.Relationship{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return common.Relationship{}, err
	}
	return rel, nil
}

func (s *GraphDBStorage) GetRelationships(ctx context.Context, id string, opts store.RelatedOptions) ([]common.Relationship, error) {
	if _, err := s.GetEntity(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, selectRelationshipsSQL, id, opts.IncludeReverse, stringsOf(opts.Types), opts.IncludeStale)
	if err != nil {
		return nil, err
	}
	return scanRelationships(rows)
}

func (s *GraphDBStorage) GetRelated(ctx context.Context, id string, opts store.RelatedOptions) ([]common.Entity, error) {
	rels, err := s.GetRelationships(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	others := make([]string, 0, len(rels))
	for _, rel := range rels {
		other := rel.TargetID
		if other == id {
			other = rel.SourceID
		}
		others = append(others, other)
	}
	others = store.DedupeStrings(others)
	if len(others) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, selectEntitiesByIDSQL, others)
	if err != nil {
		return nil, err
	}
	return scanEntities(rows)
}

func (s *GraphDBStorage) MarkRelationshipsStale(ctx context.Context, keys []common.RelationshipKey, analyzedAt time.Time) error {
	now := s.now()
	return store.ChunkRange(len(keys), staleChunkSize, func(start, end int) error {
		chunk := keys[start:end]
		sources := make([]string, len(chunk))
		targets := make([]string, len(chunk))
		types := make([]string, len(chunk))
		for i, k := range chunk {
			sources[i], targets[i], types[i] = k.SourceID, k.TargetID, string(k.Type)
		}
		tag, err := s.conn.Exec(ctx, markStaleSQL, sources, targets, types, analyzedAt, now)
		if err != nil {
			return err
		}
		log.Debug("Marked relationships stale", "requested", len(chunk), "updated", tag.RowsAffected())
		return nil
	})
}

func scanRelationships(rows pgxv5.Rows) ([]common.Relationship, error) {
	defer rows.Close()
	var out []common.Relationship
	for rows.Next() {
		var (
			id                 string
			doc                []byte
			stale              bool
			lastAnalyzed       *time.Time
			created, updatedAt time.Time
		)
		if err := rows.Scan(&id, &doc, &stale, &lastAnalyzed, &created, &updatedAt); err != nil {
			return nil, err
		}
		var rel common.Relationship
		if err := json.Unmarshal(doc, &rel); err != nil {
			return nil, fmt.Errorf("pgx: decode relationship %s: %w", id, err)
		}
		rel.ID = id
		rel.Stale = stale
		rel.LastAnalyzed = time.Time{}
		if lastAnalyzed != nil {
			rel.LastAnalyzed = *lastAnalyzed
		}
		rel.CreatedAt = created
		rel.UpdatedAt = updatedAt
		out = append(out, rel)
	}
	return out, rows.Err()
}
