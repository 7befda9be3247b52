package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const selectIDByKeySQL = `SELECT id FROM entities WHERE natural_key = $1`

const selectCreatedAtSQL = `SELECT created_at, natural_key FROM entities WHERE id = $1`

const upsertEntitySQL = `
INSERT INTO entities (id, natural_key, type, namespace, name, search_text, inactive, document, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)
ON CONFLICT (id) DO UPDATE
SET natural_key = EXCLUDED.natural_key,
    type        = EXCLUDED.type,
    namespace   = EXCLUDED.namespace,
    name        = EXCLUDED.name,
    search_text = EXCLUDED.search_text,
    inactive    = EXCLUDED.inactive,
    document    = EXCLUDED.document,
    updated_at  = EXCLUDED.updated_at
`

const deactivateEntitySQL = `
UPDATE entities
SET inactive   = TRUE,
    updated_at = $2,
    document   = jsonb_set(document, '{inactive}', 'true')
WHERE id = $1
`

func (s *GraphDBStorage) UpsertEntity(ctx context.Context, entity common.Entity) (common.Entity, error) {
	if err := store.ValidateEntity(entity); err != nil {
		return common.Entity{}, err
	}
	entity = sanitizeEntity(entity)
	if entity.Namespace == "" {
		entity.Namespace = common.DefaultNamespace
	}
	key := entity.NaturalKey()

	s.upsertMu.Lock()
	defer s.upsertMu.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return common.Entity{}, err
	}
	defer tx.Rollback(ctx)

	var ownerID string
	err = tx.QueryRow(ctx, selectIDByKeySQL, key).Scan(&ownerID)
	if err != nil && !errors.Is(err, pgxv5.ErrNoRows) {
		return common.Entity{}, err
	}
	keyTaken := err == nil

	switch {
	case entity.ID == "" && keyTaken:
		entity.ID = ownerID
	case entity.ID == "":
		id, err := gonanoid.New()
		if err != nil {
			return common.Entity{}, err
		}
		entity.ID = id
	case keyTaken && ownerID != entity.ID:
		return common.Entity{}, fmt.Errorf("%w: %s already registered as %s", store.ErrConflict, key, ownerID)
	}

	now := s.now()
	var createdAt time.Time
	var prevKey string
	err = tx.QueryRow(ctx, selectCreatedAtSQL, entity.ID).Scan(&createdAt, &prevKey)
	switch {
	case errors.Is(err, pgxv5.ErrNoRows):
		createdAt = entity.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
	case err != nil:
		return common.Entity{}, err
	case prevKey != key:
		log.Debug("Entity natural key changed", "id", entity.ID, "from", prevKey, "to", key)
	}
	entity.CreatedAt = createdAt
	entity.UpdatedAt = now

	doc, err := json.Marshal(entity)
	if err != nil {
		return common.Entity{}, fmt.Errorf("pgx: encode entity %s: %w", entity.ID, err)
	}
	_, err = tx.Exec(ctx, upsertEntitySQL,
		entity.ID, key, string(entity.Type), entity.Namespace, entity.Name,
		entity.SearchableText(), entity.Inactive, string(doc), createdAt, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return common.Entity{}, fmt.Errorf("%w: %s", store.ErrConflict, key)
		}
		return common.Entity{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return common.Entity{}, err
	}
	return entity, nil
}

func (s *GraphDBStorage) GetEntity(ctx context.Context, id string) (common.Entity, error) {
	rows, err := s.conn.Query(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = $1", id)
	if err != nil {
		return common.Entity{}, err
	}
	ents, err := scanEntities(rows)
	if err != nil {
		return common.Entity{}, err
	}
	if len(ents) == 0 {
		return common.Entity{}, fmt.Errorf("%w: entity %s", store.ErrNotFound, id)
	}
	return ents[0], nil
}

func (s *GraphDBStorage) ListEntities(ctx context.Context, includeInactive bool) ([]common.Entity, error) {
	return s.Query(ctx, store.Query{IncludeInactive: includeInactive})
}

func (s *GraphDBStorage) FindByKeyword(ctx context.Context, field store.KeywordField, term string) ([]common.Entity, error) {
	if strings.TrimSpace(term) == "" {
		return nil, nil
	}
	sql, args, ok := buildKeywordQuery(field, term)
	if !ok {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanEntities(rows)
}

func (s *GraphDBStorage) Query(ctx context.Context, q store.Query) ([]common.Entity, error) {
	sql, args := buildEntityQuery(q)
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanEntities(rows)
}

func (s *GraphDBStorage) DeactivateEntity(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, deactivateEntitySQL, id, s.now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entity %s", store.ErrNotFound, id)
	}
	return nil
}

func scanEntities(rows pgxv5.Rows) ([]common.Entity, error) {
	defer rows.Close()
	var out []common.Entity
	for rows.Next() {
		var (
			id                 string
			doc                []byte
			inactive           bool
			created, updatedAt time.Time
		)
		if err := rows.Scan(&id, &doc, &inactive, &created, &updatedAt); err != nil {
			return nil, err
		}
		e, err := decodeEntity(doc)
		if err != nil {
			return nil, fmt.Errorf("pgx: decode entity %s: %w", id, err)
		}
		e.ID = id
		e.Inactive = inactive
		e.CreatedAt = created
		e.UpdatedAt = updatedAt
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodeEntity(doc []byte) (common.Entity, error) {
	var e common.Entity
	if len(doc) == 0 {
		return e, nil
	}
	err := json.Unmarshal(doc, &e)
	return e, err
}
