// Package neo4j implements store.GraphStorage on a Neo4j database.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
	neo4jdrv "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var log = logger.With("Neo4j")

const connectTimeout = 5 * time.Second

type NewNeo4jStorageParams struct {
	URI      string
	Username string
	Password string
	Database string
	Clock    func() time.Time
}

// Neo4jStorage implements store.GraphStorage on Neo4j. Writes run in
// managed write transactions and are retried by the driver on transient
// errors.
type Neo4jStorage struct {
	driver neo4jdrv.DriverWithContext
	dbName string
	now    func() time.Time

	upsertMu sync.Mutex
}

var _ store.GraphStorage = (*Neo4jStorage)(nil)

// NewNeo4jStorage connects to Neo4j, verifies connectivity and ensures the
// uniqueness constraints exist.
func NewNeo4jStorage(ctx context.Context, params NewNeo4jStorageParams) (*Neo4jStorage, error) {
	if params.URI == "" {
		return nil, fmt.Errorf("neo4j: uri is required")
	}
	driver, err := neo4jdrv.NewDriverWithContext(params.URI, neo4jdrv.BasicAuth(params.Username, params.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	now := params.Clock
	if now == nil {
		now = time.Now
	}
	s := &Neo4jStorage{driver: driver, dbName: params.Database, now: now}
	if err := s.ensureConstraints(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Neo4jStorage) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStorage) session(ctx context.Context) neo4jdrv.SessionWithContext {
	return s.driver.NewSession(ctx, neo4jdrv.SessionConfig{DatabaseName: s.dbName})
}

func (s *Neo4jStorage) ensureConstraints(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	for _, stmt := range constraintStatements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo4j: %s: %w", stmt, err)
		}
	}
	return nil
}

func (s *Neo4jStorage) UpsertEntity(ctx context.Context, entity common.Entity) (common.Entity, error) {
	if err := store.ValidateEntity(entity); err != nil {
		return common.Entity{}, err
	}
	if entity.Namespace == "" {
		entity.Namespace = common.DefaultNamespace
	}
	key := entity.NaturalKey()

	s.upsertMu.Lock()
	defer s.upsertMu.Unlock()

	session := s.session(ctx)
	defer session.Close(ctx)

	saved, err := session.ExecuteWrite(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		e := entity
		ownerID, keyTaken, err := singleString(ctx, tx, entityByKeyCypher, map[string]any{"key": key}, "id")
		if err != nil {
			return nil, err
		}
		switch {
		case e.ID == "" && keyTaken:
			e.ID = ownerID
		case e.ID == "":
			e.ID = store.NewID()
		case keyTaken && ownerID != e.ID:
			return nil, fmt.Errorf("%w: %s already registered as %s", store.ErrConflict, key, ownerID)
		}

		now := s.now()
		prev, err := s.entitiesTx(ctx, tx, entityByIDCypher, map[string]any{"id": e.ID})
		if err != nil {
			return nil, err
		}
		switch {
		case len(prev) > 0:
			e.CreatedAt = prev[0].CreatedAt
		case e.CreatedAt.IsZero():
			e.CreatedAt = now
		}
		e.UpdatedAt = now

		doc, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("neo4j: encode entity %s: %w", e.ID, err)
		}
		if _, err := tx.Run(ctx, mergeEntityCypher, map[string]any{"id": e.ID, "props": entityProps(e, string(doc))}); err != nil {
			return nil, err
		}
		return e, nil
	})
	if err != nil {
		return common.Entity{}, err
	}
	return saved.(common.Entity), nil
}

func (s *Neo4jStorage) UpsertRelationship(ctx context.Context, rel common.Relationship) (common.Relationship, error) {
	if err := store.ValidateRelationship(rel); err != nil {
		return common.Relationship{}, err
	}
	if rel.ID == "" {
		rel.ID = store.NewID()
	}
	now := s.now()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	rel.UpdatedAt = now
	doc, err := json.Marshal(rel)
	if err != nil {
		return common.Relationship{}, fmt.Errorf("neo4j: encode relationship %s: %w", rel.Key(), err)
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	saved, err := session.ExecuteWrite(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, mergeRelationshipCypher, map[string]any{
			"source":        rel.SourceID,
			"target":        rel.TargetID,
			"type":          string(rel.Type),
			"id":            rel.ID,
			"created_at":    formatTime(rel.CreatedAt),
			"stale":         rel.Stale,
			"last_analyzed": formatTime(rel.LastAnalyzed),
			"document":      string(doc),
			"updated_at":    formatTime(now),
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("%w: relationship endpoint %s -> %s", store.ErrNotFound, rel.SourceID, rel.TargetID)
		}
		out := rel
		out.ID, _, _ = neo4jdrv.GetRecordValue[string](records[0], "id")
		created, _, _ := neo4jdrv.GetRecordValue[string](records[0], "created_at")
		out.CreatedAt = parseTime(created)
		return out, nil
	})
	if err != nil {
		return common.Relationship{}, err
	}
	return saved.(common.Relationship), nil
}

func (s *Neo4jStorage) GetEntity(ctx context.Context, id string) (common.Entity, error) {
	ents, err := s.readEntities(ctx, entityByIDCypher, map[string]any{"id": id})
	if err != nil {
		return common.Entity{}, err
	}
	if len(ents) == 0 {
		return common.Entity{}, fmt.Errorf("%w: entity %s", store.ErrNotFound, id)
	}
	return ents[0], nil
}

func (s *Neo4jStorage) ListEntities(ctx context.Context, includeInactive bool) ([]common.Entity, error) {
	return s.Query(ctx, store.Query{IncludeInactive: includeInactive})
}

func (s *Neo4jStorage) Query(ctx context.Context, q store.Query) ([]common.Entity, error) {
	cypher, params := buildEntityQuery(q)
	return s.readEntities(ctx, cypher, params)
}

func (s *Neo4jStorage) FindByKeyword(ctx context.Context, field store.KeywordField, term string) ([]common.Entity, error) {
	if strings.TrimSpace(term) == "" {
		return nil, nil
	}
	cypher, params, ok := buildKeywordQuery(field, term)
	if !ok {
		return nil, nil
	}
	return s.readEntities(ctx, cypher, params)
}

func (s *Neo4jStorage) GetRelationships(ctx context.Context, id string, opts store.RelatedOptions) ([]common.Relationship, error) {
	if _, err := s.GetEntity(ctx, id); err != nil {
		return nil, err
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, relationshipsCypher, map[string]any{
			"id":      id,
			"reverse": opts.IncludeReverse,
			"types":   stringsOf(opts.Types),
			"stale":   opts.IncludeStale,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rels := make([]common.Relationship, 0, len(records))
		for _, rec := range records {
			rel, err := decodeRelationship(rec)
			if err != nil {
				return nil, err
			}
			rels = append(rels, rel)
		}
		return rels, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]common.Relationship), nil
}

func (s *Neo4jStorage) GetRelated(ctx context.Context, id string, opts store.RelatedOptions) ([]common.Entity, error) {
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
	return s.readEntities(ctx, entitiesByIDCypher, map[string]any{"ids": others})
}

func (s *Neo4jStorage) MarkRelationshipsStale(ctx context.Context, keys []common.RelationshipKey, analyzedAt time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, markStaleCypher, map[string]any{
			"keys":        staleKeyParams(keys),
			"analyzed_at": formatTime(analyzedAt),
			"updated_at":  formatTime(s.now()),
		})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		updated, _, _ := neo4jdrv.GetRecordValue[int64](rec, "updated")
		log.Debug("Marked relationships stale", "requested", len(keys), "updated", updated)
		return nil, nil
	})
	return err
}

func (s *Neo4jStorage) DeactivateEntity(ctx context.Context, id string) error {
	e, err := s.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	e.Inactive = true
	e.UpdatedAt = s.now()
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}

	session := s.session(ctx)
	defer session.Close(ctx)
	_, err = session.ExecuteWrite(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		_, found, err := singleString(ctx, tx, deactivateEntityCypher, map[string]any{"id": id, "document": string(doc)}, "id")
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: entity %s", store.ErrNotFound, id)
		}
		return nil, nil
	})
	return err
}

func (s *Neo4jStorage) readEntities(ctx context.Context, cypher string, params map[string]any) ([]common.Entity, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4jdrv.ManagedTransaction) (any, error) {
		return s.entitiesTx(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, err
	}
	return out.([]common.Entity), nil
}

func (s *Neo4jStorage) entitiesTx(ctx context.Context, tx neo4jdrv.ManagedTransaction, cypher string, params map[string]any) ([]common.Entity, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]common.Entity, 0, len(records))
	for _, rec := range records {
		e, err := decodeEntity(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func singleString(ctx context.Context, tx neo4jdrv.ManagedTransaction, cypher string, params map[string]any, key string) (string, bool, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return "", false, err
	}
	records, err := res.Collect(ctx)
	if err != nil || len(records) == 0 {
		return "", false, err
	}
	v, _, err := neo4jdrv.GetRecordValue[string](records[0], key)
	return v, err == nil, err
}

func decodeEntity(rec *neo4jdrv.Record) (common.Entity, error) {
	id, _, err := neo4jdrv.GetRecordValue[string](rec, "id")
	if err != nil {
		return common.Entity{}, err
	}
	doc, _, err := neo4jdrv.GetRecordValue[string](rec, "document")
	if err != nil {
		return common.Entity{}, err
	}
	var e common.Entity
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return common.Entity{}, fmt.Errorf("neo4j: decode entity %s: %w", id, err)
	}
	e.ID = id
	e.Inactive, _, _ = neo4jdrv.GetRecordValue[bool](rec, "inactive")
	return e, nil
}

func decodeRelationship(rec *neo4jdrv.Record) (common.Relationship, error) {
	id, _, err := neo4jdrv.GetRecordValue[string](rec, "id")
	if err != nil {
		return common.Relationship{}, err
	}
	doc, _, err := neo4jdrv.GetRecordValue[string](rec, "document")
	if err != nil {
		return common.Relationship{}, err
	}
	var rel common.Relationship
	if err := json.Unmarshal([]byte(doc), &rel); err != nil {
		return common.Relationship{}, fmt.Errorf("neo4j: decode relationship %s: %w", id, err)
	}
	rel.ID = id
	rel.Stale, _, _ = neo4jdrv.GetRecordValue[bool](rec, "stale")
	analyzed, _, _ := neo4jdrv.GetRecordValue[string](rec, "last_analyzed")
	rel.LastAnalyzed = parseTime(analyzed)
	created, _, _ := neo4jdrv.GetRecordValue[string](rec, "created_at")
	rel.CreatedAt = parseTime(created)
	updated, _, _ := neo4jdrv.GetRecordValue[string](rec, "updated_at")
	rel.UpdatedAt = parseTime(updated)
	return rel, nil
}

// Times are stored as RFC 3339 strings; the zero time is stored empty.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
