// Package memory implements store.GraphStorage on in-process maps. It backs
// the CLI, the tests and single-node deployments without a database.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// MemoryStorage is safe for concurrent use. Reads take a shared lock and
// always observe the latest completed upsert. Entities are copied on the way
// in and out, so callers never share maps with the store.
type MemoryStorage struct {
	mu sync.RWMutex

	entities map[string]common.Entity // by id
	byKey    map[string]string        // natural key -> id

	relationships map[common.RelationshipKey]common.Relationship
	out           map[string][]common.RelationshipKey
	in            map[string][]common.RelationshipKey

	now func() time.Time
}

type Option func(*MemoryStorage)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

func New(opts ...Option) *MemoryStorage {
	s := &MemoryStorage{
		entities:      make(map[string]common.Entity),
		byKey:         make(map[string]string),
		relationships: make(map[common.RelationshipKey]common.Relationship),
		out:           make(map[string][]common.RelationshipKey),
		in:            make(map[string][]common.RelationshipKey),
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

var _ store.GraphStorage = (*MemoryStorage)(nil)

func (s *MemoryStorage) UpsertEntity(ctx context.Context, entity common.Entity) (common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return common.Entity{}, err
	}
	if err := store.ValidateEntity(entity); err != nil {
		return common.Entity{}, err
	}
	if entity.Namespace == "" {
		entity.Namespace = common.DefaultNamespace
	}
	key := entity.NaturalKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	ownerID, keyTaken := s.byKey[key]
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
	if prev, ok := s.entities[entity.ID]; ok {
		entity.CreatedAt = prev.CreatedAt
		if prevKey := prev.NaturalKey(); prevKey != key {
			delete(s.byKey, prevKey)
		}
	} else if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	s.entities[entity.ID] = entity.Clone()
	s.byKey[key] = entity.ID
	return entity, nil
}

func (s *MemoryStorage) UpsertRelationship(ctx context.Context, rel common.Relationship) (common.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return common.Relationship{}, err
	}
	if err := store.ValidateRelationship(rel); err != nil {
		return common.Relationship{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[rel.SourceID]; !ok {
		return common.Relationship{}, fmt.Errorf("%w: source entity %s", store.ErrNotFound, rel.SourceID)
	}
	if _, ok := s.entities[rel.TargetID]; !ok {
		return common.Relationship{}, fmt.Errorf("%w: target entity %s", store.ErrNotFound, rel.TargetID)
	}

	now := s.now()
	key := rel.Key()
	if prev, ok := s.relationships[key]; ok {
		rel.ID = prev.ID
		rel.CreatedAt = prev.CreatedAt
	} else {
		if rel.ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				return common.Relationship{}, err
			}
			rel.ID = id
		}
		if rel.CreatedAt.IsZero() {
			rel.CreatedAt = now
		}
		s.out[rel.SourceID] = append(s.out[rel.SourceID], key)
		s.in[rel.TargetID] = append(s.in[rel.TargetID], key)
	}
	rel.UpdatedAt = now
	rel.EvidenceIDs = slices.Clone(rel.EvidenceIDs)

	s.relationships[key] = rel
	return rel, nil
}

func (s *MemoryStorage) GetEntity(ctx context.Context, id string) (common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return common.Entity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return common.Entity{}, fmt.Errorf("%w: entity %s", store.ErrNotFound, id)
	}
	return e.Clone(), nil
}

func (s *MemoryStorage) ListEntities(ctx context.Context, includeInactive bool) ([]common.Entity, error) {
	return s.Query(ctx, store.Query{IncludeInactive: includeInactive})
}

func (s *MemoryStorage) GetRelated(ctx context.Context, id string, opts store.RelatedOptions) ([]common.Entity, error) {
	rels, err := s.GetRelationships(ctx, id, opts)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{}, len(rels))
	out := make([]common.Entity, 0, len(rels))
	for _, rel := range rels {
		other := rel.TargetID
		if other == id {
			other = rel.SourceID
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		e, ok := s.entities[other]
		if !ok || e.Inactive {
			continue
		}
		out = append(out, e.Clone())
	}
	sortEntities(out)
	return out, nil
}

func (s *MemoryStorage) GetRelationships(ctx context.Context, id string, opts store.RelatedOptions) ([]common.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[id]; !ok {
		return nil, fmt.Errorf("%w: entity %s", store.ErrNotFound, id)
	}

	keys := slices.Clone(s.out[id])
	if opts.IncludeReverse {
		keys = append(keys, s.in[id]...)
	}

	out := make([]common.Relationship, 0, len(keys))
	for _, k := range keys {
		rel := s.relationships[k]
		if !opts.Matches(rel) {
			continue
		}
		rel.EvidenceIDs = slices.Clone(rel.EvidenceIDs)
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out, nil
}

func (s *MemoryStorage) FindByKeyword(ctx context.Context, field store.KeywordField, term string) ([]common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(term) == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Entity
	for _, e := range s.entities {
		if e.Inactive {
			continue
		}
		if store.MatchesKeyword(e, field, term) {
			out = append(out, e.Clone())
		}
	}
	sortEntities(out)
	return out, nil
}

func (s *MemoryStorage) Query(ctx context.Context, q store.Query) ([]common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if q.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sortEntities(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStorage) MarkRelationshipsStale(ctx context.Context, keys []common.RelationshipKey, analyzedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		rel, ok := s.relationships[k]
		if !ok {
			continue
		}
		rel.Stale = true
		rel.LastAnalyzed = analyzedAt
		rel.UpdatedAt = s.now()
		s.relationships[k] = rel
	}
	return nil
}

func (s *MemoryStorage) DeactivateEntity(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("%w: entity %s", store.ErrNotFound, id)
	}
	e.Inactive = true
	e.UpdatedAt = s.now()
	s.entities[id] = e
	return nil
}

func sortEntities(es []common.Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
}
