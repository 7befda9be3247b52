package store

import (
	"context"
	"errors"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
)

var (
	// ErrNotFound is returned when an entity or relationship does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an upsert would break the natural key
	// uniqueness, e.g. an existing ID re-pointed at another entity's key.
	ErrConflict = errors.New("store: conflict")
)

// KeywordField selects which entity fields FindByKeyword searches.
type KeywordField string

const (
	FieldName        KeywordField = "name"
	FieldDescription KeywordField = "description"
	// FieldTags searches tags plus label and annotation values.
	FieldTags KeywordField = "tags"
)

// RelatedOptions restricts a neighbourhood lookup. An empty Types slice
// matches every relationship type. Outgoing edges are always followed;
// IncludeReverse additionally follows incoming edges.
type RelatedOptions struct {
	Types          []common.RelationshipType
	IncludeReverse bool
	IncludeStale   bool
}

// Matches reports whether rel passes the type and staleness restrictions.
func (o RelatedOptions) Matches(rel common.Relationship) bool {
	if rel.Stale && !o.IncludeStale {
		return false
	}
	if len(o.Types) == 0 {
		return true
	}
	for _, t := range o.Types {
		if t == rel.Type {
			return true
		}
	}
	return false
}

// Query is a structured entity lookup. Zero-valued fields do not restrict
// the result. All populated fields must match.
type Query struct {
	Types           []common.EntityType
	Namespace       string
	Health          []common.HealthStatus
	Compliance      []common.ComplianceState
	Owner           string
	Team            string
	IncludeInactive bool
	Limit           int
}

// Matches evaluates q against a single entity. Backends without native
// query support filter with it.
func (q Query) Matches(e common.Entity) bool {
	if e.Inactive && !q.IncludeInactive {
		return false
	}
	if len(q.Types) > 0 && !contains(q.Types, e.Type) {
		return false
	}
	if q.Namespace != "" && q.Namespace != e.Namespace {
		return false
	}
	if len(q.Health) > 0 && !contains(q.Health, e.Health()) {
		return false
	}
	if len(q.Compliance) > 0 {
		state := e.Compliance.State
		if state == "" {
			state = common.ComplianceUnknown
		}
		if !contains(q.Compliance, state) {
			return false
		}
	}
	if q.Owner != "" && q.Owner != e.Lifecycle.Owner {
		return false
	}
	if q.Team != "" && q.Team != e.Lifecycle.Team {
		return false
	}
	return true
}

func contains[T comparable](s []T, v T) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// GraphStorage is the contract between the catalog core and its backing
// store. Upserts are idempotent on the natural key of the record and reads
// observe the latest successful upsert made by the same process.
type GraphStorage interface {
	UpsertEntity(ctx context.Context, entity common.Entity) (common.Entity, error)
	UpsertRelationship(ctx context.Context, rel common.Relationship) (common.Relationship, error)

	GetEntity(ctx context.Context, id string) (common.Entity, error)
	ListEntities(ctx context.Context, includeInactive bool) ([]common.Entity, error)
	GetRelated(ctx context.Context, id string, opts RelatedOptions) ([]common.Entity, error)
	GetRelationships(ctx context.Context, id string, opts RelatedOptions) ([]common.Relationship, error)
	FindByKeyword(ctx context.Context, field KeywordField, term string) ([]common.Entity, error)
	Query(ctx context.Context, q Query) ([]common.Entity, error)

	// MarkRelationshipsStale flags the given relationships as superseded
	// and records analyzedAt as their LastAnalyzed time.
	MarkRelationshipsStale(ctx context.Context, keys []common.RelationshipKey, analyzedAt time.Time) error
	// DeactivateEntity marks an entity inactive. Entities are never
	// hard-deleted.
	DeactivateEntity(ctx context.Context, id string) error
}

// ValidateEntity checks the fields required to compute a natural key.
func ValidateEntity(e common.Entity) error {
	if e.Type == "" {
		return errors.New("store: entity type is required")
	}
	if e.Name == "" {
		return errors.New("store: entity name is required")
	}
	return nil
}

// ValidateRelationship checks the fields that make up a relationship key.
func ValidateRelationship(r common.Relationship) error {
	if r.SourceID == "" || r.TargetID == "" {
		return errors.New("store: relationship endpoints are required")
	}
	if r.Type == "" {
		return errors.New("store: relationship type is required")
	}
	return nil
}
