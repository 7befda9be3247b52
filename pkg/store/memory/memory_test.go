package memory

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func mustUpsert(t *testing.T, s *MemoryStorage, e common.Entity) common.Entity {
	t.Helper()
	out, err := s.UpsertEntity(context.Background(), e)
	if err != nil {
		t.Fatalf("UpsertEntity(%s): %v", e.Name, err)
	}
	return out
}

func TestUpsertEntityIsIdempotentOnNaturalKey(t *testing.T) {
	s := New(WithClock(fixedClock()))
	ctx := context.Background()

	first := mustUpsert(t, s, common.Entity{Type: common.EntityService, Name: "auth-service"})
	if first.ID == "" {
		t.Fatal("expected an id to be assigned")
	}
	if first.Namespace != common.DefaultNamespace {
		t.Fatalf("namespace = %q, want %q", first.Namespace, common.DefaultNamespace)
	}

	second := mustUpsert(t, s, common.Entity{
		Type:        common.EntityService,
		Namespace:   "default",
		Name:        "auth-service",
		Description: "handles login",
	})
	if second.ID != first.ID {
		t.Fatalf("re-upsert changed id: %s -> %s", first.ID, second.ID)
	}

	all, err := s.ListEntities(ctx, false)
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(all))
	}
	if all[0].Description != "handles login" {
		t.Fatalf("update not applied: %+v", all[0])
	}
}

func TestUpsertEntityConflict(t *testing.T) {
	s := New()
	a := mustUpsert(t, s, common.Entity{Type: common.EntityService, Name: "a"})
	mustUpsert(t, s, common.Entity{Type: common.EntityService, Name: "b"})

	_, err := s.UpsertEntity(context.Background(), common.Entity{ID: a.ID, Type: common.EntityService, Name: "b"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpsertEntityValidation(t *testing.T) {
	s := New()
	tests := []common.Entity{
		{Name: "no-type"},
		{Type: common.EntityService},
	}
	for _, e := range tests {
		if _, err := s.UpsertEntity(context.Background(), e); err == nil {
			t.Fatalf("expected validation error for %+v", e)
		}
	}
}

func TestUpsertRelationship(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := mustUpsert(t, s, common.Entity{Type: common.EntityService, Name: "a"})
	b := mustUpsert(t, s, common.Entity{Type: common.EntityDatabase, Name: "b"})

	rel := common.Relationship{SourceID: a.ID, TargetID: b.ID, Type: common.RelStoresIn, Confidence: 70}
	first, err := s.UpsertRelationship(ctx, rel)
	if err != nil {
		t.Fatalf("UpsertRelationship: %v", err)
	}
	rel.Confidence = 90
	second, err := s.UpsertRelationship(ctx, rel)
	if err != nil {
		t.Fatalf("UpsertRelationship: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("re-upsert changed relationship id")
	}

	rels, err := s.GetRelationships(ctx, a.ID, store.RelatedOptions{})
	if err != nil {
		t.Fatalf("GetRelationships: %v", err)
	}
	if len(rels) != 1 || rels[0].Confidence != 90 {
		t.Fatalf("unexpected relationships: %+v", rels)
	}

	_, err = s.UpsertRelationship(ctx, common.Relationship{SourceID: a.ID, TargetID: "missing", Type: common.RelDependsOn})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRelated(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := mustUpsert(t, s, common.Entity{Type: common.EntityService, Name: "a"})
	b := mustUpsert(t, s, common.Entity{Type: common.EntityService, Name: "b"})
	c := mustUpsert(t, s, common.Entity{Type: common.EntityDatabase, Name: "c"})

	for _, r := range []common.Relationship{
		{SourceID: a.ID, TargetID: b.ID, Type: common.RelDependsOn},
		{SourceID: c.ID, TargetID: a.ID, Type: common.RelMonitors},
	} {
		if _, err := s.UpsertRelationship(ctx, r); err != nil {
			t.Fatalf("UpsertRelationship: %v", err)
		}
	}

	tests := []struct {
		name string
		opts store.RelatedOptions
		want []string
	}{
		{name: "outgoing only", opts: store.RelatedOptions{}, want: []string{b.ID}},
		{name: "with reverse", opts: store.RelatedOptions{IncludeReverse: true}, want: sortedIDs(b.ID, c.ID)},
		{name: "type filter", opts: store.RelatedOptions{IncludeReverse: true, Types: []common.RelationshipType{common.RelMonitors}}, want: []string{c.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetRelated(ctx, a.ID, tt.opts)
			if err != nil {
				t.Fatalf("GetRelated: %v", err)
			}
			ids := make([]string, len(got))
			for i, e := range got {
				ids[i] = e.ID
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Fatalf("GetRelated = %v, want %v", ids, tt.want)
			}
		})
	}
}

func sortedIDs(ids ...string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

func TestMarkRelationshipsStaleHidesFromTraversal(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := mustUpsert(t, s, common.Entity{Type: common.EntityService, Name: "a"})
	b := mustUpsert(t, s, common.Entity{Type: common.EntityService, Name: "b"})
	rel, err := s.UpsertRelationship(ctx, common.Relationship{SourceID: a.ID, TargetID: b.ID, Type: common.RelDependsOn})
	if err != nil {
		t.Fatalf("UpsertRelationship: %v", err)
	}

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := s.MarkRelationshipsStale(ctx, []common.RelationshipKey{rel.Key()}, at); err != nil {
		t.Fatalf("MarkRelationshipsStale: %v", err)
	}

	related, _ := s.GetRelated(ctx, a.ID, store.RelatedOptions{})
	if len(related) != 0 {
		t.Fatalf("stale relationship still traversed: %+v", related)
	}
	rels, _ := s.GetRelationships(ctx, a.ID, store.RelatedOptions{IncludeStale: true})
	if len(rels) != 1 || !rels[0].Stale || !rels[0].LastAnalyzed.Equal(at) {
		t.Fatalf("unexpected stale relationship: %+v", rels)
	}
}

func TestFindByKeywordAndQuery(t *testing.T) {
	s := New()
	ctx := context.Background()
	mustUpsert(t, s, common.Entity{
		Type:        common.EntityService,
		Name:        "auth-service",
		Description: "Issues tokens",
		Tags:        []string{"security"},
		Status:      common.EntityStatus{Health: common.HealthCritical},
		Lifecycle:   common.LifecycleInfo{Owner: "team-identity"},
	})
	mustUpsert(t, s, common.Entity{Type: common.EntityDatabase, Name: "orders-db", Labels: map[string]string{"tier": "gold"}})
	gone := mustUpsert(t, s, common.Entity{Type: common.EntityService, Name: "auth-legacy"})
	if err := s.DeactivateEntity(ctx, gone.ID); err != nil {
		t.Fatalf("DeactivateEntity: %v", err)
	}

	tests := []struct {
		field store.KeywordField
		term  string
		want  int
	}{
		{store.FieldName, "AUTH", 1},
		{store.FieldDescription, "tokens", 1},
		{store.FieldTags, "security", 1},
		{store.FieldTags, "gold", 1},
		{store.FieldName, "", 0},
		{store.FieldName, "billing", 0},
	}
	for _, tt := range tests {
		got, err := s.FindByKeyword(ctx, tt.field, tt.term)
		if err != nil {
			t.Fatalf("FindByKeyword: %v", err)
		}
		if len(got) != tt.want {
			t.Errorf("FindByKeyword(%s, %q) = %d results, want %d", tt.field, tt.term, len(got), tt.want)
		}
	}

	critical, err := s.Query(ctx, store.Query{Health: []common.HealthStatus{common.HealthCritical}, Owner: "team-identity"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(critical) != 1 || critical[0].Name != "auth-service" {
		t.Fatalf("unexpected query result: %+v", critical)
	}

	withInactive, _ := s.ListEntities(ctx, true)
	if len(withInactive) != 3 {
		t.Fatalf("expected 3 entities including inactive, got %d", len(withInactive))
	}
}

func TestConcurrentUpsertKeepsNaturalKeyUnique(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpsertEntity(context.Background(), common.Entity{Type: common.EntityService, Name: "shared"})
		}()
	}
	wg.Wait()

	all, _ := s.ListEntities(context.Background(), true)
	if len(all) != 1 {
		t.Fatalf("expected a single entity, got %d", len(all))
	}
}

func TestEntitiesAreCopiedInAndOut(t *testing.T) {
	s := New(WithClock(fixedClock()))
	ctx := context.Background()

	labels := map[string]string{"tier": "gold"}
	e := mustUpsert(t, s, common.Entity{Type: common.EntityService, Name: "auth", Labels: labels})
	labels["tier"] = "changed"

	got, err := s.GetEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Labels["tier"] != "gold" {
		t.Fatalf("input map aliased: tier = %q", got.Labels["tier"])
	}

	got.Labels["tier"] = "changed"
	listed, err := s.Query(ctx, store.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if listed[0].Labels["tier"] != "gold" {
		t.Fatalf("returned map aliased: tier = %q", listed[0].Labels["tier"])
	}
}
