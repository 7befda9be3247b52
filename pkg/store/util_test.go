package store_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
	"github.com/asklokesh/next-portal/catalog/pkg/store/memory"
)

func TestChunkRange(t *testing.T) {
	tests := []struct {
		name  string
		total int
		size  int
		want  [][2]int
	}{
		{"empty", 0, 3, nil},
		{"exact", 6, 3, [][2]int{{0, 3}, {3, 6}}},
		{"remainder", 7, 3, [][2]int{{0, 3}, {3, 6}, {6, 7}}},
		{"zero size is one chunk", 4, 0, [][2]int{{0, 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]int
			err := store.ChunkRange(tt.total, tt.size, func(start, end int) error {
				got = append(got, [2]int{start, end})
				return nil
			})
			if err != nil {
				t.Fatalf("ChunkRange: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("chunks = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChunkRangeStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := store.ChunkRange(10, 2, func(start, end int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err = %v after %d calls", err, calls)
	}
}

func TestDedupeStrings(t *testing.T) {
	got := store.DedupeStrings([]string{"b", "", "a", "b", "a", "c"})
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DedupeStrings = %v, want %v", got, want)
	}
	if store.DedupeStrings(nil) != nil {
		t.Fatal("DedupeStrings(nil) should be nil")
	}
}

func TestMatchesKeyword(t *testing.T) {
	e := common.Entity{
		Name:        "Payments-API",
		Title:       "Payment Gateway",
		Description: "Charges credit cards",
		Labels:      map[string]string{"tier": "gold"},
		Tags:        []string{"PCI"},
	}
	tests := []struct {
		field store.KeywordField
		term  string
		want  bool
	}{
		{store.FieldName, "payments", true},
		{store.FieldName, "gateway", true},
		{store.FieldName, "credit", false},
		{store.FieldDescription, " CREDIT ", true},
		{store.FieldTags, "pci", true},
		{store.FieldTags, "gold", true},
		{store.FieldTags, "payments", false},
		{store.FieldName, "  ", false},
		{store.KeywordField("owner"), "payments", false},
	}
	for _, tt := range tests {
		if got := store.MatchesKeyword(e, tt.field, tt.term); got != tt.want {
			t.Errorf("MatchesKeyword(%s, %q) = %v, want %v", tt.field, tt.term, got, tt.want)
		}
	}
}

func TestImportGraph(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	g := common.Graph{
		Entities: []common.Entity{
			{ID: "a", Type: common.EntityService, Name: "a"},
			{ID: "b", Type: common.EntityDatabase, Name: "b"},
		},
		Relationships: []common.Relationship{
			{SourceID: "a", TargetID: "b", Type: common.RelDependsOn},
		},
	}
	if err := store.ImportGraph(ctx, s, g, 2); err != nil {
		t.Fatalf("ImportGraph: %v", err)
	}
	rels, err := s.GetRelationships(ctx, "a", store.RelatedOptions{})
	if err != nil || len(rels) != 1 {
		t.Fatalf("relationships = %v, %v", rels, err)
	}

	g.Relationships = append(g.Relationships, common.Relationship{SourceID: "a", TargetID: "missing", Type: common.RelOwns})
	if err := store.ImportGraph(ctx, memory.New(), g, 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestQueryMatches(t *testing.T) {
	e := common.Entity{
		Type:      common.EntityService,
		Namespace: "shop",
		Status:    common.EntityStatus{Health: common.HealthWarning},
		Lifecycle: common.LifecycleInfo{Owner: "alice", Team: "checkout"},
	}
	tests := []struct {
		name string
		q    store.Query
		want bool
	}{
		{"empty", store.Query{}, true},
		{"type", store.Query{Types: []common.EntityType{common.EntityDatabase}}, false},
		{"namespace", store.Query{Namespace: "shop"}, true},
		{"health", store.Query{Health: []common.HealthStatus{common.HealthWarning, common.HealthCritical}}, true},
		{"unknown compliance", store.Query{Compliance: []common.ComplianceState{common.ComplianceUnknown}}, true},
		{"owner", store.Query{Owner: "bob"}, false},
		{"team", store.Query{Team: "checkout"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Matches(e); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}

	e.Inactive = true
	if (store.Query{}).Matches(e) {
		t.Fatal("inactive entity matched without IncludeInactive")
	}
}
