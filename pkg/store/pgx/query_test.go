package pgx

import (
	"io/fs"
	"reflect"
	"strings"
	"testing"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

func TestBuildEntityQuery(t *testing.T) {
	const sel = "SELECT id, document, inactive, created_at, updated_at FROM entities"

	tests := []struct {
		name     string
		q        store.Query
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "active only",
			q:       store.Query{},
			wantSQL: sel + " WHERE NOT inactive ORDER BY id",
		},
		{
			name:    "include inactive",
			q:       store.Query{IncludeInactive: true},
			wantSQL: sel + " ORDER BY id",
		},
		{
			name: "types and namespace",
			q: store.Query{
				Types:     []common.EntityType{common.EntityService, common.EntityDatabase},
				Namespace: "shop",
			},
			wantSQL:  sel + " WHERE NOT inactive AND type = ANY($1) AND namespace = $2 ORDER BY id",
			wantArgs: []any{[]string{"service", "database"}, "shop"},
		},
		{
			name: "health compliance owner team limit",
			q: store.Query{
				Health:          []common.HealthStatus{common.HealthCritical},
				Compliance:      []common.ComplianceState{common.ComplianceNonCompliant},
				Owner:           "alice",
				Team:            "payments",
				IncludeInactive: true,
				Limit:           5,
			},
			wantSQL: sel + " WHERE coalesce(nullif(document->'status'->>'health', ''), 'unknown') = ANY($1)" +
				" AND coalesce(nullif(document->'compliance'->>'state', ''), 'unknown') = ANY($2)" +
				" AND document->'lifecycle'->>'owner' = $3" +
				" AND document->'lifecycle'->>'team' = $4" +
				" ORDER BY id LIMIT $5",
			wantArgs: []any{[]string{"critical"}, []string{"non_compliant"}, "alice", "payments", 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildEntityQuery(tt.q)
			if sql != tt.wantSQL {
				t.Fatalf("sql:\n got %q\nwant %q", sql, tt.wantSQL)
			}
			if len(args) != len(tt.wantArgs) || (len(args) > 0 && !reflect.DeepEqual(args, tt.wantArgs)) {
				t.Fatalf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

func TestBuildKeywordQuery(t *testing.T) {
	tests := []struct {
		field    store.KeywordField
		contains string
	}{
		{field: store.FieldName, contains: "lower(name) LIKE $1"},
		{field: store.FieldDescription, contains: "document->>'description'"},
		{field: store.FieldTags, contains: "search_text LIKE $1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			sql, args, ok := buildKeywordQuery(tt.field, " Pay_ments ")
			if !ok {
				t.Fatal("expected a query")
			}
			if !strings.Contains(sql, tt.contains) || !strings.HasPrefix(sql, "SELECT ") {
				t.Fatalf("unexpected sql %q", sql)
			}
			if !strings.Contains(sql, "NOT inactive") {
				t.Fatalf("inactive entities must be excluded: %q", sql)
			}
			if !reflect.DeepEqual(args, []any{`%pay\_ments%`}) {
				t.Fatalf("args = %#v", args)
			}
		})
	}

	if _, _, ok := buildKeywordQuery("owner", "x"); ok {
		t.Fatal("unknown field should not produce a query")
	}
}

func TestLikePattern(t *testing.T) {
	tests := map[string]string{
		"orders":   "%orders%",
		"100%":     `%100\%%`,
		`a\b`:      `%a\\b%`,
		" Mixed ":  "%mixed%",
		"snake_id": `%snake\_id%`,
	}
	for in, want := range tests {
		if got := likePattern(in); got != want {
			t.Errorf("likePattern(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeEntity(t *testing.T) {
	e := sanitizeEntity(common.Entity{
		Name:        "orders\x00-api",
		Description: "bad \xff byte",
		Labels:      map[string]string{"ti\x00er": "go\x00ld"},
		Tags:        []string{"a\x00b"},
	})
	if e.Name != "orders-api" || e.Description != "bad  byte" {
		t.Fatalf("unexpected text fields: %q %q", e.Name, e.Description)
	}
	if e.Labels["tier"] != "gold" {
		t.Fatalf("labels not sanitised: %v", e.Labels)
	}
	if e.Tags[0] != "ab" {
		t.Fatalf("tags not sanitised: %v", e.Tags)
	}
	if sanitizeEntity(common.Entity{}).Labels != nil {
		t.Fatal("nil maps should stay nil")
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	up, err := fs.ReadFile(migrations, "migrations/000001_catalog.up.sql")
	if err != nil {
		t.Fatalf("read up migration: %v", err)
	}
	for _, table := range []string{"entities", "relationships", "app_locks"} {
		if !strings.Contains(string(up), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("up migration does not create %s", table)
		}
	}
	if _, err := fs.ReadFile(migrations, "migrations/000001_catalog.down.sql"); err != nil {
		t.Fatalf("read down migration: %v", err)
	}
}
