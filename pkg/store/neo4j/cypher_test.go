package neo4j

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

func TestBuildEntityQuery(t *testing.T) {
	const ret = " RETURN e.id AS id, e.document AS document, e.inactive AS inactive ORDER BY e.id"

	tests := []struct {
		name       string
		q          store.Query
		wantCypher string
		wantParams map[string]any
	}{
		{
			name:       "active only",
			q:          store.Query{},
			wantCypher: "MATCH (e:Entity) WHERE NOT e.inactive" + ret,
			wantParams: map[string]any{},
		},
		{
			name:       "include inactive",
			q:          store.Query{IncludeInactive: true},
			wantCypher: "MATCH (e:Entity)" + ret,
			wantParams: map[string]any{},
		},
		{
			name: "all fields",
			q: store.Query{
				Types:      []common.EntityType{common.EntityService},
				Namespace:  "shop",
				Health:     []common.HealthStatus{common.HealthCritical, common.HealthDegraded},
				Compliance: []common.ComplianceState{common.CompliancePartial},
				Owner:      "alice",
				Team:       "payments",
				Limit:      10,
			},
			wantCypher: "MATCH (e:Entity) WHERE NOT e.inactive AND e.type IN $types AND e.namespace = $namespace" +
				" AND e.health IN $health AND e.compliance IN $compliance AND e.owner = $owner AND e.team = $team" +
				ret + " LIMIT $limit",
			wantParams: map[string]any{
				"types":      []string{"service"},
				"namespace":  "shop",
				"health":     []string{"critical", "degraded"},
				"compliance": []string{"partial"},
				"owner":      "alice",
				"team":       "payments",
				"limit":      int64(10),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cypher, params := buildEntityQuery(tt.q)
			if cypher != tt.wantCypher {
				t.Fatalf("cypher:\n got %q\nwant %q", cypher, tt.wantCypher)
			}
			if !reflect.DeepEqual(params, tt.wantParams) {
				t.Fatalf("params = %#v, want %#v", params, tt.wantParams)
			}
		})
	}
}

func TestBuildKeywordQuery(t *testing.T) {
	tests := []struct {
		field    store.KeywordField
		contains string
	}{
		{field: store.FieldName, contains: "e.name_lower CONTAINS $term OR e.title_lower CONTAINS $term"},
		{field: store.FieldDescription, contains: "e.description_lower CONTAINS $term"},
		{field: store.FieldTags, contains: "e.search_text CONTAINS $term"},
	}
	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			cypher, params, ok := buildKeywordQuery(tt.field, "  Orders ")
			if !ok {
				t.Fatal("expected a query")
			}
			if !strings.Contains(cypher, tt.contains) || !strings.Contains(cypher, "NOT e.inactive") {
				t.Fatalf("unexpected cypher %q", cypher)
			}
			if params["term"] != "orders" {
				t.Fatalf("term = %v, want orders", params["term"])
			}
		})
	}
	if _, _, ok := buildKeywordQuery("owner", "x"); ok {
		t.Fatal("unknown field should not produce a query")
	}
}

func TestEntityProps(t *testing.T) {
	e := common.Entity{
		Type:        common.EntityService,
		Namespace:   "shop",
		Name:        "Orders",
		Title:       "Orders API",
		Description: "Takes ORDERS",
		Tags:        []string{"Core"},
		Lifecycle:   common.LifecycleInfo{Owner: "alice", Team: "payments"},
	}
	props := entityProps(e, "{}")

	want := map[string]any{
		"natural_key":       e.NaturalKey(),
		"type":              "service",
		"namespace":         "shop",
		"name":              "Orders",
		"name_lower":        "orders",
		"title_lower":       "orders api",
		"description_lower": "takes orders",
		"search_text":       "core",
		"health":            "unknown",
		"compliance":        "unknown",
		"owner":             "alice",
		"team":              "payments",
		"inactive":          false,
		"document":          "{}",
	}
	if !reflect.DeepEqual(props, want) {
		t.Fatalf("entityProps() = %#v\nwant %#v", props, want)
	}
}

func TestStaleKeyParams(t *testing.T) {
	got := staleKeyParams([]common.RelationshipKey{{SourceID: "a", TargetID: "b", Type: common.RelDependsOn}})
	want := []map[string]any{{"source": "a", "target": "b", "type": string(common.RelDependsOn)}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("staleKeyParams() = %v, want %v", got, want)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	if got := parseTime(formatTime(ts)); !got.Equal(ts) {
		t.Fatalf("round trip = %v, want %v", got, ts)
	}
	if formatTime(time.Time{}) != "" || !parseTime("").IsZero() || !parseTime("garbage").IsZero() {
		t.Fatal("zero and malformed times should map to the zero time")
	}
}
