package neo4j

import (
	"strings"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

// Entities are :Entity nodes and relationships are :RELATES edges with the
// relationship type as a property, since Cypher cannot parameterise edge
// types. Every node and edge carries its JSON document plus the properties
// lookups need.

var constraintStatements = []string{
	"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
	"CREATE CONSTRAINT entity_natural_key IF NOT EXISTS FOR (e:Entity) REQUIRE e.natural_key IS UNIQUE",
	"CREATE INDEX entity_name IF NOT EXISTS FOR (e:Entity) ON (e.name_lower)",
}

const entityReturn = "RETURN e.id AS id, e.document AS document, e.inactive AS inactive"

const mergeEntityCypher = `
MERGE (e:Entity {id: $id})
SET e += $props
`

const entityByKeyCypher = `
MATCH (e:Entity {natural_key: $key})
RETURN e.id AS id
`

const entityByIDCypher = `
MATCH (e:Entity {id: $id})
` + entityReturn

const entitiesByIDCypher = `
MATCH (e:Entity)
WHERE e.id IN $ids AND NOT e.inactive
` + entityReturn + `
ORDER BY e.id
`

const deactivateEntityCypher = `
MATCH (e:Entity {id: $id})
SET e.inactive = true, e.document = $document
RETURN e.id AS id
`

const mergeRelationshipCypher = `
MATCH (s:Entity {id: $source}), (t:Entity {id: $target})
MERGE (s)-[r:RELATES {type: $type}]->(t)
ON CREATE SET r.id = $id, r.created_at = $created_at
SET r.stale = $stale,
    r.last_analyzed = $last_analyzed,
    r.document = $document,
    r.updated_at = $updated_at
RETURN r.id AS id, r.created_at AS created_at
`

const relationshipsCypher = `
MATCH (s:Entity)-[r:RELATES]->(t:Entity)
WHERE (s.id = $id OR ($reverse AND t.id = $id))
  AND (size($types) = 0 OR r.type IN $types)
  AND ($stale OR NOT r.stale)
RETURN r.id AS id, r.document AS document, r.stale AS stale,
       r.last_analyzed AS last_analyzed, r.created_at AS created_at, r.updated_at AS updated_at
ORDER BY s.id, t.id, r.type
`

const markStaleCypher = `
UNWIND $keys AS k
MATCH (:Entity {id: k.source})-[r:RELATES {type: k.type}]->(:Entity {id: k.target})
SET r.stale = true, r.last_analyzed = $analyzed_at, r.updated_at = $updated_at
RETURN count(r) AS updated
`

// entityProps flattens the searchable parts of e into node properties.
func entityProps(e common.Entity, document string) map[string]any {
	compliance := e.Compliance.State
	if compliance == "" {
		compliance = common.ComplianceUnknown
	}
	return map[string]any{
		"natural_key":       e.NaturalKey(),
		"type":              string(e.Type),
		"namespace":         e.Namespace,
		"name":              e.Name,
		"name_lower":        strings.ToLower(e.Name),
		"title_lower":       strings.ToLower(e.Title),
		"description_lower": strings.ToLower(e.Description),
		"search_text":       e.SearchableText(),
		"health":            string(e.Health()),
		"compliance":        string(compliance),
		"owner":             e.Lifecycle.Owner,
		"team":              e.Lifecycle.Team,
		"inactive":          e.Inactive,
		"document":          document,
	}
}

func stringsOf[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// buildEntityQuery renders q as a MATCH over :Entity nodes.
func buildEntityQuery(q store.Query) (string, map[string]any) {
	var conds []string
	params := map[string]any{}
	if !q.IncludeInactive {
		conds = append(conds, "NOT e.inactive")
	}
	if len(q.Types) > 0 {
		conds = append(conds, "e.type IN $types")
		params["types"] = stringsOf(q.Types)
	}
	if q.Namespace != "" {
		conds = append(conds, "e.namespace = $namespace")
		params["namespace"] = q.Namespace
	}
	if len(q.Health) > 0 {
		conds = append(conds, "e.health IN $health")
		params["health"] = stringsOf(q.Health)
	}
	if len(q.Compliance) > 0 {
		conds = append(conds, "e.compliance IN $compliance")
		params["compliance"] = stringsOf(q.Compliance)
	}
	if q.Owner != "" {
		conds = append(conds, "e.owner = $owner")
		params["owner"] = q.Owner
	}
	if q.Team != "" {
		conds = append(conds, "e.team = $team")
		params["team"] = q.Team
	}

	var b strings.Builder
	b.WriteString("MATCH (e:Entity)")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" " + entityReturn + " ORDER BY e.id")
	if q.Limit > 0 {
		b.WriteString(" LIMIT $limit")
		params["limit"] = int64(q.Limit)
	}
	return b.String(), params
}

// buildKeywordQuery renders a case-insensitive substring lookup on field.
// ok is false for unknown fields.
func buildKeywordQuery(field store.KeywordField, term string) (cypher string, params map[string]any, ok bool) {
	var cond string
	switch field {
	case store.FieldName:
		cond = "(e.name_lower CONTAINS $term OR e.title_lower CONTAINS $term)"
	case store.FieldDescription:
		cond = "e.description_lower CONTAINS $term"
	case store.FieldTags:
		cond = "e.search_text CONTAINS $term"
	default:
		return "", nil, false
	}
	cypher = "MATCH (e:Entity) WHERE NOT e.inactive AND " + cond + " " + entityReturn + " ORDER BY e.id"
	return cypher, map[string]any{"term": strings.ToLower(strings.TrimSpace(term))}, true
}

func staleKeyParams(keys []common.RelationshipKey) []map[string]any {
	out := make([]map[string]any, len(keys))
	for i, k := range keys {
		out[i] = map[string]any{"source": k.SourceID, "target": k.TargetID, "type": string(k.Type)}
	}
	return out
}
