package common

import "time"

type RelationshipType string

const (
	RelOwns             RelationshipType = "owns"
	RelDependsOn        RelationshipType = "depends_on"
	RelProvides         RelationshipType = "provides"
	RelConsumes         RelationshipType = "consumes"
	RelPartOf           RelationshipType = "part_of"
	RelDeploys          RelationshipType = "deploys"
	RelMonitors         RelationshipType = "monitors"
	RelAuthorizes       RelationshipType = "authorizes"
	RelScalesWith       RelationshipType = "scales_with"
	RelFailsWith        RelationshipType = "fails_with"
	RelCommunicatesWith RelationshipType = "communicates_with"
	RelStoresIn         RelationshipType = "stores_in"
	RelReadsFrom        RelationshipType = "reads_from"
	RelWritesTo         RelationshipType = "writes_to"
	RelTriggers         RelationshipType = "triggers"
	RelSubscribesTo     RelationshipType = "subscribes_to"
	RelSimilarTo        RelationshipType = "similar_to"
	RelInfluencedBy     RelationshipType = "influenced_by"
	RelCorrelatedWith   RelationshipType = "correlated_with"
)

// RelationshipTypes lists every relationship type in a fixed order. The
// inference classifier iterates this slice so its results are stable.
var RelationshipTypes = []RelationshipType{
	RelOwns, RelDependsOn, RelProvides, RelConsumes, RelPartOf, RelDeploys,
	RelMonitors, RelAuthorizes, RelScalesWith, RelFailsWith, RelCommunicatesWith,
	RelStoresIn, RelReadsFrom, RelWritesTo, RelTriggers, RelSubscribesTo,
	RelSimilarTo, RelInfluencedBy, RelCorrelatedWith,
}

type DiscoveredBy string

const (
	DiscoveredAuto     DiscoveredBy = "auto"
	DiscoveredManual   DiscoveredBy = "manual"
	DiscoveredInferred DiscoveredBy = "inferred"
)

type RelationshipHealthStatus string

const (
	RelHealthy  RelationshipHealthStatus = "healthy"
	RelDegraded RelationshipHealthStatus = "degraded"
	RelBroken   RelationshipHealthStatus = "broken"
	RelUnknown  RelationshipHealthStatus = "unknown"
)

// RelationshipHealth holds the derived status of an edge together with the
// samples that produced it. Latency is in milliseconds.
type RelationshipHealth struct {
	Status      RelationshipHealthStatus `json:"status"`
	Latency     float64                  `json:"latency,omitempty"`
	ErrorRate   float64                  `json:"errorRate,omitempty"`
	Throughput  float64                  `json:"throughput,omitempty"`
	LastChecked time.Time                `json:"lastChecked,omitzero"`
}

type RelationshipProperties struct {
	Protocol    string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	Schema      string `json:"schema,omitempty" yaml:"schema,omitempty"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Region      string `json:"region,omitempty" yaml:"region,omitempty"`
}

// Relationship is a directed, typed edge between two entity IDs.
// At most one relationship exists per (SourceID, TargetID, Type).
type Relationship struct {
	ID           string                 `json:"id" yaml:"id"`
	SourceID     string                 `json:"sourceId" yaml:"sourceId"`
	TargetID     string                 `json:"targetId" yaml:"targetId"`
	Type         RelationshipType       `json:"type" yaml:"type"`
	Confidence   float64                `json:"confidence" yaml:"confidence"`
	Strength     float64                `json:"strength" yaml:"strength"`
	Health       RelationshipHealth     `json:"health" yaml:"health,omitempty"`
	Properties   RelationshipProperties `json:"properties" yaml:"properties,omitempty"`
	DiscoveredBy DiscoveredBy           `json:"discoveredBy" yaml:"discoveredBy"`
	EvidenceIDs  []string               `json:"evidenceIds,omitempty" yaml:"evidenceIds,omitempty"`
	Stale        bool                   `json:"stale,omitempty" yaml:"stale,omitempty"`
	LastAnalyzed time.Time              `json:"lastAnalyzed,omitzero" yaml:"lastAnalyzed,omitempty"`
	CreatedAt    time.Time              `json:"createdAt,omitzero" yaml:"createdAt,omitempty"`
	UpdatedAt    time.Time              `json:"updatedAt,omitzero" yaml:"updatedAt,omitempty"`
}

// RelationshipKey identifies a relationship by its unique triple.
type RelationshipKey struct {
	SourceID string
	TargetID string
	Type     RelationshipType
}

func (r Relationship) Key() RelationshipKey {
	return RelationshipKey{SourceID: r.SourceID, TargetID: r.TargetID, Type: r.Type}
}

func (k RelationshipKey) String() string {
	return k.SourceID + "->" + k.TargetID + ":" + string(k.Type)
}
