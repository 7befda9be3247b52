package common

import (
	"strconv"
	"time"
)

type EvidenceType string

const (
	// Static analysis
	EvidenceCodeImports         EvidenceType = "code_imports"
	EvidenceDatabaseQueries     EvidenceType = "database_queries"
	EvidenceConfigReferences    EvidenceType = "config_references"
	EvidenceAPISchemaReferences EvidenceType = "api_schema_references"
	EvidenceDocumentationLinks  EvidenceType = "documentation_links"

	// Runtime
	EvidenceAPICalls          EvidenceType = "api_calls"
	EvidenceNetworkTraffic    EvidenceType = "network_traffic"
	EvidenceDistributedTraces EvidenceType = "distributed_traces"
	EvidenceMessageQueue      EvidenceType = "message_queue"

	// Infrastructure
	EvidenceKubernetesManifests EvidenceType = "kubernetes_manifests"
	EvidenceDockerCompose       EvidenceType = "docker_compose"
	EvidenceTerraformResources  EvidenceType = "terraform_resources"
	EvidenceServiceMesh         EvidenceType = "service_mesh"

	// Observability
	EvidenceMetricsCorrelation EvidenceType = "metrics_correlation"
	EvidenceLogCorrelation     EvidenceType = "log_correlation"
	EvidenceAlertCorrelation   EvidenceType = "alert_correlation"
	EvidenceErrorPropagation   EvidenceType = "error_propagation"

	// Organizational
	EvidenceOwnershipOverlap   EvidenceType = "ownership_overlap"
	EvidenceTeamStructure      EvidenceType = "team_structure"
	EvidenceDeploymentPatterns EvidenceType = "deployment_patterns"
)

type EvidenceCategory string

const (
	CategoryStatic         EvidenceCategory = "static"
	CategoryRuntime        EvidenceCategory = "runtime"
	CategoryInfrastructure EvidenceCategory = "infrastructure"
	CategoryObservability  EvidenceCategory = "observability"
	CategoryOrganizational EvidenceCategory = "organizational"
)

var evidenceCategories = map[EvidenceType]EvidenceCategory{
	EvidenceCodeImports:         CategoryStatic,
	EvidenceDatabaseQueries:     CategoryStatic,
	EvidenceConfigReferences:    CategoryStatic,
	EvidenceAPISchemaReferences: CategoryStatic,
	EvidenceDocumentationLinks:  CategoryStatic,
	EvidenceAPICalls:            CategoryRuntime,
	EvidenceNetworkTraffic:      CategoryRuntime,
	EvidenceDistributedTraces:   CategoryRuntime,
	EvidenceMessageQueue:        CategoryRuntime,
	EvidenceKubernetesManifests: CategoryInfrastructure,
	EvidenceDockerCompose:       CategoryInfrastructure,
	EvidenceTerraformResources:  CategoryInfrastructure,
	EvidenceServiceMesh:         CategoryInfrastructure,
	EvidenceMetricsCorrelation:  CategoryObservability,
	EvidenceLogCorrelation:      CategoryObservability,
	EvidenceAlertCorrelation:    CategoryObservability,
	EvidenceErrorPropagation:    CategoryObservability,
	EvidenceOwnershipOverlap:    CategoryOrganizational,
	EvidenceTeamStructure:       CategoryOrganizational,
	EvidenceDeploymentPatterns:  CategoryOrganizational,
}

// Category returns the category of t, or "" for unknown evidence types.
func (t EvidenceType) Category() EvidenceCategory {
	return evidenceCategories[t]
}

// Metadata keys understood by the inference engine.
const (
	MetaSourceID       = "sourceId"
	MetaTargetID       = "targetId"
	MetaErrorRate      = "errorRate"
	MetaAverageLatency = "averageLatency"
	MetaThroughput     = "throughput"
	MetaProtocol       = "protocol"
	MetaVersion        = "version"
	MetaSchema         = "schema"
	MetaEnvironment    = "environment"
	MetaRegion         = "region"
)

// Evidence is an immutable observation supporting a relationship between
// the entities named by metadata sourceId and targetId.
type Evidence struct {
	ID         string         `json:"id"`
	Type       EvidenceType   `json:"type"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata"`
	DetectedAt time.Time      `json:"detectedAt"`
	Details    string         `json:"details,omitempty"`
}

func (e Evidence) SourceID() string { return e.MetaString(MetaSourceID) }
func (e Evidence) TargetID() string { return e.MetaString(MetaTargetID) }

// Fingerprint identifies an observation independent of when it was made.
// Repeated detections of the same fact share a fingerprint.
func (e Evidence) Fingerprint() string {
	return string(e.Type) + "|" + e.Source + "|" + e.SourceID() + "|" + e.TargetID()
}

// MetaString returns a string metadata value, or "".
func (e Evidence) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}

// MetaFloat returns a numeric metadata value. Integers and numeric strings
// are converted; ok is false when the key is absent or not numeric.
func (e Evidence) MetaFloat(key string) (float64, bool) {
	if e.Metadata == nil {
		return 0, false
	}
	switch v := e.Metadata[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
