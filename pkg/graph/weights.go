package graph

import "github.com/asklokesh/next-portal/catalog/pkg/common"

// RelationshipTypeWeights maps an evidence type to the relationship types
// it implies and how strongly. Scores are Σ(weight × evidence confidence).
var RelationshipTypeWeights = map[common.EvidenceType]map[common.RelationshipType]float64{
	common.EvidenceCodeImports: {
		common.RelDependsOn: 0.8,
		common.RelConsumes:  0.3,
	},
	common.EvidenceDatabaseQueries: {
		common.RelStoresIn:  0.9,
		common.RelReadsFrom: 0.6,
		common.RelWritesTo:  0.6,
	},
	common.EvidenceConfigReferences: {
		common.RelDependsOn: 0.6,
		common.RelReadsFrom: 0.3,
	},
	common.EvidenceAPISchemaReferences: {
		common.RelConsumes: 0.7,
		common.RelProvides: 0.4,
	},
	common.EvidenceDocumentationLinks: {
		common.RelSimilarTo: 0.4,
		common.RelDependsOn: 0.3,
	},
	common.EvidenceAPICalls: {
		common.RelConsumes:         0.9,
		common.RelCommunicatesWith: 0.8,
		common.RelDependsOn:        0.6,
	},
	common.EvidenceNetworkTraffic: {
		common.RelCommunicatesWith: 0.9,
		common.RelDependsOn:        0.4,
	},
	common.EvidenceDistributedTraces: {
		common.RelCommunicatesWith: 0.8,
		common.RelDependsOn:        0.7,
		common.RelConsumes:         0.6,
	},
	common.EvidenceMessageQueue: {
		common.RelSubscribesTo:     0.8,
		common.RelTriggers:         0.6,
		common.RelCommunicatesWith: 0.5,
	},
	common.EvidenceKubernetesManifests: {
		common.RelDependsOn: 0.7,
		common.RelDeploys:   0.6,
		common.RelPartOf:    0.4,
	},
	common.EvidenceDockerCompose: {
		common.RelDependsOn:        0.8,
		common.RelCommunicatesWith: 0.4,
	},
	common.EvidenceTerraformResources: {
		common.RelDependsOn: 0.6,
		common.RelStoresIn:  0.4,
		common.RelPartOf:    0.3,
	},
	common.EvidenceServiceMesh: {
		common.RelCommunicatesWith: 0.9,
		common.RelAuthorizes:       0.3,
	},
	common.EvidenceMetricsCorrelation: {
		common.RelCorrelatedWith: 0.8,
		common.RelScalesWith:     0.6,
	},
	common.EvidenceLogCorrelation: {
		common.RelCorrelatedWith: 0.7,
		common.RelFailsWith:      0.4,
	},
	common.EvidenceAlertCorrelation: {
		common.RelFailsWith:      0.8,
		common.RelCorrelatedWith: 0.6,
	},
	common.EvidenceErrorPropagation: {
		common.RelFailsWith: 0.9,
		common.RelDependsOn: 0.5,
	},
	common.EvidenceOwnershipOverlap: {
		common.RelOwns: 0.9,
	},
	common.EvidenceTeamStructure: {
		common.RelPartOf: 0.8,
		common.RelOwns:   0.3,
	},
	common.EvidenceDeploymentPatterns: {
		common.RelDeploys:    0.8,
		common.RelScalesWith: 0.4,
	},
}

// EvidenceTypeWeights ranks how much an evidence type counts towards the
// confidence of a pair. Observed traffic ranks highest, documentation
// links and ownership overlap lowest.
var EvidenceTypeWeights = map[common.EvidenceType]float64{
	common.EvidenceAPICalls:            1.0,
	common.EvidenceDistributedTraces:   1.0,
	common.EvidenceNetworkTraffic:      0.95,
	common.EvidenceMessageQueue:        0.9,
	common.EvidenceServiceMesh:         0.9,
	common.EvidenceDatabaseQueries:     0.85,
	common.EvidenceErrorPropagation:    0.85,
	common.EvidenceKubernetesManifests: 0.8,
	common.EvidenceCodeImports:         0.75,
	common.EvidenceDockerCompose:       0.75,
	common.EvidenceTerraformResources:  0.75,
	common.EvidenceAPISchemaReferences: 0.7,
	common.EvidenceConfigReferences:    0.65,
	common.EvidenceMetricsCorrelation:  0.6,
	common.EvidenceAlertCorrelation:    0.55,
	common.EvidenceLogCorrelation:      0.5,
	common.EvidenceDeploymentPatterns:  0.45,
	common.EvidenceTeamStructure:       0.4,
	common.EvidenceDocumentationLinks:  0.3,
	common.EvidenceOwnershipOverlap:    0.3,
}

// DefaultEvidenceTypeWeight applies to evidence types missing from
// EvidenceTypeWeights.
const DefaultEvidenceTypeWeight = 0.5

// StrengthContributions is the criticality each evidence item adds to a
// relationship. Database evidence contributes most.
var StrengthContributions = map[common.EvidenceType]float64{
	common.EvidenceDatabaseQueries:     40,
	common.EvidenceAPICalls:            30,
	common.EvidenceDistributedTraces:   25,
	common.EvidenceMessageQueue:        25,
	common.EvidenceNetworkTraffic:      20,
	common.EvidenceErrorPropagation:    20,
	common.EvidenceServiceMesh:         20,
	common.EvidenceKubernetesManifests: 15,
	common.EvidenceDockerCompose:       15,
	common.EvidenceTerraformResources:  15,
	common.EvidenceCodeImports:         15,
	common.EvidenceAPISchemaReferences: 15,
	common.EvidenceConfigReferences:    10,
	common.EvidenceAlertCorrelation:    10,
	common.EvidenceMetricsCorrelation:  10,
	common.EvidenceLogCorrelation:      5,
	common.EvidenceDeploymentPatterns:  5,
	common.EvidenceTeamStructure:       5,
	common.EvidenceOwnershipOverlap:    5,
	common.EvidenceDocumentationLinks:  5,
}

// DefaultStrengthContribution applies to evidence types missing from
// StrengthContributions.
const DefaultStrengthContribution = 5.0

// runtimeHealthEvidence lists the evidence types whose error rates and
// latency drive relationship health.
var runtimeHealthEvidence = map[common.EvidenceType]bool{
	common.EvidenceAPICalls:           true,
	common.EvidenceDistributedTraces:  true,
	common.EvidenceMetricsCorrelation: true,
}

// Health thresholds.
const (
	BrokenErrorRate   = 0.2
	DegradedErrorRate = 0.05
	DegradedLatencyMs = 5000.0
)

func evidenceTypeWeight(t common.EvidenceType) float64 {
	if w, ok := EvidenceTypeWeights[t]; ok {
		return w
	}
	return DefaultEvidenceTypeWeight
}

func strengthContribution(t common.EvidenceType) float64 {
	if s, ok := StrengthContributions[t]; ok {
		return s
	}
	return DefaultStrengthContribution
}
