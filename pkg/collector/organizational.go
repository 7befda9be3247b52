package collector

import (
	"context"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
)

// Entity property keys read by the organizational detector.
const (
	PropSystem   = "system"
	PropPipeline = "pipeline"
)

const (
	ownerConfidence    = 90
	teamConfidence     = 80
	systemConfidence   = 85
	pipelineConfidence = 75
)

// OrganizationalDetector derives ownership, system membership and
// deployment relationships from lifecycle metadata. Owner and team must
// resolve to group or user entities.
type OrganizationalDetector struct {
	opts options
}

func NewOrganizationalDetector(opts ...Option) *OrganizationalDetector {
	return &OrganizationalDetector{opts: newOptions(opts)}
}

func (d *OrganizationalDetector) Kind() graph.DetectorKind { return graph.DetectorOrganizational }

func (d *OrganizationalDetector) DetectRelationships(ctx context.Context, entities []common.Entity) ([]common.Evidence, error) {
	resolver := NewResolver(entities)
	types := make(map[string]common.EntityType, len(entities))
	for _, e := range entities {
		types[e.ID] = e.Type
	}
	isParty := func(id string) bool {
		return types[id] == common.EntityGroup || types[id] == common.EntityUser
	}

	now := d.opts.now()
	var out []common.Evidence
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if owner, ok := resolver.Resolve(e.Lifecycle.Owner); ok && owner != e.ID && isParty(owner) {
			out = append(out, newEvidence(common.EvidenceOwnershipOverlap, "organizational:owner", ownerConfidence,
				owner, e.ID, now, e.Lifecycle.Owner+" owns "+e.Name, nil))
		}
		if team, ok := resolver.Resolve(e.Lifecycle.Team); ok && team != e.ID && isParty(team) {
			out = append(out, newEvidence(common.EvidenceOwnershipOverlap, "organizational:team", teamConfidence,
				team, e.ID, now, e.Lifecycle.Team+" team of "+e.Name, nil))
		}
		if sys, ok := resolver.Resolve(e.StringProperty(PropSystem)); ok && sys != e.ID {
			out = append(out, newEvidence(common.EvidenceTeamStructure, "organizational", systemConfidence,
				e.ID, sys, now, e.Name+" belongs to system "+e.StringProperty(PropSystem), nil))
		}
		if p, ok := resolver.Resolve(e.StringProperty(PropPipeline)); ok && p != e.ID {
			out = append(out, newEvidence(common.EvidenceDeploymentPatterns, "organizational", pipelineConfidence,
				p, e.ID, now, e.StringProperty(PropPipeline)+" deploys "+e.Name, nil))
		}
	}
	return out, nil
}
