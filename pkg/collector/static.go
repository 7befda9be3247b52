package collector

import (
	"context"
	"strings"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
)

// Entity property keys read by the static detector. Values are a string
// or a list of entity references.
const (
	PropDependencies = "dependencies"
	PropDatabases    = "databases"
	PropConfigRefs   = "configRefs"
	PropConsumesAPIs = "consumesApis"
)

// CatalogLinkScheme marks a link that points at another catalog entity,
// e.g. "catalog:api:default/payments-api".
const CatalogLinkScheme = "catalog:"

var staticRules = []struct {
	prop       string
	typ        common.EvidenceType
	confidence float64
}{
	{PropDependencies, common.EvidenceCodeImports, 80},
	{PropDatabases, common.EvidenceDatabaseQueries, 85},
	{PropConfigRefs, common.EvidenceConfigReferences, 70},
	{PropConsumesAPIs, common.EvidenceAPISchemaReferences, 75},
}

const documentationLinkConfidence = 50

// StaticDetector turns declared code, database, configuration and API
// references found on entities into evidence.
type StaticDetector struct {
	opts options
}

func NewStaticDetector(opts ...Option) *StaticDetector {
	return &StaticDetector{opts: newOptions(opts)}
}

func (d *StaticDetector) Kind() graph.DetectorKind { return graph.DetectorStatic }

func (d *StaticDetector) DetectRelationships(ctx context.Context, entities []common.Entity) ([]common.Evidence, error) {
	resolver := NewResolver(entities)
	now := d.opts.now()

	var out []common.Evidence
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, rule := range staticRules {
			for _, ref := range e.StringsProperty(rule.prop) {
				target, ok := resolver.Resolve(ref)
				if !ok {
					continue
				}
				out = append(out, newEvidence(rule.typ, "static", rule.confidence, e.ID, target, now,
					e.Name+" declares "+rule.prop+" "+ref, nil))
			}
		}
		for _, link := range e.Links {
			ref, ok := strings.CutPrefix(link.URL, CatalogLinkScheme)
			if !ok {
				continue
			}
			target, ok := resolver.Resolve(ref)
			if !ok {
				continue
			}
			out = append(out, newEvidence(common.EvidenceDocumentationLinks, "static", documentationLinkConfidence,
				e.ID, target, now, "documentation link "+link.Title, nil))
		}
	}
	return out, nil
}
