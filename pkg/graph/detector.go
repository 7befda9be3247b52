package graph

import (
	"context"
	"sort"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
)

// DetectorKind names an evidence source.
type DetectorKind string

const (
	DetectorStatic         DetectorKind = "static"
	DetectorRuntime        DetectorKind = "runtime"
	DetectorInfrastructure DetectorKind = "infrastructure"
	DetectorObservability  DetectorKind = "observability"
	DetectorOrganizational DetectorKind = "organizational"
)

// Detector produces evidence about relationships between the given
// entities. Implementations must be safe to call concurrently with other
// detectors and should honour ctx cancellation.
type Detector interface {
	Kind() DetectorKind
	DetectRelationships(ctx context.Context, entities []common.Entity) ([]common.Evidence, error)
}

// Registry holds the enabled detectors keyed by kind. Registering a kind
// twice replaces the earlier detector.
type Registry map[DetectorKind]Detector

func NewRegistry(detectors ...Detector) Registry {
	r := make(Registry, len(detectors))
	for _, d := range detectors {
		r.Register(d)
	}
	return r
}

func (r Registry) Register(d Detector) {
	if d == nil {
		return
	}
	r[d.Kind()] = d
}

// Detectors returns the registered detectors ordered by kind.
func (r Registry) Detectors() []Detector {
	kinds := make([]string, 0, len(r))
	for k := range r {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	out := make([]Detector, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, r[DetectorKind(k)])
	}
	return out
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc struct {
	K  DetectorKind
	Fn func(ctx context.Context, entities []common.Entity) ([]common.Evidence, error)
}

func (f DetectorFunc) Kind() DetectorKind { return f.K }

func (f DetectorFunc) DetectRelationships(ctx context.Context, entities []common.Entity) ([]common.Evidence, error) {
	return f.Fn(ctx, entities)
}
