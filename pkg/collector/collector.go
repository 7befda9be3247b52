// Package collector contains the evidence detectors fed to the inference
// engine: static code and configuration references, runtime traffic,
// infrastructure manifests, observability signals and organisational
// metadata.
package collector

import (
	"strings"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
)

// Option configures a detector.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time stamped on produced evidence.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func newEvidence(
	typ common.EvidenceType,
	source string,
	confidence float64,
	sourceID, targetID string,
	detectedAt time.Time,
	details string,
	extra map[string]any,
) common.Evidence {
	meta := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		meta[k] = v
	}
	meta[common.MetaSourceID] = sourceID
	meta[common.MetaTargetID] = targetID
	return common.Evidence{
		Type:       typ,
		Source:     source,
		Confidence: common.Clamp(confidence, 0, 100),
		Metadata:   meta,
		DetectedAt: detectedAt,
		Details:    details,
	}
}

// Resolver maps references of the form "type:namespace/name",
// "namespace/name" or "name" to entity IDs. Matching is case-insensitive.
// Ambiguous short references do not resolve.
type Resolver struct {
	byRef    map[string]string
	byNsName map[string][]string
	byName   map[string][]string
	ids      map[string]struct{}
}

func NewResolver(entities []common.Entity) *Resolver {
	r := &Resolver{
		byRef:    make(map[string]string, len(entities)),
		byNsName: make(map[string][]string, len(entities)),
		byName:   make(map[string][]string, len(entities)),
		ids:      make(map[string]struct{}, len(entities)),
	}
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		ns := e.Namespace
		if ns == "" {
			ns = common.DefaultNamespace
		}
		name := strings.ToLower(e.Name)
		nsName := strings.ToLower(ns) + "/" + name
		r.byRef[strings.ToLower(string(e.Type))+":"+nsName] = e.ID
		r.byNsName[nsName] = append(r.byNsName[nsName], e.ID)
		r.byName[name] = append(r.byName[name], e.ID)
		r.ids[e.ID] = struct{}{}
	}
	return r
}

// Resolve returns the entity ID for ref. Entity IDs resolve to themselves.
func (r *Resolver) Resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if _, ok := r.ids[ref]; ok {
		return ref, true
	}
	key := strings.ToLower(ref)
	if strings.Contains(key, ":") {
		if id, ok := r.byRef[key]; ok {
			return id, true
		}
		// "type:name" without namespace
		typ, name, _ := strings.Cut(key, ":")
		if !strings.Contains(name, "/") {
			id, ok := r.byRef[typ+":"+common.DefaultNamespace+"/"+name]
			return id, ok
		}
		return "", false
	}
	if strings.Contains(key, "/") {
		return unique(r.byNsName[key])
	}
	return unique(r.byName[key])
}

func unique(ids []string) (string, bool) {
	if len(ids) != 1 {
		return "", false
	}
	return ids[0], true
}
