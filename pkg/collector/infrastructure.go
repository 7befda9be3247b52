package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"gopkg.in/yaml.v3"
)

// ManifestAnnotation holds inline Kubernetes or docker-compose YAML on an
// entity.
const ManifestAnnotation = "catalog/manifest"

// DependsOnAnnotation on a Kubernetes workload lists entity references the
// workload depends on, comma separated.
const DependsOnAnnotation = "catalog/depends-on"

// Manifest is a raw YAML document stream, possibly holding several
// documents separated by "---".
type Manifest struct {
	Name string
	Data []byte
}

// ManifestSource supplies infrastructure manifests, e.g. from an object
// store or a git checkout.
type ManifestSource interface {
	Manifests(ctx context.Context) ([]Manifest, error)
}

// StaticManifests serves a fixed set of manifests.
type StaticManifests []Manifest

func (s StaticManifests) Manifests(context.Context) ([]Manifest, error) {
	return s, nil
}

const (
	k8sEnvConfidence        = 75
	k8sAnnotationConfidence = 85
	composeDependsOnConf    = 80
	composeLinkConf         = 70
)

var workloadKinds = map[string]bool{
	"Deployment":  true,
	"StatefulSet": true,
	"DaemonSet":   true,
	"Job":         true,
	"CronJob":     true,
	"Pod":         true,
}

// InfrastructureDetector reads Kubernetes workloads and docker-compose
// files. Workload environment values naming another entity's host, and
// compose depends_on or links entries, become evidence.
type InfrastructureDetector struct {
	sources []ManifestSource
	opts    options
}

func NewInfrastructureDetector(sources []ManifestSource, opts ...Option) *InfrastructureDetector {
	return &InfrastructureDetector{sources: sources, opts: newOptions(opts)}
}

func (d *InfrastructureDetector) Kind() graph.DetectorKind { return graph.DetectorInfrastructure }

func (d *InfrastructureDetector) DetectRelationships(ctx context.Context, entities []common.Entity) ([]common.Evidence, error) {
	var manifests []Manifest
	for _, e := range entities {
		if raw := e.Annotations[ManifestAnnotation]; raw != "" {
			manifests = append(manifests, Manifest{Name: e.Ref(), Data: []byte(raw)})
		}
	}

	var errs []error
	for _, src := range d.sources {
		ms, err := src.Manifests(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		manifests = append(manifests, ms...)
	}
	if len(manifests) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		logger.Warn("[Infrastructure] Manifest source failed", "err", err)
	}

	resolver := NewResolver(entities)
	now := d.opts.now()

	var out []common.Evidence
	for _, m := range manifests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docs, err := decodeDocuments(m.Data)
		if err != nil {
			logger.Warn("[Infrastructure] Skipping malformed manifest", "manifest", m.Name, "err", err)
		}
		for _, doc := range docs {
			if services, ok := doc["services"].(map[string]any); ok {
				out = append(out, composeEvidence(services, resolver, m.Name, now)...)
				continue
			}
			out = append(out, workloadEvidence(doc, resolver, m.Name, now)...)
		}
	}
	return out, nil
}

func decodeDocuments(data []byte) ([]map[string]any, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []map[string]any
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return docs, fmt.Errorf("decode yaml: %w", err)
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
}

func workloadEvidence(doc map[string]any, r *Resolver, manifest string, now time.Time) []common.Evidence {
	kind, _ := doc["kind"].(string)
	if !workloadKinds[kind] {
		return nil
	}
	meta := mapAt(doc, "metadata")
	name, _ := meta["name"].(string)
	ns, _ := meta["namespace"].(string)
	src, ok := resolveQualified(r, ns, name)
	if !ok {
		return nil
	}

	extra := map[string]any{"manifest": manifest, "kind": kind}
	if ns != "" {
		extra[common.MetaEnvironment] = ns
	}

	var out []common.Evidence
	seen := map[string]bool{}
	add := func(target string, conf float64, details string) {
		if target == src || seen[target] {
			return
		}
		seen[target] = true
		out = append(out, newEvidence(common.EvidenceKubernetesManifests, "infrastructure", conf, src, target, now, details, extra))
	}

	if annotations, ok := meta["annotations"].(map[string]any); ok {
		if deps, ok := annotations[DependsOnAnnotation].(string); ok {
			for _, ref := range strings.Split(deps, ",") {
				if target, ok := r.Resolve(ref); ok {
					add(target, k8sAnnotationConfidence, kind+" "+name+" annotated dependency "+strings.TrimSpace(ref))
				}
			}
		}
	}

	for _, c := range podContainers(doc, kind) {
		for _, item := range sliceAt(c, "env") {
			env, ok := item.(map[string]any)
			if !ok {
				continue
			}
			value, _ := env["value"].(string)
			for _, host := range hostCandidates(value) {
				if target, ok := resolveQualified(r, host.namespace, host.name); ok {
					envName, _ := env["name"].(string)
					add(target, k8sEnvConfidence, kind+" "+name+" env "+envName+" references "+host.name)
					break
				}
			}
		}
	}
	return out
}

func podContainers(doc map[string]any, kind string) []map[string]any {
	var spec map[string]any
	switch kind {
	case "Pod":
		spec = mapAt(doc, "spec")
	case "CronJob":
		spec = mapAt(doc, "spec", "jobTemplate", "spec", "template", "spec")
	default:
		spec = mapAt(doc, "spec", "template", "spec")
	}
	var out []map[string]any
	for _, key := range []string{"initContainers", "containers"} {
		for _, item := range sliceAt(spec, key) {
			if c, ok := item.(map[string]any); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func composeEvidence(services map[string]any, r *Resolver, manifest string, now time.Time) []common.Evidence {
	extra := map[string]any{"manifest": manifest}
	var out []common.Evidence
	for name, raw := range services {
		def, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		src, ok := r.Resolve(name)
		if !ok {
			continue
		}

		var deps []string
		switch v := def["depends_on"].(type) {
		case []any:
			for _, d := range v {
				if s, ok := d.(string); ok {
					deps = append(deps, s)
				}
			}
		case map[string]any:
			for d := range v {
				deps = append(deps, d)
			}
		}
		for _, dep := range deps {
			if target, ok := r.Resolve(dep); ok && target != src {
				out = append(out, newEvidence(common.EvidenceDockerCompose, "infrastructure", composeDependsOnConf,
					src, target, now, name+" depends_on "+dep, extra))
			}
		}

		for _, l := range sliceAt(def, "links") {
			link, ok := l.(string)
			if !ok {
				continue
			}
			target := link
			if svc, _, found := strings.Cut(link, ":"); found {
				target = svc
			}
			if id, ok := r.Resolve(target); ok && id != src {
				out = append(out, newEvidence(common.EvidenceDockerCompose, "infrastructure", composeLinkConf,
					src, id, now, name+" links "+link, extra))
			}
		}
	}
	return out
}

type hostRef struct {
	namespace string
	name      string
}

// hostCandidates extracts service host names from an environment value
// such as "postgres://orders-db.shop.svc:5432/orders" or "cache:6379".
func hostCandidates(value string) []hostRef {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	host := value
	if strings.Contains(value, "://") {
		u, err := url.Parse(value)
		if err != nil {
			return nil
		}
		host = u.Hostname()
	} else if h, _, found := strings.Cut(value, ":"); found {
		host = h
	}
	if host == "" || strings.ContainsAny(host, " /=") {
		return nil
	}

	labels := strings.Split(host, ".")
	refs := []hostRef{{name: labels[0]}}
	if len(labels) > 1 {
		refs = append([]hostRef{{namespace: labels[1], name: labels[0]}}, refs...)
	}
	return refs
}

func resolveQualified(r *Resolver, namespace, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if namespace != "" {
		if id, ok := r.Resolve(namespace + "/" + name); ok {
			return id, true
		}
	}
	return r.Resolve(name)
}

func mapAt(m map[string]any, path ...string) map[string]any {
	cur := m
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func sliceAt(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	s, _ := m[key].([]any)
	return s
}
