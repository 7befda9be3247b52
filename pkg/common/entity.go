package common

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// EntityType classifies a catalog node. The set is open: stores and
// detectors must accept values outside the predefined constants.
type EntityType string

const (
	EntityService        EntityType = "service"
	EntityAPI            EntityType = "api"
	EntityWebsite        EntityType = "website"
	EntityLibrary        EntityType = "library"
	EntityResource       EntityType = "resource"
	EntityDomain         EntityType = "domain"
	EntitySystem         EntityType = "system"
	EntityGroup          EntityType = "group"
	EntityUser           EntityType = "user"
	EntityLocation       EntityType = "location"
	EntityDatabase       EntityType = "database"
	EntityQueue          EntityType = "queue"
	EntityCache          EntityType = "cache"
	EntityFunction       EntityType = "function"
	EntityContainer      EntityType = "container"
	EntityDeployment     EntityType = "deployment"
	EntityPipeline       EntityType = "pipeline"
	EntityInfrastructure EntityType = "infrastructure"
	EntitySecret         EntityType = "secret"
	EntityConfig         EntityType = "config"
	EntityMetric         EntityType = "metric"
	EntityAlert          EntityType = "alert"
	EntityDashboard      EntityType = "dashboard"
)

// EntityTypes lists the predefined entity types.
var EntityTypes = []EntityType{
	EntityService, EntityAPI, EntityWebsite, EntityLibrary, EntityResource,
	EntityDomain, EntitySystem, EntityGroup, EntityUser, EntityLocation,
	EntityDatabase, EntityQueue, EntityCache, EntityFunction, EntityContainer,
	EntityDeployment, EntityPipeline, EntityInfrastructure, EntitySecret,
	EntityConfig, EntityMetric, EntityAlert, EntityDashboard,
}

// HealthStatus is the operational health reported for an entity by
// external monitors. The catalog core reads it but never writes it.
type HealthStatus string

const (
	HealthHealthy    HealthStatus = "healthy"
	HealthWarning    HealthStatus = "warning"
	HealthCritical   HealthStatus = "critical"
	HealthUnknown    HealthStatus = "unknown"
	HealthDegraded   HealthStatus = "degraded"
	HealthRecovering HealthStatus = "recovering"
)

// ComplianceState summarises the outcome of compliance checks.
type ComplianceState string

const (
	ComplianceCompliant    ComplianceState = "compliant"
	ComplianceNonCompliant ComplianceState = "non_compliant"
	CompliancePartial      ComplianceState = "partial"
	ComplianceUnknown      ComplianceState = "unknown"
)

// EntityStatus carries health plus availability and performance
// percentages (0-100).
type EntityStatus struct {
	Health       HealthStatus `json:"health,omitempty" yaml:"health,omitempty"`
	Availability float64      `json:"availability,omitempty" yaml:"availability,omitempty"`
	Performance  float64      `json:"performance,omitempty" yaml:"performance,omitempty"`
	LastChecked  time.Time    `json:"lastChecked,omitzero" yaml:"lastChecked,omitempty"`
}

type ComplianceCheck struct {
	Name    string `json:"name" yaml:"name"`
	Passed  bool   `json:"passed" yaml:"passed"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

type ComplianceInfo struct {
	State  ComplianceState   `json:"state,omitempty" yaml:"state,omitempty"`
	Score  float64           `json:"score,omitempty" yaml:"score,omitempty"`
	Checks []ComplianceCheck `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// DiscoveryInfo records how an entity entered the catalog.
type DiscoveryInfo struct {
	Method       string    `json:"method,omitempty" yaml:"method,omitempty"`
	Source       string    `json:"source,omitempty" yaml:"source,omitempty"`
	Confidence   float64   `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	DiscoveredAt time.Time `json:"discoveredAt,omitzero" yaml:"discoveredAt,omitempty"`
}

type LifecycleInfo struct {
	Stage       string   `json:"stage,omitempty" yaml:"stage,omitempty"`
	Owner       string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	Team        string   `json:"team,omitempty" yaml:"team,omitempty"`
	Maintainers []string `json:"maintainers,omitempty" yaml:"maintainers,omitempty"`
}

type Link struct {
	URL   string `json:"url" yaml:"url"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Entity is a catalog node: a piece of software or infrastructure.
//
// The triple (Type, Namespace, Name) is unique across the catalog and ID
// never changes once assigned. Entities are not deleted while relationships
// reference them; removal sets Inactive instead.
type Entity struct {
	ID          string            `json:"id" yaml:"id"`
	Type        EntityType        `json:"type" yaml:"type"`
	Name        string            `json:"name" yaml:"name"`
	Namespace   string            `json:"namespace" yaml:"namespace"`
	Title       string            `json:"title,omitempty" yaml:"title,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Status      EntityStatus      `json:"status" yaml:"status,omitempty"`
	Compliance  ComplianceInfo    `json:"compliance" yaml:"compliance,omitempty"`
	Discovery   DiscoveryInfo     `json:"discovery" yaml:"discovery,omitempty"`
	Lifecycle   LifecycleInfo     `json:"lifecycle" yaml:"lifecycle,omitempty"`
	Links       []Link            `json:"links,omitempty" yaml:"links,omitempty"`
	Properties  map[string]any    `json:"properties,omitempty" yaml:"properties,omitempty"`
	Inactive    bool              `json:"inactive,omitempty" yaml:"inactive,omitempty"`
	CreatedAt   time.Time         `json:"createdAt,omitzero" yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt,omitzero" yaml:"updatedAt,omitempty"`
}

// DefaultNamespace is used when an entity is registered without one.
const DefaultNamespace = "default"

// NaturalKey returns the unique "type/namespace/name" key of the entity.
func (e Entity) NaturalKey() string {
	return NaturalKey(e.Type, e.Namespace, e.Name)
}

// NaturalKey builds the unique key for an entity. Comparison is
// case-insensitive and an empty namespace is treated as DefaultNamespace.
func NaturalKey(typ EntityType, namespace, name string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return strings.ToLower(string(typ)) + "/" + strings.ToLower(namespace) + "/" + strings.ToLower(name)
}

// Ref returns the "type:namespace/name" reference used by detectors.
func (e Entity) Ref() string {
	ns := e.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return string(e.Type) + ":" + ns + "/" + e.Name
}

// Health returns the entity health, defaulting to HealthUnknown.
func (e Entity) Health() HealthStatus {
	if e.Status.Health == "" {
		return HealthUnknown
	}
	return e.Status.Health
}

// StringProperty returns Properties[key] when it holds a string.
func (e Entity) StringProperty(key string) string {
	if e.Properties == nil {
		return ""
	}
	s, _ := e.Properties[key].(string)
	return s
}

// StringsProperty returns Properties[key] as a string slice. Both []string
// and []any (as produced by JSON and YAML decoding) are accepted, as is a
// single string.
func (e Entity) StringsProperty(key string) []string {
	if e.Properties == nil {
		return nil
	}
	return toStrings(e.Properties[key])
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SearchableText joins the labels, annotations and tags of the entity into a
// single lowercase string for metadata matching.
func (e Entity) SearchableText() string {
	parts := make([]string, 0, len(e.Labels)*2+len(e.Annotations)*2+len(e.Tags))
	for k, v := range e.Labels {
		parts = append(parts, k, v)
	}
	for k, v := range e.Annotations {
		parts = append(parts, k, v)
	}
	parts = append(parts, e.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}

// Clone returns a deep copy of e. Maps, slices and nested property values
// are copied so the clone can be modified without touching e.
func (e Entity) Clone() Entity {
	c := e
	c.Labels = maps.Clone(e.Labels)
	c.Annotations = maps.Clone(e.Annotations)
	c.Tags = slices.Clone(e.Tags)
	c.Metadata = cloneAnyMap(e.Metadata)
	c.Properties = cloneAnyMap(e.Properties)
	c.Compliance.Checks = slices.Clone(e.Compliance.Checks)
	c.Lifecycle.Maintainers = slices.Clone(e.Lifecycle.Maintainers)
	c.Links = slices.Clone(e.Links)
	return c
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAnyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneAny(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}
