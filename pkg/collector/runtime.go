package collector

import (
	"context"
	"math"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/graph"
)

type TrafficKind string

const (
	TrafficHTTP  TrafficKind = "http"
	TrafficGRPC  TrafficKind = "grpc"
	TrafficTCP   TrafficKind = "tcp"
	TrafficTrace TrafficKind = "trace"
	TrafficQueue TrafficKind = "queue"
)

var trafficEvidence = map[TrafficKind]common.EvidenceType{
	TrafficHTTP:  common.EvidenceAPICalls,
	TrafficGRPC:  common.EvidenceAPICalls,
	TrafficTCP:   common.EvidenceNetworkTraffic,
	TrafficTrace: common.EvidenceDistributedTraces,
	TrafficQueue: common.EvidenceMessageQueue,
}

// TrafficSample is an aggregated observation of calls from one entity to
// another, as reported by an APM or service mesh integration. Source and
// Target are entity references.
type TrafficSample struct {
	Kind             TrafficKind `json:"kind" yaml:"kind"`
	Source           string      `json:"source" yaml:"source"`
	Target           string      `json:"target" yaml:"target"`
	Requests         float64     `json:"requests" yaml:"requests"`
	ErrorRate        float64     `json:"errorRate" yaml:"errorRate"`
	AverageLatencyMs float64     `json:"averageLatencyMs" yaml:"averageLatencyMs"`
	Throughput       float64     `json:"throughput" yaml:"throughput"`
	Protocol         string      `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Environment      string      `json:"environment,omitempty" yaml:"environment,omitempty"`
	ObservedAt       time.Time   `json:"observedAt,omitzero" yaml:"observedAt,omitempty"`
}

// TrafficSource supplies traffic samples.
type TrafficSource interface {
	Samples(ctx context.Context) ([]TrafficSample, error)
}

// StaticTraffic serves a fixed set of samples.
type StaticTraffic []TrafficSample

func (s StaticTraffic) Samples(context.Context) ([]TrafficSample, error) {
	return s, nil
}

// RuntimeDetector converts observed traffic into runtime evidence. More
// requests give more confidence, from 60 for a single call up to 95.
type RuntimeDetector struct {
	source TrafficSource
	opts   options
}

func NewRuntimeDetector(source TrafficSource, opts ...Option) *RuntimeDetector {
	return &RuntimeDetector{source: source, opts: newOptions(opts)}
}

func (d *RuntimeDetector) Kind() graph.DetectorKind { return graph.DetectorRuntime }

func (d *RuntimeDetector) DetectRelationships(ctx context.Context, entities []common.Entity) ([]common.Evidence, error) {
	if d.source == nil {
		return nil, nil
	}
	samples, err := d.source.Samples(ctx)
	if err != nil {
		return nil, err
	}

	resolver := NewResolver(entities)
	now := d.opts.now()

	out := make([]common.Evidence, 0, len(samples))
	for _, s := range samples {
		typ, ok := trafficEvidence[s.Kind]
		if !ok {
			continue
		}
		src, ok := resolver.Resolve(s.Source)
		if !ok {
			continue
		}
		dst, ok := resolver.Resolve(s.Target)
		if !ok {
			continue
		}
		at := s.ObservedAt
		if at.IsZero() {
			at = now
		}
		meta := map[string]any{
			common.MetaErrorRate:      s.ErrorRate,
			common.MetaAverageLatency: s.AverageLatencyMs,
			common.MetaThroughput:     s.Throughput,
		}
		if s.Protocol != "" {
			meta[common.MetaProtocol] = s.Protocol
		} else if s.Kind == TrafficHTTP || s.Kind == TrafficGRPC {
			meta[common.MetaProtocol] = string(s.Kind)
		}
		if s.Environment != "" {
			meta[common.MetaEnvironment] = s.Environment
		}
		out = append(out, newEvidence(typ, "runtime", trafficConfidence(s.Requests), src, dst, at,
			string(s.Kind)+" traffic "+s.Source+" -> "+s.Target, meta))
	}
	return out, nil
}

func trafficConfidence(requests float64) float64 {
	if requests < 1 {
		requests = 1
	}
	return math.Min(95, 60+10*math.Log10(requests))
}
