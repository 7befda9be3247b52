package query

import (
	"context"
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventStrategies      TraceEventKind = "strategies"
	TraceEventSeedIDs         TraceEventKind = "seed_ids"
	TraceEventVisitedEntities TraceEventKind = "visited_entity_ids"
	TraceEventStrategyFailure TraceEventKind = "strategy_failure"
	TraceEventCacheHit        TraceEventKind = "cache_hit"
)

// TraceEvent is an extensible event envelope for search tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Strategies []string
	EntityIDs  []string

	Strategy   string
	DurationMs int64
	Error      string
}

// Tracer is a sink for search tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines. Record may be called from several goroutines at once.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordStrategies(t Tracer, names ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventStrategies, Strategies: names})
}

func RecordSeedIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSeedIDs, EntityIDs: ids})
}

func RecordVisitedEntities(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventVisitedEntities, EntityIDs: ids})
}

func RecordStrategyFailure(t Tracer, strategy string, durationMs int64, err error) {
	if t == nil || err == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventStrategyFailure, Strategy: strategy, DurationMs: durationMs, Error: err.Error()})
}

func RecordCacheHit(t Tracer) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventCacheHit})
}

// StrategyFailure is a failed or timed out search strategy.
type StrategyFailure struct {
	Strategy   string `json:"strategy"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error"`
}

// QueryTrace collects what a search run did: which strategies ran, which
// seeds the traversal started from, which entities it visited and what
// failed.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	strategies map[string]struct{}
	seedIDs    map[string]struct{}
	visitedIDs map[string]struct{}
	failures   []StrategyFailure
	cacheHit   bool
}

type QueryTraceSnapshot struct {
	Strategies       []string          `json:"strategies"`
	SeedIDs          []string          `json:"seedIds"`
	VisitedEntityIDs []string          `json:"visitedEntityIds"`
	Failures         []StrategyFailure `json:"failures,omitempty"`
	CacheHit         bool              `json:"cacheHit"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		strategies: make(map[string]struct{}),
		seedIDs:    make(map[string]struct{}),
		visitedIDs: make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventStrategies:
		addAll(t.strategies, event.Strategies)
	case TraceEventSeedIDs:
		addAll(t.seedIDs, event.EntityIDs)
	case TraceEventVisitedEntities:
		addAll(t.visitedIDs, event.EntityIDs)
	case TraceEventStrategyFailure:
		t.failures = append(t.failures, StrategyFailure{
			Strategy:   event.Strategy,
			DurationMs: event.DurationMs,
			Error:      event.Error,
		})
	case TraceEventCacheHit:
		t.cacheHit = true
	default:
		return
	}
}

func addAll(set map[string]struct{}, values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		Strategies:       sortedKeys(t.strategies),
		SeedIDs:          sortedKeys(t.seedIDs),
		VisitedEntityIDs: sortedKeys(t.visitedIDs),
		Failures:         append([]StrategyFailure(nil), t.failures...),
		CacheHit:         t.cacheHit,
	}
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].Strategy < s.Failures[j].Strategy })

	return s
}

type tracerKey struct{}

// ContextWithTracer attaches t to ctx so every stage of a search records
// into it.
func ContextWithTracer(ctx context.Context, t Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

// TracerFromContext returns the tracer attached to ctx, or nil.
func TracerFromContext(ctx context.Context) Tracer {
	t, _ := ctx.Value(tracerKey{}).(Tracer)
	return t
}
