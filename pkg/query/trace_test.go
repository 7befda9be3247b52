package query

import (
	"errors"
	"slices"
	"sync"
	"testing"
)

func TestQueryTraceSnapshot(t *testing.T) {
	trace := NewQueryTrace()
	other := NewQueryTrace()
	var tracer Tracer = MultiTracer{trace, nil, other}

	var wg sync.WaitGroup
	for _, id := range []string{"c", "a", "b", "a", ""} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordVisitedEntities(tracer, id)
		}()
	}
	wg.Wait()

	RecordStrategies(tracer, "traversal", "direct")
	RecordSeedIDs(tracer, "a")
	RecordStrategyFailure(tracer, "metadata", 12, errors.New("timeout"))
	RecordStrategyFailure(tracer, "health", 1, nil)
	RecordCacheHit(nil)

	for _, tr := range []*QueryTrace{trace, other} {
		s := tr.Snapshot()
		if !slices.Equal(s.VisitedEntityIDs, []string{"a", "b", "c"}) {
			t.Fatalf("VisitedEntityIDs = %v", s.VisitedEntityIDs)
		}
		if !slices.Equal(s.Strategies, []string{"direct", "traversal"}) {
			t.Fatalf("Strategies = %v", s.Strategies)
		}
		if !slices.Equal(s.SeedIDs, []string{"a"}) {
			t.Fatalf("SeedIDs = %v", s.SeedIDs)
		}
		if len(s.Failures) != 1 || s.Failures[0].Strategy != "metadata" || s.Failures[0].Error != "timeout" {
			t.Fatalf("Failures = %+v", s.Failures)
		}
		if s.CacheHit {
			t.Fatal("unexpected cache hit")
		}
	}
}

func TestNilQueryTrace(t *testing.T) {
	var trace *QueryTrace
	trace.Record(TraceEvent{Kind: TraceEventCacheHit})
	if s := trace.Snapshot(); s.CacheHit || s.SeedIDs != nil {
		t.Fatalf("nil trace snapshot = %+v", s)
	}
}
