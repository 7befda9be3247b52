package graph

import (
	"testing"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
)

func TestEvidenceStoreDeduplicatesByFingerprint(t *testing.T) {
	s := NewEvidenceStore(time.Hour)

	first := ev(common.EvidenceAPICalls, 80, "a", "b", nil)
	first.ID = ""
	stored := s.Add(testNow, first)
	if stored[0].ID == "" {
		t.Fatal("expected an id to be assigned")
	}

	again := first
	again.Confidence = 90
	again.DetectedAt = testNow.Add(time.Minute)
	second := s.Add(testNow, again)

	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}
	if second[0].ID != stored[0].ID {
		t.Fatalf("repeated observation should keep its id: %s vs %s", second[0].ID, stored[0].ID)
	}
	if got := s.Snapshot()[0].Confidence; got != 90 {
		t.Fatalf("newer observation should win, confidence = %v", got)
	}

	older := first
	older.Confidence = 10
	older.DetectedAt = testNow.Add(-time.Minute)
	s.Add(testNow, older)
	if got := s.Snapshot()[0].Confidence; got != 90 {
		t.Fatalf("older observation must not replace newer, confidence = %v", got)
	}
}

func TestEvidenceStorePrune(t *testing.T) {
	s := NewEvidenceStore(24 * time.Hour)

	fresh := ev(common.EvidenceAPICalls, 80, "a", "b", nil)
	stale := ev(common.EvidenceNetworkTraffic, 80, "a", "b", nil)
	stale.DetectedAt = testNow.Add(-48 * time.Hour)
	s.Add(testNow, fresh, stale)

	if removed := s.Prune(testNow); removed != 1 {
		t.Fatalf("Prune removed %d, want 1", removed)
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Type != common.EvidenceAPICalls {
		t.Fatalf("unexpected evidence after prune: %+v", snap)
	}

	forever := NewEvidenceStore(-1)
	forever.Add(testNow, stale)
	if removed := forever.Prune(testNow); removed != 0 {
		t.Fatalf("non-positive retention must keep evidence, removed %d", removed)
	}
}

func TestEvidenceStoreFillsDetectedAt(t *testing.T) {
	s := NewEvidenceStore(time.Hour)
	e := ev(common.EvidenceAPICalls, 80, "a", "b", nil)
	e.DetectedAt = time.Time{}
	stored := s.Add(testNow, e)
	if !stored[0].DetectedAt.Equal(testNow) {
		t.Fatalf("DetectedAt = %v, want %v", stored[0].DetectedAt, testNow)
	}
}

func TestRegistryOrdersByKind(t *testing.T) {
	r := NewRegistry(
		staticDetector(DetectorRuntime),
		staticDetector(DetectorInfrastructure),
		staticDetector(DetectorRuntime),
		nil,
	)
	ds := r.Detectors()
	if len(ds) != 2 {
		t.Fatalf("expected 2 detectors, got %d", len(ds))
	}
	if ds[0].Kind() != DetectorInfrastructure || ds[1].Kind() != DetectorRuntime {
		t.Fatalf("unexpected order: %s, %s", ds[0].Kind(), ds[1].Kind())
	}
}
