package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// EvidenceStore keeps evidence between inference runs for the retention
// window. Repeated observations of the same fact (same fingerprint) replace
// the older record, so the store never grows with unchanged input.
type EvidenceStore struct {
	mu        sync.Mutex
	retention time.Duration
	items     map[string]common.Evidence // by fingerprint
}

// NewEvidenceStore returns a store that prunes evidence older than
// retention. A non-positive retention keeps evidence forever.
func NewEvidenceStore(retention time.Duration) *EvidenceStore {
	return &EvidenceStore{
		retention: retention,
		items:     make(map[string]common.Evidence),
	}
}

// Add records evidence, assigning IDs and detection times where missing.
// It returns the stored records in input order.
func (s *EvidenceStore) Add(now time.Time, evidence ...common.Evidence) []common.Evidence {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]common.Evidence, 0, len(evidence))
	for _, ev := range evidence {
		if ev.DetectedAt.IsZero() {
			ev.DetectedAt = now
		}
		fp := ev.Fingerprint()
		if prev, ok := s.items[fp]; ok {
			if prev.DetectedAt.After(ev.DetectedAt) {
				stored = append(stored, prev)
				continue
			}
			if ev.ID == "" {
				ev.ID = prev.ID
			}
		}
		if ev.ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				id = fp
			}
			ev.ID = id
		}
		s.items[fp] = ev
		stored = append(stored, ev)
	}
	return stored
}

// Prune drops evidence detected before now - retention and returns how many
// records were removed.
func (s *EvidenceStore) Prune(now time.Time) int {
	if s.retention <= 0 {
		return 0
	}
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for fp, ev := range s.items {
		if ev.DetectedAt.Before(cutoff) {
			delete(s.items, fp)
			removed++
		}
	}
	return removed
}

// Snapshot returns a copy of the retained evidence ordered by detection
// time, then ID.
func (s *EvidenceStore) Snapshot() []common.Evidence {
	s.mu.Lock()
	out := make([]common.Evidence, 0, len(s.items))
	for _, ev := range s.items {
		out = append(out, ev)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *EvidenceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
