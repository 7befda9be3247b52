package graph

import (
	"errors"
	"fmt"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

var (
	// ErrNoEvidence is returned by InferRelationships when every enabled
	// detector failed.
	ErrNoEvidence = errors.New("graph: evidence collection failed for every detector")
	// ErrRunInProgress is returned when an inference run is requested while
	// another run for the same scope has not finished.
	ErrRunInProgress = errors.New("graph: inference run already in progress")
)

// Defaults applied by NewGraphClient.
const (
	DefaultConfidenceThreshold = 60.0
	DefaultEvidenceRetention   = 30 * 24 * time.Hour
	DefaultParallelDetectors   = 5
	DefaultDetectorTimeout     = 2 * time.Minute
)

// GraphClient infers relationships between catalog entities from the
// evidence produced by its detectors.
//
// A GraphClient should be created using NewGraphClient. It is safe for
// concurrent use; the evidence it retains between runs is guarded
// internally.
type GraphClient struct {
	storage           store.GraphStorage
	registry          Registry
	evidence          *EvidenceStore
	threshold         float64
	autoUpdate        bool
	parallelDetectors int
	maxRetries        int
	detectorTimeout   time.Duration
	now               func() time.Time
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// Storage receives inferred relationships when AutoUpdate is set.
// ConfidenceThreshold is the minimum confidence (0-100) for a relationship
// to be emitted; nil selects DefaultConfidenceThreshold. EvidenceRetention bounds how long evidence is kept between
// runs. ParallelDetectors caps how many detectors run at once.
type NewGraphClientParams struct {
	Storage             store.GraphStorage
	Detectors           []Detector
	ConfidenceThreshold *float64
	AutoUpdate          bool
	EvidenceRetention   time.Duration
	ParallelDetectors   int
	MaxRetries          int
	DetectorTimeout     time.Duration
	Clock               func() time.Time
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Storage:             memory.New(),
//		Detectors:           []graph.Detector{collector.NewStaticDetector()},
//		ConfidenceThreshold: &threshold,
//		AutoUpdate:          true,
//	})
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.AutoUpdate && params.Storage == nil {
		return nil, errors.New("graph: auto-update requires a storage backend")
	}

	threshold := DefaultConfidenceThreshold
	if params.ConfidenceThreshold != nil {
		threshold = *params.ConfidenceThreshold
	}
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("graph: confidence threshold %v outside 0-100", threshold)
	}
	retention := params.EvidenceRetention
	if retention == 0 {
		retention = DefaultEvidenceRetention
	}
	parallel := params.ParallelDetectors
	if parallel <= 0 {
		parallel = DefaultParallelDetectors
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	timeout := params.DetectorTimeout
	if timeout <= 0 {
		timeout = DefaultDetectorTimeout
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}

	g := &GraphClient{
		storage:           params.Storage,
		registry:          NewRegistry(params.Detectors...),
		evidence:          NewEvidenceStore(retention),
		threshold:         threshold,
		autoUpdate:        params.AutoUpdate,
		parallelDetectors: parallel,
		maxRetries:        maxRetries,
		detectorTimeout:   timeout,
		now:               now,
	}

	return g, nil
}

// Evidence exposes the retained evidence store.
func (g *GraphClient) Evidence() *EvidenceStore {
	return g.evidence
}

// Threshold returns the configured confidence threshold.
func (g *GraphClient) Threshold() float64 {
	return g.threshold
}
