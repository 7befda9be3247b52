package graph

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asklokesh/next-portal/catalog/pkg/common"
	"github.com/asklokesh/next-portal/catalog/pkg/logger"
	"github.com/asklokesh/next-portal/catalog/pkg/store"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeStale   ChangeKind = "stale"
)

// ChangeEvent describes how an inferred relationship changed between two
// consecutive scheduled runs.
type ChangeEvent struct {
	Kind         ChangeKind          `json:"kind"`
	Relationship common.Relationship `json:"relationship"`
	At           time.Time           `json:"at"`
}

// ChangeNotifier receives the changes of a scheduled run. Delivery is fire
// and forget: errors are logged and never stop the schedule.
type ChangeNotifier interface {
	Notify(ctx context.Context, events []ChangeEvent) error
}

// RunLock serialises runs across processes. fn must only be called while
// the lock is held, with a context that is cancelled if it is lost.
type RunLock interface {
	WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const (
	defaultSchedulerInterval = 15 * time.Minute
	defaultNotifyTimeout     = 30 * time.Second
	defaultLockKey           = "catalog:inference"
)

// SchedulerParams configures a Scheduler. Client and Storage are required.
type SchedulerParams struct {
	Client        *GraphClient
	Storage       store.GraphStorage
	Interval      time.Duration
	Notifier      ChangeNotifier
	Lock          RunLock
	LockKey       string
	NotifyTimeout time.Duration
}

// Scheduler re-runs inference over the live entity set on a fixed
// interval. At most one run is in flight per Scheduler; a RunLock extends
// that guarantee across processes.
type Scheduler struct {
	client        *GraphClient
	storage       store.GraphStorage
	interval      time.Duration
	notifier      ChangeNotifier
	lock          RunLock
	lockKey       string
	notifyTimeout time.Duration

	inFlight atomic.Bool

	prevMu   sync.Mutex
	previous map[common.RelationshipKey]common.Relationship

	notifyMu sync.Mutex
	pending  [][]ChangeEvent
	draining bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Client == nil || params.Storage == nil {
		return nil, errors.New("graph: scheduler requires a client and a storage backend")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	key := params.LockKey
	if key == "" {
		key = defaultLockKey
	}
	timeout := params.NotifyTimeout
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &Scheduler{
		client:        params.Client,
		storage:       params.Storage,
		interval:      interval,
		notifier:      params.Notifier,
		lock:          params.Lock,
		lockKey:       key,
		notifyTimeout: timeout,
	}, nil
}

// Start begins the periodic inference loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("graph: scheduler already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(ctx)
	return nil
}

// Stop cancels the loop and waits for the current run and any pending
// notifications to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				if errors.Is(err, ErrRunInProgress) || errors.Is(err, context.Canceled) {
					logger.Debug("[Scheduler] Skipped run", "reason", err)
					continue
				}
				logger.Error("[Scheduler] Inference run failed", "err", err)
			}
		}
	}
}

// RunOnce executes a single inference run over every active entity. It
// returns ErrRunInProgress when another run of this scheduler is active.
func (s *Scheduler) RunOnce(ctx context.Context) ([]InferredRelationship, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.inFlight.Store(false)

	var results []InferredRelationship
	run := func(ctx context.Context) error {
		entities, err := s.storage.ListEntities(ctx, false)
		if err != nil {
			return err
		}
		results, err = s.client.InferRelationships(ctx, entities)
		return err
	}

	var err error
	if s.lock != nil {
		err = s.lock.WithLease(ctx, s.lockKey, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	events := s.diff(results, s.client.now())
	s.notify(events)
	return results, nil
}

// diff compares results with the previous run and remembers results for
// the next comparison.
func (s *Scheduler) diff(results []InferredRelationship, at time.Time) []ChangeEvent {
	current := make(map[common.RelationshipKey]common.Relationship, len(results))
	for _, r := range results {
		current[r.Relationship.Key()] = r.Relationship
	}

	s.prevMu.Lock()
	previous := s.previous
	s.previous = current
	s.prevMu.Unlock()

	var events []ChangeEvent
	for _, r := range results {
		rel := r.Relationship
		prev, ok := previous[rel.Key()]
		switch {
		case !ok:
			events = append(events, ChangeEvent{Kind: ChangeCreated, Relationship: rel, At: at})
		case changed(prev, rel):
			events = append(events, ChangeEvent{Kind: ChangeUpdated, Relationship: rel, At: at})
		}
	}
	for key, prev := range previous {
		if _, ok := current[key]; ok {
			continue
		}
		prev.Stale = true
		prev.LastAnalyzed = at
		events = append(events, ChangeEvent{Kind: ChangeStale, Relationship: prev, At: at})
	}
	return events
}

const scoreTolerance = 0.01

func changed(a, b common.Relationship) bool {
	return math.Abs(a.Confidence-b.Confidence) > scoreTolerance ||
		math.Abs(a.Strength-b.Strength) > scoreTolerance ||
		a.Health.Status != b.Health.Status
}

// notify queues events for delivery. A single drain goroutine delivers
// batches in the order their runs finished.
func (s *Scheduler) notify(events []ChangeEvent) {
	if s.notifier == nil || len(events) == 0 {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.pending = append(s.pending, events)
	if s.draining {
		return
	}
	s.draining = true
	s.wg.Add(1)
	go s.drain()
}

func (s *Scheduler) drain() {
	defer s.wg.Done()
	for {
		s.notifyMu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.notifyMu.Unlock()
			return
		}
		events := s.pending[0]
		s.pending = s.pending[1:]
		s.notifyMu.Unlock()

		s.deliver(events)
	}
}

func (s *Scheduler) deliver(events []ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, events); err != nil {
		logger.Warn("[Scheduler] Change notification failed", "events", len(events), "err", err)
		return
	}
	logger.Debug("[Scheduler] Change notification sent", "events", len(events))
}
