// Package scheduler runs the per-widget refresh loops. Every enabled
// widget gets its own ticker goroutine; a fetch failure marks the widget
// state but never stops the ticker. Restarting a widget with a new
// interval replaces the old loop so a tick never fires twice.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-pulsedash/pulsedash/internal/cache"
	"github.com/go-pulsedash/pulsedash/internal/metrics"
	"github.com/go-pulsedash/pulsedash/internal/models"
)

// FetchFunc retrieves the current snapshot for one connection. The force
// flag asks the backend to bypass its own cache; scheduled ticks never
// set it.
type FetchFunc func(ctx context.Context, connectionID string, force bool) (*models.WidgetSnapshot, error)

// UpdateFunc observes state changes, called after every refresh attempt.
type UpdateFunc func(connectionID string, state WidgetState)

// WidgetState is the last known refresh outcome for one widget. Err and
// Snapshot can both be set: a failed refresh keeps the previous snapshot.
type WidgetState struct {
	Snapshot      *models.WidgetSnapshot
	Err           error
	LastRefreshed time.Time
}

type entry struct {
	provider string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler owns the refresh loops and the per-widget states.
type Scheduler struct {
	fetch    FetchFunc
	cache    cache.Cache[models.WidgetSnapshot]
	ttl      time.Duration
	metrics  metrics.Recorder
	onUpdate UpdateFunc
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	states  map[string]WidgetState
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCache stores successful snapshots in the given cache with the TTL.
func WithCache(c cache.Cache[models.WidgetSnapshot], ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithUpdateHook registers the state-change observer.
func WithUpdateHook(fn UpdateFunc) Option {
	return func(s *Scheduler) {
		s.onUpdate = fn
	}
}

// New creates a scheduler with no running loops.
func New(fetch FetchFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetch:   fetch,
		metrics: metrics.NewNoopMetrics(),
		now:     time.Now,
		entries: make(map[string]*entry),
		states:  make(map[string]WidgetState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the refresh loop for one widget. An existing loop for
// the same connection is stopped first. When initial is non-nil it seeds
// the state and the first fetch waits for the first tick; otherwise an
// immediate fetch runs before the ticker starts.
func (s *Scheduler) Start(connectionID, provider string, interval time.Duration, initial *models.WidgetSnapshot) {
	s.Stop(connectionID)

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		provider: provider,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.entries[connectionID] = e
	if initial != nil {
		s.states[connectionID] = WidgetState{
			Snapshot:      initial,
			LastRefreshed: s.now(),
		}
	}
	s.mu.Unlock()

	log.Printf("[scheduler] widget %s refreshing every %s", connectionID, interval)
	go s.loop(ctx, e, connectionID, initial == nil)
}

func (s *Scheduler) loop(ctx context.Context, e *entry, connectionID string, immediate bool) {
	defer close(e.done)

	if immediate {
		s.refresh(ctx, e, connectionID, false)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx, e, connectionID, false)
		}
	}
}

// refresh performs one fetch and records the outcome. A failure keeps the
// previous snapshot so the dashboard shows stale data over no data.
func (s *Scheduler) refresh(ctx context.Context, e *entry, connectionID string, force bool) error {
	snap, err := s.fetch(ctx, connectionID, force)
	// A loop cancelled mid-fetch must not touch state with a late result.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		s.metrics.RecordWidgetRefresh(e.provider, "error")
		log.Printf("[scheduler] refresh %s failed: %v", connectionID, err)
		s.setState(connectionID, func(st *WidgetState) {
			st.Err = err
			st.LastRefreshed = s.now()
		})
		return err
	}

	s.metrics.RecordWidgetRefresh(e.provider, "success")
	s.setState(connectionID, func(st *WidgetState) {
		st.Snapshot = snap
		st.Err = nil
		st.LastRefreshed = s.now()
	})

	if s.cache != nil && snap != nil {
		if cacheErr := s.cache.Set(ctx, snapshotKey(connectionID), *snap, s.ttl); cacheErr != nil {
			log.Printf("[scheduler] cache write for %s failed: %v", connectionID, cacheErr)
		}
	}
	return nil
}

// Refresh runs one manual, backend-cache-bypassing fetch for a widget.
// It works whether or not a loop is running for the connection.
func (s *Scheduler) Refresh(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	e, ok := s.entries[connectionID]
	s.mu.Unlock()
	if !ok {
		e = &entry{provider: "unknown"}
	}
	return s.refresh(ctx, e, connectionID, true)
}

// Snapshot returns the snapshot for a connection, serving from cache when
// fresh and falling back to a non-forced fetch on a miss.
func (s *Scheduler) Snapshot(ctx context.Context, connectionID string) (models.WidgetSnapshot, error) {
	if s.cache == nil {
		snap, err := s.fetch(ctx, connectionID, false)
		if err != nil {
			return models.WidgetSnapshot{}, err
		}
		return *snap, nil
	}

	fetched := false
	snap, err := cache.GetWithFetch(ctx, s.cache, snapshotKey(connectionID), s.ttl,
		func(ctx context.Context, _ string) (models.WidgetSnapshot, error) {
			fetched = true
			s.metrics.RecordSnapshotCache(false)
			snap, err := s.fetch(ctx, connectionID, false)
			if err != nil {
				return models.WidgetSnapshot{}, err
			}
			return *snap, nil
		})
	if err == nil && !fetched {
		s.metrics.RecordSnapshotCache(true)
	}
	return snap, err
}

// Stop halts the refresh loop for one widget and waits for it to exit.
// The last known state is kept.
func (s *Scheduler) Stop(connectionID string) {
	s.mu.Lock()
	e, ok := s.entries[connectionID]
	if ok {
		delete(s.entries, connectionID)
	}
	s.mu.Unlock()

	if ok {
		e.cancel()
		<-e.done
	}
}

// StopAll halts every refresh loop.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for id, e := range entries {
		e.cancel()
		<-e.done
		log.Printf("[scheduler] widget %s stopped", id)
	}
}

// Running reports whether a refresh loop exists for the connection.
func (s *Scheduler) Running(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[connectionID]
	return ok
}

// State returns the last refresh outcome for a connection.
func (s *Scheduler) State(connectionID string) (WidgetState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[connectionID]
	return st, ok
}

// States returns a copy of all widget states.
func (s *Scheduler) States() map[string]WidgetState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]WidgetState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

func (s *Scheduler) setState(connectionID string, mutate func(*WidgetState)) {
	s.mu.Lock()
	st := s.states[connectionID]
	mutate(&st)
	s.states[connectionID] = st
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(connectionID, st)
	}
}

func snapshotKey(connectionID string) string {
	return "snapshot:" + connectionID
}
