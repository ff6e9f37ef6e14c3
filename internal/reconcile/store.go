package reconcile

import (
	"sort"
	"sync"

	"github.com/climbox/telemetry-engine/internal/domain"
)

// State tracks how authoritative a location's published data is. States
// only advance; a history refresh while live never demotes back.
type State int

const (
	StateCold State = iota
	StateCached
	StateHistoryLoaded
	StateLive
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateCached:
		return "cached"
	case StateHistoryLoaded:
		return "history_loaded"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// locationState is the single-writer mutable state for one location. All
// mutation happens through the Reconciler while holding mu; readers only
// ever observe the published immutable *Snapshot.
type locationState struct {
	mu       sync.Mutex
	state    State
	snapshot *domain.Snapshot
	buffer   *HistoryBuffer

	// closed marks a torn-down location: in-flight fetches that complete
	// after teardown are discarded instead of applied.
	closed bool
}

// Store owns all per-location reconciliation state, keyed by locationId.
// It replaces the ambient per-page snapshot globals of the legacy frontend
// with one injectable owner exposing read-only published snapshots.
type Store struct {
	mu        sync.RWMutex
	bufferCap int
	locations map[string]*locationState
}

// NewStore creates a Store whose history buffers hold bufferCap points.
func NewStore(bufferCap int) *Store {
	return &Store{
		bufferCap: bufferCap,
		locations: make(map[string]*locationState),
	}
}

// loc returns the state for a location, creating it on first use.
func (s *Store) loc(id string) *locationState {
	s.mu.RLock()
	ls, ok := s.locations[id]
	s.mu.RUnlock()
	if ok {
		return ls
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ls, ok = s.locations[id]; ok {
		return ls
	}
	ls = &locationState{buffer: NewHistoryBuffer(s.bufferCap)}
	s.locations[id] = ls
	return ls
}

// Snapshot returns the published snapshot for a location. The returned
// value is immutable; commits replace it, never mutate it.
func (s *Store) Snapshot(id string) (*domain.Snapshot, bool) {
	s.mu.RLock()
	ls, ok := s.locations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.snapshot == nil {
		return nil, false
	}
	return ls.snapshot, true
}

// History returns a copy of the rolling chart window, oldest first.
func (s *Store) History(id string) []domain.HistoryPoint {
	s.mu.RLock()
	ls, ok := s.locations[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.buffer.Points()
}

// State reports a location's reconciliation state.
func (s *Store) State(id string) State {
	s.mu.RLock()
	ls, ok := s.locations[id]
	s.mu.RUnlock()
	if !ok {
		return StateCold
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.state
}

// Close tears down a location. Later event applications for it are
// silently discarded.
func (s *Store) Close(id string) {
	ls := s.loc(id)
	ls.mu.Lock()
	ls.closed = true
	ls.mu.Unlock()
}

// Locations lists all known location IDs, sorted.
func (s *Store) Locations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.locations))
	for id := range s.locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
