// Package snapshotstore owns the bounded per-pool history of microstructure
// snapshots. It is the single source of ground truth every
// scoring component reads; nothing outside this package mutates a history
// buffer.
package snapshotstore

import (
	"sync"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// Store is a bounded, per-pool ring buffer of snapshots. Safe for
// concurrent use; callers never hold a reference into internal storage
// across calls.
type Store struct {
	mu            sync.RWMutex
	maxPerPool    int
	histories     map[domain.PoolAddress][]domain.Snapshot
	log           zerolog.Logger
}

// New creates a Store retaining at most maxPerPool snapshots per pool.
func New(maxPerPool int, log zerolog.Logger) *Store {
	if maxPerPool <= 0 {
		maxPerPool = 20
	}
	return &Store{
		maxPerPool: maxPerPool,
		histories:  make(map[domain.PoolAddress][]domain.Snapshot),
		log:        log.With().Str("component", "snapshot_store").Logger(),
	}
}

// Append adds a new snapshot for pool, evicting the oldest once the buffer
// is full. Returns MonotonicityViolationError (and discards the snapshot)
// if fetchedAt does not strictly advance past the previous entry.
func (s *Store) Append(pool domain.PoolAddress, snap domain.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.histories[pool]
	if len(hist) > 0 {
		prev := hist[len(hist)-1]
		if !snap.FetchedAt.After(prev.FetchedAt) {
			s.log.Warn().
				Str("pool", string(pool)).
				Time("previous", prev.FetchedAt).
				Time("attempt", snap.FetchedAt).
				Msg("discarding out-of-order snapshot")
			return &domain.MonotonicityViolationError{
				Pool:     pool,
				Previous: prev.FetchedAt.UnixNano(),
				Attempt:  snap.FetchedAt.UnixNano(),
			}
		}
	}

	hist = append(hist, snap)
	if len(hist) > s.maxPerPool {
		hist = hist[len(hist)-s.maxPerPool:]
	}
	s.histories[pool] = hist
	return nil
}

// Window returns the last n snapshots for pool, oldest first, or fewer if
// the history is shorter. Returns a copy; callers may not mutate it back
// into the store.
func (s *Store) Window(pool domain.PoolAddress, n int) []domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.histories[pool]
	if n <= 0 || n > len(hist) {
		n = len(hist)
	}
	out := make([]domain.Snapshot, n)
	copy(out, hist[len(hist)-n:])
	return out
}

// History returns the full retained window for pool.
func (s *Store) History(pool domain.PoolAddress) []domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.histories[pool]
	out := make([]domain.Snapshot, len(hist))
	copy(out, hist)
	return out
}

// Drop releases storage for pool, e.g. when it leaves the universe.
func (s *Store) Drop(pool domain.PoolAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, pool)
}

// Len reports how many snapshots are currently retained for pool.
func (s *Store) Len(pool domain.PoolAddress) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories[pool])
}

// Pools returns every pool address currently tracked.
func (s *Store) Pools() []domain.PoolAddress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PoolAddress, 0, len(s.histories))
	for p := range s.histories {
		out = append(out, p)
	}
	return out
}
