// Package orchestrator runs the per-cycle decision-core pipeline:
// refresh telemetry, score, gate, size, open/close positions, then run
// Harmonic Stops and the Kill Switch. It is the sole owner of Active
// Position records; Harmonic Stops and the Ledger reference them only by
// trade id, never by shared mutable pointer.
package orchestrator

import (
	"sync"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/harmonic"
	"github.com/aristath/dlmm-sentinel/internal/scoring"
	"github.com/aristath/dlmm-sentinel/internal/venue"
)

// Position is the Active position record.
// SizeUsd is immutable once set until the position is scaled or exited;
// BaselineSnapshot is immutable for the life of the position.
type Position struct {
	TradeID          string
	Pool             domain.PoolAddress
	Tier             domain.Tier
	Handle           venue.PositionHandle
	EntryTime        time.Time
	EntryScore       float64
	SizeUsd          float64
	PeakScore        float64
	BinRange         venue.BinRange
	BaselineSnapshot harmonic.Baseline
	ConsecutiveCycles int
	TookProfit1      bool
	TookProfit2      bool
	RegimeAtEntry    domain.Regime
	MigrationAtEntry domain.MigrationDirection
	SlopesAtEntry    scoring.Score
}

// positionRegistry is the orchestrator's exclusive store of open
// positions, keyed by pool address (at most one open position per pool)
// and by trade id for Harmonic Stops / Ledger close-out lookups.
type positionRegistry struct {
	mu       sync.RWMutex
	byPool   map[domain.PoolAddress]*Position
	byTradeID map[string]*Position
}

func newPositionRegistry() *positionRegistry {
	return &positionRegistry{
		byPool:    make(map[domain.PoolAddress]*Position),
		byTradeID: make(map[string]*Position),
	}
}

func (r *positionRegistry) open(p *Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPool[p.Pool] = p
	r.byTradeID[p.TradeID] = p
}

func (r *positionRegistry) close(tradeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byTradeID[tradeID]; ok {
		if r.byPool[p.Pool] == p {
			delete(r.byPool, p.Pool)
		}
		delete(r.byTradeID, tradeID)
	}
}

func (r *positionRegistry) hasOpenPosition(pool domain.PoolAddress) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPool[pool]
	return ok
}

func (r *positionRegistry) all() []*Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Position, 0, len(r.byTradeID))
	for _, p := range r.byTradeID {
		out = append(out, p)
	}
	return out
}

func (r *positionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTradeID)
}
