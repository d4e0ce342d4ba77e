package domain

import "time"

// BinState is the liquidity and swap activity observed at a single bin id
// in one snapshot.
type BinState struct {
	Liquidity float64
	SwapCount int
}

// Snapshot is an immutable, per-pool, per-time microstructure reading
//. A zero value is never valid; always construct via
// the telemetry source.
type Snapshot struct {
	FetchedAt     time.Time
	ActiveBin     int
	TotalLiquidity float64
	LiquidityUSD  float64
	Velocity      float64 // swaps/sec proxy reported by the venue
	Distribution  map[int]BinState
}

// Validate enforces the invariants a standalone snapshot must hold
// (fetchedAt set, liquidityUSD non-negative). Ordering against a
// predecessor is checked by the Snapshot Store, not here.
func (s Snapshot) Validate() error {
	if s.FetchedAt.IsZero() {
		return &InvariantViolationError{Reason: "snapshot has zero FetchedAt"}
	}
	if s.LiquidityUSD < 0 {
		return &InvariantViolationError{Reason: "snapshot has negative liquidityUSD"}
	}
	return nil
}

// LiquidityAt returns the liquidity at a bin id, or 0 if the bin is absent
// from the distribution.
func (s Snapshot) LiquidityAt(binID int) float64 {
	if bs, ok := s.Distribution[binID]; ok {
		return bs.Liquidity
	}
	return 0
}
