// Package venue defines the external interfaces the decision core
// consumes: a pool discovery/telemetry source and an execution venue.
// The decision core owns only their Go shape plus one concrete
// implementation of each: a live websocket telemetry client and a
// paper-trading execution venue for the PAPER_TRADING=true default.
package venue

import (
	"context"

	"github.com/aristath/dlmm-sentinel/internal/domain"
)

// PositionHandle identifies one open venue position.
type PositionHandle string

// TelemetrySource is the pool discovery / telemetry source interface.
// Implementations are best-effort; callers tolerate partial failure
// per-pool rather than assuming atomicity across a whole listing or
// snapshot batch.
type TelemetrySource interface {
	// ListPools returns the current raw pool descriptors.
	ListPools(ctx context.Context) ([]domain.PoolDescriptor, error)

	// Snapshot returns the current microstructure reading for one pool.
	Snapshot(ctx context.Context, pool domain.PoolAddress) (domain.Snapshot, error)
}

// BinRange is the inclusive bin-id range a position is deployed across.
type BinRange struct {
	LowerBin int
	UpperBin int
}

// ExecutionVenue is the four operations the decision core consumes. The
// orchestrator never assumes atomicity across pools or across these four
// calls. It does not query the venue for position state: a failed call is
// logged, and a position being closed is still removed from the Ledger and
// the position registry.
type ExecutionVenue interface {
	AddLiquidity(ctx context.Context, pool domain.PoolAddress, binRange BinRange, amountUsd float64) (PositionHandle, error)
	RemoveLiquidity(ctx context.Context, handle PositionHandle) (withdrawnUsd float64, err error)
	ClaimFees(ctx context.Context, handle PositionHandle) (feesUsd float64, err error)
	ClosePosition(ctx context.Context, handle PositionHandle) error
}
