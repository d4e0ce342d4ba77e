package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// paperPosition is the simulated state backing one open paper position.
type paperPosition struct {
	pool      domain.PoolAddress
	binRange  BinRange
	amountUsd float64
	feesPaid  float64
	closed    bool
}

// PaperExecutionVenue simulates the four execution-venue operations for
// the PAPER_TRADING=true default: positions are tracked by an opaque
// handle and capital moves only on explicit calls, no background
// settlement.
type PaperExecutionVenue struct {
	mu        sync.Mutex
	positions map[PositionHandle]*paperPosition
	feeBps    float64
	log       zerolog.Logger
}

// NewPaperExecutionVenue creates a paper-trading venue. feeBps is the flat
// simulated fee yield applied per ClaimFees call, expressed in basis points
// of deployed capital per call.
func NewPaperExecutionVenue(feeBps float64, log zerolog.Logger) *PaperExecutionVenue {
	return &PaperExecutionVenue{
		positions: make(map[PositionHandle]*paperPosition),
		feeBps:    feeBps,
		log:       log.With().Str("component", "paper_execution_venue").Logger(),
	}
}

// AddLiquidity opens a simulated position and returns a new opaque handle.
func (p *PaperExecutionVenue) AddLiquidity(ctx context.Context, pool domain.PoolAddress, binRange BinRange, amountUsd float64) (PositionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	handle := PositionHandle(uuid.NewString())
	p.positions[handle] = &paperPosition{pool: pool, binRange: binRange, amountUsd: amountUsd}
	p.log.Info().Str("pool", string(pool)).Str("handle", string(handle)).Float64("amount_usd", amountUsd).Msg("paper add liquidity")
	return handle, nil
}

// RemoveLiquidity withdraws the full simulated principal for handle.
func (p *PaperExecutionVenue) RemoveLiquidity(ctx context.Context, handle PositionHandle) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[handle]
	if !ok {
		return 0, fmt.Errorf("paper venue: unknown position handle %s", handle)
	}
	withdrawn := pos.amountUsd
	pos.amountUsd = 0
	return withdrawn, nil
}

// ClaimFees returns a simulated fee accrual proportional to deployed
// capital and adds it to the position's running fee total.
func (p *PaperExecutionVenue) ClaimFees(ctx context.Context, handle PositionHandle) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[handle]
	if !ok {
		return 0, fmt.Errorf("paper venue: unknown position handle %s", handle)
	}
	fees := pos.amountUsd * p.feeBps / 10000
	pos.feesPaid += fees
	return fees, nil
}

// ClosePosition marks the simulated position closed and releases it.
func (p *PaperExecutionVenue) ClosePosition(ctx context.Context, handle PositionHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[handle]
	if !ok {
		return fmt.Errorf("paper venue: unknown position handle %s", handle)
	}
	pos.closed = true
	delete(p.positions, handle)
	return nil
}

var _ ExecutionVenue = (*PaperExecutionVenue)(nil)
var _ TelemetrySource = (*LiveTelemetrySource)(nil)
