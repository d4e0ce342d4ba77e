// Package ledger is the Portfolio Ledger: the single authoritative
// store of capital state. Every read by the Risk Bucket Engine and every
// report goes through it; nothing else may keep a shadow total. One
// RWMutex-guarded struct, accessors only.
package ledger

import (
	"sync"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/events"
	"github.com/rs/zerolog"
)

// Snapshot is a point-in-time read of the ledger's capital state.
type Snapshot struct {
	TotalDeployedUsd float64
	DeployedByTier   map[domain.Tier]float64
	PositionsByTier  map[domain.Tier]int
	RealizedPnLUsd   float64
}

// Ledger owns the portfolio's deployed-capital bookkeeping.
type Ledger struct {
	mu sync.RWMutex

	deployedByTier  map[domain.Tier]float64
	positionsByTier map[domain.Tier]int
	totalDeployed   float64
	realizedPnL     float64

	devMode  bool
	eventLog *events.Log
	log      zerolog.Logger
}

// New creates an empty Portfolio Ledger. devMode enables the assertion
// layer that cross-checks per-tier sums against the global total on
// every mutation.
func New(devMode bool, eventLog *events.Log, log zerolog.Logger) *Ledger {
	return &Ledger{
		deployedByTier:  make(map[domain.Tier]float64),
		positionsByTier: make(map[domain.Tier]int),
		devMode:         devMode,
		eventLog:        eventLog,
		log:             log.With().Str("component", "portfolio_ledger").Logger(),
	}
}

// Open records a newly opened position.
func (l *Ledger) Open(tradeID string, pool domain.PoolAddress, tier domain.Tier, sizeUsd float64) error {
	l.mu.Lock()
	l.deployedByTier[tier] += sizeUsd
	l.positionsByTier[tier]++
	l.totalDeployed += sizeUsd
	err := l.assertConsistent()
	l.mu.Unlock()

	if err != nil {
		return err
	}

	l.eventLog.Append("ledger", &events.PositionOpenedData{
		TradeID: tradeID, Pool: string(pool), Tier: string(tier), SizeUsd: sizeUsd,
	})
	return nil
}

// Close records a closed position, releasing its deployed capital and
// applying its realized PnL.
func (l *Ledger) Close(tradeID string, pool domain.PoolAddress, tier domain.Tier, sizeUsd, realizedPnL float64, reason string) error {
	l.mu.Lock()
	l.deployedByTier[tier] -= sizeUsd
	l.positionsByTier[tier]--
	l.totalDeployed -= sizeUsd
	l.realizedPnL += realizedPnL
	err := l.assertConsistent()
	l.mu.Unlock()

	if err != nil {
		return err
	}

	l.eventLog.Append("ledger", &events.PositionClosedData{
		TradeID: tradeID, Pool: string(pool), RealizedPnL: realizedPnL, Reason: reason,
	})
	return nil
}

// MarkPnL applies an out-of-band realized PnL delta, e.g. claimed fees
// not tied to a position close.
func (l *Ledger) MarkPnL(delta float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.realizedPnL += delta
}

// Snapshot returns a copy of the ledger's current capital state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	deployedByTier := make(map[domain.Tier]float64, len(l.deployedByTier))
	for k, v := range l.deployedByTier {
		deployedByTier[k] = v
	}
	positionsByTier := make(map[domain.Tier]int, len(l.positionsByTier))
	for k, v := range l.positionsByTier {
		positionsByTier[k] = v
	}

	return Snapshot{
		TotalDeployedUsd: l.totalDeployed,
		DeployedByTier:   deployedByTier,
		PositionsByTier:  positionsByTier,
		RealizedPnLUsd:   l.realizedPnL,
	}
}

// assertConsistent must be called with l.mu held. In dev mode it checks
// that per-tier sums match the global deployed total and that no view
// shows zero deployment while the ledger holds a nonzero total. Any
// discrepancy is a fatal data-integrity error; the caller is expected to
// log.Fatal on a non-nil return.
func (l *Ledger) assertConsistent() error {
	if !l.devMode {
		return nil
	}

	var sum float64
	for _, v := range l.deployedByTier {
		sum += v
	}

	const epsilon = 1e-6
	diff := sum - l.totalDeployed
	if diff < 0 {
		diff = -diff
	}
	if diff > epsilon {
		detail := "per-tier deployed sum does not match global total"
		if l.eventLog != nil {
			l.eventLog.Append("ledger", &events.LedgerAssertionFailedData{Detail: detail})
		}
		return &domain.InvariantViolationError{Reason: detail}
	}

	if l.totalDeployed > epsilon && sum <= epsilon {
		detail := "ledger holds nonzero deployment but per-tier view is all zero"
		if l.eventLog != nil {
			l.eventLog.Append("ledger", &events.LedgerAssertionFailedData{Detail: detail})
		}
		return &domain.InvariantViolationError{Reason: detail}
	}

	return nil
}
