package ledger

import (
	"testing"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(devMode bool) *Ledger {
	return New(devMode, events.NewLog(10, zerolog.Nop()), zerolog.Nop())
}

func TestOpen_IncreasesDeployedTotal(t *testing.T) {
	l := newTestLedger(true)
	require.NoError(t, l.Open("t1", "pool", domain.TierA, 500))

	snap := l.Snapshot()
	assert.Equal(t, 500.0, snap.TotalDeployedUsd)
	assert.Equal(t, 500.0, snap.DeployedByTier[domain.TierA])
	assert.Equal(t, 1, snap.PositionsByTier[domain.TierA])
}

func TestClose_ReleasesCapitalAndAppliesPnL(t *testing.T) {
	l := newTestLedger(true)
	require.NoError(t, l.Open("t1", "pool", domain.TierA, 500))
	require.NoError(t, l.Close("t1", "pool", domain.TierA, 500, 42, "harmonic_exit"))

	snap := l.Snapshot()
	assert.Equal(t, 0.0, snap.TotalDeployedUsd)
	assert.Equal(t, 42.0, snap.RealizedPnLUsd)
}

func TestMarkPnL_AppliesOutOfBandDelta(t *testing.T) {
	l := newTestLedger(false)
	l.MarkPnL(10)
	l.MarkPnL(-3)

	assert.Equal(t, 7.0, l.Snapshot().RealizedPnLUsd)
}

func TestSnapshot_ReturnsIndependentCopy(t *testing.T) {
	l := newTestLedger(true)
	require.NoError(t, l.Open("t1", "pool", domain.TierA, 500))

	snap := l.Snapshot()
	snap.DeployedByTier[domain.TierA] = 999999

	assert.Equal(t, 500.0, l.Snapshot().DeployedByTier[domain.TierA])
}

func TestOpen_DevModeDetectsCorruptedState(t *testing.T) {
	l := newTestLedger(true)
	require.NoError(t, l.Open("t1", "pool", domain.TierA, 500))

	l.totalDeployed = 999 // simulate corruption bypassing Open/Close
	err := l.assertConsistent()

	var invariant *domain.InvariantViolationError
	require.ErrorAs(t, err, &invariant)
}

func TestOpen_NonDevModeSkipsAssertion(t *testing.T) {
	l := newTestLedger(false)
	require.NoError(t, l.Open("t1", "pool", domain.TierA, 500))

	l.totalDeployed = 999
	assert.NoError(t, l.assertConsistent())
}
