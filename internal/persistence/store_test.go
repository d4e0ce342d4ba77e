//go:build sqlite_pure

package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/sharpe"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndLoadTradeOutcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := sharpe.ClosedTrade{
		TradeID:     "t1",
		Pool:        "pool1",
		EntryTime:   time.Unix(0, 0),
		ExitTime:    time.Unix(100, 0),
		SizeUsd:     500,
		RealizedPnL: 12.5,
	}
	require.NoError(t, s.AppendTradeOutcome(ctx, trade))

	loaded, err := s.LoadPoolPerformanceHistory(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, trade.TradeID, loaded[0].TradeID)
	assert.Equal(t, trade.RealizedPnL, loaded[0].RealizedPnL)
}

func TestAppendSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := domain.Snapshot{
		FetchedAt:      time.Unix(10, 0),
		ActiveBin:      5,
		TotalLiquidity: 1000,
		LiquidityUSD:   2000,
		Velocity:       0.5,
		Distribution:   map[int]domain.BinState{5: {Liquidity: 100, SwapCount: 3}},
	}
	require.NoError(t, s.AppendSnapshot(ctx, "pool1", snap))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestAppendRegimeAndUniverseUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendRegimeTransition(ctx, RegimeTransitionRecord{
		OccurredAt: time.Now(), From: "TREND", To: "CHOP",
	}))
	require.NoError(t, s.AppendUniverseUpdate(ctx, UniverseUpdateRecord{
		Pool: "pool1", OccurredAt: time.Now(), From: "ACTIVE", To: "PROBATION",
	}))

	var regimeCount, universeCount int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM regime_transitions`).Scan(&regimeCount))
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM universe_updates`).Scan(&universeCount))
	assert.Equal(t, 1, regimeCount)
	assert.Equal(t, 1, universeCount)
}
