package momentum

import (
	"testing"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dist(n int, liqEach float64) map[int]domain.BinState {
	d := make(map[int]domain.BinState, n)
	for i := 0; i < n; i++ {
		d[i] = domain.BinState{Liquidity: liqEach, SwapCount: 1}
	}
	return d
}

func TestCompute_RequiresMinSnapshots(t *testing.T) {
	base := time.Now()
	hist := []domain.Snapshot{
		{FetchedAt: base, ActiveBin: 0, LiquidityUSD: 100, Distribution: dist(10, 10)},
		{FetchedAt: base.Add(time.Minute), ActiveBin: 1, LiquidityUSD: 100, Distribution: dist(10, 10)},
	}
	_, err := Compute("pool", 0.003, hist)
	var insufficient *domain.DataInsufficientError
	require.ErrorAs(t, err, &insufficient)
}

func TestCompute_RisingLiquidityYieldsPositiveSlope(t *testing.T) {
	base := time.Now()
	hist := []domain.Snapshot{
		{FetchedAt: base, ActiveBin: 0, LiquidityUSD: 100, Distribution: dist(10, 10)},
		{FetchedAt: base.Add(time.Minute), ActiveBin: 0, LiquidityUSD: 120, Distribution: dist(10, 12)},
		{FetchedAt: base.Add(2 * time.Minute), ActiveBin: 0, LiquidityUSD: 140, Distribution: dist(10, 14)},
		{FetchedAt: base.Add(3 * time.Minute), ActiveBin: 0, LiquidityUSD: 160, Distribution: dist(10, 16)},
	}

	res, err := Compute("pool", 0.003, hist)
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Greater(t, res.LiquiditySlope, 0.0)
}

func TestCompute_ConstantStreamsAreInvalid(t *testing.T) {
	base := time.Now()
	d := dist(10, 10)
	hist := []domain.Snapshot{
		{FetchedAt: base, ActiveBin: 5, LiquidityUSD: 100, Distribution: d},
		{FetchedAt: base.Add(time.Minute), ActiveBin: 5, LiquidityUSD: 100, Distribution: d},
		{FetchedAt: base.Add(2 * time.Minute), ActiveBin: 5, LiquidityUSD: 100, Distribution: d},
	}

	res, err := Compute("pool", 0.003, hist)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}
