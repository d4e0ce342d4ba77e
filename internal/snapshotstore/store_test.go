package snapshotstore

import (
	"testing"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(t time.Time, liq float64) domain.Snapshot {
	return domain.Snapshot{
		FetchedAt:      t,
		ActiveBin:      10,
		TotalLiquidity: liq,
		LiquidityUSD:   liq,
		Velocity:       1,
		Distribution:   map[int]domain.BinState{10: {Liquidity: liq, SwapCount: 1}},
	}
}

func TestAppend_EvictsOldestBeyondCapacity(t *testing.T) {
	s := New(3, zerolog.Nop())
	pool := domain.PoolAddress("pool-1")
	base := time.Now()

	for i := 0; i < 5; i++ {
		err := s.Append(pool, snap(base.Add(time.Duration(i)*time.Second), float64(i)))
		require.NoError(t, err)
	}

	hist := s.History(pool)
	assert.Len(t, hist, 3)
	assert.Equal(t, float64(2), hist[0].LiquidityUSD)
	assert.Equal(t, float64(4), hist[2].LiquidityUSD)
}

func TestAppend_RejectsNonMonotonicFetchedAt(t *testing.T) {
	s := New(20, zerolog.Nop())
	pool := domain.PoolAddress("pool-1")
	base := time.Now()

	require.NoError(t, s.Append(pool, snap(base, 1)))

	err := s.Append(pool, snap(base, 2))
	var monoErr *domain.MonotonicityViolationError
	require.ErrorAs(t, err, &monoErr)

	err = s.Append(pool, snap(base.Add(-time.Second), 2))
	require.ErrorAs(t, err, &monoErr)

	assert.Len(t, s.History(pool), 1)
}

func TestAppend_RejectsNegativeLiquidity(t *testing.T) {
	s := New(20, zerolog.Nop())
	pool := domain.PoolAddress("pool-1")
	bad := snap(time.Now(), -1)

	err := s.Append(pool, bad)
	require.Error(t, err)
	assert.Equal(t, 0, s.Len(pool))
}

func TestWindow_ReturnsFewerWhenHistoryShort(t *testing.T) {
	s := New(20, zerolog.Nop())
	pool := domain.PoolAddress("pool-1")
	base := time.Now()

	require.NoError(t, s.Append(pool, snap(base, 1)))
	require.NoError(t, s.Append(pool, snap(base.Add(time.Second), 2)))

	assert.Len(t, s.Window(pool, 5), 2)
	assert.Len(t, s.Window(pool, 1), 1)
}

func TestDrop_ReleasesStorage(t *testing.T) {
	s := New(20, zerolog.Nop())
	pool := domain.PoolAddress("pool-1")
	require.NoError(t, s.Append(pool, snap(time.Now(), 1)))

	s.Drop(pool)
	assert.Equal(t, 0, s.Len(pool))
	assert.Empty(t, s.History(pool))
}

func TestPoolsAreIndependent(t *testing.T) {
	s := New(20, zerolog.Nop())
	a := domain.PoolAddress("a")
	b := domain.PoolAddress("b")
	base := time.Now()

	require.NoError(t, s.Append(a, snap(base, 1)))
	require.NoError(t, s.Append(b, snap(base.Add(-time.Hour), 1)))

	assert.Equal(t, 1, s.Len(a))
	assert.Equal(t, 1, s.Len(b))
}
