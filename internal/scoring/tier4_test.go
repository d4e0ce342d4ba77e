package scoring

import (
	"testing"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScorer() *Scorer {
	return NewScorer(zerolog.Nop())
}

func baseMetricsResult() *metrics.Result {
	return &metrics.Result{
		BinVelocity:   60,
		SwapVelocity:  60,
		LiquidityFlow: 60,
		FeeIntensity:  60,
		PoolEntropy:   0.70,
		Raw: metrics.Raw{
			BinVelocity:       0.05,
			BinVelocitySigned: 0.05,
			SwapVelocity:      0.30,
			LiquidityFlow:     0.10,
			FeeIntensity:      0.001,
			Entropy:           0.70,
		},
	}
}

func TestCompute_BaseScoreIsWeightedSum(t *testing.T) {
	s := testScorer()
	m := baseMetricsResult()
	score := s.Compute("pool", time.Now(), m, 0, 0, 0, false)

	expectedBase := 60*weightBinVelocity + 60*weightSwapVelocity + 60*weightLiquidityFlow +
		60*weightFeeIntensity + score.EntropyScore*weightEntropy
	assert.InDelta(t, expectedBase, score.BaseScore, 1e-9)
	assert.True(t, score.Valid)
}

func TestCompute_BullRegimeAppliesPositiveMultiplier(t *testing.T) {
	s := testScorer()
	m := baseMetricsResult()
	m.Raw.BinVelocitySigned = 0.10
	score := s.Compute("pool", time.Now(), m, 0, 0, 0, false)

	assert.Equal(t, domain.RegimeBull, score.Regime)
	assert.Equal(t, 1.20, score.RegimeMultiplier)
}

func TestCompute_BearRegimeAppliesNegativeMultiplier(t *testing.T) {
	s := testScorer()
	m := baseMetricsResult()
	m.Raw.BinVelocitySigned = -0.10
	score := s.Compute("pool", time.Now(), m, 0, 0, 0, false)

	assert.Equal(t, domain.RegimeBear, score.Regime)
	assert.Equal(t, 0.80, score.RegimeMultiplier)
}

func TestCompute_MigrationReversalBlocksScore(t *testing.T) {
	s := testScorer()
	m := baseMetricsResult()
	now := time.Now()

	first := s.Compute("pool", now, m, 0, 0.50, 0, true)
	require.Equal(t, domain.MigrationIn, first.Migration)

	second := s.Compute("pool", now.Add(time.Minute), m, 0, -0.50, 0, true)
	require.Equal(t, domain.MigrationOut, second.Migration)
	assert.Equal(t, 0.0, second.MigrationMultiplier)
	assert.Equal(t, 0.0, second.Tier4Score)
	assert.Equal(t, "migration_reversal_block", second.Reason)
}

func TestCompute_BinWidthNarrowsWithHigherScore(t *testing.T) {
	s := testScorer()
	m := baseMetricsResult()
	m.BinVelocity, m.SwapVelocity, m.LiquidityFlow, m.FeeIntensity = 95, 95, 95, 95
	high := s.Compute("poolA", time.Now(), m, 0, 0, 0, false)
	assert.Equal(t, widthNarrow, high.BinWidth)

	low := baseMetricsResult()
	low.BinVelocity, low.SwapVelocity, low.LiquidityFlow, low.FeeIntensity = 5, 5, 5, 5
	lowScore := s.Compute("poolB", time.Now(), low, 0, 0, 0, false)
	assert.Equal(t, widthWide, lowScore.BinWidth)
}

func TestForget_ClearsPerPoolState(t *testing.T) {
	s := testScorer()
	m := baseMetricsResult()
	now := time.Now()
	s.Compute("pool", now, m, 0, 0.50, 0, true)

	s.Forget("pool")

	s.mu.Lock()
	_, ok := s.previousMigration["pool"]
	s.mu.Unlock()
	assert.False(t, ok)
}

func TestTimeWeightMultiplier_NeedsMinimumSamples(t *testing.T) {
	s := testScorer()
	now := time.Now()
	mult, healthy := s.timeWeightMultiplier("pool", now, 0.5)
	assert.Equal(t, 1.0, mult)
	assert.False(t, healthy)
}

func TestTimeWeightMultiplier_ConsistentSamplesYieldBonus(t *testing.T) {
	s := testScorer()
	now := time.Now()
	var mult float64
	var healthy bool
	for i := 0; i < 6; i++ {
		mult, healthy = s.timeWeightMultiplier("pool", now.Add(time.Duration(i)*time.Minute), 0.5)
	}
	assert.True(t, healthy)
	assert.GreaterOrEqual(t, mult, 1.0)
}

func TestTimeWeightMultiplier_DropsSamplesOutsideWindow(t *testing.T) {
	s := testScorer()
	now := time.Now()
	s.timeWeightMultiplier("pool", now, 0.5)
	_, healthy := s.timeWeightMultiplier("pool", now.Add(time.Hour), 0.5)
	assert.False(t, healthy)

	s.mu.Lock()
	n := len(s.rollingSamples["pool"])
	s.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestClassifyMigration_RequiresValidSlopes(t *testing.T) {
	assert.Equal(t, domain.MigrationNeutral, classifyMigration(0.50, false))
	assert.Equal(t, domain.MigrationIn, classifyMigration(0.50, true))
	assert.Equal(t, domain.MigrationOut, classifyMigration(-0.50, true))
	assert.Equal(t, domain.MigrationNeutral, classifyMigration(0.10, true))
}
