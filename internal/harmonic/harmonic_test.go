package harmonic

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController() *Controller {
	return New(zerolog.Nop())
}

func healthyCurrent(b Baseline) Current {
	return Current{
		BinVelocity:    b.BinVelocity,
		SwapVelocity:   b.SwapVelocity,
		PoolEntropy:    b.PoolEntropy,
		LiquidityUSD:   b.LiquidityUSD,
		FeeIntensity:   0.001,
		VelocitySlope:  1,
		LiquiditySlope: 1,
		EntropySlope:   1,
		SlopesValid:    true,
	}
}

func degradedCurrent() Current {
	return Current{
		BinVelocity:    0.001,
		SwapVelocity:   0.001,
		PoolEntropy:    0.01,
		LiquidityUSD:   10,
		FeeIntensity:   0,
		VelocitySlope:  -20,
		LiquiditySlope: -5,
		EntropySlope:   -1,
		SlopesValid:    true,
	}
}

func TestEvaluateHarmonicStop_GracePeriodAlwaysHolds(t *testing.T) {
	c := newController()
	baseline := Baseline{BinVelocity: 1, SwapVelocity: 1, PoolEntropy: 0.8, LiquidityUSD: 1000}
	entry := time.Unix(0, 0)
	c.RegisterHarmonicTrade("t1", "pool", domain.TierC, baseline, entry)

	d := c.EvaluateHarmonicStop(context.Background(), "t1", entry.Add(30*time.Second), degradedCurrent())
	assert.Equal(t, Hold, d.Action)
	assert.Equal(t, 0, d.ConsecutiveBadSamples)
}

func TestEvaluateHarmonicStop_HealthyStaysHold(t *testing.T) {
	c := newController()
	baseline := Baseline{BinVelocity: 1, SwapVelocity: 1, PoolEntropy: 0.8, LiquidityUSD: 1000}
	entry := time.Unix(0, 0)
	c.RegisterHarmonicTrade("t1", "pool", domain.TierC, baseline, entry)

	now := entry.Add(2 * time.Minute)
	d := c.EvaluateHarmonicStop(context.Background(), "t1", now, healthyCurrent(baseline))
	assert.Equal(t, Hold, d.Action)
	assert.InDelta(t, 1.0, d.HealthScore, 1e-9)
}

func TestEvaluateHarmonicStop_SustainedDegradationExits(t *testing.T) {
	c := newController()
	baseline := Baseline{BinVelocity: 1, SwapVelocity: 1, PoolEntropy: 0.8, LiquidityUSD: 1000}
	entry := time.Unix(0, 0)
	tier := domain.TierC
	c.RegisterHarmonicTrade("t1", "pool", tier, baseline, entry)

	cfg := DefaultTierConfigs[tier]
	now := entry.Add(cfg.MinHoldTime + time.Second)

	var last Decision
	for i := 0; i < cfg.MinBadSamples; i++ {
		now = now.Add(time.Minute)
		last = c.EvaluateHarmonicStop(context.Background(), "t1", now, degradedCurrent())
	}

	assert.Equal(t, FullExit, last.Action)
	assert.GreaterOrEqual(t, last.ConsecutiveBadSamples, cfg.MinBadSamples)
}

func TestEvaluateHarmonicStop_HealthyResetsCounterAndUnfreezes(t *testing.T) {
	c := newController()
	baseline := Baseline{BinVelocity: 1, SwapVelocity: 1, PoolEntropy: 0.8, LiquidityUSD: 1000}
	entry := time.Unix(0, 0)
	tier := domain.TierC
	c.RegisterHarmonicTrade("t1", "pool", tier, baseline, entry)
	cfg := DefaultTierConfigs[tier]

	now := entry.Add(cfg.MinHoldTime + time.Second)
	now = now.Add(time.Minute)
	d := c.EvaluateHarmonicStop(context.Background(), "t1", now, degradedCurrent())
	require.Equal(t, Hold, d.Action)
	assert.Equal(t, 1, d.ConsecutiveBadSamples)

	now = now.Add(time.Minute)
	d = c.EvaluateHarmonicStop(context.Background(), "t1", now, healthyCurrent(baseline))
	assert.Equal(t, 0, d.ConsecutiveBadSamples)
}

func TestCounter_CapsAtMinBadSamplesPlusOneWhenFrozen(t *testing.T) {
	c := newController()
	baseline := Baseline{BinVelocity: 1, SwapVelocity: 1, PoolEntropy: 0.8, LiquidityUSD: 1000}
	entry := time.Unix(0, 0)
	tier := domain.TierC
	c.RegisterHarmonicTrade("t1", "pool", tier, baseline, entry)
	cfg := DefaultTierConfigs[tier]

	now := entry.Add(cfg.MinHoldTime + time.Second)
	var d Decision
	for i := 0; i < cfg.MinBadSamples-1; i++ {
		now = now.Add(time.Minute)
		d = c.EvaluateHarmonicStop(context.Background(), "t1", now, degradedCurrent())
	}
	require.Equal(t, Hold, d.Action)

	c.SetFreeze("t1", true, now)
	for i := 0; i < 10; i++ {
		now = now.Add(time.Minute)
		d = c.EvaluateHarmonicStop(context.Background(), "t1", now, degradedCurrent())
	}

	assert.LessOrEqual(t, d.ConsecutiveBadSamples, cfg.MinBadSamples+1)
	assert.Equal(t, Hold, d.Action)
}

func TestForceExit_BypassesFreeze(t *testing.T) {
	c := newController()
	baseline := Baseline{BinVelocity: 1, SwapVelocity: 1, PoolEntropy: 0.8, LiquidityUSD: 1000}
	entry := time.Unix(0, 0)
	c.RegisterHarmonicTrade("t1", "pool", domain.TierA, baseline, entry)
	c.SetFreeze("t1", true, entry)

	d := c.ForceExit("t1")
	assert.Equal(t, FullExit, d.Action)

	// Once force-exited, subsequent evaluations report FULL_EXIT too.
	d2 := c.EvaluateHarmonicStop(context.Background(), "t1", entry.Add(time.Hour), healthyCurrent(baseline))
	assert.Equal(t, FullExit, d2.Action)
}

func TestEvaluateHarmonicStop_UnknownTradeHolds(t *testing.T) {
	c := newController()
	d := c.EvaluateHarmonicStop(context.Background(), "missing", time.Now(), Current{})
	assert.Equal(t, Hold, d.Action)
}
