package scoring

import (
	"testing"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestComputeBootstrap_BlueChipPairScoresHighTokenQuality(t *testing.T) {
	desc := domain.PoolDescriptor{
		Address:      "pool",
		MintX:        "SOL",
		MintY:        "USDC",
		BinStepBp:    5,
		BaseFee:      0.003,
		Volume24h:    1_000_000,
		LiquidityUSD: 500_000,
	}

	score := ComputeBootstrap(desc)
	assert.Equal(t, 100.0, score.TokenQualityScore)
	assert.True(t, score.IsBootstrap)
	assert.Equal(t, domain.PoolAddress("pool"), score.Pool)
}

func TestComputeBootstrap_UnknownPairScoresLowTokenQuality(t *testing.T) {
	desc := domain.PoolDescriptor{Address: "pool", MintX: "FOO", MintY: "BAR"}
	score := ComputeBootstrap(desc)
	assert.Equal(t, 40.0, score.TokenQualityScore)
}

func TestComputeBootstrap_OneBlueChipLegScoresMidTokenQuality(t *testing.T) {
	desc := domain.PoolDescriptor{Address: "pool", MintX: "SOL", MintY: "FOO"}
	score := ComputeBootstrap(desc)
	assert.Equal(t, 70.0, score.TokenQualityScore)
}

func TestComputeBootstrap_VolumeAndTVLCapAt100(t *testing.T) {
	desc := domain.PoolDescriptor{
		Address:      "pool",
		MintX:        "SOL",
		MintY:        "USDC",
		Volume24h:    10_000_000,
		LiquidityUSD: 5_000_000,
	}
	score := ComputeBootstrap(desc)
	assert.Equal(t, 100.0, score.VolumeScore)
	assert.Equal(t, 100.0, score.TVLScore)
}

func TestComputeBootstrap_TighterBinStepScoresHigher(t *testing.T) {
	tight := domain.PoolDescriptor{Address: "pool", BinStepBp: 1}
	wide := domain.PoolDescriptor{Address: "pool", BinStepBp: 100}
	assert.Greater(t, ComputeBootstrap(tight).BinStepScore, ComputeBootstrap(wide).BinStepScore)
}

func TestComputeBootstrap_WeightsSumToOne(t *testing.T) {
	sum := bootstrapWeightVolume + bootstrapWeightTVL + bootstrapWeightFeeTier +
		bootstrapWeightBinStep + bootstrapWeightTokenQual
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestComputeBootstrap_ZeroBinStepScoresZero(t *testing.T) {
	desc := domain.PoolDescriptor{Address: "pool", BinStepBp: 0}
	assert.Equal(t, 0.0, ComputeBootstrap(desc).BinStepScore)
}

func TestFromBootstrap_TagsScoreAndAppliesNeutralDefaults(t *testing.T) {
	bs := BootstrapScore{Pool: "pool", Score: 38, IsBootstrap: true}

	score := FromBootstrap(bs)

	assert.True(t, score.Bootstrap)
	assert.True(t, score.Valid)
	assert.Equal(t, 38.0, score.Tier4Score)
	assert.Equal(t, 38.0, score.BaseScore)
	assert.Equal(t, domain.RegimeNeutral, score.Regime)
	assert.Equal(t, domain.MigrationNeutral, score.Migration)
	assert.Equal(t, 1.0, score.RegimeMultiplier)
	assert.Equal(t, 1.0, score.MigrationMultiplier)
	assert.Equal(t, 1.0, score.SlopeMultiplier)
	assert.Equal(t, 1.0, score.TimeWeightMultiplier)
	assert.Equal(t, regimeThresholds[domain.RegimeNeutral], score.Thresholds)
	assert.Equal(t, widthMedium, score.BinWidth)
}
