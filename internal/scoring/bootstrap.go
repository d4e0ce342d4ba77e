package scoring

import (
	"github.com/aristath/dlmm-sentinel/internal/domain"
)

// Bootstrap component weights. Sum to 1.
const (
	bootstrapWeightVolume     = 0.30
	bootstrapWeightTVL        = 0.25
	bootstrapWeightFeeTier    = 0.15
	bootstrapWeightBinStep    = 0.15
	bootstrapWeightTokenQual  = 0.15
)

// Normalisation references for the volume/TVL pillars. A pool at or above
// these levels scores the full 100 on that pillar.
const (
	bootstrapVolumeTarget = 1_000_000.0
	bootstrapTVLTarget    = 500_000.0
)

// BootstrapScore is the fallback score for a pool with insufficient
// telemetry history. Always tagged IsBootstrap so it is never
// silently averaged with a telemetry-derived Tier-4 score.
type BootstrapScore struct {
	Pool        domain.PoolAddress
	Score       float64
	IsBootstrap bool

	VolumeScore     float64
	TVLScore        float64
	FeeTierScore    float64
	BinStepScore    float64
	TokenQualityScore float64
}

// ComputeBootstrap scores a pool from its coarse, slow-changing
// descriptor fields.
func ComputeBootstrap(desc domain.PoolDescriptor) BootstrapScore {
	volumeScore := normalize100(desc.Volume24h, bootstrapVolumeTarget)
	tvlScore := normalize100(desc.LiquidityUSD, bootstrapTVLTarget)
	feeTierScore := feeTierScore(desc.BaseFee)
	binStepScore := binStepScore(desc.BinStepBp)
	tokenScore := domain.TokenQuality(desc.MintX, desc.MintY)

	total := volumeScore*bootstrapWeightVolume +
		tvlScore*bootstrapWeightTVL +
		feeTierScore*bootstrapWeightFeeTier +
		binStepScore*bootstrapWeightBinStep +
		tokenScore*bootstrapWeightTokenQual

	return BootstrapScore{
		Pool:              desc.Address,
		Score:             total,
		IsBootstrap:       true,
		VolumeScore:       volumeScore,
		TVLScore:          tvlScore,
		FeeTierScore:      feeTierScore,
		BinStepScore:      binStepScore,
		TokenQualityScore: tokenScore,
	}
}

// FromBootstrap lifts a bootstrap score into the Score shape the entry and
// sizing path consumes: neutral regime, all multipliers 1, a wide bin
// range, and the Bootstrap tag set so downstream aggregates and logs never
// confuse it with a telemetry-derived score.
func FromBootstrap(bs BootstrapScore) Score {
	return Score{
		Pool:                 bs.Pool,
		Regime:               domain.RegimeNeutral,
		Migration:            domain.MigrationNeutral,
		RegimeMultiplier:     1,
		MigrationMultiplier:  1,
		SlopeMultiplier:      1,
		TimeWeightMultiplier: 1,
		BaseScore:            bs.Score,
		Tier4Score:           bs.Score,
		Thresholds:           regimeThresholds[domain.RegimeNeutral],
		BinWidth:             binWidthFor(bs.Score),
		Bootstrap:            true,
		Valid:                true,
	}
}

// feeTierScore rewards fee tiers near a typical "balanced" 0.3% rate and
// penalises extremes in either direction.
func feeTierScore(baseFee float64) float64 {
	switch {
	case baseFee <= 0:
		return 0
	case baseFee <= 0.0005:
		return 70
	case baseFee <= 0.003:
		return 100
	case baseFee <= 0.01:
		return 80
	default:
		return 50
	}
}

// binStepScore rewards tighter bin steps (more precise price discovery)
// with a step function.
func binStepScore(binStepBp int) float64 {
	switch {
	case binStepBp <= 0:
		return 0
	case binStepBp <= 5:
		return 100
	case binStepBp <= 10:
		return 85
	case binStepBp <= 25:
		return 65
	case binStepBp <= 50:
		return 45
	default:
		return 25
	}
}

func normalize100(value, target float64) float64 {
	if target <= 0 {
		return 0
	}
	v := value / target * 100
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}
