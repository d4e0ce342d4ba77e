// Package entrygate implements the Entry Gate: a sequential set of
// checks per pool, with a narrow exception override and a closed reason
// enum for every block or override.
package entrygate

import (
	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/metrics"
)

const (
	mhiMin              = 0.45
	swapVelocityMin     = 0.05
	poolEntropyMin      = 0.35
	velocitySlopeFloor  = -0.01
	liquiditySlopeFloor = -0.01

	exceptionScoreMin        = 50
	exceptionFeeIntensityMin = 0.8
	exceptionEntropySlopeMin = 0.0001
)

// Input is everything the Entry Gate needs for one pool, one cycle.
type Input struct {
	Pool domain.PoolAddress

	TelemetryValid bool
	MHI            float64

	SwapVelocity   float64
	PoolEntropy    float64
	VelocitySlope  float64
	LiquiditySlope float64
	SlopesValid    bool

	MigrationBlocked bool

	Tier4Score     float64
	FeeIntensity01 float64 // feeIntensity normalised to [0,1], not the 0-100 pillar score
	EntropySlope   float64

	RegimeEntryThreshold float64
}

// Decision is the Entry Gate's verdict for one pool.
type Decision struct {
	Pool              domain.PoolAddress
	Admitted          bool
	BlockReason       domain.EntryBlockReason
	ExceptionOverride bool
}

// ComputeMHI derives the overall market-health index the gate's first
// check reads: the mean of the five normalised microstructure pillars,
// scaled back to [0,1].
func ComputeMHI(m *metrics.Result) float64 {
	sum := m.BinVelocity + m.SwapVelocity + m.LiquidityFlow + m.FeeIntensity + metrics.EntropyPillarScore(m.PoolEntropy)
	return sum / 5 / 100
}

// Evaluate runs the Entry Gate's sequential checks.
func Evaluate(in Input) Decision {
	if !in.TelemetryValid {
		return blocked(in.Pool, domain.BlockNoData)
	}

	exception := in.Tier4Score > exceptionScoreMin &&
		in.FeeIntensity01 > exceptionFeeIntensityMin &&
		in.EntropySlope > exceptionEntropySlopeMin

	if !exception {
		if in.MHI < mhiMin {
			return blocked(in.Pool, domain.BlockMHILow)
		}
		if in.SwapVelocity < swapVelocityMin {
			return blocked(in.Pool, domain.BlockSwapVelocityLow)
		}
		if in.PoolEntropy < poolEntropyMin {
			return blocked(in.Pool, domain.BlockEntropyLow)
		}
		if in.SlopesValid && in.VelocitySlope <= velocitySlopeFloor {
			return blocked(in.Pool, domain.BlockVelocityNeg)
		}
		if in.SlopesValid && in.LiquiditySlope <= liquiditySlopeFloor {
			return blocked(in.Pool, domain.BlockLiquidityNeg)
		}
		if in.MigrationBlocked {
			return blocked(in.Pool, domain.BlockMigrationBlock)
		}
	} else if in.MigrationBlocked {
		// The exception override bypasses steps 2-4 but never the
		// migration block.
		return blocked(in.Pool, domain.BlockMigrationBlock)
	}

	if in.Tier4Score < in.RegimeEntryThreshold {
		return blocked(in.Pool, domain.BlockScoreLow)
	}

	return Decision{Pool: in.Pool, Admitted: true, ExceptionOverride: exception}
}

func blocked(pool domain.PoolAddress, reason domain.EntryBlockReason) Decision {
	return Decision{Pool: pool, Admitted: false, BlockReason: reason}
}
