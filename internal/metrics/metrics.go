// Package metrics derives short-window microstructure metrics from
// consecutive snapshots. Every figure is computed only from the two most
// recent snapshots in a pool's history; gating reads the raw
// (pre-normalisation) values, which is what its thresholds are defined
// against.
package metrics

import (
	"math"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// MinSnapshots is the gate below which metrics are undefined.
const MinSnapshots = 3

// Raw carries the pre-normalisation values the gating checks and the
// Momentum Engine operate on.
type Raw struct {
	BinVelocity       float64 // bins/sec, magnitude
	BinVelocitySigned float64 // bins/sec, signed (direction of active-bin drift)
	SwapVelocity      float64 // swaps/sec
	LiquidityFlow     float64 // fraction of latest liquidityUSD
	FeeIntensity      float64 // fees/sec proxy, fraction of TVL
	Entropy           float64 // Shannon entropy of the bin distribution, normalised to [0,1] by ln(N)
}

// Result is the normalised per-pool, per-cycle microstructure reading.
type Result struct {
	BinVelocity   float64 // [0,100]
	LiquidityFlow float64 // [0,100]
	SwapVelocity  float64 // [0,100]
	FeeIntensity  float64 // [0,100]
	PoolEntropy   float64 // [0,1]

	Raw Raw

	IsMarketAlive  bool
	GatingReasons  []string

	WindowStart int64 // unix nanos of the older snapshot in the pair
	WindowEnd   int64 // unix nanos of the newer snapshot in the pair
}

const (
	binVelocityDivisor   = 0.05
	swapVelocityDivisor  = 0.30
	liquidityFlowDivisor = 0.10
	feeIntensityDivisor  = 0.001
	entropyTarget        = 0.70

	gateBinVelocityMin   = 0.03
	gateSwapVelocityMin  = 0.10
	gateEntropyMin       = 0.65
	gateLiquidityFlowMin = 0.005
)

// Compute derives metrics from the most recent pair of snapshots in hist.
// Returns domain.DataInsufficientError if hist has fewer than MinSnapshots
// entries. pool's BaseFee (in fractional terms, e.g. 0.003 for 30bps)
// feeds the fee-intensity proxy since raw per-cycle fee revenue is not
// part of a Snapshot.
func Compute(pool domain.PoolAddress, baseFee float64, hist []domain.Snapshot) (*Result, error) {
	if len(hist) < MinSnapshots {
		return nil, &domain.DataInsufficientError{
			Pool:   pool,
			Reason: "fewer than MIN_SNAPSHOTS snapshots in history",
		}
	}

	latest := hist[len(hist)-1]
	previous := hist[len(hist)-2]

	dt := latest.FetchedAt.Sub(previous.FetchedAt).Seconds()
	if dt <= 0 {
		return nil, &domain.TelemetryUnreliableError{Pool: pool, Reason: "non-positive dt between snapshots"}
	}

	rawBinVelocitySigned := float64(latest.ActiveBin-previous.ActiveBin) / dt
	rawBinVelocity := math.Abs(rawBinVelocitySigned)
	rawSwapVelocity := latest.Velocity

	var rawLiquidityFlow float64
	if latest.LiquidityUSD > 0 {
		rawLiquidityFlow = math.Abs(latest.LiquidityUSD-previous.LiquidityUSD) / latest.LiquidityUSD
	}

	rawFeeIntensity := feeIntensityProxy(baseFee, rawSwapVelocity, latest.LiquidityUSD)

	entropy := shannonEntropy(latest.Distribution)

	res := &Result{
		BinVelocity:   normalize(rawBinVelocity, binVelocityDivisor),
		SwapVelocity:  normalize(rawSwapVelocity, swapVelocityDivisor),
		LiquidityFlow: normalize(rawLiquidityFlow, liquidityFlowDivisor),
		FeeIntensity:  normalize(rawFeeIntensity, feeIntensityDivisor),
		PoolEntropy:   entropy,
		Raw: Raw{
			BinVelocity:       rawBinVelocity,
			BinVelocitySigned: rawBinVelocitySigned,
			SwapVelocity:      rawSwapVelocity,
			LiquidityFlow:     rawLiquidityFlow,
			FeeIntensity:      rawFeeIntensity,
			Entropy:           entropy,
		},
		WindowStart: previous.FetchedAt.UnixNano(),
		WindowEnd:   latest.FetchedAt.UnixNano(),
	}

	var reasons []string
	if rawBinVelocity < gateBinVelocityMin {
		reasons = append(reasons, "bin_velocity_below_minimum")
	}
	if rawSwapVelocity < gateSwapVelocityMin {
		reasons = append(reasons, "swap_velocity_below_minimum")
	}
	if entropy < gateEntropyMin {
		reasons = append(reasons, "entropy_below_minimum")
	}
	if rawLiquidityFlow < gateLiquidityFlowMin {
		reasons = append(reasons, "liquidity_flow_below_minimum")
	}

	res.GatingReasons = reasons
	res.IsMarketAlive = len(reasons) == 0

	return res, nil
}

// EntropyPillarScore converts the [0,1] pool entropy into the 0-100 pillar
// score the Tier-4 Scorer sums, scaled against the 0.70 target.
func EntropyPillarScore(poolEntropy float64) float64 {
	return clamp(poolEntropy/entropyTarget, 0, 1) * 100
}

func feeIntensityProxy(baseFee, swapVelocity, liquidityUSD float64) float64 {
	if liquidityUSD <= 0 {
		return 0
	}
	// Fee revenue rate as a fraction of TVL per second: fee rate charged
	// per swap times swaps/sec, normalised by pool size.
	feesPerSec := baseFee * swapVelocity * liquidityUSD
	return feesPerSec / liquidityUSD
}

// shannonEntropy computes the Shannon entropy of the per-bin liquidity
// distribution, normalised to [0,1] by dividing by ln(N) where N is the
// number of bins carrying nonzero liquidity (so a perfectly even spread
// across however many bins are occupied always scores 1).
func shannonEntropy(dist map[int]domain.BinState) float64 {
	var total float64
	for _, b := range dist {
		if b.Liquidity > 0 {
			total += b.Liquidity
		}
	}
	if total <= 0 {
		return 0
	}

	probs := make([]float64, 0, len(dist))
	for _, b := range dist {
		if b.Liquidity <= 0 {
			continue
		}
		probs = append(probs, b.Liquidity/total)
	}
	if len(probs) <= 1 {
		return 0
	}

	h := stat.Entropy(probs)
	maxH := math.Log(float64(len(probs)))
	if maxH <= 0 {
		return 0
	}
	return clamp(h/maxH, 0, 1)
}

func normalize(raw, divisor float64) float64 {
	if divisor <= 0 {
		return 0
	}
	return clamp(raw/divisor, 0, 1) * 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
