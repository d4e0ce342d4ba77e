// Package momentum fits first-derivative slopes of velocity, liquidity,
// and entropy over a pool's recent snapshot history. Slopes
// are expressed per minute so they compare directly against the
// per-minute migration and hysteresis thresholds used downstream.
package momentum

import (
	"math"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/metrics"
	"gonum.org/v1/gonum/stat"
)

// MinSnapshots mirrors metrics.MinSnapshots: a slope needs at least this
// many snapshots to produce even two raw samples.
const MinSnapshots = metrics.MinSnapshots

// Result holds the three momentum slopes, each in per-minute units.
type Result struct {
	VelocitySlope   float64 // slope of raw bin velocity
	LiquiditySlope  float64 // slope of liquidityUSD, expressed as %/min of its mean
	EntropySlope    float64 // slope of normalised [0,1] pool entropy
	Valid           bool
	InvalidReason   string
}

// Compute fits OLS slopes over the window's raw streams. Returns
// domain.DataInsufficientError if hist is shorter than MinSnapshots.
func Compute(pool domain.PoolAddress, baseFee float64, hist []domain.Snapshot) (*Result, error) {
	if len(hist) < MinSnapshots {
		return nil, &domain.DataInsufficientError{
			Pool:   pool,
			Reason: "fewer than MIN_SNAPSHOTS snapshots for momentum",
		}
	}

	type sample struct {
		minutes       float64
		binVelocity   float64
		liquidityUSD  float64
		entropy       float64
	}

	samples := make([]sample, 0, len(hist)-1)
	base := hist[0].FetchedAt
	for i := 1; i < len(hist); i++ {
		// metrics.Compute reads only the last two entries but rejects a
		// history shorter than MinSnapshots, so the pair (i-1, i) is
		// padded at the front with copies of hist[i-1].
		pairHist := make([]domain.Snapshot, 0, MinSnapshots)
		for len(pairHist) < MinSnapshots-1 {
			pairHist = append(pairHist, hist[i-1])
		}
		pairHist = append(pairHist, hist[i])
		m, err := metrics.Compute(pool, baseFee, pairHist)
		if err != nil {
			continue
		}
		samples = append(samples, sample{
			minutes:      hist[i].FetchedAt.Sub(base).Minutes(),
			binVelocity:  m.Raw.BinVelocity,
			liquidityUSD: hist[i].LiquidityUSD,
			entropy:      m.Raw.Entropy,
		})
	}

	if len(samples) < 2 {
		return &Result{Valid: false, InvalidReason: "fewer than two samples in window"}, nil
	}

	xs := make([]float64, len(samples))
	vel := make([]float64, len(samples))
	liq := make([]float64, len(samples))
	ent := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.minutes
		vel[i] = s.binVelocity
		liq[i] = s.liquidityUSD
		ent[i] = s.entropy
	}

	if isConstant(xs) {
		return &Result{Valid: false, InvalidReason: "window has no time spread"}, nil
	}

	velConstant := isConstant(vel)
	liqConstant := isConstant(liq)
	entConstant := isConstant(ent)
	if velConstant && liqConstant && entConstant {
		return &Result{Valid: false, InvalidReason: "all streams constant over window"}, nil
	}

	_, velBeta := stat.LinearRegression(xs, vel, nil, false)
	_, liqBeta := stat.LinearRegression(xs, liq, nil, false)
	_, entBeta := stat.LinearRegression(xs, ent, nil, false)

	liqMean := stat.Mean(liq, nil)
	liquiditySlopePct := 0.0
	if liqMean > 0 {
		liquiditySlopePct = (liqBeta / liqMean) * 100
	}

	return &Result{
		VelocitySlope:  velBeta,
		LiquiditySlope: liquiditySlopePct,
		EntropySlope:   entBeta,
		Valid:          true,
	}, nil
}

func isConstant(xs []float64) bool {
	if len(xs) == 0 {
		return true
	}
	first := xs[0]
	for _, x := range xs[1:] {
		if math.Abs(x-first) > 1e-12 {
			return false
		}
	}
	return true
}
