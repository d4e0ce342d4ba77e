// Package scoring composes the Tier-4 Scorer and the
// Bootstrap Scorer. The Tier-4 Scorer is the only component
// that keeps per-pool state across cycles: the previous migration
// direction (to detect a reversal) and a 30-minute rolling buffer of raw
// velocity samples (for the time-weight multiplier). Both are owned
// exclusively by the Scorer.
package scoring

import (
	"math"
	"sync"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/metrics"
	"github.com/rs/zerolog"
)

// Pillar weights. Sum to 1.
const (
	weightBinVelocity   = 0.30
	weightSwapVelocity  = 0.25
	weightLiquidityFlow = 0.20
	weightFeeIntensity  = 0.15
	weightEntropy       = 0.10
)

// BinWidthRange is a symmetric bin-width recommendation around the active
// bin.
type BinWidthRange struct {
	Min int
	Max int
}

var (
	widthNarrow = BinWidthRange{Min: 5, Max: 12}
	widthMedium = BinWidthRange{Min: 8, Max: 18}
	widthWide   = BinWidthRange{Min: 12, Max: 26}
)

// Thresholds are the regime-dependent dynamic entry/exit thresholds.
type Thresholds struct {
	Entry float64
	Exit  float64
}

var regimeThresholds = map[domain.Regime]Thresholds{
	domain.RegimeBull:    {Entry: 28, Exit: 18},
	domain.RegimeNeutral: {Entry: 32, Exit: 22},
	domain.RegimeBear:    {Entry: 36, Exit: 30},
}

// Score is the Tier-4 score record.
type Score struct {
	Pool domain.PoolAddress

	BinVelocityScore   float64
	SwapVelocityScore  float64
	LiquidityFlowScore float64
	FeeIntensityScore  float64
	EntropyScore       float64

	Raw metrics.Raw

	VelocitySlope  float64
	LiquiditySlope float64
	EntropySlope   float64
	SlopesValid    bool

	Regime            domain.Regime
	Migration         domain.MigrationDirection
	RegimeMultiplier  float64
	MigrationMultiplier float64
	SlopeMultiplier   float64
	TimeWeightMultiplier float64
	TimeWeightHealthy bool

	BaseScore  float64
	Tier4Score float64

	Thresholds Thresholds
	BinWidth   BinWidthRange

	// Bootstrap marks a score derived from coarse descriptor fields rather
	// than telemetry; bootstrap and telemetry scores are never averaged
	// together silently.
	Bootstrap bool

	Valid  bool
	Reason string
}

type timeSample struct {
	at      time.Time
	combined float64
}

// Scorer holds the per-pool state the time-weight multiplier and
// migration-reversal detection need across cycles.
type Scorer struct {
	mu                sync.Mutex
	previousMigration map[domain.PoolAddress]domain.MigrationDirection
	rollingSamples    map[domain.PoolAddress][]timeSample
	log               zerolog.Logger
}

// NewScorer creates a Tier-4 Scorer.
func NewScorer(log zerolog.Logger) *Scorer {
	return &Scorer{
		previousMigration: make(map[domain.PoolAddress]domain.MigrationDirection),
		rollingSamples:    make(map[domain.PoolAddress][]timeSample),
		log:               log.With().Str("component", "tier4_scorer").Logger(),
	}
}

// Compute produces a Tier-4 score for pool from its current microstructure
// metrics and momentum slopes. now is the cycle timestamp, used to age the
// 30-minute rolling buffer.
func (s *Scorer) Compute(pool domain.PoolAddress, now time.Time, m *metrics.Result, velocitySlope, liquiditySlope, entropySlope float64, slopesValid bool) Score {
	binScore := m.BinVelocity
	swapScore := m.SwapVelocity
	liqFlowScore := m.LiquidityFlow
	feeScore := m.FeeIntensity
	entScore := metrics.EntropyPillarScore(m.PoolEntropy)

	baseScore := binScore*weightBinVelocity +
		swapScore*weightSwapVelocity +
		liqFlowScore*weightLiquidityFlow +
		feeScore*weightFeeIntensity +
		entScore*weightEntropy

	regime := classifyRegime(m.Raw.BinVelocitySigned, liquiditySlope, slopesValid)
	regimeMult := domain.RegimeMultiplier(regime)

	migration := classifyMigration(liquiditySlope, slopesValid)
	migrationMult, reversed := s.migrationMultiplier(pool, migration)

	slopeMult := slopeMultiplier(velocitySlope, liquiditySlope, entropySlope, slopesValid)

	timeWeightMult, healthy := s.timeWeightMultiplier(pool, now, m.Raw.BinVelocity+m.Raw.SwapVelocity)

	tier4 := baseScore * regimeMult * migrationMult * slopeMult * timeWeightMult
	if tier4 < 0 {
		tier4 = 0
	}

	valid := true
	reason := ""
	if reversed {
		reason = "migration_reversal_block"
	}

	score := Score{
		Pool:                 pool,
		BinVelocityScore:     binScore,
		SwapVelocityScore:    swapScore,
		LiquidityFlowScore:   liqFlowScore,
		FeeIntensityScore:    feeScore,
		EntropyScore:         entScore,
		Raw:                  m.Raw,
		VelocitySlope:        velocitySlope,
		LiquiditySlope:       liquiditySlope,
		EntropySlope:         entropySlope,
		SlopesValid:          slopesValid,
		Regime:               regime,
		Migration:            migration,
		RegimeMultiplier:     regimeMult,
		MigrationMultiplier:  migrationMult,
		SlopeMultiplier:      slopeMult,
		TimeWeightMultiplier: timeWeightMult,
		TimeWeightHealthy:    healthy,
		BaseScore:            baseScore,
		Tier4Score:           tier4,
		Thresholds:           regimeThresholds[regime],
		BinWidth:             binWidthFor(tier4),
		Valid:                valid,
		Reason:               reason,
	}

	s.mu.Lock()
	s.previousMigration[pool] = migration
	s.mu.Unlock()

	return score
}

// Forget releases a pool's rolling state, e.g. when it leaves the universe.
func (s *Scorer) Forget(pool domain.PoolAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.previousMigration, pool)
	delete(s.rollingSamples, pool)
}

func classifyRegime(rawBinVelocitySigned, liquiditySlope float64, slopesValid bool) domain.Regime {
	if rawBinVelocitySigned > 0.05 || (slopesValid && liquiditySlope > 0) {
		return domain.RegimeBull
	}
	if rawBinVelocitySigned < 0 || (slopesValid && liquiditySlope < 0) {
		return domain.RegimeBear
	}
	return domain.RegimeNeutral
}

func classifyMigration(liquiditySlope float64, slopesValid bool) domain.MigrationDirection {
	if !slopesValid {
		return domain.MigrationNeutral
	}
	switch {
	case liquiditySlope > 0.40:
		return domain.MigrationIn
	case liquiditySlope < -0.40:
		return domain.MigrationOut
	default:
		return domain.MigrationNeutral
	}
}

// migrationMultiplier returns 0 (migration block) if the observed
// direction reverses sharply from the previously observed direction
//, else 1.
func (s *Scorer) migrationMultiplier(pool domain.PoolAddress, current domain.MigrationDirection) (float64, bool) {
	s.mu.Lock()
	previous := s.previousMigration[pool]
	s.mu.Unlock()

	reversed := (previous == domain.MigrationIn && current == domain.MigrationOut) ||
		(previous == domain.MigrationOut && current == domain.MigrationIn)
	if reversed {
		return 0, true
	}
	return 1, false
}

func slopeMultiplier(velSlope, liqSlope, entSlope float64, valid bool) float64 {
	if !valid {
		return 1.0
	}
	m := 1.0 +
		clamp(velSlope/50, -0.10, 0.10) +
		clamp(liqSlope/50, -0.10, 0.15) +
		clamp(entSlope/50, -0.05, 0.10)
	return clamp(m, 0.75, 1.35)
}

const (
	timeWeightWindow       = 30 * time.Minute
	timeWeightMinSamples   = 5
	consistencyBonusCap    = 0.15
	spikePenaltyCap        = 0.20
)

// timeWeightMultiplier tracks a 30-minute rolling buffer of combined
// velocity samples per pool and derives a consistency bonus and spike
// penalty.
func (s *Scorer) timeWeightMultiplier(pool domain.PoolAddress, now time.Time, combinedVelocity float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := append(s.rollingSamples[pool], timeSample{at: now, combined: combinedVelocity})
	cutoff := now.Add(-timeWeightWindow)
	trimmed := samples[:0]
	for _, smp := range samples {
		if smp.at.After(cutoff) {
			trimmed = append(trimmed, smp)
		}
	}
	s.rollingSamples[pool] = trimmed

	if len(trimmed) < timeWeightMinSamples {
		return 1.0, false
	}

	values := make([]float64, len(trimmed))
	for i, smp := range trimmed {
		values[i] = smp.combined
	}

	mean := average(values)
	if mean <= 0 {
		return 1.0, false
	}
	sd := stddev(values, mean)
	cv := sd / mean

	consistencyBonus := clamp(consistencyBonusCap*(1-cv), 0, consistencyBonusCap)

	maxV := values[0]
	for _, v := range values[1:] {
		if v > maxV {
			maxV = v
		}
	}
	spikeRatio := maxV/mean - 1
	spikePenalty := clamp(spikeRatio, 0, spikePenaltyCap)

	mult := clamp(1+consistencyBonus-spikePenalty, 0.75, 1.20)
	return mult, true
}

func binWidthFor(tier4Score float64) BinWidthRange {
	switch {
	case tier4Score > 45:
		return widthNarrow
	case tier4Score > 35:
		return widthMedium
	default:
		return widthWide
	}
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
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
