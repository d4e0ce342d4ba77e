// Package risk implements the Risk Bucket Engine: maps a pool's Tier-4
// score to a leverage/size tier, then batch-assigns sorted candidates
// against a mutable portfolio copy so per-cycle capacity accounting
// stays consistent.
package risk

import (
	"sort"

	"github.com/aristath/dlmm-sentinel/internal/domain"
)

// TierBand is one risk tier's score range and the leverage/size policy
// that applies within it.
type TierBand struct {
	Tier         domain.Tier
	ScoreMin     float64
	ScoreMax     float64 // inclusive upper bound for interpolation; Tier A has no upper bound
	LeverageMin  float64
	LeverageMax  float64
	SizeCapMin   float64 // fraction of total capital
	SizeCapMax   float64
	MaxPositions int
}

// DefaultBands are the tier definitions. Size caps are base
// (pre-leverage) fractions of total capital; the per-pair base cap
// bounds them and leverage then scales the commitment beyond it, so a
// score of 46 (leverage 1.6, base cap ~6.9%) deploys ~11% of capital.
// Tier D carries zero leverage and size because it is never a
// deployment target.
var DefaultBands = []TierBand{
	{Tier: domain.TierA, ScoreMin: 40, ScoreMax: 100, LeverageMin: 1.5, LeverageMax: 2.5, SizeCapMin: 0.065, SizeCapMax: 0.10, MaxPositions: 8},
	{Tier: domain.TierB, ScoreMin: 32, ScoreMax: 40, LeverageMin: 1.2, LeverageMax: 1.5, SizeCapMin: 0.03, SizeCapMax: 0.05, MaxPositions: 6},
	{Tier: domain.TierC, ScoreMin: 24, ScoreMax: 32, LeverageMin: 1.0, LeverageMax: 1.2, SizeCapMin: 0.015, SizeCapMax: 0.03, MaxPositions: 4},
	{Tier: domain.TierD, ScoreMin: 0, ScoreMax: 24, LeverageMin: 0, LeverageMax: 0, SizeCapMin: 0, SizeCapMax: 0, MaxPositions: 0},
}

const migrationPenaltyThreshold = -0.02
const migrationPenaltyMultiplier = 0.5

// Candidate is one pool up for sizing this cycle.
type Candidate struct {
	Pool           domain.PoolAddress
	Score          float64
	LiquiditySlope float64
}

// PortfolioSnapshot is the mutable view the batch assignment simulates
// commits against. It is a copy; the real Portfolio Ledger is only
// updated once the orchestrator actually opens the position.
type PortfolioSnapshot struct {
	TotalCapitalUsd     float64
	DeployedTotalUsd    float64
	DeployedByTier      map[domain.Tier]float64
	PositionsByTier     map[domain.Tier]int
	MaxDeploymentPct    float64
	PerPairCapPct       float64 // base (pre-leverage) per-pair cap, fraction of total capital
	MaxPositionsPerTier int     // portfolio-wide override; 0 leaves the band caps alone
	MinOperatingCapital float64
}

// Assignment is the Risk Bucket Engine's decision for one candidate.
type Assignment struct {
	Pool         domain.PoolAddress
	Tier         domain.Tier
	Leverage     float64
	SizeUsd      float64
	Admitted     bool
	RejectReason string
}

// ClassifyTier maps a Tier-4 score to its risk bucket.
func ClassifyTier(score float64) domain.Tier {
	switch {
	case score >= 40:
		return domain.TierA
	case score >= 32:
		return domain.TierB
	case score >= 24:
		return domain.TierC
	default:
		return domain.TierD
	}
}

func bandFor(tier domain.Tier) (TierBand, bool) {
	for _, b := range DefaultBands {
		if b.Tier == tier {
			return b, true
		}
	}
	return TierBand{}, false
}

// AssignBatch sizes every candidate in score-descending order against a
// working copy of portfolio, so the best candidates consume capacity
// first. portfolio's maps are copied internally; the caller's portfolio
// is never mutated.
func AssignBatch(candidates []Candidate, portfolio PortfolioSnapshot) []Assignment {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	working := portfolio
	working.DeployedByTier = cloneTierMap(portfolio.DeployedByTier)
	working.PositionsByTier = clonePositionsMap(portfolio.PositionsByTier)

	assignments := make([]Assignment, 0, len(sorted))

	if working.TotalCapitalUsd < working.MinOperatingCapital {
		for _, c := range sorted {
			assignments = append(assignments, Assignment{Pool: c.Pool, RejectReason: "below_minimum_operating_capital"})
		}
		return assignments
	}

	for _, c := range sorted {
		tier := ClassifyTier(c.Score)
		if tier == domain.TierD {
			assignments = append(assignments, Assignment{Pool: c.Pool, Tier: tier, RejectReason: "tier_d_forbidden"})
			continue
		}

		band, _ := bandFor(tier)
		tierCap := band.MaxPositions
		if working.MaxPositionsPerTier > 0 && working.MaxPositionsPerTier < tierCap {
			tierCap = working.MaxPositionsPerTier
		}
		if working.PositionsByTier[tier] >= tierCap {
			assignments = append(assignments, Assignment{Pool: c.Pool, Tier: tier, RejectReason: "tier_at_capacity"})
			continue
		}

		maxDeployment := working.TotalCapitalUsd * working.MaxDeploymentPct
		if working.DeployedTotalUsd >= maxDeployment {
			assignments = append(assignments, Assignment{Pool: c.Pool, Tier: tier, RejectReason: "portfolio_at_max_deployment"})
			continue
		}

		leverage := interpolate(c.Score, band.ScoreMin, band.ScoreMax, band.LeverageMin, band.LeverageMax)
		sizeCapPct := interpolate(c.Score, band.ScoreMin, band.ScoreMax, band.SizeCapMin, band.SizeCapMax)
		sizeCapUsd := sizeCapPct * working.TotalCapitalUsd

		// The per-pair cap bounds the base (pre-leverage) commitment;
		// leverage then scales the position past it for high-conviction
		// pools. Only the remaining portfolio capacity caps the final
		// leveraged size.
		perPairCap := working.TotalCapitalUsd * working.PerPairCapPct
		baseSize := minFloat(sizeCapUsd, perPairCap)

		leveragedSize := baseSize * leverage

		finalSize := leveragedSize
		if c.LiquiditySlope < migrationPenaltyThreshold {
			finalSize *= migrationPenaltyMultiplier
		}

		remainingDeploymentCapacity := maxDeployment - working.DeployedTotalUsd
		finalSize = minFloat(finalSize, remainingDeploymentCapacity)

		if finalSize <= 0 {
			assignments = append(assignments, Assignment{Pool: c.Pool, Tier: tier, RejectReason: "no_remaining_capacity"})
			continue
		}

		working.DeployedTotalUsd += finalSize
		working.DeployedByTier[tier] += finalSize
		working.PositionsByTier[tier]++

		assignments = append(assignments, Assignment{
			Pool:     c.Pool,
			Tier:     tier,
			Leverage: leverage,
			SizeUsd:  finalSize,
			Admitted: true,
		})
	}

	return assignments
}

func interpolate(score, scoreMin, scoreMax, outMin, outMax float64) float64 {
	if scoreMax <= scoreMin {
		return outMin
	}
	frac := (score - scoreMin) / (scoreMax - scoreMin)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return outMin + frac*(outMax-outMin)
}

func cloneTierMap(src map[domain.Tier]float64) map[domain.Tier]float64 {
	out := make(map[domain.Tier]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func clonePositionsMap(src map[domain.Tier]int) map[domain.Tier]int {
	out := make(map[domain.Tier]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
