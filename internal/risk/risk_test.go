package risk

import (
	"testing"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshPortfolio(totalCapital float64) PortfolioSnapshot {
	return PortfolioSnapshot{
		TotalCapitalUsd:     totalCapital,
		DeployedByTier:      map[domain.Tier]float64{},
		PositionsByTier:     map[domain.Tier]int{},
		MaxDeploymentPct:    0.25,
		PerPairCapPct:       0.08,
		MinOperatingCapital: 500,
	}
}

func TestClassifyTier_MatchesScoreBands(t *testing.T) {
	assert.Equal(t, domain.TierA, ClassifyTier(45))
	assert.Equal(t, domain.TierA, ClassifyTier(40))
	assert.Equal(t, domain.TierB, ClassifyTier(35))
	assert.Equal(t, domain.TierC, ClassifyTier(28))
	assert.Equal(t, domain.TierD, ClassifyTier(10))
}

func TestAssignBatch_RejectsTierD(t *testing.T) {
	candidates := []Candidate{{Pool: "pool", Score: 10}}
	assignments := AssignBatch(candidates, freshPortfolio(10000))

	require.Len(t, assignments, 1)
	assert.False(t, assignments[0].Admitted)
	assert.Equal(t, "tier_d_forbidden", assignments[0].RejectReason)
}

func TestAssignBatch_RejectsBelowMinimumOperatingCapital(t *testing.T) {
	candidates := []Candidate{{Pool: "pool", Score: 50}}
	assignments := AssignBatch(candidates, freshPortfolio(100))

	require.Len(t, assignments, 1)
	assert.Equal(t, "below_minimum_operating_capital", assignments[0].RejectReason)
}

func TestAssignBatch_AdmitsTierAWithPositiveSize(t *testing.T) {
	candidates := []Candidate{{Pool: "pool", Score: 50}}
	assignments := AssignBatch(candidates, freshPortfolio(10000))

	require.Len(t, assignments, 1)
	assert.True(t, assignments[0].Admitted)
	assert.Equal(t, domain.TierA, assignments[0].Tier)
	assert.Greater(t, assignments[0].SizeUsd, 0.0)
}

func TestAssignBatch_StrongUptrendGetsTierALeverageAndElevenPercent(t *testing.T) {
	// A score of 46 sits a tenth of the way into the Tier A band:
	// leverage ~1.6, base cap ~6.9% of capital, deployed ~11% after
	// leverage. The per-pair base cap (8%) must not clamp the leveraged
	// size back down.
	candidates := []Candidate{{Pool: "pool", Score: 46}}
	assignments := AssignBatch(candidates, freshPortfolio(10000))

	require.Len(t, assignments, 1)
	require.True(t, assignments[0].Admitted)
	assert.Equal(t, domain.TierA, assignments[0].Tier)
	assert.InDelta(t, 1.6, assignments[0].Leverage, 0.01)
	assert.InDelta(t, 0.11, assignments[0].SizeUsd/10000, 0.005)
}

func TestAssignBatch_MigrationPenaltyHalvesSize(t *testing.T) {
	base := AssignBatch([]Candidate{{Pool: "pool", Score: 50, LiquiditySlope: 0}}, freshPortfolio(10000))
	penalized := AssignBatch([]Candidate{{Pool: "pool", Score: 50, LiquiditySlope: -0.05}}, freshPortfolio(10000))

	require.True(t, base[0].Admitted)
	require.True(t, penalized[0].Admitted)
	assert.InDelta(t, base[0].SizeUsd/2, penalized[0].SizeUsd, 1e-6)
}

func TestAssignBatch_EvaluatesScoreDescendingOrder(t *testing.T) {
	candidates := []Candidate{
		{Pool: "low", Score: 41},
		{Pool: "high", Score: 99},
	}
	assignments := AssignBatch(candidates, freshPortfolio(10000))

	require.Len(t, assignments, 2)
	assert.Equal(t, domain.PoolAddress("high"), assignments[0].Pool)
	assert.Equal(t, domain.PoolAddress("low"), assignments[1].Pool)
}

func TestAssignBatch_StopsAtTierCapacity(t *testing.T) {
	portfolio := freshPortfolio(1_000_000)
	// Lift the deployment ceiling so tier capacity is the binding
	// constraint rather than portfolio capacity.
	portfolio.MaxDeploymentPct = 1.0
	var candidates []Candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, Candidate{Pool: domain.PoolAddress(string(rune('a' + i))), Score: 50})
	}

	assignments := AssignBatch(candidates, portfolio)
	admitted := 0
	rejectedForCapacity := 0
	for _, a := range assignments {
		if a.Admitted {
			admitted++
		} else if a.RejectReason == "tier_at_capacity" {
			rejectedForCapacity++
		}
	}
	assert.Equal(t, 8, admitted) // Tier A MaxPositions
	assert.Equal(t, 2, rejectedForCapacity)
}

func TestAssignBatch_CapsAtPortfolioMaxDeployment(t *testing.T) {
	portfolio := freshPortfolio(10000)
	portfolio.DeployedTotalUsd = 2490 // just under 25% of 10000

	candidates := []Candidate{{Pool: "pool", Score: 50}}
	assignments := AssignBatch(candidates, portfolio)

	require.True(t, assignments[0].Admitted)
	assert.LessOrEqual(t, assignments[0].SizeUsd, 10.0+1e-6)
}

func TestAssignBatch_PortfolioPerTierCapOverridesBandCap(t *testing.T) {
	portfolio := freshPortfolio(100000)
	portfolio.MaxPositionsPerTier = 1
	portfolio.PositionsByTier[domain.TierA] = 1

	candidates := []Candidate{{Pool: "pool", Score: 50}}
	assignments := AssignBatch(candidates, portfolio)

	require.Len(t, assignments, 1)
	assert.False(t, assignments[0].Admitted)
	assert.Equal(t, "tier_at_capacity", assignments[0].RejectReason)
}
