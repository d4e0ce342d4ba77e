// Package harmonic implements Harmonic Stops: a per-position health
// controller that compares a baseline snapshot taken at entry against
// current microstructure, with a grace period, a hysteretic bad-sample
// counter, and freeze semantics an outer suppression policy can pause
// without losing the shape of the health trajectory. The controller
// never reads price; only microstructure health relative to baseline.
package harmonic

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// Baseline is the immutable microstructure reading captured at position
// entry. Once registered it never changes for the life of the position.
type Baseline struct {
	BinVelocity    float64
	SwapVelocity   float64
	PoolEntropy    float64
	LiquidityUSD   float64
}

// Current is the microstructure reading evaluated this cycle, plus the
// momentum slopes, for one position's pool.
type Current struct {
	BinVelocity    float64
	SwapVelocity   float64
	PoolEntropy    float64
	LiquidityUSD   float64
	FeeIntensity   float64 // raw fee intensity, for the absolute-floor check

	VelocitySlope  float64
	LiquiditySlope float64
	EntropySlope   float64
	SlopesValid    bool
}

// TierConfig is the tier-dependent tolerance: Tier A permissive (higher
// drop factors, higher minBadSamples), Tier C tight.
// DropFactor is the fraction of a baseline ratio a position may lose
// before that component's health reaches 0 (floor ratio = 1-DropFactor);
// a higher DropFactor tolerates a deeper drop before health bottoms out.
type TierConfig struct {
	VelocityDropFactor   float64
	EntropyDropFactor    float64
	LiquidityOutflowPct  float64
	MinHealthScore       float64
	MinBadSamples        int
	MinHoldTime          time.Duration
}

// DefaultTierConfigs: Tier A is the most permissive, Tier C the
// tightest.
var DefaultTierConfigs = map[domain.Tier]TierConfig{
	domain.TierA: {
		VelocityDropFactor:  0.65,
		EntropyDropFactor:   0.65,
		LiquidityOutflowPct: 0.35,
		MinHealthScore:      0.30,
		MinBadSamples:       6,
		MinHoldTime:         3 * time.Minute,
	},
	domain.TierB: {
		VelocityDropFactor:  0.50,
		EntropyDropFactor:   0.50,
		LiquidityOutflowPct: 0.25,
		MinHealthScore:      0.40,
		MinBadSamples:       4,
		MinHoldTime:         2 * time.Minute,
	},
	domain.TierC: {
		VelocityDropFactor:  0.35,
		EntropyDropFactor:   0.35,
		LiquidityOutflowPct: 0.15,
		MinHealthScore:      0.50,
		MinBadSamples:       3,
		MinHoldTime:         1 * time.Minute,
	},
}

// AbsoluteFloors are the tier-independent hard minimums on bin velocity,
// swap velocity, pool entropy, and fee intensity. Looser than the Entry
// Gate's admission floors: this is a stay-open check, not an admission
// check.
type AbsoluteFloors struct {
	BinVelocity  float64
	SwapVelocity float64
	PoolEntropy  float64
	FeeIntensity float64
}

var DefaultAbsoluteFloors = AbsoluteFloors{
	BinVelocity:  0.01,
	SwapVelocity: 0.03,
	PoolEntropy:  0.20,
	FeeIntensity: 0.0001,
}

// SlopeFloors are the maximum-negative slope values at which a slope's
// component health bottoms out at 0.
type SlopeFloors struct {
	Velocity  float64
	Liquidity float64
	Entropy   float64
}

var DefaultSlopeFloors = SlopeFloors{
	Velocity:  -10,
	Liquidity: -2.0,
	Entropy:   -0.02,
}

// Component weights for the combined health score: a blend that favors
// the direct velocity/entropy ratios over the slope and floor checks.
const (
	weightVelocityRatio = 0.30
	weightEntropyRatio  = 0.20
	weightLiquidityFlow = 0.20
	weightSlopeHealth   = 0.20
	weightAbsoluteFloor = 0.10
)

const floorViolationPenalty = 0.30

// Decision is the per-cycle verdict for one position.
type Decision struct {
	TradeID               string
	Action                Action
	HealthScore           float64
	ConsecutiveBadSamples int
	FloorViolations       int
}

// Action is the controller's HOLD/FULL_EXIT verdict.
type Action string

const (
	Hold     Action = "HOLD"
	FullExit Action = "FULL_EXIT"
)

type positionState struct {
	pool            domain.PoolAddress
	tier            domain.Tier
	baseline        Baseline
	entryTimestamp  time.Time

	consecutiveBadSamples int
	lastCheckTime         time.Time
	lastHealthScore       float64
	badSamplesFrozen      bool
	freezeAppliedAt       time.Time
	exited                bool
}

// Controller is the sole owner of harmonic state, keyed by trade id.
type Controller struct {
	mu         sync.Mutex
	positions  map[string]*positionState
	tierConfig map[domain.Tier]TierConfig
	floors     AbsoluteFloors
	slopes     SlopeFloors
	log        zerolog.Logger
}

// New creates a Harmonic Stops controller.
func New(log zerolog.Logger) *Controller {
	return &Controller{
		positions:  make(map[string]*positionState),
		tierConfig: DefaultTierConfigs,
		floors:     DefaultAbsoluteFloors,
		slopes:     DefaultSlopeFloors,
		log:        log.With().Str("component", "harmonic_stops").Logger(),
	}
}

// RegisterHarmonicTrade stores an immutable baseline for a newly opened
// position.
func (c *Controller) RegisterHarmonicTrade(tradeID string, pool domain.PoolAddress, tier domain.Tier, baseline Baseline, entryTimestamp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[tradeID] = &positionState{
		pool:           pool,
		tier:           tier,
		baseline:       baseline,
		entryTimestamp: entryTimestamp,
	}
}

// Forget releases a position's harmonic state, e.g. once it is closed.
func (c *Controller) Forget(tradeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.positions, tradeID)
}

// SetFreeze pauses (or resumes) bad-sample accrual for a position, e.g.
// for an outer suppression policy such as a post-entry quiet period or a
// cooldown after a failed exit.
func (c *Controller) SetFreeze(tradeID string, frozen bool, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.positions[tradeID]
	if !ok {
		return
	}
	ps.badSamplesFrozen = frozen
	if frozen {
		ps.freezeAppliedAt = now
	}
}

// ForceExit bypasses the frozen counter and returns FULL_EXIT
// unconditionally: the Regime Playbook's forceExitAll overrides a
// harmonic freeze.
func (c *Controller) ForceExit(tradeID string) Decision {
	c.mu.Lock()
	ps, ok := c.positions[tradeID]
	if ok {
		ps.exited = true
	}
	c.mu.Unlock()

	return Decision{TradeID: tradeID, Action: FullExit}
}

// EvaluateHarmonicStop runs one cycle of the health controller for
// tradeID. ctx carries cancellation/deadline for callers
// that want to bound the call, though the evaluation itself never blocks.
func (c *Controller) EvaluateHarmonicStop(ctx context.Context, tradeID string, now time.Time, cur Current) Decision {
	select {
	case <-ctx.Done():
		return Decision{TradeID: tradeID, Action: Hold}
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ps, ok := c.positions[tradeID]
	if !ok {
		return Decision{TradeID: tradeID, Action: Hold}
	}
	if ps.exited {
		return Decision{TradeID: tradeID, Action: FullExit}
	}

	cfg, ok := c.tierConfig[ps.tier]
	if !ok {
		cfg = DefaultTierConfigs[domain.TierB]
	}

	// Grace period: always HOLD, counters untouched.
	if now.Sub(ps.entryTimestamp) < cfg.MinHoldTime {
		ps.lastCheckTime = now
		return Decision{TradeID: tradeID, Action: Hold, ConsecutiveBadSamples: ps.consecutiveBadSamples}
	}

	velocityHealth := ratioHealth(
		cur.BinVelocity+cur.SwapVelocity,
		ps.baseline.BinVelocity+ps.baseline.SwapVelocity,
		cfg.VelocityDropFactor,
	)
	entropyHealth := ratioHealth(cur.PoolEntropy, ps.baseline.PoolEntropy, cfg.EntropyDropFactor)
	liquidityHealth := liquidityFlowHealth(cur.LiquidityUSD, ps.baseline.LiquidityUSD, cfg.LiquidityOutflowPct)
	slopeHealth := 1.0
	if cur.SlopesValid {
		slopeHealth = (slopeComponentHealth(cur.VelocitySlope, c.slopes.Velocity) +
			slopeComponentHealth(cur.LiquiditySlope, c.slopes.Liquidity) +
			slopeComponentHealth(cur.EntropySlope, c.slopes.Entropy)) / 3
	}
	floorHealth, violations := absoluteFloorHealth(cur, c.floors)

	healthScore := velocityHealth*weightVelocityRatio +
		entropyHealth*weightEntropyRatio +
		liquidityHealth*weightLiquidityFlow +
		slopeHealth*weightSlopeHealth +
		floorHealth*weightAbsoluteFloor

	bad := healthScore < cfg.MinHealthScore || violations >= 2

	if bad {
		if !ps.badSamplesFrozen {
			cap := cfg.MinBadSamples + 1
			if ps.consecutiveBadSamples < cap {
				ps.consecutiveBadSamples++
			}
		}
	} else {
		ps.consecutiveBadSamples = 0
		ps.badSamplesFrozen = false
	}

	ps.lastCheckTime = now
	ps.lastHealthScore = healthScore

	action := Hold
	if ps.consecutiveBadSamples >= cfg.MinBadSamples {
		action = FullExit
		ps.exited = true
	}

	return Decision{
		TradeID:               tradeID,
		Action:                action,
		HealthScore:           healthScore,
		ConsecutiveBadSamples: ps.consecutiveBadSamples,
		FloorViolations:       violations,
	}
}

// ratioHealth interpolates a current/baseline ratio to a [0,1] health: 1
// at ratio >= 1, 0 at ratio <= floor = 1-dropFactor, linear between.
func ratioHealth(current, baseline, dropFactor float64) float64 {
	if baseline <= 0 {
		if current <= 0 {
			return 1
		}
		return 1
	}
	ratio := current / baseline
	floor := 1 - dropFactor
	if ratio >= 1 {
		return 1
	}
	if ratio <= floor {
		return 0
	}
	return (ratio - floor) / (1 - floor)
}

// liquidityFlowHealth is 1 on inflow or no change, interpolating to 0 at
// outflowPct fractional loss.
func liquidityFlowHealth(current, baseline, outflowPct float64) float64 {
	if baseline <= 0 {
		return 1
	}
	pctChange := (current - baseline) / baseline
	if pctChange >= 0 {
		return 1
	}
	outflow := -pctChange
	if outflowPct <= 0 {
		return 0
	}
	if outflow >= outflowPct {
		return 0
	}
	return 1 - outflow/outflowPct
}

// slopeComponentHealth is 1 for a non-negative slope, interpolating down
// to 0 at floor (a negative value), per slope.
func slopeComponentHealth(slope, floor float64) float64 {
	if slope >= 0 {
		return 1
	}
	if floor >= 0 {
		return 0
	}
	if slope <= floor {
		return 0
	}
	return 1 - slope/floor
}

// absoluteFloorHealth counts hard-minimum violations and converts them to
// a [0,1] health via a flat penalty per violation, floored at 0.
func absoluteFloorHealth(cur Current, floors AbsoluteFloors) (float64, int) {
	violations := 0
	if cur.BinVelocity < floors.BinVelocity {
		violations++
	}
	if cur.SwapVelocity < floors.SwapVelocity {
		violations++
	}
	if cur.PoolEntropy < floors.PoolEntropy {
		violations++
	}
	if cur.FeeIntensity < floors.FeeIntensity {
		violations++
	}
	health := 1 - floorViolationPenalty*float64(violations)
	if health < 0 {
		health = 0
	}
	return health, violations
}
