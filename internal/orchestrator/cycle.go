package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/entrygate"
	"github.com/aristath/dlmm-sentinel/internal/events"
	"github.com/aristath/dlmm-sentinel/internal/harmonic"
	"github.com/aristath/dlmm-sentinel/internal/killswitch"
	"github.com/aristath/dlmm-sentinel/internal/metrics"
	"github.com/aristath/dlmm-sentinel/internal/momentum"
	"github.com/aristath/dlmm-sentinel/internal/persistence"
	"github.com/aristath/dlmm-sentinel/internal/regime"
	"github.com/aristath/dlmm-sentinel/internal/risk"
	"github.com/aristath/dlmm-sentinel/internal/scoring"
	"github.com/aristath/dlmm-sentinel/internal/sharpe"
	"github.com/aristath/dlmm-sentinel/internal/venue"
	"github.com/google/uuid"
)

// poolCycleState is everything the cycle computed for one pool this pass,
// reused between the entry, sizing, and harmonic-evaluation stages so
// each pool's metrics/momentum are derived from its history exactly once
// per cycle.
type poolCycleState struct {
	desc           domain.PoolDescriptor
	hasDescriptor  bool
	hasTelemetry   bool
	metricsResult  *metrics.Result
	momentumResult *momentum.Result
	tier4          *scoring.Score
	activeBin      int
	snapshotMissing bool
}

// RunCycle executes exactly one pass of the decision pipeline: refresh
// telemetry, score, gate, size, open/close, then run Harmonic Stops and
// the Kill Switch for every still-open position.
func (o *Orchestrator) RunCycle(ctx context.Context, now time.Time) error {
	states, err := o.refreshUniverseAndTelemetry(ctx, now)
	if err != nil {
		return err
	}

	o.scorePools(now, states)

	transition := o.regimeDetector.Evaluate(now, o.aggregateMacroSignals(states))
	if transition != nil && o.persistence != nil {
		_ = o.persistence.AppendRegimeTransition(ctx, regimeTransitionRecord(transition))
	}
	if transition != nil {
		o.eventLog.Append("regime", &events.RegimeTransitionedData{From: string(transition.From), To: string(transition.To)})
	}

	o.evaluateUniverseTransitions(ctx, now, states)

	playbook := o.regimeDetector.CurrentPlaybook()
	killCooldown := o.killSwitch.InCooldown(now)

	if !playbook.BlockEntries && !killCooldown && !o.regimeDetector.InChaosCooldown(now) {
		o.admitAndSizeCandidates(ctx, now, states, playbook)
	}

	o.evaluateOpenPositions(ctx, now, states)

	verdict := o.killSwitch.Evaluate(o.buildKillSwitchInput(now, states))
	if verdict.KillAll {
		o.eventLog.Append("orchestrator", &events.KillSwitchTriggeredData{Reason: string(verdict.Reason)})
	}
	if verdict.KillAll || playbook.ForceExitAll {
		reason := string(verdict.Reason)
		if reason == "" {
			reason = "regime_force_exit_all"
		}
		o.forceExitAll(ctx, now, reason)
	}

	return nil
}

// refreshUniverseAndTelemetry discovers new pools, registers/touches
// existing ones, and appends each pool's latest snapshot to the
// Snapshot Store. Per-pool telemetry failures are local: the pool is
// simply skipped this cycle.
func (o *Orchestrator) refreshUniverseAndTelemetry(ctx context.Context, now time.Time) (map[domain.PoolAddress]*poolCycleState, error) {
	states := make(map[domain.PoolAddress]*poolCycleState)

	descriptors, err := o.telemetry.ListPools(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("pool listing failed this cycle")
	}
	for _, d := range descriptors {
		st := states[d.Address]
		if st == nil {
			st = &poolCycleState{}
			states[d.Address] = st
		}
		st.desc = d
		st.hasDescriptor = true

		if _, tracked := o.universe.Status(d.Address); !tracked {
			discoveryScore := scoring.ComputeBootstrap(d).Score
			o.universe.Discover(d.Address, now, discoveryScore)
			o.log.Info().Str("pool", string(d.Address)).Msg("pool entered DISCOVERY")
		} else {
			o.universe.Touch(d.Address, now)
		}
	}

	for _, pool := range o.universe.Pools() {
		st := states[pool]
		if st == nil {
			st = &poolCycleState{}
			states[pool] = st
		}

		snap, err := o.telemetry.Snapshot(ctx, pool)
		if err != nil {
			o.log.Warn().Err(err).Str("pool", string(pool)).Msg("snapshot fetch failed, skipping pool this cycle")
			st.snapshotMissing = true
			continue
		}

		if err := o.snapshotStore.Append(pool, snap); err != nil {
			var mono *domain.MonotonicityViolationError
			if errors.As(err, &mono) {
				// The faster telemetry ticker already ingested this
				// reading; the pool still has fresh history this cycle.
				st.hasTelemetry = o.snapshotStore.Len(pool) > 0
				st.activeBin = snap.ActiveBin
				continue
			}
			o.log.Warn().Err(err).Msg("rejected snapshot")
			st.snapshotMissing = true
			continue
		}

		st.hasTelemetry = true
		st.activeBin = snap.ActiveBin

		if o.persistence != nil {
			if err := o.persistence.AppendSnapshot(ctx, pool, snap); err != nil {
				o.log.Warn().Err(err).Msg("failed to persist snapshot")
			}
		}
	}

	return states, nil
}

// refreshTelemetry runs on the faster TELEMETRY_REFRESH_MS cadence: it
// only accrues snapshot history so derived metrics reach MIN_SNAPSHOTS
// quickly; scoring and decisions stay on the cycle loop.
// Duplicate readings from the cache are discarded by the store's
// monotonicity check.
func (o *Orchestrator) refreshTelemetry(ctx context.Context) {
	for _, pool := range o.universe.Pools() {
		snap, err := o.telemetry.Snapshot(ctx, pool)
		if err != nil {
			continue
		}
		if err := o.snapshotStore.Append(pool, snap); err != nil {
			continue
		}
		if o.persistence != nil {
			if err := o.persistence.AppendSnapshot(ctx, pool, snap); err != nil {
				o.log.Warn().Err(err).Msg("failed to persist snapshot")
			}
		}
	}
}

// scorePools computes microstructure metrics, momentum, and a Tier-4
// score for every tracked pool with telemetry this cycle.
func (o *Orchestrator) scorePools(now time.Time, states map[domain.PoolAddress]*poolCycleState) {
	for pool, st := range states {
		if !st.hasTelemetry {
			continue
		}

		hist := o.snapshotStore.Window(pool, o.cfg.HistoryLength)
		baseFee := st.desc.BaseFee

		m, err := metrics.Compute(pool, baseFee, hist)
		if err != nil {
			continue // DataInsufficientError: non-tradable this cycle, not an error
		}
		st.metricsResult = m

		mom, err := momentum.Compute(pool, baseFee, hist)
		if err == nil {
			st.momentumResult = mom
		}

		slopesValid := st.momentumResult != nil && st.momentumResult.Valid
		var velSlope, liqSlope, entSlope float64
		if slopesValid {
			velSlope = st.momentumResult.VelocitySlope
			liqSlope = st.momentumResult.LiquiditySlope
			entSlope = st.momentumResult.EntropySlope
		}

		score := o.scorer.Compute(pool, now, m, velSlope, liqSlope, entSlope, slopesValid)
		st.tier4 = &score

		if o.cfg.VerboseScoring {
			o.log.Debug().
				Str("pool", string(pool)).
				Float64("base_score", score.BaseScore).
				Float64("tier4_score", score.Tier4Score).
				Str("regime", string(score.Regime)).
				Str("migration", string(score.Migration)).
				Float64("regime_mult", score.RegimeMultiplier).
				Float64("migration_mult", score.MigrationMultiplier).
				Float64("slope_mult", score.SlopeMultiplier).
				Float64("time_weight_mult", score.TimeWeightMultiplier).
				Msg("tier4 score")
		}
	}
}

// aggregateMacroSignals folds every pool's current metrics into the
// portfolio-wide aggregate the Regime Playbook classifies against:
// a simple mean across pools with a valid score this cycle. Pools
// without a score are excluded from both numerator and denominator.
func (o *Orchestrator) aggregateMacroSignals(states map[domain.PoolAddress]*poolCycleState) regime.Signals {
	var (
		n                                                        int
		velSum, liqSum, entSum, entropyLevelSum, velocitySum     float64
		migratingSum, consistencySum, feeSum, execQualitySum     float64
	)

	for _, st := range states {
		if st.tier4 == nil || st.metricsResult == nil {
			continue
		}
		n++
		m := st.metricsResult
		s := st.tier4

		if s.SlopesValid {
			velSum += s.VelocitySlope
			liqSum += s.LiquiditySlope
			entSum += s.EntropySlope
		}
		entropyLevelSum += m.PoolEntropy
		velocitySum += (m.BinVelocity + m.SwapVelocity) / 2
		if s.Migration != domain.MigrationNeutral {
			migratingSum++
		}
		consistencySum += clamp01((s.TimeWeightMultiplier - 0.75) / (1.20 - 0.75))
		feeSum += m.FeeIntensity / 100
		execQualitySum += entrygate.ComputeMHI(m)
	}

	if n == 0 {
		return regime.Signals{}
	}

	f := float64(n)
	return regime.Signals{
		VelocitySlope:       velSum / f,
		LiquiditySlope:      liqSum / f,
		EntropySlope:        entSum / f,
		EntropyLevel:        entropyLevelSum / f,
		Velocity:            velocitySum / f,
		MigrationConfidence: migratingSum / f,
		Consistency:         consistencySum / f,
		FeeIntensity:        feeSum / f,
		ExecutionQuality:    execQualitySum / f,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// evaluateUniverseTransitions runs the Adaptive Pool Universe's per-pool
// transition rules off each pool's current Sharpe and trade
// count, appending every status change to the persistence log.
func (o *Orchestrator) evaluateUniverseTransitions(ctx context.Context, now time.Time, states map[domain.PoolAddress]*poolCycleState) {
	for _, pool := range o.universe.Pools() {
		before, _ := o.universe.Status(pool)
		stats := o.sharpeMemory.Stats(pool)
		sharpeValue := o.sharpeMemory.Sharpe(pool, now)
		status, deleted := o.universe.Evaluate(pool, now, sharpeValue, stats.TradeCount, o.cfg.MinTradesForSharpe)

		if status != before && o.persistence != nil {
			err := o.persistence.AppendUniverseUpdate(ctx, persistence.UniverseUpdateRecord{
				Pool:       string(pool),
				OccurredAt: now,
				From:       string(before),
				To:         string(status),
			})
			if err != nil {
				o.log.Warn().Err(err).Str("pool", string(pool)).Msg("failed to persist universe transition")
			}
		}

		if deleted {
			o.snapshotStore.Drop(pool)
			o.scorer.Forget(pool)
			delete(states, pool)
			continue
		}
		if status == domain.StatusBlocked || status == domain.StatusExpired {
			delete(states, pool)
		}
	}
}

// admitAndSizeCandidates runs the Entry Gate over every candidate pool
// without an open position, then batch-assigns capital across the
// admitted set in score-descending order so the best candidates consume
// portfolio capacity first.
func (o *Orchestrator) admitAndSizeCandidates(ctx context.Context, now time.Time, states map[domain.PoolAddress]*poolCycleState, playbook regime.Playbook) {
	var candidates []risk.Candidate
	type admissible struct {
		pool  domain.PoolAddress
		score scoring.Score
	}
	var admitted []admissible

	for pool, st := range states {
		if o.positions.hasOpenPosition(pool) {
			continue
		}
		status, tracked := o.universe.Status(pool)
		if !tracked || status == domain.StatusBlocked || status == domain.StatusExpired {
			continue
		}
		if st.tier4 == nil || st.metricsResult == nil {
			// No telemetry-derived score yet: fall back to the Bootstrap
			// Scorer. Admissible on bootstrap score alone; the
			// microstructure checks have nothing to read. Still needs this
			// cycle's snapshot for an active bin to place a range around.
			if !st.hasDescriptor || !st.hasTelemetry {
				o.entryBlocked(pool, domain.BlockNoData)
				continue
			}
			bs := scoring.ComputeBootstrap(st.desc)
			if bs.Score < o.cfg.BootstrapMinScore {
				o.entryBlocked(pool, domain.BlockScoreLow)
				continue
			}
			score := scoring.FromBootstrap(bs)
			candidates = append(candidates, risk.Candidate{Pool: pool, Score: score.Tier4Score})
			admitted = append(admitted, admissible{pool: pool, score: score})
			continue
		}

		score := *st.tier4
		m := st.metricsResult

		slopesValid := o.momentumValid(states, pool)
		decision := entrygate.Evaluate(entrygate.Input{
			Pool:                 pool,
			TelemetryValid:       true,
			MHI:                  entrygate.ComputeMHI(m),
			SwapVelocity:         m.Raw.SwapVelocity,
			PoolEntropy:          m.PoolEntropy,
			VelocitySlope:        score.VelocitySlope,
			LiquiditySlope:       score.LiquiditySlope,
			SlopesValid:          slopesValid,
			MigrationBlocked:     score.MigrationMultiplier == 0,
			Tier4Score:           score.Tier4Score,
			FeeIntensity01:       m.FeeIntensity / 100,
			EntropySlope:         score.EntropySlope,
			RegimeEntryThreshold: score.Thresholds.Entry,
		})

		o.eventLog.Append("entrygate", decisionEventData(decision))
		if !decision.Admitted {
			continue
		}

		sharpeMult, blocked := o.sharpeMemory.Multiplier(pool, now)
		if blocked {
			o.entryBlocked(pool, domain.BlockScoreLow)
			continue
		}

		adjustedScore := score
		adjustedScore.Tier4Score *= sharpeMult * playbook.SizeMultiplier

		candidates = append(candidates, risk.Candidate{
			Pool:           pool,
			Score:          adjustedScore.Tier4Score,
			LiquiditySlope: score.LiquiditySlope,
		})
		admitted = append(admitted, admissible{pool: pool, score: score})
	}

	if len(candidates) == 0 {
		return
	}

	if o.positions.count() >= o.cfg.MaxPositions || o.positions.count() >= playbook.MaxConcurrentPositions {
		return
	}

	assignments := risk.AssignBatch(candidates, o.portfolioSnapshot())

	scoreByPool := make(map[domain.PoolAddress]scoring.Score, len(admitted))
	for _, a := range admitted {
		scoreByPool[a.pool] = a.score
	}

	for _, a := range assignments {
		if !a.Admitted {
			continue
		}
		if o.positions.count() >= o.cfg.MaxPositions {
			break
		}
		st := states[a.Pool]
		score := scoreByPool[a.Pool]
		o.openPosition(ctx, now, a, score, st)
	}
}

func (o *Orchestrator) momentumValid(states map[domain.PoolAddress]*poolCycleState, pool domain.PoolAddress) bool {
	st, ok := states[pool]
	return ok && st.momentumResult != nil && st.momentumResult.Valid
}

func (o *Orchestrator) entryBlocked(pool domain.PoolAddress, reason domain.EntryBlockReason) {
	o.eventLog.Append("entrygate", &events.EntryBlockedData{Pool: string(pool), Reason: string(reason)})
}

func decisionEventData(d entrygate.Decision) *events.EntryBlockedData {
	reason := d.BlockReason
	if d.Admitted {
		reason = domain.BlockNone
	}
	return &events.EntryBlockedData{Pool: string(d.Pool), Reason: string(reason)}
}

// portfolioSnapshot translates the Ledger's authoritative state into the
// Risk Bucket Engine's mutable simulation input.
func (o *Orchestrator) portfolioSnapshot() risk.PortfolioSnapshot {
	snap := o.ledger.Snapshot()
	return risk.PortfolioSnapshot{
		TotalCapitalUsd:     o.cfg.EffectiveCapitalUsd(),
		DeployedTotalUsd:    snap.TotalDeployedUsd,
		DeployedByTier:      snap.DeployedByTier,
		PositionsByTier:     snap.PositionsByTier,
		MaxDeploymentPct:    o.cfg.MaxDeploymentPct,
		PerPairCapPct:       o.cfg.MaxPoolOwnershipPct,
		MaxPositionsPerTier: o.cfg.MaxPositionsPerTier,
		MinOperatingCapital: o.cfg.MinOperatingCapital,
	}
}

// openPosition opens a venue position and atomically registers it with
// the Ledger, Universe, and Harmonic Stops before any downstream consumer
// can observe a partial state.
func (o *Orchestrator) openPosition(ctx context.Context, now time.Time, a risk.Assignment, score scoring.Score, st *poolCycleState) {
	halfWidth := score.BinWidth.Max / 2
	binRange := venue.BinRange{LowerBin: st.activeBin - halfWidth, UpperBin: st.activeBin + halfWidth}

	handle, err := o.venue.AddLiquidity(ctx, a.Pool, binRange, a.SizeUsd)
	if err != nil {
		o.log.Warn().Err(err).Str("pool", string(a.Pool)).Msg("add liquidity failed, skipping entry")
		return
	}

	tradeID := uuid.NewString()
	baseline := harmonic.Baseline{
		BinVelocity:  score.Raw.BinVelocity,
		SwapVelocity: score.Raw.SwapVelocity,
		PoolEntropy:  score.Raw.Entropy,
		LiquidityUSD: st.desc.LiquidityUSD,
	}

	if err := o.ledger.Open(tradeID, a.Pool, a.Tier, a.SizeUsd); err != nil {
		o.log.Fatal().Err(err).Msg("ledger invariant violation on open")
		return
	}
	o.universe.Touch(a.Pool, now)
	o.harmonicCtl.RegisterHarmonicTrade(tradeID, a.Pool, a.Tier, baseline, now)

	o.positions.open(&Position{
		TradeID:          tradeID,
		Pool:             a.Pool,
		Tier:             a.Tier,
		Handle:           handle,
		EntryTime:        now,
		EntryScore:       score.Tier4Score,
		SizeUsd:          a.SizeUsd,
		PeakScore:        score.Tier4Score,
		BinRange:         binRange,
		BaselineSnapshot: baseline,
		RegimeAtEntry:    score.Regime,
		MigrationAtEntry: score.Migration,
		SlopesAtEntry:    score,
	})

	o.log.Info().
		Str("pool", string(a.Pool)).
		Str("trade_id", tradeID).
		Str("tier", string(a.Tier)).
		Float64("size_usd", a.SizeUsd).
		Msg("position opened")
}

// evaluateOpenPositions runs the score-decay exit check and Harmonic
// Stops for every open position against this cycle's microstructure,
// closing out any that call for a FULL_EXIT.
func (o *Orchestrator) evaluateOpenPositions(ctx context.Context, now time.Time, states map[domain.PoolAddress]*poolCycleState) {
	for _, pos := range o.positions.all() {
		st := states[pos.Pool]
		if st == nil || st.metricsResult == nil {
			continue
		}
		m := st.metricsResult

		pos.ConsecutiveCycles++
		if st.tier4 != nil {
			if st.tier4.Tier4Score > pos.PeakScore {
				pos.PeakScore = st.tier4.Tier4Score
			}
			if st.tier4.Tier4Score < st.tier4.Thresholds.Exit {
				o.closePosition(ctx, now, pos, "score_below_exit_threshold")
				continue
			}
		}

		var velSlope, liqSlope, entSlope float64
		slopesValid := st.momentumResult != nil && st.momentumResult.Valid
		if slopesValid {
			velSlope = st.momentumResult.VelocitySlope
			liqSlope = st.momentumResult.LiquiditySlope
			entSlope = st.momentumResult.EntropySlope
		}

		decision := o.harmonicCtl.EvaluateHarmonicStop(ctx, pos.TradeID, now, harmonic.Current{
			BinVelocity:    m.Raw.BinVelocity,
			SwapVelocity:   m.Raw.SwapVelocity,
			PoolEntropy:    m.Raw.Entropy,
			LiquidityUSD:   st.desc.LiquidityUSD,
			FeeIntensity:   m.Raw.FeeIntensity,
			VelocitySlope:  velSlope,
			LiquiditySlope: liqSlope,
			EntropySlope:   entSlope,
			SlopesValid:    slopesValid,
		})

		if decision.Action == harmonic.FullExit {
			o.eventLog.Append("orchestrator", &events.HarmonicExitData{
				TradeID:               pos.TradeID,
				Pool:                  string(pos.Pool),
				HealthScore:           decision.HealthScore,
				ConsecutiveBadSamples: decision.ConsecutiveBadSamples,
			})
			o.closePosition(ctx, now, pos, "harmonic_full_exit")
		}
	}
}

// closePosition tears down a position across the venue, Ledger, Sharpe
// Memory, and Harmonic Stops.
func (o *Orchestrator) closePosition(ctx context.Context, now time.Time, pos *Position, reason string) {
	withdrawn, err := o.venue.RemoveLiquidity(ctx, pos.Handle)
	if err != nil {
		o.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("remove liquidity failed")
	}
	fees, err := o.venue.ClaimFees(ctx, pos.Handle)
	if err != nil {
		o.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("claim fees failed")
	}
	if err := o.venue.ClosePosition(ctx, pos.Handle); err != nil {
		o.log.Warn().Err(err).Str("trade_id", pos.TradeID).Msg("close position failed")
	}

	realizedPnL := withdrawn + fees - pos.SizeUsd

	if err := o.ledger.Close(pos.TradeID, pos.Pool, pos.Tier, pos.SizeUsd, realizedPnL, reason); err != nil {
		o.log.Fatal().Err(err).Msg("ledger invariant violation on close")
		return
	}

	trade := closedTradeFromPosition(pos, now, realizedPnL)
	o.sharpeMemory.Record(trade)
	if o.persistence != nil {
		if err := o.persistence.AppendTradeOutcome(ctx, trade); err != nil {
			o.log.Warn().Err(err).Msg("failed to persist trade outcome")
		}
	}

	o.harmonicCtl.Forget(pos.TradeID)
	o.positions.close(pos.TradeID)

	o.log.Info().
		Str("pool", string(pos.Pool)).
		Str("trade_id", pos.TradeID).
		Float64("realized_pnl", realizedPnL).
		Str("reason", reason).
		Msg("position closed")
}

func closedTradeFromPosition(pos *Position, now time.Time, realizedPnL float64) sharpe.ClosedTrade {
	return sharpe.ClosedTrade{
		TradeID:     pos.TradeID,
		Pool:        pos.Pool,
		EntryTime:   pos.EntryTime,
		ExitTime:    now,
		SizeUsd:     pos.SizeUsd,
		RealizedPnL: realizedPnL,
		EntryScore:  pos.EntryScore,
		ExitScore:   pos.PeakScore,
		RiskAmount:  pos.SizeUsd,
	}
}

// buildKillSwitchInput assembles this cycle's per-pool readings for the
// Kill Switch.
func (o *Orchestrator) buildKillSwitchInput(now time.Time, states map[domain.PoolAddress]*poolCycleState) killswitch.CycleInput {
	readings := make([]killswitch.PoolReading, 0, len(states))
	for pool, st := range states {
		reading := killswitch.PoolReading{Pool: pool, SnapshotMissing: st.snapshotMissing}
		if st.metricsResult != nil {
			m := st.metricsResult
			reading.HealthScore = entrygate.ComputeMHI(m)
			reading.BinVelocityRaw = m.Raw.BinVelocity
			reading.LiquidityUSD = st.desc.LiquidityUSD
			if m.Raw.BinVelocitySigned > 0 {
				reading.VelocitySignum = 1
			} else if m.Raw.BinVelocitySigned < 0 {
				reading.VelocitySignum = -1
			}
		}
		readings = append(readings, reading)
	}
	return killswitch.CycleInput{Now: now, Readings: readings}
}

// forceExitAll closes every open position regardless of Harmonic freeze
// state.
func (o *Orchestrator) forceExitAll(ctx context.Context, now time.Time, reason string) {
	for _, pos := range o.positions.all() {
		o.harmonicCtl.ForceExit(pos.TradeID)
		o.closePosition(ctx, now, pos, reason)
	}
}

func regimeTransitionRecord(t *regime.TransitionEvent) persistence.RegimeTransitionRecord {
	return persistence.RegimeTransitionRecord{
		OccurredAt: t.At,
		From:       string(t.From),
		To:         string(t.To),
	}
}
