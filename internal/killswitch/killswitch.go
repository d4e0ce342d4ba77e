// Package killswitch implements the portfolio-wide catastrophe detector:
// multiple simultaneous pool collapses, global oscillation death, a
// coordinated whale regime, systemic liquidity exodus, and telemetry
// unreliability. Any trigger forces a full exit and a cooldown during
// which the Entry Gate rejects everything. Host health sampling feeds
// the telemetry-unreliability trigger, since a saturated host is itself
// a source of missed snapshots.
package killswitch

import (
	"sync"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Reason is the closed set of kill-switch triggers.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonMultiCollapse       Reason = "MULTI_POOL_COLLAPSE"
	ReasonOscillationDeath    Reason = "OSCILLATION_DEATH"
	ReasonCoordinatedWhale    Reason = "COORDINATED_WHALE_REGIME"
	ReasonLiquidityExodus     Reason = "SYSTEMIC_LIQUIDITY_EXODUS"
	ReasonTelemetryUnreliable Reason = "TELEMETRY_UNRELIABLE"
)

const (
	collapseWindow       = 120 * time.Second
	collapseMinPools     = 3
	collapseHealthDrop   = 0.30 // fractional health drop vs the pool's own recent peak

	oscillationWindow    = 5 * time.Minute
	oscillationMinFlips  = 6

	whaleMinPools        = 2
	whaleBinVelocityRaw  = 2.0 // bins/sec, far beyond any ordinary regime

	exodusPoolFraction   = 0.50
	exodusLiquidityDrop  = 0.30

	telemetryMissingFraction = 0.30

	hostCPUCritical    = 95.0
	hostMemoryCritical = 95.0
)

// PoolReading is one pool's per-cycle input to the detector.
type PoolReading struct {
	Pool               domain.PoolAddress
	HealthScore        float64 // the pool's MHI this cycle (entrygate.ComputeMHI)
	BinVelocityRaw     float64
	LiquidityUSD       float64
	SnapshotMissing    bool
	VelocitySignum     int // sign of this cycle's bin-velocity delta, 0 if flat
}

// CycleInput is the full per-cycle snapshot the detector evaluates.
type CycleInput struct {
	Now     time.Time
	Readings []PoolReading
}

// Verdict is the detector's decision for one cycle.
type Verdict struct {
	KillAll bool
	Reason  Reason
}

type poolHistory struct {
	peakHealth    float64
	lastCollapsed time.Time
	lastSignum    int
	flipTimes     []time.Time
	peakLiquidity float64
}

// Detector owns the rolling state needed to distinguish a genuine
// portfolio-wide catastrophe from per-pool noise. It is the sole writer
// of this state.
type Detector struct {
	mu       sync.Mutex
	pools    map[domain.PoolAddress]*poolHistory
	cooldown time.Duration

	cooldownUntil time.Time
	lastReason    Reason

	hostSampler func() (cpuPct, memPct float64, err error)

	log zerolog.Logger
}

// New creates a Kill Switch detector with the given post-trigger
// cooldown.
func New(cooldown time.Duration, log zerolog.Logger) *Detector {
	return &Detector{
		pools:       make(map[domain.PoolAddress]*poolHistory),
		cooldown:    cooldown,
		hostSampler: sampleHost,
		log:         log.With().Str("component", "kill_switch").Logger(),
	}
}

// InCooldown reports whether the post-trigger cooldown window is active;
// the Entry Gate consults this to reject everything during cooldown.
func (d *Detector) InCooldown(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return now.Before(d.cooldownUntil)
}

// Evaluate runs one cycle of catastrophe detection.
func (d *Detector) Evaluate(in CycleInput) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	if reason := d.detectMultiCollapse(in); reason != ReasonNone {
		return d.trigger(in.Now, reason)
	}
	if reason := d.detectOscillationDeath(in); reason != ReasonNone {
		return d.trigger(in.Now, reason)
	}
	if reason := d.detectCoordinatedWhale(in); reason != ReasonNone {
		return d.trigger(in.Now, reason)
	}
	if reason := d.detectLiquidityExodus(in); reason != ReasonNone {
		return d.trigger(in.Now, reason)
	}
	if reason := d.detectTelemetryUnreliable(in); reason != ReasonNone {
		return d.trigger(in.Now, reason)
	}

	return Verdict{KillAll: false}
}

func (d *Detector) trigger(now time.Time, reason Reason) Verdict {
	d.cooldownUntil = now.Add(d.cooldown)
	d.lastReason = reason
	d.log.Error().Str("reason", string(reason)).Msg("kill switch triggered")
	return Verdict{KillAll: true, Reason: reason}
}

func (d *Detector) historyFor(pool domain.PoolAddress) *poolHistory {
	h, ok := d.pools[pool]
	if !ok {
		h = &poolHistory{}
		d.pools[pool] = h
	}
	return h
}

// detectMultiCollapse fires if >= collapseMinPools pools drop health by
// collapseHealthDrop within collapseWindow of each other.
func (d *Detector) detectMultiCollapse(in CycleInput) Reason {
	collapsedNow := 0
	for _, r := range in.Readings {
		h := d.historyFor(r.Pool)
		if r.HealthScore > h.peakHealth {
			h.peakHealth = r.HealthScore
		}
		if h.peakHealth > 0 && (h.peakHealth-r.HealthScore)/h.peakHealth >= collapseHealthDrop {
			h.lastCollapsed = in.Now
		}
		if !h.lastCollapsed.IsZero() && in.Now.Sub(h.lastCollapsed) <= collapseWindow {
			collapsedNow++
		}
	}
	if collapsedNow >= collapseMinPools {
		return ReasonMultiCollapse
	}
	return ReasonNone
}

// detectOscillationDeath fires when the portfolio-wide count of bin-
// velocity sign flips across all pools reaches oscillationMinFlips within
// oscillationWindow: a market-wide whipsaw rather than any single pool's
// noise.
func (d *Detector) detectOscillationDeath(in CycleInput) Reason {
	totalFlips := 0
	for _, r := range in.Readings {
		h := d.historyFor(r.Pool)
		if r.VelocitySignum != 0 && h.lastSignum != 0 && r.VelocitySignum != h.lastSignum {
			h.flipTimes = append(h.flipTimes, in.Now)
		}
		if r.VelocitySignum != 0 {
			h.lastSignum = r.VelocitySignum
		}

		cutoff := in.Now.Add(-oscillationWindow)
		kept := h.flipTimes[:0]
		for _, t := range h.flipTimes {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		h.flipTimes = kept
		totalFlips += len(kept)
	}
	if totalFlips >= oscillationMinFlips {
		return ReasonOscillationDeath
	}
	return ReasonNone
}

// detectCoordinatedWhale fires when >= whaleMinPools pools show an
// extreme active-bin jump in the same cycle.
func (d *Detector) detectCoordinatedWhale(in CycleInput) Reason {
	whalePools := 0
	for _, r := range in.Readings {
		if r.BinVelocityRaw >= whaleBinVelocityRaw {
			whalePools++
		}
	}
	if whalePools >= whaleMinPools {
		return ReasonCoordinatedWhale
	}
	return ReasonNone
}

// detectLiquidityExodus fires when at least exodusPoolFraction of pools
// have lost at least exodusLiquidityDrop of their peak liquidity.
func (d *Detector) detectLiquidityExodus(in CycleInput) Reason {
	if len(in.Readings) == 0 {
		return ReasonNone
	}
	draining := 0
	for _, r := range in.Readings {
		h := d.historyFor(r.Pool)
		if r.LiquidityUSD > h.peakLiquidity {
			h.peakLiquidity = r.LiquidityUSD
		}
		if h.peakLiquidity > 0 && (h.peakLiquidity-r.LiquidityUSD)/h.peakLiquidity >= exodusLiquidityDrop {
			draining++
		}
	}
	if float64(draining)/float64(len(in.Readings)) >= exodusPoolFraction {
		return ReasonLiquidityExodus
	}
	return ReasonNone
}

// detectTelemetryUnreliable fires when too large a fraction of tracked
// pools are missing a snapshot this cycle, or the host itself is
// saturated enough that snapshot collection cannot be trusted.
func (d *Detector) detectTelemetryUnreliable(in CycleInput) Reason {
	if len(in.Readings) > 0 {
		missing := 0
		for _, r := range in.Readings {
			if r.SnapshotMissing {
				missing++
			}
		}
		if float64(missing)/float64(len(in.Readings)) >= telemetryMissingFraction {
			return ReasonTelemetryUnreliable
		}
	}

	if d.hostSampler != nil {
		if cpuPct, memPct, err := d.hostSampler(); err == nil {
			if cpuPct >= hostCPUCritical || memPct >= hostMemoryCritical {
				return ReasonTelemetryUnreliable
			}
		}
	}
	return ReasonNone
}

func sampleHost() (cpuPct, memPct float64, err error) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return cpuPct, 0, err
	}
	memPct = vm.UsedPercent

	return cpuPct, memPct, nil
}
