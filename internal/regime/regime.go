// Package regime detects the portfolio-wide macro regime and maps it to
// a sizing/exit playbook, with hysteresis against noisy flips: an
// RWMutex-guarded cache of a small enum, refreshed by a detector method
// and read through accessors.
package regime

import (
	"sync"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/rs/zerolog"
)

// Signals is the portfolio-wide aggregate the classifier reads each cycle
//.
type Signals struct {
	VelocitySlope       float64
	LiquiditySlope      float64
	EntropySlope        float64
	EntropyLevel        float64
	Velocity            float64
	MigrationConfidence float64
	Consistency         float64
	FeeIntensity        float64
	ExecutionQuality    float64
}

// Thresholds are the boundary values the raw classifier compares Signals
// against before hysteresis is applied.
type Thresholds struct {
	ChaosEntropyThreshold float64
	ChaosVelocityMin      float64
	TrendSlopeMin         float64
	TrendConsistencyMin   float64
	ChopEntropyMax        float64
	HighVelocityMin       float64
}

// DefaultThresholds are the boundary values the classifier ships with.
var DefaultThresholds = Thresholds{
	ChaosEntropyThreshold: 0.85,
	ChaosVelocityMin:      80,
	TrendSlopeMin:         0.02,
	TrendConsistencyMin:   0.6,
	ChopEntropyMax:        0.40,
	HighVelocityMin:       90,
}

// HysteresisBand is the explicit buffer a raw signal must clear, beyond the
// plain threshold, before a regime switch away from the current regime is
// even proposed.
type HysteresisBand struct {
	Entropy     float64
	Velocity    float64
	Slope       float64
	Consistency float64
}

var DefaultHysteresisBand = HysteresisBand{
	Entropy:     0.05,
	Velocity:    5,
	Slope:       0.005,
	Consistency: 0.05,
}

// Playbook is the full set of parameters a macro regime maps to.
type Playbook struct {
	SizeMultiplier          float64
	ExitThreshold           float64
	HoldWindowMultiplier    float64
	AllowExtendedTargets    bool
	AllowStacking           bool
	StackingExecQualityMin  float64
	EntryCooldown           time.Duration
	MaxConcurrentPositions  int
	BlockEntries            bool
	ForceExitAll            bool
	PostRegimeCooldown      time.Duration
}

// Playbooks is the regime -> policy lookup table.
var Playbooks = map[domain.MacroRegime]Playbook{
	domain.MacroTrend: {
		SizeMultiplier:         1.25,
		ExitThreshold:          18,
		HoldWindowMultiplier:   1.5,
		AllowExtendedTargets:   true,
		AllowStacking:          true,
		StackingExecQualityMin: 0.70,
		EntryCooldown:          0,
		MaxConcurrentPositions: 20,
	},
	domain.MacroNeutral: {
		SizeMultiplier:         1.0,
		ExitThreshold:          22,
		HoldWindowMultiplier:   1.0,
		AllowExtendedTargets:   false,
		AllowStacking:          false,
		EntryCooldown:          0,
		MaxConcurrentPositions: 20,
	},
	domain.MacroChop: {
		SizeMultiplier:         0.60,
		ExitThreshold:          25,
		HoldWindowMultiplier:   0.7,
		AllowExtendedTargets:   false,
		AllowStacking:          false,
		EntryCooldown:          5 * time.Minute,
		MaxConcurrentPositions: 10,
	},
	domain.MacroHighVelocity: {
		SizeMultiplier:         0.85,
		ExitThreshold:          20,
		HoldWindowMultiplier:   0.8,
		AllowExtendedTargets:   false,
		AllowStacking:          false,
		StackingExecQualityMin: 0.85,
		EntryCooldown:          2 * time.Minute,
		MaxConcurrentPositions: 12,
	},
	domain.MacroChaos: {
		SizeMultiplier:         0,
		ExitThreshold:          30,
		HoldWindowMultiplier:   0.3,
		AllowExtendedTargets:   false,
		AllowStacking:          false,
		EntryCooldown:          10 * time.Minute,
		MaxConcurrentPositions: 0,
		BlockEntries:           true,
		ForceExitAll:           true,
		PostRegimeCooldown:     2 * time.Minute,
	},
}

// TransitionEvent records a confirmed regime switch.
type TransitionEvent struct {
	At   time.Time
	From domain.MacroRegime
	To   domain.MacroRegime
}

// Detector owns the current regime, its dwell timer, and the rolling
// confirmation window. It is the sole writer of this state; all other
// components read it through Current and CurrentPlaybook.
type Detector struct {
	mu sync.RWMutex

	current     domain.MacroRegime
	enteredAt   time.Time
	proposals   []domain.MacroRegime // ring of last ConfirmWindow raw proposals
	chaosUntil  time.Time

	minDwell        time.Duration
	confirmWindow   int
	confirmRequired int
	chaosCooldown   time.Duration

	thresholds Thresholds
	band       HysteresisBand

	log zerolog.Logger
}

// NewDetector builds a Detector starting in NEUTRAL.
func NewDetector(minDwell time.Duration, confirmWindow, confirmRequired int, chaosCooldown time.Duration, log zerolog.Logger) *Detector {
	return &Detector{
		current:         domain.MacroNeutral,
		enteredAt:       time.Time{},
		minDwell:        minDwell,
		confirmWindow:   confirmWindow,
		confirmRequired: confirmRequired,
		chaosCooldown:   chaosCooldown,
		thresholds:      DefaultThresholds,
		band:            DefaultHysteresisBand,
		log:             log.With().Str("component", "regime_detector").Logger(),
	}
}

// Current returns the confirmed macro regime.
func (d *Detector) Current() domain.MacroRegime {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// CurrentPlaybook returns the policy for the confirmed macro regime.
func (d *Detector) CurrentPlaybook() Playbook {
	d.mu.RLock()
	r := d.current
	d.mu.RUnlock()
	return Playbooks[r]
}

// InChaosCooldown reports whether the post-CHAOS cooldown window is active.
func (d *Detector) InChaosCooldown(now time.Time) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return now.Before(d.chaosUntil)
}

// Evaluate runs one cycle of classification. It records the raw proposal
// in the confirmation window unless it proposes a switch whose signal does
// not clear the hysteresis band (such a proposal is dropped unrecorded),
// then applies dwell time and confirmation-count hysteresis before
// allowing a switch. Returns the
// TransitionEvent if a switch was confirmed this cycle, else nil.
func (d *Detector) Evaluate(now time.Time, sig Signals) *TransitionEvent {
	proposed := classifyRaw(sig, d.thresholds)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enteredAt.IsZero() {
		d.enteredAt = now
	}

	if proposed == d.current {
		d.proposals = append(d.proposals, proposed)
		d.trimProposals()
		return nil
	}

	if !d.clearsHysteresisBand(sig, proposed) {
		d.log.Debug().
			Str("current", string(d.current)).
			Str("proposed", string(proposed)).
			Msg("proposed regime did not clear hysteresis band")
		return nil
	}

	d.proposals = append(d.proposals, proposed)
	d.trimProposals()

	if now.Sub(d.enteredAt) < d.minDwell {
		return nil
	}

	if d.confirmCount(proposed) < d.confirmRequired {
		return nil
	}

	from := d.current
	d.current = proposed
	d.enteredAt = now
	d.proposals = nil

	if proposed == domain.MacroChaos {
		d.chaosUntil = now.Add(d.chaosCooldown)
	}

	d.log.Info().
		Str("from", string(from)).
		Str("to", string(proposed)).
		Msg("macro regime transitioned")

	return &TransitionEvent{At: now, From: from, To: proposed}
}

func (d *Detector) trimProposals() {
	if len(d.proposals) > d.confirmWindow {
		d.proposals = d.proposals[len(d.proposals)-d.confirmWindow:]
	}
}

func (d *Detector) confirmCount(regime domain.MacroRegime) int {
	count := 0
	for _, p := range d.proposals {
		if p == regime {
			count++
		}
	}
	return count
}

// clearsHysteresisBand requires the relevant raw signal to cross the plain
// threshold by an explicit buffer before a switch away from the current
// regime is even considered.
func (d *Detector) clearsHysteresisBand(sig Signals, proposed domain.MacroRegime) bool {
	switch proposed {
	case domain.MacroChaos:
		return sig.EntropyLevel >= d.thresholds.ChaosEntropyThreshold+d.band.Entropy ||
			sig.Velocity >= d.thresholds.ChaosVelocityMin+d.band.Velocity
	case domain.MacroTrend:
		return sig.VelocitySlope >= d.thresholds.TrendSlopeMin+d.band.Slope &&
			sig.Consistency >= d.thresholds.TrendConsistencyMin+d.band.Consistency
	case domain.MacroChop:
		return sig.EntropyLevel <= d.thresholds.ChopEntropyMax-d.band.Entropy
	case domain.MacroHighVelocity:
		return sig.Velocity >= d.thresholds.HighVelocityMin+d.band.Velocity
	default:
		return true
	}
}

// classifyRaw maps signals to a regime with no hysteresis applied, in
// priority order: CHAOS is the most severe and checked first.
func classifyRaw(sig Signals, th Thresholds) domain.MacroRegime {
	if sig.EntropyLevel >= th.ChaosEntropyThreshold || sig.Velocity >= th.ChaosVelocityMin {
		return domain.MacroChaos
	}
	if sig.Velocity >= th.HighVelocityMin {
		return domain.MacroHighVelocity
	}
	if sig.VelocitySlope >= th.TrendSlopeMin && sig.Consistency >= th.TrendConsistencyMin {
		return domain.MacroTrend
	}
	if sig.EntropyLevel <= th.ChopEntropyMax {
		return domain.MacroChop
	}
	return domain.MacroNeutral
}
