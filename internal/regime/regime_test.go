package regime

import (
	"testing"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector() *Detector {
	return NewDetector(3*time.Minute, 5, 3, 2*time.Minute, zerolog.Nop())
}

func neutralSignals() Signals {
	return Signals{
		VelocitySlope: 0,
		EntropyLevel:  0.60,
		Velocity:      40,
		Consistency:   0.5,
	}
}

func TestNewDetector_StartsNeutral(t *testing.T) {
	d := newTestDetector()
	assert.Equal(t, domain.MacroNeutral, d.Current())
}

func TestEvaluate_MinDwellTimeBlocksSwitch(t *testing.T) {
	d := newTestDetector()
	base := time.Now()
	d.Evaluate(base, neutralSignals())

	chaos := Signals{EntropyLevel: 0.95, Velocity: 95}
	for i := 1; i <= 4; i++ {
		evt := d.Evaluate(base.Add(time.Duration(i)*time.Second), chaos)
		assert.Nil(t, evt, "should not switch before min dwell time elapses")
	}
	assert.Equal(t, domain.MacroNeutral, d.Current())
}

func TestEvaluate_ConfirmsChaosAfterDwellAndConfirmationWindow(t *testing.T) {
	d := newTestDetector()
	base := time.Now()
	d.Evaluate(base, neutralSignals())

	chaos := Signals{EntropyLevel: 0.95, Velocity: 95}
	var evt *TransitionEvent
	for i := 1; i <= 6; i++ {
		if e := d.Evaluate(base.Add(time.Duration(i)*time.Minute), chaos); e != nil {
			evt = e
		}
	}

	require.NotNil(t, evt)
	assert.Equal(t, domain.MacroNeutral, evt.From)
	assert.Equal(t, domain.MacroChaos, evt.To)
	assert.Equal(t, domain.MacroChaos, d.Current())
}

func TestEvaluate_ChaosEntersPostRegimeCooldown(t *testing.T) {
	d := newTestDetector()
	base := time.Now()
	d.Evaluate(base, neutralSignals())

	chaos := Signals{EntropyLevel: 0.95, Velocity: 95}
	var transitionAt time.Time
	for i := 1; i <= 6; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		if evt := d.Evaluate(now, chaos); evt != nil {
			transitionAt = evt.At
		}
	}

	require.False(t, transitionAt.IsZero())
	assert.True(t, d.InChaosCooldown(transitionAt.Add(time.Minute)))
	assert.False(t, d.InChaosCooldown(transitionAt.Add(3*time.Minute)))
}

func TestEvaluate_HysteresisBandRejectsBorderlineSignal(t *testing.T) {
	d := newTestDetector()
	base := time.Now()
	d.Evaluate(base, neutralSignals())

	// Crosses the plain threshold but not threshold+band.
	borderline := Signals{EntropyLevel: DefaultThresholds.ChaosEntropyThreshold + 0.01, Velocity: 40}
	for i := 1; i <= 6; i++ {
		evt := d.Evaluate(base.Add(time.Duration(i)*time.Minute), borderline)
		assert.Nil(t, evt)
	}
	assert.Equal(t, domain.MacroNeutral, d.Current())
}

func TestCurrentPlaybook_ChaosForcesExitAllAndBlocksEntries(t *testing.T) {
	p := Playbooks[domain.MacroChaos]
	assert.True(t, p.ForceExitAll)
	assert.True(t, p.BlockEntries)
	assert.Equal(t, 0, p.MaxConcurrentPositions)
}

func TestClassifyRaw_PrioritizesChaosOverOtherSignals(t *testing.T) {
	sig := Signals{EntropyLevel: 0.95, Velocity: 95, VelocitySlope: 0.05, Consistency: 0.9}
	assert.Equal(t, domain.MacroChaos, classifyRaw(sig, DefaultThresholds))
}

func TestClassifyRaw_TrendNeedsSlopeAndConsistency(t *testing.T) {
	sig := Signals{VelocitySlope: 0.03, Consistency: 0.7, EntropyLevel: 0.6, Velocity: 40}
	assert.Equal(t, domain.MacroTrend, classifyRaw(sig, DefaultThresholds))
}

func TestClassifyRaw_LowEntropyIsChop(t *testing.T) {
	sig := Signals{EntropyLevel: 0.30, Velocity: 20}
	assert.Equal(t, domain.MacroChop, classifyRaw(sig, DefaultThresholds))
}
