package killswitch

import (
	"testing"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newDetector() *Detector {
	d := New(2*time.Minute, zerolog.Nop())
	d.hostSampler = func() (float64, float64, error) { return 10, 10, nil }
	return d
}

func TestEvaluate_NoTriggerOnHealthyPools(t *testing.T) {
	d := newDetector()
	now := time.Unix(0, 0)

	v := d.Evaluate(CycleInput{Now: now, Readings: []PoolReading{
		{Pool: "a", HealthScore: 1, BinVelocityRaw: 0.1, LiquidityUSD: 1000},
		{Pool: "b", HealthScore: 1, BinVelocityRaw: 0.1, LiquidityUSD: 1000},
	}})
	assert.False(t, v.KillAll)
}

func TestEvaluate_MultiCollapseTriggers(t *testing.T) {
	d := newDetector()
	now := time.Unix(0, 0)

	pools := []domain.PoolAddress{"a", "b", "c"}
	var readings []PoolReading
	for _, p := range pools {
		readings = append(readings, PoolReading{Pool: p, HealthScore: 1})
	}
	d.Evaluate(CycleInput{Now: now, Readings: readings})

	now = now.Add(10 * time.Second)
	var degraded []PoolReading
	for _, p := range pools {
		degraded = append(degraded, PoolReading{Pool: p, HealthScore: 0.2})
	}
	v := d.Evaluate(CycleInput{Now: now, Readings: degraded})

	assert.True(t, v.KillAll)
	assert.Equal(t, ReasonMultiCollapse, v.Reason)
}

func TestEvaluate_CoordinatedWhaleTriggers(t *testing.T) {
	d := newDetector()
	now := time.Unix(0, 0)

	v := d.Evaluate(CycleInput{Now: now, Readings: []PoolReading{
		{Pool: "a", HealthScore: 1, BinVelocityRaw: 5.0, LiquidityUSD: 1000},
		{Pool: "b", HealthScore: 1, BinVelocityRaw: 4.5, LiquidityUSD: 1000},
	}})
	assert.True(t, v.KillAll)
	assert.Equal(t, ReasonCoordinatedWhale, v.Reason)
}

func TestEvaluate_LiquidityExodusTriggers(t *testing.T) {
	d := newDetector()
	now := time.Unix(0, 0)

	d.Evaluate(CycleInput{Now: now, Readings: []PoolReading{
		{Pool: "a", HealthScore: 1, LiquidityUSD: 1000},
		{Pool: "b", HealthScore: 1, LiquidityUSD: 1000},
	}})

	now = now.Add(time.Minute)
	v := d.Evaluate(CycleInput{Now: now, Readings: []PoolReading{
		{Pool: "a", HealthScore: 1, LiquidityUSD: 600},
		{Pool: "b", HealthScore: 1, LiquidityUSD: 650},
	}})

	assert.True(t, v.KillAll)
	assert.Equal(t, ReasonLiquidityExodus, v.Reason)
}

func TestEvaluate_TelemetryUnreliableTriggers(t *testing.T) {
	d := newDetector()
	now := time.Unix(0, 0)

	v := d.Evaluate(CycleInput{Now: now, Readings: []PoolReading{
		{Pool: "a", SnapshotMissing: true},
		{Pool: "b", SnapshotMissing: true},
		{Pool: "c", SnapshotMissing: false},
	}})

	assert.True(t, v.KillAll)
	assert.Equal(t, ReasonTelemetryUnreliable, v.Reason)
}

func TestEvaluate_TelemetryUnreliableOnHostSaturation(t *testing.T) {
	d := newDetector()
	d.hostSampler = func() (float64, float64, error) { return 99, 20, nil }
	now := time.Unix(0, 0)

	v := d.Evaluate(CycleInput{Now: now})
	assert.True(t, v.KillAll)
	assert.Equal(t, ReasonTelemetryUnreliable, v.Reason)
}

func TestInCooldown_ActiveAfterTrigger(t *testing.T) {
	d := newDetector()
	now := time.Unix(0, 0)

	d.Evaluate(CycleInput{Now: now, Readings: []PoolReading{
		{Pool: "a", HealthScore: 1, BinVelocityRaw: 5.0},
		{Pool: "b", HealthScore: 1, BinVelocityRaw: 5.0},
	}})

	assert.True(t, d.InCooldown(now.Add(time.Second)))
	assert.False(t, d.InCooldown(now.Add(3*time.Minute)))
}
