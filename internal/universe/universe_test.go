package universe

import (
	"testing"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return New(24*time.Hour, 3, events.NewLog(10, zerolog.Nop()), zerolog.Nop())
}

func TestDiscover_StartsInDiscoveryStatus(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Discover("pool", now, 80)

	status, ok := m.Status("pool")
	require.True(t, ok)
	assert.Equal(t, domain.StatusDiscovery, status)
}

func TestEvaluate_DiscoveryPromotesToActive(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Discover("pool", now, 80)

	status, deleted := m.Evaluate("pool", now, 0.6, 5, 3)
	assert.False(t, deleted)
	assert.Equal(t, domain.StatusActive, status)
}

func TestEvaluate_ActiveDemotesToProbationOnLowSharpe(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Discover("pool", now, 80)
	m.Evaluate("pool", now, 0.6, 5, 3)

	status, _ := m.Evaluate("pool", now, 0.1, 5, 3)
	assert.Equal(t, domain.StatusProbation, status)
}

func TestEvaluate_AnyStatusBlocksOnVeryNegativeSharpe(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Discover("pool", now, 80)

	status, deleted := m.Evaluate("pool", now, -1.5, 5, 3)
	assert.False(t, deleted)
	assert.Equal(t, domain.StatusBlocked, status)
}

func TestEvaluate_BlockedPoolIsDeletedAfterMaxBlockCount(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Discover("pool", now, 80)

	m.Evaluate("pool", now, -1.5, 5, 3)
	m.Evaluate("pool", now, -1.5, 5, 3)
	_, deleted := m.Evaluate("pool", now, -1.5, 5, 3)

	assert.True(t, deleted)
	_, ok := m.Status("pool")
	assert.False(t, ok)
}

func TestEvaluate_StalePoolExpires(t *testing.T) {
	m := newTestManager()
	past := time.Now().Add(-48 * time.Hour)
	m.Discover("pool", past, 80)

	status, _ := m.Evaluate("pool", past.Add(48*time.Hour), 0.4, 1, 3)
	assert.Equal(t, domain.StatusExpired, status)
}

func TestEvaluate_TouchedPoolDoesNotExpire(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Discover("pool", now, 80)
	m.Touch("pool", now.Add(47*time.Hour))

	status, _ := m.Evaluate("pool", now.Add(48*time.Hour), 0.4, 1, 3)
	assert.NotEqual(t, domain.StatusExpired, status)
}

func TestPriorityScore_BlockedPoolScoresZero(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Discover("pool", now, 80)
	m.Evaluate("pool", now, -1.5, 5, 3)

	assert.Equal(t, 0.0, m.PriorityScore("pool", now, -1.5))
}

func TestPriorityScore_HigherSharpeScoresHigher(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.Discover("poolA", now, 50)
	m.Discover("poolB", now, 50)
	m.Evaluate("poolA", now, 1.5, 5, 3)
	m.Evaluate("poolB", now, 1.5, 5, 3)

	low := m.PriorityScore("poolA", now, -1.0)
	high := m.PriorityScore("poolB", now, 1.5)
	assert.Greater(t, high, low)
}
