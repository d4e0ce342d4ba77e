// Package universe implements the Adaptive Pool Universe state machine:
// DISCOVERY -> ACTIVE -> PROBATION -> BLOCKED -> deleted, with EXPIRED
// as an orthogonal staleness exit. State lives in an in-memory,
// mutex-guarded map since it is re-derived every cycle from live
// telemetry; internal/persistence mirrors transitions for restart
// recovery.
package universe

import (
	"math"
	"sync"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/events"
	"github.com/rs/zerolog"
)

// PoolState is one pool's universe record.
type PoolState struct {
	Pool              domain.PoolAddress
	Status            domain.UniverseStatus
	DiscoveryScore    float64
	LastActivityTime  time.Time
	EnteredStatusAt   time.Time
	BlockCount        int
}

// statusMultiplier is the priority-score multiplier per status.
func statusMultiplier(s domain.UniverseStatus) float64 {
	switch s {
	case domain.StatusActive:
		return 1.0
	case domain.StatusProbation:
		return 0.5
	case domain.StatusDiscovery:
		return 0.7
	default: // BLOCKED, EXPIRED
		return 0
	}
}

// Manager is the sole owner of the pool universe. All status reads and
// writes go through its methods.
type Manager struct {
	mu    sync.RWMutex
	pools map[domain.PoolAddress]*PoolState

	staleTime     time.Duration
	maxBlockCount int

	eventLog *events.Log
	log      zerolog.Logger
}

// New creates a pool universe manager.
func New(staleTime time.Duration, maxBlockCount int, eventLog *events.Log, log zerolog.Logger) *Manager {
	return &Manager{
		pools:         make(map[domain.PoolAddress]*PoolState),
		staleTime:     staleTime,
		maxBlockCount: maxBlockCount,
		eventLog:      eventLog,
		log:           log.With().Str("component", "universe_manager").Logger(),
	}
}

// Discover registers a pool in DISCOVERY if not already tracked. Already
// tracked pools have their activity timestamp bumped instead.
func (m *Manager) Discover(pool domain.PoolAddress, now time.Time, discoveryScore float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ps, ok := m.pools[pool]; ok {
		ps.LastActivityTime = now
		return
	}

	m.pools[pool] = &PoolState{
		Pool:             pool,
		Status:           domain.StatusDiscovery,
		DiscoveryScore:   discoveryScore,
		LastActivityTime: now,
		EnteredStatusAt:  now,
	}
}

// Touch records fresh activity for pool, e.g. a telemetry snapshot
// arriving this cycle.
func (m *Manager) Touch(pool domain.PoolAddress, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok := m.pools[pool]; ok {
		ps.LastActivityTime = now
	}
}

// Status returns the pool's current universe status and whether it is
// tracked at all.
func (m *Manager) Status(pool domain.PoolAddress) (domain.UniverseStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ps, ok := m.pools[pool]
	if !ok {
		return "", false
	}
	return ps.Status, true
}

// Pools returns every tracked pool address.
func (m *Manager) Pools() []domain.PoolAddress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PoolAddress, 0, len(m.pools))
	for p := range m.pools {
		out = append(out, p)
	}
	return out
}

// Evaluate applies the transition rules for pool given its current
// Sharpe ratio and trade count. Transitions are emitted to the event log.
// Returns the pool's resulting status and whether it was deleted this
// call (BLOCKED with BlockCount reaching maxBlockCount).
func (m *Manager) Evaluate(pool domain.PoolAddress, now time.Time, sharpeValue float64, tradeCount, minTrades int) (domain.UniverseStatus, bool) {
	m.mu.Lock()
	ps, ok := m.pools[pool]
	if !ok {
		m.mu.Unlock()
		return "", false
	}
	from := ps.Status

	switch ps.Status {
	case domain.StatusDiscovery:
		if sharpeValue >= 0.5 && tradeCount >= minTrades {
			m.transition(ps, domain.StatusActive, now)
		}
	case domain.StatusActive:
		if tradeCount >= minTrades && sharpeValue < 0.3 {
			m.transition(ps, domain.StatusProbation, now)
		}
	}

	if sharpeValue < -1.0 {
		if ps.Status != domain.StatusBlocked {
			m.transition(ps, domain.StatusBlocked, now)
		}
		ps.BlockCount++
	}

	if ps.Status != domain.StatusBlocked && now.Sub(ps.LastActivityTime) > m.staleTime {
		m.transition(ps, domain.StatusExpired, now)
	}

	deleted := false
	if ps.Status == domain.StatusBlocked && ps.BlockCount >= m.maxBlockCount {
		delete(m.pools, pool)
		deleted = true
	}

	result := ps.Status
	m.mu.Unlock()

	if from != result && m.eventLog != nil {
		m.eventLog.Append("universe", &events.UniverseTransitionedData{
			Pool: string(pool), From: string(from), To: string(result),
		})
	}

	return result, deleted
}

// transition must be called with mu held.
func (m *Manager) transition(ps *PoolState, to domain.UniverseStatus, now time.Time) {
	ps.Status = to
	ps.EnteredStatusAt = now
}

// PriorityScore is a weighted blend of normalised Sharpe, discovery
// score, and activity recency, scaled by the status multiplier.
func (m *Manager) PriorityScore(pool domain.PoolAddress, now time.Time, sharpeValue float64) float64 {
	m.mu.RLock()
	ps, ok := m.pools[pool]
	m.mu.RUnlock()
	if !ok {
		return 0
	}

	normalizedSharpe := normalizeSharpe(sharpeValue)
	discoveryComponent := math.Min(1, ps.DiscoveryScore/100)
	hoursSinceActivity := now.Sub(ps.LastActivityTime).Hours()
	recency := math.Exp(-hoursSinceActivity / 24)

	score := normalizedSharpe*0.5 + discoveryComponent*0.3 + recency*0.2
	return score * statusMultiplier(ps.Status)
}

// normalizeSharpe maps the practical Sharpe range [-2, 2] onto [0, 1].
func normalizeSharpe(sharpeValue float64) float64 {
	v := (sharpeValue + 2) / 4
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
