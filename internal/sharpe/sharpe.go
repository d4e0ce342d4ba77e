// Package sharpe maintains the Pool Sharpe Memory: a decayed rolling
// Sharpe ratio per pool, fed by closed trades, used by the Adaptive Pool
// Universe and Risk Bucket Engine to gate and size. Built on gonum's
// weighted statistics, with the weights expressing the exponential
// trade-age decay.
package sharpe

import (
	"math"
	"sync"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// ClosedTrade is the record the orchestrator reports when a position
// closes.
type ClosedTrade struct {
	TradeID        string
	Pool           domain.PoolAddress
	EntryTime      time.Time
	ExitTime       time.Time
	SizeUsd        float64
	RealizedPnL    float64
	SlippageImpact float64
	EntryScore     float64
	ExitScore      float64
	RiskAmount     float64
}

// PoolStats is the accumulated per-pool summary.
type PoolStats struct {
	TradeCount      int
	Wins            int
	Losses          int
	AvgPnL          float64
	MaxDrawdown     float64
	AvgRMultiple    float64
	AvgHoldDuration time.Duration
}

type poolState struct {
	stats  PoolStats
	trades []ClosedTrade

	peakEquity    float64
	runningEquity float64
}

// Memory is the sole owner of per-pool Sharpe state. All reads happen
// through its accessor methods; nothing outside this package holds a
// second copy.
type Memory struct {
	mu    sync.RWMutex
	pools map[domain.PoolAddress]*poolState

	windowDays    int
	decayFactor   float64
	riskFreeRate  float64
	minTrades     int
	defaultSharpe float64
}

// New creates a Pool Sharpe Memory.
func New(windowDays int, decayFactor, riskFreeRate float64, minTrades int, defaultSharpe float64) *Memory {
	return &Memory{
		pools:         make(map[domain.PoolAddress]*poolState),
		windowDays:    windowDays,
		decayFactor:   decayFactor,
		riskFreeRate:  riskFreeRate,
		minTrades:     minTrades,
		defaultSharpe: defaultSharpe,
	}
}

// Record updates the pool's running statistics and rolling-window trade
// list from a closed trade.
func (m *Memory) Record(trade ClosedTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.pools[trade.Pool]
	if !ok {
		ps = &poolState{}
		m.pools[trade.Pool] = ps
	}

	ps.trades = append(ps.trades, trade)
	ps.stats.TradeCount++
	if trade.RealizedPnL >= 0 {
		ps.stats.Wins++
	} else {
		ps.stats.Losses++
	}

	n := float64(ps.stats.TradeCount)
	ps.stats.AvgPnL += (trade.RealizedPnL - ps.stats.AvgPnL) / n

	rMultiple := 0.0
	if trade.RiskAmount > 0 {
		rMultiple = trade.RealizedPnL / trade.RiskAmount
	}
	ps.stats.AvgRMultiple += (rMultiple - ps.stats.AvgRMultiple) / n

	hold := trade.ExitTime.Sub(trade.EntryTime)
	ps.stats.AvgHoldDuration += time.Duration((float64(hold) - float64(ps.stats.AvgHoldDuration)) / n)

	ps.runningEquity += trade.RealizedPnL
	if ps.runningEquity > ps.peakEquity {
		ps.peakEquity = ps.runningEquity
	}
	drawdown := ps.peakEquity - ps.runningEquity
	if drawdown > ps.stats.MaxDrawdown {
		ps.stats.MaxDrawdown = drawdown
	}
}

// Stats returns the accumulated summary for pool. The zero value indicates
// no trades have been recorded yet.
func (m *Memory) Stats(pool domain.PoolAddress) PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ps, ok := m.pools[pool]
	if !ok {
		return PoolStats{}
	}
	return ps.stats
}

// Sharpe computes the decayed rolling Sharpe ratio for pool as of now, over
// the configured rolling window. Trades are weighted by
// decayFactor^(age in windows), so older trades within the window still
// count, just less. Returns defaultSharpe if fewer than minTrades trades
// fall inside the window.
func (m *Memory) Sharpe(pool domain.PoolAddress, now time.Time) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ps, ok := m.pools[pool]
	if !ok {
		return m.defaultSharpe
	}

	cutoff := now.AddDate(0, 0, -m.windowDays)
	var returns, weights []float64
	windowDur := time.Duration(m.windowDays) * 24 * time.Hour

	for _, t := range ps.trades {
		if t.ExitTime.Before(cutoff) {
			continue
		}
		ret := 0.0
		if t.SizeUsd > 0 {
			ret = t.RealizedPnL / t.SizeUsd
		}
		age := now.Sub(t.ExitTime)
		ageInWindows := 0.0
		if windowDur > 0 {
			ageInWindows = float64(age) / float64(windowDur)
		}
		weight := math.Pow(m.decayFactor, ageInWindows)

		returns = append(returns, ret)
		weights = append(weights, weight)
	}

	if len(returns) < m.minTrades {
		return m.defaultSharpe
	}

	mean := stat.Mean(returns, weights)
	std := stat.StdDev(returns, weights)
	if std == 0 {
		return m.defaultSharpe
	}

	return (mean - m.riskFreeRate) / std
}

// Multiplier converts a pool's Sharpe into a sizing multiplier and block
// decision: Sharpe < -1.0 blocks the pool outright; < 0.3 reduces to
// 0.5; > 1.5 boosts to 1.25; between, interpolate linearly.
func (m *Memory) Multiplier(pool domain.PoolAddress, now time.Time) (multiplier float64, blocked bool) {
	sharpe := m.Sharpe(pool, now)
	return MultiplierForSharpe(sharpe)
}

// MultiplierForSharpe applies the threshold/interpolation table to an
// already-computed Sharpe value.
func MultiplierForSharpe(sharpe float64) (multiplier float64, blocked bool) {
	switch {
	case sharpe < -1.0:
		return 0, true
	case sharpe <= 0.3:
		// Interpolate between 0.5 (at -1.0) and 0.5 (at 0.3): flat floor.
		return 0.5, false
	case sharpe >= 1.5:
		return 1.25, false
	default:
		// Linear interpolation between (0.3, 0.5) and (1.5, 1.25).
		frac := (sharpe - 0.3) / (1.5 - 0.3)
		return 0.5 + frac*(1.25-0.5), false
	}
}
