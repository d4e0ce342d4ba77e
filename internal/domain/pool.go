// Package domain holds the shared value types read and written by every
// decision-core component: pools, snapshots, tiers, and regimes.
package domain

import "time"

// PoolAddress identifies a DLMM pool. Opaque outside this package.
type PoolAddress string

// PoolDescriptor carries the static and slow-changing fields the telemetry
// source returns for a pool.
type PoolDescriptor struct {
	Address   PoolAddress
	Name      string
	MintX     string
	MintY     string
	BinStepBp int // basis points between consecutive bins
	BaseFee   float64
	CreatedAt time.Time

	// Slow-changing metrics, refreshed on a much coarser cadence than Snapshot.
	Volume1h  float64
	Volume4h  float64
	Volume24h float64
	Fees24h   float64
	LiquidityUSD float64
	APR       float64
}

// BlueChipTokens is the set of tokens considered high quality for the
// Bootstrap Scorer's token-quality pillar.
var BlueChipTokens = map[string]bool{
	"SOL":  true,
	"USDC": true,
	"USDT": true,
	"ETH":  true,
	"BTC":  true,
	"WBTC": true,
	"WETH": true,
}

// TokenQuality scores a pool's token pair: 100 if both legs are blue-chip,
// 70 if one is, 40 if neither is.
func TokenQuality(mintX, mintY string) float64 {
	x := BlueChipTokens[mintX]
	y := BlueChipTokens[mintY]
	switch {
	case x && y:
		return 100
	case x || y:
		return 70
	default:
		return 40
	}
}
