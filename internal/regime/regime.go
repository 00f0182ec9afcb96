// Package regime labels market conditions from two inputs every feed
// already produces: a signed momentum in [-1, 1] and the ratio of
// current volatility to the symbol baseline. The label feeds the
// regime sizing table and the status surfaces; it is a coarse bucket,
// not a prediction.
package regime

import "math"

// The four labels attached to market snapshots.
const (
	Trending = "trending"
	Ranging  = "ranging"
	Volatile = "volatile"
	Quiet    = "quiet"
)

// Classification thresholds. Extreme volatility wins over trend
// because the stop machinery must widen before it tightens.
const (
	trendMomentum = 0.60
	volatileRatio = 1.75
	quietRatio    = 0.50
)

// Classify labels the market from momentum and the volatility ratio.
func Classify(momentum, volRatio float64) string {
	switch {
	case volRatio >= volatileRatio:
		return Volatile
	case math.Abs(momentum) >= trendMomentum:
		return Trending
	case volRatio > 0 && volRatio <= quietRatio:
		return Quiet
	default:
		return Ranging
	}
}

// VolRatio relates current ATR to the symbol's baseline volatility,
// both in pips. Missing inputs resolve to 1.0 so an incomplete feed
// classifies as ranging rather than quiet.
func VolRatio(atrPips, baselinePips float64) float64 {
	if atrPips <= 0 || baselinePips <= 0 {
		return 1.0
	}
	return atrPips / baselinePips
}
