// Package indicators holds the handful of candle calculations the
// gateways derive snapshot inputs from. Everything operates on plain
// chronological bars, so callers convert their own kline types once
// and keep venue details out of the math.
package indicators

import "math"

// Bar is one OHLC candle. Slice arguments are oldest-first.
type Bar struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// TrueRange is the bar range extended to cover gaps against the
// previous close.
func TrueRange(b Bar, prevClose float64) float64 {
	r := b.High - b.Low
	if d := math.Abs(b.High - prevClose); d > r {
		r = d
	}
	if d := math.Abs(b.Low - prevClose); d > r {
		r = d
	}
	return r
}

// ATR computes a Wilder-smoothed average true range over chronological
// bars. Returns 0 when there is not enough history.
func ATR(bars []Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trs = append(trs, TrueRange(bars[i], bars[i-1].Close))
	}

	atr := 0.0
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// EfficiencyRatio returns the signed efficiency of the last period
// bars: +1 for a straight advance, -1 for a straight decline, near 0
// for chop.
func EfficiencyRatio(bars []Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	window := bars[len(bars)-period-1:]
	var travelled float64
	for i := 1; i < len(window); i++ {
		travelled += math.Abs(window[i].Close - window[i-1].Close)
	}
	if travelled == 0 {
		return 0
	}
	return (window[len(window)-1].Close - window[0].Close) / travelled
}
