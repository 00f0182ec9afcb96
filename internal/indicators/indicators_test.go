package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func barsFromCloses(closes ...float64) []Bar {
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		bars[i] = Bar{Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	return bars
}

func TestTrueRangeUsesPreviousClose(t *testing.T) {
	bar := Bar{High: 102, Low: 99, Close: 100}

	// Bar range dominates when the previous close sits inside it.
	assert.InDelta(t, 3.0, TrueRange(bar, 100), 1e-9)

	// Gap up: distance from previous close to the low wins.
	assert.InDelta(t, 7.0, TrueRange(bar, 92), 1e-9)

	// Gap down: distance from previous close to the high wins.
	assert.InDelta(t, 8.0, TrueRange(bar, 110), 1e-9)
}

func TestATRMatchesWilderSmoothing(t *testing.T) {
	// Closes pinned at 100 so every true range equals the bar range.
	bars := []Bar{
		{High: 101, Low: 99, Close: 100},
		{High: 101, Low: 99, Close: 100}, // TR 2
		{High: 102, Low: 98, Close: 100}, // TR 4
		{High: 103, Low: 97, Close: 100}, // TR 6
	}

	// Period 2: seed (2+4)/2 = 3, then (3*1 + 6)/2 = 4.5.
	assert.InDelta(t, 4.5, ATR(bars, 2), 1e-9)

	assert.Zero(t, ATR(bars[:2], 2), "needs period+1 bars")
	assert.Zero(t, ATR(nil, 14))
	assert.Zero(t, ATR(bars, 0))
}

func TestEfficiencyRatioDirection(t *testing.T) {
	up := barsFromCloses(100, 101, 102, 103, 104, 105)
	assert.InDelta(t, 1.0, EfficiencyRatio(up, 5), 1e-9)

	down := barsFromCloses(105, 104, 103, 102, 101, 100)
	assert.InDelta(t, -1.0, EfficiencyRatio(down, 5), 1e-9)

	flat := barsFromCloses(100, 100, 100, 100, 100, 100)
	assert.Zero(t, EfficiencyRatio(flat, 5))

	// Round trip travels but goes nowhere.
	chop := barsFromCloses(100, 102, 104, 102, 100)
	assert.InDelta(t, 0.0, EfficiencyRatio(chop, 4), 1e-9)

	assert.Zero(t, EfficiencyRatio(up[:3], 5), "needs period+1 bars")
}
