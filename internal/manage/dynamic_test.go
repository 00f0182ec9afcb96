package manage

import (
	"context"
	"testing"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/config"
)

func dynamicConfig() *config.Config {
	return &config.Config{
		DynamicStops: config.DynamicStopsConfig{
			MinTimeFactor:            0.5,
			VolatilityTriggerRatio:   0.2,
			CorrelationTightenFactor: 0.85,
			MaxCorrelatedForTighten:  2,
		},
		Strategies: map[string]config.StrategyConfig{
			"momentum": {DecayRatePerH: 0.1},
		},
	}
}

func TestTimeChannelTightensWithAge(t *testing.T) {
	gw := &fakeGateway{}
	adj := NewStopAdjuster(dynamicConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	// 3 hours at 10%/h decay: stop distance 20 -> 14 pips.
	changed, err := adj.Manage(context.Background(), rec, snapAt(1.1010, 10, 0, open.Add(3*time.Hour)), testSpec, 0)
	if err != nil {
		t.Fatalf("manage: %v", err)
	}
	if !changed {
		t.Fatal("time channel did not fire")
	}
	pipsEqual(t, "decayed stop", rec.StopLoss, 1.0986)
	if gw.modifies[0].takeProfit != 0 {
		t.Error("time channel must not touch the take profit")
	}
}

func TestTimeChannelFloorsAtMinFactor(t *testing.T) {
	gw := &fakeGateway{}
	adj := NewStopAdjuster(dynamicConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	// 100 hours would decay to zero; the floor holds at 0.5.
	changed, err := adj.Manage(context.Background(), rec, snapAt(1.1010, 10, 0, open.Add(100*time.Hour)), testSpec, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("time channel did not fire")
	}
	pipsEqual(t, "floored stop", rec.StopLoss, 1.0990)
}

func TestVolatilityChannelRescalesBothLevels(t *testing.T) {
	gw := &fakeGateway{}
	adj := NewStopAdjuster(dynamicConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	// ATR 15 vs 10 at open: ratio 1.5 beats the 0.2 trigger, and the
	// volatility proposal overrides the time channel's.
	changed, err := adj.Manage(context.Background(), rec, snapAt(1.1010, 15, 0, open.Add(3*time.Hour)), testSpec, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("volatility channel did not fire")
	}
	call := gw.modifies[0]
	pipsEqual(t, "rescaled stop", call.stopLoss, 1.0970)
	pipsEqual(t, "rescaled target", call.takeProfit, 1.1060)
	pipsEqual(t, "record stop", rec.StopLoss, 1.0970)
	pipsEqual(t, "record target", rec.TakeProfit, 1.1060)
}

func TestVolatilityChannelQuietInsideBand(t *testing.T) {
	gw := &fakeGateway{}
	adj := NewStopAdjuster(dynamicConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)
	rec.OpenTime = open

	// Ratio 1.1 stays inside the 0.2 band; young position, no decay.
	changed, err := adj.Manage(context.Background(), rec, snapAt(1.1010, 11, 0, open.Add(time.Minute)), testSpec, 0)
	if err != nil {
		t.Fatal(err)
	}
	if changed || len(gw.modifies) != 0 {
		t.Error("adjuster fired with every channel quiet")
	}
}

func TestCorrelationChannelWinsLast(t *testing.T) {
	gw := &fakeGateway{}
	adj := NewStopAdjuster(dynamicConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	// Time and volatility would both fire, but three correlated
	// positions put the correlation channel last in line to win.
	changed, err := adj.Manage(context.Background(), rec, snapAt(1.1010, 15, 0, open.Add(3*time.Hour)), testSpec, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("no channel fired")
	}
	// Gap to stop is 30 pips; tightened to 25.5 behind the price.
	pipsEqual(t, "tightened stop", rec.StopLoss, 1.09845)
	if rec.TakeProfit != 1.1040 {
		t.Error("correlation channel must not touch the take profit")
	}
}

func TestCorrelationChannelNeverLoosens(t *testing.T) {
	gw := &fakeGateway{}
	adj := NewStopAdjuster(dynamicConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)
	rec.StopLoss = 1.1015 // already beyond the current price gap

	changed, err := adj.Manage(context.Background(), rec, snapAt(1.1010, 10, 0, open.Add(time.Minute)), testSpec, 3)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("correlation channel loosened a stop beyond the price")
	}
}

func TestChannelsLeaveStopToTrailing(t *testing.T) {
	gw := &fakeGateway{}
	adj := NewStopAdjuster(dynamicConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)
	rec.TrailingActive = true

	// Volatility fires, but with trailing active only the target moves.
	changed, err := adj.Manage(context.Background(), rec, snapAt(1.1010, 15, 0, open.Add(3*time.Hour)), testSpec, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected a target-only adjustment")
	}
	call := gw.modifies[0]
	if call.stopLoss != 0 {
		t.Errorf("stop proposed while trailing owns it: %.5f", call.stopLoss)
	}
	pipsEqual(t, "rescaled target", call.takeProfit, 1.1060)
	if rec.StopLoss != 1.0980 {
		t.Error("record stop mutated while trailing owns it")
	}
}
