package manage

import (
	"context"
	"testing"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/events"
)

func trailingConfig() config.TrailingConfig {
	return config.TrailingConfig{
		ActivationPips:       15,
		BaseMultiplier:       2.0,
		MinStepPips:          1,
		StrongTrendThreshold: 0.7,
		StrongTrendFactor:    0.8,
	}
}

func TestTrailingWaitsForActivation(t *testing.T) {
	gw := &fakeGateway{}
	eng := NewTrailingEngine(trailingConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	// +10 pips is below the 15 pip activation distance.
	changed, err := eng.Manage(context.Background(), rec, snapAt(1.1010, 10, 0, open.Add(time.Minute)), testSpec)
	if err != nil {
		t.Fatalf("manage: %v", err)
	}
	if changed || rec.TrailingActive {
		t.Error("trailing activated below the activation distance")
	}
	if len(gw.modifies) != 0 {
		t.Error("gateway called before activation")
	}
}

func TestTrailingActivatesAndSetsFirstStop(t *testing.T) {
	gw := &fakeGateway{}
	sink := events.NewChannelSink(8)
	eng := NewTrailingEngine(trailingConfig(), gw, testLogger(t), sink)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	// +30 pips, ATR 10 at baseline: trail = 10 * 2.0 = 20 pips.
	changed, err := eng.Manage(context.Background(), rec, snapAt(1.1030, 10, 0, open.Add(time.Hour)), testSpec)
	if err != nil {
		t.Fatalf("manage: %v", err)
	}
	if !changed || !rec.TrailingActive {
		t.Fatal("trailing did not activate and move the stop")
	}
	if len(gw.modifies) != 1 {
		t.Fatalf("modify calls = %d, want 1", len(gw.modifies))
	}
	pipsEqual(t, "trailing stop", gw.modifies[0].stopLoss, 1.1010)
	if gw.modifies[0].takeProfit != 0 {
		t.Error("trailing must leave the take profit alone")
	}
	pipsEqual(t, "record stop", rec.StopLoss, 1.1010)

	types := map[events.Type]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-sink.Events():
			types[e.Type] = true
		default:
		}
	}
	if !types[events.TypeTrailingActivated] || !types[events.TypeStopModified] {
		t.Errorf("expected activation and stop events, got %v", types)
	}
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	gw := &fakeGateway{}
	eng := NewTrailingEngine(trailingConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	ctx := context.Background()
	if _, err := eng.Manage(ctx, rec, snapAt(1.1030, 10, 0, open.Add(time.Hour)), testSpec); err != nil {
		t.Fatal(err)
	}
	stop := rec.StopLoss

	// Price retreats; the candidate would sit below the current stop.
	changed, err := eng.Manage(ctx, rec, snapAt(1.1017, 10, 0, open.Add(2*time.Hour)), testSpec)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("stop moved on a price retreat")
	}
	if rec.StopLoss != stop {
		t.Errorf("stop loosened from %.5f to %.5f", stop, rec.StopLoss)
	}

	// Same price again: candidate equals the current stop, below the
	// minimum step.
	changed, _ = eng.Manage(ctx, rec, snapAt(1.1030, 10, 0, open.Add(3*time.Hour)), testSpec)
	if changed {
		t.Error("stop re-modified without improvement")
	}
	if len(gw.modifies) != 1 {
		t.Errorf("modify calls = %d, want 1", len(gw.modifies))
	}
}

func TestTrailingTightensInStrongTrend(t *testing.T) {
	gw := &fakeGateway{}
	eng := NewTrailingEngine(trailingConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	// Momentum 0.8 with the trend: trail shrinks to 20 * 0.8 = 16 pips.
	changed, err := eng.Manage(context.Background(), rec, snapAt(1.1030, 10, 0.8, open.Add(time.Hour)), testSpec)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected a stop move")
	}
	pipsEqual(t, "accelerated stop", rec.StopLoss, 1.1014)

	// Momentum magnitude is what counts: the same reading tightens a
	// short's trail just as much.
	short := longPosition(open)
	short.Side = "short"
	short.EntryPrice = 1.1060
	short.StopLoss = 1.1080
	gw2 := &fakeGateway{}
	eng2 := NewTrailingEngine(trailingConfig(), gw2, testLogger(t), nil)
	if _, err := eng2.Manage(context.Background(), short, snapAt(1.1030, 10, 0.8, open.Add(time.Hour)), testSpec); err != nil {
		t.Fatal(err)
	}
	if len(gw2.modifies) == 1 {
		pipsEqual(t, "short stop", gw2.modifies[0].stopLoss, 1.1046)
	} else {
		t.Fatalf("modify calls = %d, want 1", len(gw2.modifies))
	}
}

func TestTrailingTightensOnStrongAdverseMomentum(t *testing.T) {
	gw := &fakeGateway{}
	eng := NewTrailingEngine(trailingConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	// Long at +30 pips while momentum reads -0.9: the move is turning
	// against the position, so the trail shrinks to 20 * 0.8 = 16 pips
	// instead of staying at 20.
	changed, err := eng.Manage(context.Background(), rec, snapAt(1.1030, 10, -0.9, open.Add(time.Hour)), testSpec)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected a stop move")
	}
	pipsEqual(t, "tightened stop", rec.StopLoss, 1.1014)

	// Momentum below the threshold in magnitude keeps the full trail.
	gw2 := &fakeGateway{}
	eng2 := NewTrailingEngine(trailingConfig(), gw2, testLogger(t), nil)
	rec2 := longPosition(open)
	if _, err := eng2.Manage(context.Background(), rec2, snapAt(1.1030, 10, -0.5, open.Add(time.Hour)), testSpec); err != nil {
		t.Fatal(err)
	}
	pipsEqual(t, "full trail stop", rec2.StopLoss, 1.1010)
}

func TestTrailingKeepsRecordOnGatewayFailure(t *testing.T) {
	gw := &fakeGateway{failModify: true}
	eng := NewTrailingEngine(trailingConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	changed, err := eng.Manage(context.Background(), rec, snapAt(1.1030, 10, 0, open.Add(time.Hour)), testSpec)
	if err == nil {
		t.Fatal("expected gateway error")
	}
	if changed {
		t.Error("reported a change despite the failure")
	}
	if rec.StopLoss != 1.0980 {
		t.Errorf("stop mutated to %.5f on a failed modify", rec.StopLoss)
	}
	// Activation itself is local state and may stand; the stop must not.
}
