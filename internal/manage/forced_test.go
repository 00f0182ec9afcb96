package manage

import (
	"context"
	"testing"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/position"
	"github.com/oyi77/forex-trader-sub001/internal/risk"
)

func forcedConfig() *config.Config {
	return &config.Config{
		ForcedExit: config.ForcedExitConfig{
			MaxHoldHours:        48,
			ScalpMaxHoldHours:   4,
			MaxVaRFraction:      0.10,
			MaxLossFraction:     0.05,
			MaxTailRiskFraction: 0.15,
		},
		Strategies: map[string]config.StrategyConfig{
			"scalper": {Scalping: true},
		},
	}
}

func TestForcedExitMaxHold(t *testing.T) {
	gw := &fakeGateway{}
	rules := NewForcedExitRules(forcedConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)
	ctx := context.Background()

	reason, err := rules.Manage(ctx, rec, snapAt(1.1010, 10, 0, open.Add(47*time.Hour)), risk.PositionRisk{}, 100000)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "" {
		t.Fatalf("closed before the hold limit: %s", reason)
	}

	reason, err = rules.Manage(ctx, rec, snapAt(1.1010, 10, 0, open.Add(49*time.Hour)), risk.PositionRisk{}, 100000)
	if err != nil {
		t.Fatal(err)
	}
	if reason != position.ReasonMaxHold {
		t.Errorf("reason = %s, want %s", reason, position.ReasonMaxHold)
	}
	if len(gw.closes) != 1 || gw.closes[0] != rec.Ticket {
		t.Error("gateway close not requested")
	}
}

func TestForcedExitScalpingHoldsShorter(t *testing.T) {
	gw := &fakeGateway{}
	rules := NewForcedExitRules(forcedConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)
	rec.Strategy = "scalper"

	reason, err := rules.Manage(context.Background(), rec, snapAt(1.1010, 10, 0, open.Add(5*time.Hour)), risk.PositionRisk{}, 100000)
	if err != nil {
		t.Fatal(err)
	}
	if reason != position.ReasonMaxHold {
		t.Errorf("reason = %s, want %s after the 4h scalp limit", reason, position.ReasonMaxHold)
	}
}

func TestForcedExitRiskThresholds(t *testing.T) {
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	snap := snapAt(1.1010, 10, 0, open.Add(time.Hour))

	tests := []struct {
		name string
		pr   risk.PositionRisk
		want position.CloseReason
	}{
		{"var breach", risk.PositionRisk{VaR: 10001}, position.ReasonExcessVaR},
		{"loss breach", risk.PositionRisk{Unrealized: -5001}, position.ReasonExcessLoss},
		{"tail breach", risk.PositionRisk{TailRisk: 15001}, position.ReasonTailRisk},
		{"inside limits", risk.PositionRisk{VaR: 9000, Unrealized: -4000, TailRisk: 14000}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			rules := NewForcedExitRules(forcedConfig(), gw, testLogger(t), nil)
			rec := longPosition(open)

			reason, err := rules.Manage(context.Background(), rec, snap, tt.pr, 100000)
			if err != nil {
				t.Fatal(err)
			}
			if reason != tt.want {
				t.Errorf("reason = %q, want %q", reason, tt.want)
			}
			wantCloses := 1
			if tt.want == "" {
				wantCloses = 0
			}
			if len(gw.closes) != wantCloses {
				t.Errorf("close calls = %d, want %d", len(gw.closes), wantCloses)
			}
		})
	}
}

func TestForcedExitCloseFailureLeavesPosition(t *testing.T) {
	gw := &fakeGateway{failClose: true}
	rules := NewForcedExitRules(forcedConfig(), gw, testLogger(t), nil)
	open := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := longPosition(open)

	reason, err := rules.Manage(context.Background(), rec, snapAt(1.1010, 10, 0, open.Add(49*time.Hour)), risk.PositionRisk{}, 100000)
	if err == nil {
		t.Fatal("expected gateway error")
	}
	if reason != "" {
		t.Errorf("reason = %q, want empty on failure", reason)
	}
}
