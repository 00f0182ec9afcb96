package risk

import (
	"testing"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/config"
)

func conservativeRisk() config.RiskConfig {
	return config.RiskConfig{
		Profile:                  config.ProfileConservative,
		InitialBalance:           100000,
		MaxDrawdown:              0.20,
		DailyLossLimit:           0.05,
		MaxConsecutiveLosses:     5,
		CatastrophicLossFraction: 0.80,
		MaxPositions:             10,
		MaxPerStrategy:           3,
		MaxExposureMultiple:      10,
		MaxPortfolioVaRFraction:  0.10,
		MaxCorrelatedPositions:   3,
	}
}

func TestDrawdownLatchesEmergencyStop(t *testing.T) {
	g := NewGate(conservativeRisk())
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if g.Evaluate(now, 100000, 100000) {
		t.Fatal("gate tripped at peak equity")
	}
	// 22% below peak against a 20% limit.
	if !g.Evaluate(now.Add(time.Minute), 78000, 78000) {
		t.Fatal("gate did not trip at 22%% drawdown")
	}
	if g.State() != StateEmergencyStopped {
		t.Fatalf("state = %v, want EMERGENCY_STOPPED", g.State())
	}

	// Recovered equity must not clear the latch.
	g.Evaluate(now.Add(2*time.Minute), 99000, 99000)
	if g.State() != StateEmergencyStopped {
		t.Error("gate unlatched without an operator reset")
	}
	adm := g.Admit(AdmissionRequest{Strategy: "momentum", Equity: 99000})
	if adm.Allowed {
		t.Error("admission allowed while emergency stopped")
	}

	if !g.Reset() {
		t.Error("reset on a latched gate should report a change")
	}
	if g.State() != StateNormal {
		t.Error("state after reset should be NORMAL")
	}
	if g.Reset() {
		t.Error("reset on a normal gate should report no change")
	}
}

func TestDailyLossWindowRollsAtMidnight(t *testing.T) {
	g := NewGate(conservativeRisk())
	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	g.Evaluate(day1, 100000, 100000)
	g.RecordTradeClose(-4000)
	if g.Evaluate(day1.Add(time.Hour), 96000, 96000) {
		t.Fatal("tripped below the 5% daily limit")
	}

	// Next UTC day: the window resets and anchors on the new balance.
	day2 := day1.Add(24 * time.Hour)
	g.Evaluate(day2, 96000, 96000)
	realized, anchor := g.DailyRealized()
	if realized != 0 {
		t.Errorf("daily realized after rollover = %v, want 0", realized)
	}
	if anchor != 96000 {
		t.Errorf("start of day balance = %v, want 96000", anchor)
	}

	g.RecordTradeClose(-4800) // exactly 5% of 96000
	if !g.Evaluate(day2.Add(time.Hour), 91200, 91200) {
		t.Error("gate did not trip at the daily loss limit")
	}
}

func TestConsecutiveLossStreakTrips(t *testing.T) {
	g := NewGate(conservativeRisk())
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	g.Evaluate(now, 100000, 100000)

	for i := 0; i < 4; i++ {
		g.RecordTradeClose(-10)
	}
	if g.Evaluate(now.Add(time.Minute), 99960, 99960) {
		t.Fatal("tripped below the streak limit")
	}

	g.RecordTradeClose(50)
	if g.ConsecutiveLosses() != 0 {
		t.Error("win did not reset the streak")
	}

	for i := 0; i < 5; i++ {
		g.RecordTradeClose(-10)
	}
	if !g.Evaluate(now.Add(2*time.Minute), 99960, 99960) {
		t.Error("gate did not trip at 5 consecutive losses")
	}
}

func TestExtremeProfileUsesCatastrophicFloor(t *testing.T) {
	cfg := conservativeRisk()
	cfg.Profile = config.ProfileExtreme
	cfg.MaxDrawdown = 0.99
	cfg.DailyLossLimit = 0.99
	cfg.CatastrophicLossFraction = 0.95
	g := NewGate(cfg)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// A streak that would kill the conservative profile.
	for i := 0; i < 20; i++ {
		g.RecordTradeClose(-10)
	}
	if g.Evaluate(now, 95000, 95000) {
		t.Fatal("extreme profile tripped on a losing streak")
	}

	// Equity at 5% of initial balance hits the catastrophic floor.
	if !g.Evaluate(now.Add(time.Minute), 5000, 5000) {
		t.Error("extreme profile did not trip at the catastrophic floor")
	}
}

func TestAdmissionLimits(t *testing.T) {
	g := NewGate(conservativeRisk())
	ok := AdmissionRequest{
		Symbol:            "EURUSD",
		Strategy:          "momentum",
		Volume:            1,
		Equity:            100000,
		OpenPositions:     2,
		StrategyPositions: 1,
		ProjectedExposure: 300000,
		ProjectedVaR:      4000,
	}
	if adm := g.Admit(ok); !adm.Allowed {
		t.Fatalf("baseline request rejected: %s", adm.Reason)
	}

	tests := []struct {
		name   string
		mutate func(*AdmissionRequest)
	}{
		{"position count", func(r *AdmissionRequest) { r.OpenPositions = 10 }},
		{"strategy count", func(r *AdmissionRequest) { r.StrategyPositions = 3 }},
		{"exposure", func(r *AdmissionRequest) { r.ProjectedExposure = 1000001 }},
		{"portfolio var", func(r *AdmissionRequest) { r.ProjectedVaR = 10001 }},
		{"correlation", func(r *AdmissionRequest) { r.CorrelatedSameDirection = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ok
			tt.mutate(&req)
			adm := g.Admit(req)
			if adm.Allowed {
				t.Error("expected rejection")
			}
			if adm.Reason == "" {
				t.Error("rejection should name its limit")
			}
		})
	}
}

func TestGateExportRestoreKeepsLatch(t *testing.T) {
	g := NewGate(conservativeRisk())
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	g.Evaluate(now, 100000, 100000)
	g.Evaluate(now.Add(time.Minute), 70000, 70000)
	if g.State() != StateEmergencyStopped {
		t.Fatal("setup: gate should be latched")
	}

	snap := g.Export()
	restored := NewGate(conservativeRisk())
	restored.Restore(snap)

	if restored.State() != StateEmergencyStopped {
		t.Error("latch lost across export/restore")
	}
	if restored.TripReason() == "" {
		t.Error("trip reason lost across export/restore")
	}
	if adm := restored.Admit(AdmissionRequest{Equity: 100000}); adm.Allowed {
		t.Error("restored gate admitted a trade while latched")
	}
}
