package risk

import (
	"math"
	"testing"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/position"
)

func riskTestConfig() *config.Config {
	return &config.Config{
		Symbols: map[string]config.SymbolSpec{
			"EURUSD": {
				PipSize: 0.0001, PipValuePerLot: 10, NotionalPerLot: 100000,
				MarginPerLot: 2000, MinLot: 0.01, MaxLot: 50, LotStep: 0.01,
				BaselineVolPips: 10, Base: "EUR", Quote: "USD",
			},
			"GBPUSD": {
				PipSize: 0.0001, PipValuePerLot: 10, NotionalPerLot: 100000,
				MarginPerLot: 2000, MinLot: 0.01, MaxLot: 50, LotStep: 0.01,
				BaselineVolPips: 12, Base: "GBP", Quote: "USD",
			},
			"USDJPY": {
				PipSize: 0.01, PipValuePerLot: 9, NotionalPerLot: 100000,
				MarginPerLot: 2000, MinLot: 0.01, MaxLot: 50, LotStep: 0.01,
				BaselineVolPips: 9, Base: "USD", Quote: "JPY",
			},
			"XAUEUR": {
				PipSize: 0.1, PipValuePerLot: 10, NotionalPerLot: 100000,
				MarginPerLot: 5000, MinLot: 0.01, MaxLot: 10, LotStep: 0.01,
				BaselineVolPips: 30, Base: "XAU", Quote: "EUR",
			},
		},
	}
}

func longRecord(ticket, symbol string, volume float64) *position.Record {
	return &position.Record{
		Ticket:     broker.Ticket(ticket),
		Symbol:     symbol,
		Side:       broker.SideLong,
		EntryPrice: 1.1000,
		Volume:     volume,
		LastPrice:  1.1000,
		OpenTime:   time.Now(),
	}
}

func TestComputeExposureAndVaR(t *testing.T) {
	agg := NewAggregator(riskTestConfig())
	open := []*position.Record{
		longRecord("a", "EURUSD", 1.0),
		longRecord("b", "GBPUSD", 2.0),
	}
	markets := map[string]broker.MarketSnapshot{
		"EURUSD": {Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1001, ATRPips: 10},
		"GBPUSD": {Symbol: "GBPUSD", Bid: 1.0999, Ask: 1.1001, ATRPips: 10},
	}

	totals := agg.Compute(open, markets)

	if totals.OpenPositions != 2 {
		t.Errorf("open positions = %d, want 2", totals.OpenPositions)
	}
	if totals.TotalExposure != 300000 {
		t.Errorf("total exposure = %v, want 300000", totals.TotalExposure)
	}

	// Per-position sigma = notional * (10 pips / 1.10): VaR scales by
	// 1.65 and the portfolio combines by sqrt of sum of squares.
	varA := 100000 * (10 * 0.0001 / 1.1) * 1.65
	varB := 200000 * (10 * 0.0001 / 1.1) * 1.65
	wantVaR := math.Sqrt(varA*varA + varB*varB)
	if math.Abs(totals.TotalVaR-wantVaR) > 1e-6 {
		t.Errorf("total VaR = %v, want %v", totals.TotalVaR, wantVaR)
	}
	if math.Abs(totals.ExpectedShortfall-wantVaR*2.06/1.65) > 1e-6 {
		t.Errorf("expected shortfall = %v", totals.ExpectedShortfall)
	}
	if math.Abs(totals.TailRisk-wantVaR*3.0/1.65) > 1e-6 {
		t.Errorf("tail risk = %v", totals.TailRisk)
	}

	if pr, ok := totals.ByTicket["a"]; !ok || math.Abs(pr.VaR-varA) > 1e-6 {
		t.Errorf("per-position VaR for a = %+v, want %v", pr, varA)
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	agg := NewAggregator(riskTestConfig())
	open := []*position.Record{
		longRecord("a", "EURUSD", 1.5),
		longRecord("b", "USDJPY", 0.7),
	}
	markets := map[string]broker.MarketSnapshot{
		"EURUSD": {Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1001, ATRPips: 12},
		"USDJPY": {Symbol: "USDJPY", Bid: 155.00, Ask: 155.02, ATRPips: 20},
	}

	first := agg.Compute(open, markets)
	second := agg.Compute(open, markets)

	if first.TotalExposure != second.TotalExposure ||
		first.TotalVaR != second.TotalVaR ||
		first.UnrealizedPnL != second.UnrealizedPnL {
		t.Errorf("recomputation drifted: %+v vs %+v", first, second)
	}
}

func TestComputeSkipsVaRWithoutVolatility(t *testing.T) {
	agg := NewAggregator(riskTestConfig())
	open := []*position.Record{longRecord("a", "EURUSD", 1.0)}

	totals := agg.Compute(open, map[string]broker.MarketSnapshot{})

	if totals.TotalExposure != 100000 {
		t.Errorf("exposure = %v, want 100000", totals.TotalExposure)
	}
	if totals.TotalVaR != 0 {
		t.Errorf("VaR without market data = %v, want 0", totals.TotalVaR)
	}
	if pr := totals.ByTicket["a"]; pr.VaR != 0 {
		t.Errorf("per-position VaR = %v, want 0", pr.VaR)
	}
}

func TestProjectVaRCombinesInQuadrature(t *testing.T) {
	agg := NewAggregator(riskTestConfig())
	snap := broker.MarketSnapshot{Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1001, ATRPips: 10}
	current := Totals{TotalVaR: 300}

	projected := agg.ProjectVaR(current, "EURUSD", 1.0, snap)
	posVaR := 100000 * (10 * 0.0001 / 1.1) * 1.65
	want := math.Sqrt(300*300 + posVaR*posVaR)
	if math.Abs(projected-want) > 1e-6 {
		t.Errorf("projected VaR = %v, want %v", projected, want)
	}

	// Unusable snapshot leaves the projection at the current level.
	flat := agg.ProjectVaR(current, "EURUSD", 1.0, broker.MarketSnapshot{})
	if flat != 300 {
		t.Errorf("projection without ATR = %v, want 300", flat)
	}
}

func TestCorrelationRules(t *testing.T) {
	cfg := riskTestConfig()
	cfg.Risk.CorrelatedPairs = []config.CorrelatedPair{{A: "XAUEUR", B: "USDJPY"}}

	tests := []struct {
		a, b string
		want bool
	}{
		{"EURUSD", "EURUSD", true},  // same symbol
		{"EURUSD", "GBPUSD", true},  // shared USD leg
		{"EURUSD", "USDJPY", true},  // EURUSD quote meets USDJPY base
		{"EURUSD", "XAUEUR", true},  // shared EUR leg
		{"GBPUSD", "XAUEUR", false}, // disjoint legs
		{"XAUEUR", "USDJPY", true},  // configured pair
	}
	for _, tt := range tests {
		if got := Correlated(tt.a, tt.b, cfg); got != tt.want {
			t.Errorf("Correlated(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}

	open := []*position.Record{
		longRecord("a", "EURUSD", 1),
		longRecord("b", "GBPUSD", 1),
		longRecord("c", "XAUEUR", 1),
	}
	if n := CountCorrelated("EURUSD", broker.SideLong, open, cfg); n != 3 {
		t.Errorf("long correlated count = %d, want 3", n)
	}
	if n := CountCorrelated("EURUSD", broker.SideShort, open, cfg); n != 0 {
		t.Errorf("short correlated count = %d, want 0", n)
	}
	if n := CountCorrelated("EURUSD", broker.SideAny, open, cfg); n != 3 {
		t.Errorf("any-side correlated count = %d, want 3", n)
	}
}
