package safety

import (
	"math"
	"testing"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
)

func goodSnapshot() broker.MarketSnapshot {
	return broker.MarketSnapshot{
		Symbol:   "EURUSD",
		Bid:      1.0999,
		Ask:      1.1001,
		ATRPips:  12,
		Momentum: 0.4,
		Time:     time.Now(),
	}
}

func TestCheckSnapshot(t *testing.T) {
	if err := CheckSnapshot(goodSnapshot()); err != nil {
		t.Fatalf("clean snapshot rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*broker.MarketSnapshot)
	}{
		{"no symbol", func(s *broker.MarketSnapshot) { s.Symbol = "" }},
		{"zero bid", func(s *broker.MarketSnapshot) { s.Bid = 0 }},
		{"negative ask", func(s *broker.MarketSnapshot) { s.Ask = -1 }},
		{"nan bid", func(s *broker.MarketSnapshot) { s.Bid = math.NaN() }},
		{"inf ask", func(s *broker.MarketSnapshot) { s.Ask = math.Inf(1) }},
		{"crossed quote", func(s *broker.MarketSnapshot) { s.Ask = s.Bid - 0.001 }},
		{"negative atr", func(s *broker.MarketSnapshot) { s.ATRPips = -3 }},
		{"nan momentum", func(s *broker.MarketSnapshot) { s.Momentum = math.NaN() }},
	}
	for _, tc := range cases {
		snap := goodSnapshot()
		tc.mutate(&snap)
		if err := CheckSnapshot(snap); err == nil {
			t.Errorf("%s: expected rejection", tc.name)
		}
	}
}

func TestCheckOpenRequest(t *testing.T) {
	if err := CheckOpenRequest(validOpen()); err != nil {
		t.Fatalf("clean request rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*broker.OpenRequest)
	}{
		{"no symbol", func(r *broker.OpenRequest) { r.Symbol = "" }},
		{"no side", func(r *broker.OpenRequest) { r.Side = broker.SideAny }},
		{"bad side", func(r *broker.OpenRequest) { r.Side = "sideways" }},
		{"zero volume", func(r *broker.OpenRequest) { r.Volume = 0 }},
		{"nan volume", func(r *broker.OpenRequest) { r.Volume = math.NaN() }},
		{"negative stop", func(r *broker.OpenRequest) { r.StopLoss = -1 }},
		{"inf target", func(r *broker.OpenRequest) { r.TakeProfit = math.Inf(1) }},
	}
	for _, tc := range cases {
		req := validOpen()
		tc.mutate(&req)
		err := CheckOpenRequest(req)
		if err == nil {
			t.Errorf("%s: expected rejection", tc.name)
			continue
		}
		if gwErr, ok := err.(*broker.GatewayError); !ok || gwErr.IsRetryable {
			t.Errorf("%s: rejection should be a non-retryable gateway error, got %v", tc.name, err)
		}
	}
}

func TestCheckLevels(t *testing.T) {
	cases := []struct {
		name          string
		side          broker.Side
		price, sl, tp float64
		wantErr       bool
	}{
		{"long ok", broker.SideLong, 1.1000, 1.0980, 1.1040, false},
		{"long stop above price", broker.SideLong, 1.1000, 1.1010, 1.1040, true},
		{"long target below price", broker.SideLong, 1.1000, 1.0980, 1.0990, true},
		{"short ok", broker.SideShort, 1.1000, 1.1020, 1.0960, false},
		{"short stop below price", broker.SideShort, 1.1000, 1.0990, 1.0960, true},
		{"short target above price", broker.SideShort, 1.1000, 1.1020, 1.1010, true},
		{"zero levels skipped", broker.SideLong, 1.1000, 0, 0, false},
	}
	for _, tc := range cases {
		err := CheckLevels(tc.side, tc.price, tc.sl, tc.tp)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}
