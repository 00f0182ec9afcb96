package manage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/logger"
	"github.com/oyi77/forex-trader-sub001/internal/position"
)

type modifyCall struct {
	ticket     broker.Ticket
	stopLoss   float64
	takeProfit float64
}

type partialCall struct {
	ticket broker.Ticket
	volume float64
}

// fakeGateway records calls and can be told to fail them.
type fakeGateway struct {
	modifies    []modifyCall
	partials    []partialCall
	closes      []broker.Ticket
	failModify  bool
	failPartial bool
	failClose   bool
}

func (g *fakeGateway) Open(ctx context.Context, req broker.OpenRequest) (broker.Ticket, error) {
	return "fake", nil
}

func (g *fakeGateway) Modify(ctx context.Context, ticket broker.Ticket, sl, tp float64) error {
	if g.failModify {
		return broker.NewGatewayError("MODIFY_FAILED", "modify rejected", true)
	}
	g.modifies = append(g.modifies, modifyCall{ticket, sl, tp})
	return nil
}

func (g *fakeGateway) PartialClose(ctx context.Context, ticket broker.Ticket, volume float64) error {
	if g.failPartial {
		return broker.NewGatewayError("PARTIAL_FAILED", "partial close rejected", true)
	}
	g.partials = append(g.partials, partialCall{ticket, volume})
	return nil
}

func (g *fakeGateway) Close(ctx context.Context, ticket broker.Ticket) error {
	if g.failClose {
		return broker.NewGatewayError("CLOSE_FAILED", "close rejected", true)
	}
	g.closes = append(g.closes, ticket)
	return nil
}

func (g *fakeGateway) Status(ctx context.Context, ticket broker.Ticket) (broker.PositionStatus, error) {
	return broker.PositionStatus{Ticket: ticket, Open: true}, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.NewAt(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("test logger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

var testSpec = config.SymbolSpec{
	PipSize:         0.0001,
	PipValuePerLot:  10,
	NotionalPerLot:  100000,
	MarginPerLot:    2000,
	MinLot:          0.01,
	MaxLot:          50,
	LotStep:         0.01,
	BaselineVolPips: 10,
	Base:            "EUR",
	Quote:           "USD",
}

func snapAt(mid, atrPips, momentum float64, at time.Time) broker.MarketSnapshot {
	return broker.MarketSnapshot{
		Symbol:   "EURUSD",
		Bid:      mid - 0.00005,
		Ask:      mid + 0.00005,
		ATRPips:  atrPips,
		Momentum: momentum,
		Time:     at,
	}
}

func longPosition(at time.Time) *position.Record {
	return &position.Record{
		Ticket:          "t1",
		Symbol:          "EURUSD",
		Side:            broker.SideLong,
		Strategy:        "momentum",
		EntryPrice:      1.1000,
		Volume:          10,
		OriginalVolume:  10,
		StopLoss:        1.0980,
		TakeProfit:      1.1040,
		InitialStopPips: 20,
		InitialTPPips:   40,
		OpenATRPips:     10,
		OpenTime:        at,
	}
}

func pipsEqual(t *testing.T, what string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-7 {
		t.Errorf("%s = %.7f, want %.7f", what, got, want)
	}
}
