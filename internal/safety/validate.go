package safety

import (
	"fmt"
	"math"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
)

// CheckSnapshot rejects quotes the engine must not act on. A symbol
// whose snapshot fails the check is skipped for the tick.
func CheckSnapshot(snap broker.MarketSnapshot) error {
	if snap.Symbol == "" {
		return fmt.Errorf("snapshot has no symbol")
	}
	if !finite(snap.Bid) || snap.Bid <= 0 {
		return fmt.Errorf("%s: bad bid %v", snap.Symbol, snap.Bid)
	}
	if !finite(snap.Ask) || snap.Ask <= 0 {
		return fmt.Errorf("%s: bad ask %v", snap.Symbol, snap.Ask)
	}
	if snap.Ask < snap.Bid {
		return fmt.Errorf("%s: crossed quote bid=%v ask=%v", snap.Symbol, snap.Bid, snap.Ask)
	}
	if !finite(snap.ATRPips) || snap.ATRPips < 0 {
		return fmt.Errorf("%s: bad ATR %v", snap.Symbol, snap.ATRPips)
	}
	if !finite(snap.Momentum) {
		return fmt.Errorf("%s: bad momentum %v", snap.Symbol, snap.Momentum)
	}
	return nil
}

// CheckOpenRequest rejects malformed order parameters before they
// reach the venue
func CheckOpenRequest(req broker.OpenRequest) error {
	if req.Symbol == "" {
		return broker.NewGatewayError("INVALID_REQUEST", "order has no symbol", false)
	}
	if req.Side != broker.SideLong && req.Side != broker.SideShort {
		return broker.NewGatewayError("INVALID_REQUEST", fmt.Sprintf("%s: bad side %q", req.Symbol, req.Side), false)
	}
	if !finite(req.Volume) || req.Volume <= 0 {
		return broker.NewGatewayError("INVALID_REQUEST", fmt.Sprintf("%s: bad volume %v", req.Symbol, req.Volume), false)
	}
	if !finite(req.StopLoss) || req.StopLoss < 0 {
		return broker.NewGatewayError("INVALID_REQUEST", fmt.Sprintf("%s: bad stop loss %v", req.Symbol, req.StopLoss), false)
	}
	if !finite(req.TakeProfit) || req.TakeProfit < 0 {
		return broker.NewGatewayError("INVALID_REQUEST", fmt.Sprintf("%s: bad take profit %v", req.Symbol, req.TakeProfit), false)
	}
	return nil
}

// CheckLevels rejects protective levels that make no sense for the
// side of the position: a long must have its stop below and target
// above the reference price, a short the opposite. Zero levels are
// left alone.
func CheckLevels(side broker.Side, price, stopLoss, takeProfit float64) error {
	dir := 1.0
	if side == broker.SideShort {
		dir = -1.0
	}
	if stopLoss > 0 && (stopLoss-price)*dir >= 0 {
		return broker.NewGatewayError("INVALID_REQUEST",
			fmt.Sprintf("stop loss %v on the wrong side of price %v for %s", stopLoss, price, side), false)
	}
	if takeProfit > 0 && (takeProfit-price)*dir <= 0 {
		return broker.NewGatewayError("INVALID_REQUEST",
			fmt.Sprintf("take profit %v on the wrong side of price %v for %s", takeProfit, price, side), false)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
