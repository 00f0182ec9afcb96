package broker

import (
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/regime"
)

// Ticket identifies one open position for its whole lifetime.
// It is assigned by the execution gateway and is stable until the
// position is fully closed.
type Ticket string

// Side represents the direction of a position
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"

	// SideAny matches either direction in filters and counters.
	SideAny Side = ""
)

// Opposite returns the other direction
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Market regime labels attached to market snapshots
const (
	RegimeTrending = regime.Trending
	RegimeRanging  = regime.Ranging
	RegimeVolatile = regime.Volatile
	RegimeQuiet    = regime.Quiet
)

// OpenRequest holds parameters for opening a new position
type OpenRequest struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Volume     float64 `json:"volume"` // lots
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Strategy   string  `json:"strategy,omitempty"` // tag forwarded for order linking
}

// PositionStatus is the gateway's authoritative view of one ticket.
// When Open is false the Close* fields describe the terminal fill.
type PositionStatus struct {
	Ticket       Ticket  `json:"ticket"`
	Open         bool    `json:"open"`
	CurrentPrice float64 `json:"current_price"`
	Volume       float64 `json:"volume"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	Unrealized   float64 `json:"unrealized"`

	// Terminal fill data, only meaningful when Open == false.
	ClosedPrice    float64   `json:"closed_price,omitempty"`
	RealizedProfit float64   `json:"realized_profit,omitempty"`
	CloseTime      time.Time `json:"close_time,omitempty"`
}

// MarketSnapshot carries the per-tick market inputs for one symbol
type MarketSnapshot struct {
	Symbol   string    `json:"symbol"`
	Bid      float64   `json:"bid"`
	Ask      float64   `json:"ask"`
	ATRPips  float64   `json:"atr_pips"`  // volatility proxy
	Momentum float64   `json:"momentum"`  // signed rate-of-change proxy
	Regime   string    `json:"regime"`    // trending/ranging/volatile/quiet
	Time     time.Time `json:"time"`
}

// Mid returns the snapshot mid price
func (m MarketSnapshot) Mid() float64 {
	if m.Bid > 0 && m.Ask > 0 {
		return (m.Bid + m.Ask) / 2
	}
	if m.Bid > 0 {
		return m.Bid
	}
	return m.Ask
}

// AccountInfo is the read-only account view used for sizing and risk
type AccountInfo struct {
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
}
