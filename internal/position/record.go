// Package position holds the engine's ledger of open positions and the
// per-strategy performance statistics derived from closed trades. The
// ledger mirrors what the execution gateway reports; the gateway is
// always the source of truth and the ledger reconciles toward it.
package position

import (
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
)

// CloseReason tags why a position left the book.
type CloseReason string

const (
	ReasonStopLoss       CloseReason = "stop_loss"
	ReasonTakeProfit     CloseReason = "take_profit"
	ReasonTrailingStop   CloseReason = "trailing_stop"
	ReasonPartialTier    CloseReason = "partial_tier"
	ReasonMaxHold        CloseReason = "forced_max_hold"
	ReasonExcessVaR      CloseReason = "forced_var"
	ReasonExcessLoss     CloseReason = "forced_loss"
	ReasonTailRisk       CloseReason = "forced_tail_risk"
	ReasonEmergencyStop  CloseReason = "emergency_stop"
	ReasonReconciliation CloseReason = "reconciliation"
	ReasonManual         CloseReason = "manual"
	ReasonShutdown       CloseReason = "shutdown"
)

// Record is the ledger's view of one open position. Volume shrinks as
// partial closes bank profit; OriginalVolume keeps the fill size.
type Record struct {
	Ticket   broker.Ticket `json:"ticket"`
	Symbol   string        `json:"symbol"`
	Side     broker.Side   `json:"side"`
	Strategy string        `json:"strategy"`

	EntryPrice      float64   `json:"entry_price"`
	Volume          float64   `json:"volume"`
	OriginalVolume  float64   `json:"original_volume"`
	StopLoss        float64   `json:"stop_loss"`
	TakeProfit      float64   `json:"take_profit"`
	InitialStopPips float64   `json:"initial_stop_pips"`
	InitialTPPips   float64   `json:"initial_tp_pips"`
	OpenATRPips     float64   `json:"open_atr_pips"`
	Confidence      float64   `json:"confidence"`
	OpenTime        time.Time `json:"open_time"`

	// Management state carried across ticks.
	TierIndex        int     `json:"tier_index"`
	TrailingActive   bool    `json:"trailing_active"`
	ProfitLocked     bool    `json:"profit_locked"`
	PeakPrice        float64 `json:"peak_price"`
	PeakProfitPips   float64 `json:"peak_profit_pips"`
	TroughProfitPips float64 `json:"trough_profit_pips"`
	RealizedProfit   float64 `json:"realized_profit"`

	LastPrice  float64   `json:"last_price"`
	LastUpdate time.Time `json:"last_update"`
}

// Direction returns +1 for long positions and -1 for short.
func (r *Record) Direction() float64 {
	if r.Side == broker.SideShort {
		return -1
	}
	return 1
}

// ProfitPips is the favorable distance between entry and price, in
// pips. Negative when the position is under water.
func (r *Record) ProfitPips(price float64, spec config.SymbolSpec) float64 {
	return spec.PriceToPips((price - r.EntryPrice) * r.Direction())
}

// UnrealizedProfit values the remaining volume at the given price.
func (r *Record) UnrealizedProfit(price float64, spec config.SymbolSpec) float64 {
	return r.ProfitPips(price, spec) * spec.PipValuePerLot * r.Volume
}

// Notional is the exposure of the remaining volume.
func (r *Record) Notional(spec config.SymbolSpec) float64 {
	return r.Volume * spec.NotionalPerLot
}

// StopDistancePips is the current stop distance from entry. Zero when
// no stop is set.
func (r *Record) StopDistancePips(spec config.SymbolSpec) float64 {
	if r.StopLoss == 0 {
		return 0
	}
	return spec.PriceToPips((r.EntryPrice - r.StopLoss) * r.Direction())
}

// Age reports how long the position has been open.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.OpenTime)
}

// UpdateMarket folds a fresh price into the record: last price, peak
// favorable excursion and both excursion extremes in pips.
func (r *Record) UpdateMarket(price float64, spec config.SymbolSpec, now time.Time) {
	r.LastPrice = price
	r.LastUpdate = now
	if r.PeakPrice == 0 {
		r.PeakPrice = r.EntryPrice
	}
	if r.Side == broker.SideLong {
		if price > r.PeakPrice {
			r.PeakPrice = price
		}
	} else if price < r.PeakPrice {
		r.PeakPrice = price
	}
	pips := r.ProfitPips(price, spec)
	if pips > r.PeakProfitPips {
		r.PeakProfitPips = pips
	}
	if pips < r.TroughProfitPips {
		r.TroughProfitPips = pips
	}
}

// ApplyStatus refreshes the record from a gateway status report. The
// gateway is authoritative for volume and live stop levels; locally
// proposed values stand only until the next report disagrees.
func (r *Record) ApplyStatus(st broker.PositionStatus, spec config.SymbolSpec, now time.Time) {
	if st.Volume > 0 {
		r.Volume = st.Volume
	}
	if st.StopLoss > 0 {
		r.StopLoss = st.StopLoss
	}
	if st.TakeProfit > 0 {
		r.TakeProfit = st.TakeProfit
	}
	if st.CurrentPrice > 0 {
		r.UpdateMarket(st.CurrentPrice, spec, now)
	}
}

// ClosedTrade is the immutable summary of a position after it left the
// book. Profit includes everything banked by partial closes. Volume is
// the original fill; FinalVolume is what the terminal close flattened
// and PartialVolume what the tiers took off along the way. PeakPips
// and TroughPips are the favorable and adverse excursion extremes seen
// while the position was open.
type ClosedTrade struct {
	Ticket        broker.Ticket `json:"ticket"`
	Symbol        string        `json:"symbol"`
	Side          broker.Side   `json:"side"`
	Strategy      string        `json:"strategy"`
	OpenTime      time.Time     `json:"open_time"`
	CloseTime     time.Time     `json:"close_time"`
	EntryPrice    float64       `json:"entry_price"`
	ClosePrice    float64       `json:"close_price"`
	Volume        float64       `json:"volume"`
	FinalVolume   float64       `json:"final_volume"`
	PartialVolume float64       `json:"partial_volume"`
	Profit        float64       `json:"profit"`
	ProfitPips    float64       `json:"profit_pips"`
	PeakPips      float64       `json:"peak_pips"`
	TroughPips    float64       `json:"trough_pips"`
	Partials      int           `json:"partials"`
	Confidence    float64       `json:"confidence"`
	Reason        CloseReason   `json:"reason"`
}

// HoldTime is the position lifetime from fill to close.
func (t ClosedTrade) HoldTime() time.Duration {
	return t.CloseTime.Sub(t.OpenTime)
}
