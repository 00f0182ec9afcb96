package risk

import (
	"math"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/position"
)

// VaR scaling constants for a 95% one-tailed bound. Expected shortfall
// and tail risk scale the same sigma by deeper quantiles.
const (
	zVaR95         = 1.65
	zShortfall     = 2.06
	zTailRisk      = 3.0
	shortfallScale = zShortfall / zVaR95
	tailScale      = zTailRisk / zVaR95
)

// PositionRisk is the per-position slice of the portfolio aggregates.
type PositionRisk struct {
	Ticket     broker.Ticket `json:"ticket"`
	Notional   float64       `json:"notional"`
	VaR        float64       `json:"var"`
	TailRisk   float64       `json:"tail_risk"`
	Unrealized float64       `json:"unrealized"`
}

// Totals is the portfolio roll-up recomputed every tick from the
// ledger. Recomputation is idempotent: the same book and market inputs
// always produce the same totals.
type Totals struct {
	OpenPositions     int                            `json:"open_positions"`
	TotalExposure     float64                        `json:"total_exposure"`
	TotalVaR          float64                        `json:"total_var"`
	ExpectedShortfall float64                        `json:"expected_shortfall"`
	TailRisk          float64                        `json:"tail_risk"`
	UnrealizedPnL     float64                        `json:"unrealized_pnl"`
	ByTicket          map[broker.Ticket]PositionRisk `json:"-"`
}

// Aggregator recomputes portfolio totals from open positions and the
// latest market snapshots.
type Aggregator struct {
	cfg *config.Config
}

// NewAggregator wires an aggregator to the symbol table.
func NewAggregator(cfg *config.Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Compute walks the open book once. Per-position VaR needs a price and
// an ATR; positions on symbols without a usable snapshot contribute
// exposure and PnL but zero VaR. Portfolio VaR combines per-position
// VaRs as the square root of the sum of squares.
func (a *Aggregator) Compute(open []*position.Record, markets map[string]broker.MarketSnapshot) Totals {
	totals := Totals{
		OpenPositions: len(open),
		ByTicket:      make(map[broker.Ticket]PositionRisk, len(open)),
	}

	sumSquares := 0.0
	for _, rec := range open {
		spec, ok := a.cfg.Spec(rec.Symbol)
		if !ok {
			continue
		}

		price := rec.LastPrice
		atrPips := 0.0
		if snap, ok := markets[rec.Symbol]; ok {
			if mid := snap.Mid(); mid > 0 {
				price = mid
			}
			atrPips = snap.ATRPips
		}

		pr := PositionRisk{Ticket: rec.Ticket}
		pr.Notional = rec.Notional(spec)
		totals.TotalExposure += pr.Notional

		if price > 0 {
			pr.Unrealized = rec.UnrealizedProfit(price, spec)
			totals.UnrealizedPnL += pr.Unrealized
		}

		if price > 0 && atrPips > 0 {
			volFraction := (atrPips * spec.PipSize) / price
			sigma := pr.Notional * volFraction
			pr.VaR = sigma * zVaR95
			pr.TailRisk = sigma * zTailRisk
			sumSquares += pr.VaR * pr.VaR
		}

		totals.ByTicket[rec.Ticket] = pr
	}

	totals.TotalVaR = math.Sqrt(sumSquares)
	totals.ExpectedShortfall = totals.TotalVaR * shortfallScale
	totals.TailRisk = totals.TotalVaR * tailScale
	return totals
}

// ProjectVaR combines the current portfolio VaR with one additional
// position of the given size, for admission checks.
func (a *Aggregator) ProjectVaR(current Totals, symbol string, volume float64, snap broker.MarketSnapshot) float64 {
	spec, ok := a.cfg.Spec(symbol)
	if !ok {
		return current.TotalVaR
	}
	price := snap.Mid()
	if price <= 0 || snap.ATRPips <= 0 {
		return current.TotalVaR
	}
	volFraction := (snap.ATRPips * spec.PipSize) / price
	posVaR := volume * spec.NotionalPerLot * volFraction * zVaR95
	return math.Sqrt(current.TotalVaR*current.TotalVaR + posVaR*posVaR)
}
