// Package sizing turns a trade request into a concrete, bounded lot
// size. The computation is a fixed-order chain of multiplicative
// adjustments; every factor is clipped on its own so one bad input can
// never blow up the final volume. A returned volume of zero always
// means "do not trade" and is never an error.
package sizing

import (
	"math"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/position"
)

// zScore95 is the one-tailed 95% normal quantile used for the position
// VaR projection.
const zScore95 = 1.65

// Request describes the candidate trade to be sized.
type Request struct {
	Symbol       string
	Strategy     string
	Side         broker.Side
	Confidence   float64 // 0..100
	StopPips     float64
	RiskFraction float64 // per-trade risk, 0 falls back to config
}

// MarketState carries the per-tick inputs the chain needs. ATRPips or
// Price at zero mean the volatility dependent steps are skipped.
type MarketState struct {
	Equity         float64
	Price          float64
	ATRPips        float64
	Regime         string
	CorrelatedOpen int // open positions correlated with the symbol
}

// Decision records the outcome of one sizing run, factor by factor, so
// the engine can log and stream exactly why a size came out the way it
// did.
type Decision struct {
	Volume float64 `json:"volume"`
	Reason string  `json:"reason,omitempty"` // set when Volume is 0

	BaseSize    float64 `json:"base_size"`
	LeverageCap float64 `json:"leverage_cap"`
	KellyMult   float64 `json:"kelly_mult"`
	SharpeMult  float64 `json:"sharpe_mult"`
	VaRShrink   float64 `json:"var_shrink"`
	VolMult     float64 `json:"vol_mult"`
	CorrMult    float64 `json:"corr_mult"`
	RegimeMult  float64 `json:"regime_mult"`
	ConfMult    float64 `json:"conf_mult"`
}

// Sizer computes position sizes from config, per-strategy statistics
// and the current market state.
type Sizer struct {
	cfg  *config.Config
	book *position.Book
}

// NewSizer wires a sizer to its config and stats book.
func NewSizer(cfg *config.Config, book *position.Book) *Sizer {
	return &Sizer{cfg: cfg, book: book}
}

// Size runs the adjustment chain. The result is zero, or a volume in
// [minLot, maxLot] that is an exact multiple of the lot step and whose
// risk at the stop stays inside the account risk cap.
func (s *Sizer) Size(req Request, mkt MarketState) Decision {
	var d Decision

	spec, ok := s.cfg.Spec(req.Symbol)
	if !ok {
		d.Reason = "unknown symbol"
		return d
	}
	if mkt.Equity <= 0 {
		d.Reason = "no equity"
		return d
	}
	if req.StopPips <= 0 {
		d.Reason = "stop distance must be positive"
		return d
	}
	if spec.PipValuePerLot <= 0 {
		d.Reason = "pip value must be positive"
		return d
	}

	riskFraction := req.RiskFraction
	if riskFraction <= 0 {
		riskFraction = s.cfg.StrategyRiskFraction(req.Strategy)
	}

	// 1. Risk-defined base size.
	size := (mkt.Equity * riskFraction) / (req.StopPips * spec.PipValuePerLot)
	d.BaseSize = size

	// 2. Leverage cap.
	d.LeverageCap = (mkt.Equity * s.cfg.Sizing.MaxLeverage) / spec.MarginPerLot
	if size > d.LeverageCap {
		size = d.LeverageCap
	}

	// 3 and 4. Performance multipliers, neutral until the strategy has
	// enough closed trades to estimate anything.
	stats := s.book.Stats(req.Strategy)
	d.KellyMult = s.kellyMultiplier(stats)
	d.SharpeMult = s.sharpeMultiplier(stats)
	size *= d.KellyMult
	size *= d.SharpeMult

	// 5. Position VaR constraint, skipped without a volatility read.
	d.VaRShrink = 1.0
	if mkt.ATRPips > 0 && mkt.Price > 0 {
		volFraction := (mkt.ATRPips * spec.PipSize) / mkt.Price
		projected := size * spec.NotionalPerLot * volFraction * zScore95
		maxVaR := mkt.Equity * s.cfg.Sizing.MaxPositionVaRFraction
		if projected > maxVaR && projected > 0 {
			d.VaRShrink = maxVaR / projected
			size *= d.VaRShrink
		}
	}

	// 6. Volatility scaling against the symbol baseline.
	d.VolMult = 1.0
	if mkt.ATRPips > 0 && spec.BaselineVolPips > 0 {
		d.VolMult = clip(spec.BaselineVolPips/mkt.ATRPips, 0.5, 2.0)
	}
	size *= d.VolMult

	// 7. Diversification discount for correlated exposure.
	impact := s.cfg.Sizing.CorrelationImpactWeight * float64(mkt.CorrelatedOpen)
	d.CorrMult = 1.0 / (1.0 + impact)
	size *= d.CorrMult

	// 8. Regime table lookup.
	d.RegimeMult = s.cfg.RegimeTable.Multiplier(mkt.Regime, req.Strategy)
	size *= d.RegimeMult

	// 9. Confidence scaling.
	d.ConfMult = clip(req.Confidence, 0, 100) / 100.0
	if d.ConfMult <= 0 {
		d.Reason = "zero confidence"
		return d
	}
	size *= d.ConfMult

	// 10. Clamp, round, and re-verify account risk.
	if size > spec.MaxLot {
		size = spec.MaxLot
	}
	size = roundToStep(size, spec.LotStep)
	if size < spec.MinLot {
		d.Reason = "below minimum lot"
		return d
	}

	maxRisk := mkt.Equity * s.cfg.Sizing.MaxAccountRiskFraction
	if risk := size * req.StopPips * spec.PipValuePerLot; risk > maxRisk {
		size = maxRisk / (req.StopPips * spec.PipValuePerLot)
		size = floorToStep(size, spec.LotStep)
		if size < spec.MinLot {
			d.Reason = "account risk cap leaves no room"
			return d
		}
	}

	d.Volume = size
	return d
}

// kellyMultiplier computes the fractional Kelly factor from realized
// win rate and payoff ratio. Degenerate books (all wins or all losses)
// pin to the clip bounds instead of dividing by zero.
func (s *Sizer) kellyMultiplier(stats position.Stats) float64 {
	if stats.Trades < s.cfg.Sizing.MinTradesForStats {
		return 1.0
	}
	var f float64
	b := stats.PayoffRatio()
	switch {
	case b <= 0 && stats.Losses == 0:
		f = 0.5
	case b <= 0:
		f = 0.05
	default:
		p := stats.WinRate()
		f = clip((b*p-(1-p))/b, 0.05, 0.5)
	}
	return f * s.cfg.Sizing.KellyFraction
}

// sharpeMultiplier scales by realized Sharpe against the target.
func (s *Sizer) sharpeMultiplier(stats position.Stats) float64 {
	if stats.Trades < s.cfg.Sizing.MinTradesForStats {
		return 1.0
	}
	return clip(stats.Sharpe()/s.cfg.Sizing.TargetSharpe, 0, 2)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Round(v/step) * step
}

func floorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step+1e-9) * step
}
