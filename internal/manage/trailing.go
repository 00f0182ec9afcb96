// Package manage implements the per-tick management passes that run
// over every open position: forced exits, trailing stops, partial
// closes and dynamic stop adjustment. Every pass talks to the
// execution gateway first and mutates the ledger record only after the
// gateway confirmed the change; a failed call leaves the record
// untouched and is retried naturally on a later tick.
package manage

import (
	"context"
	"math"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/events"
	"github.com/oyi77/forex-trader-sub001/internal/logger"
	"github.com/oyi77/forex-trader-sub001/internal/position"
)

// TrailingEngine moves stops in the position's favor once the trade has
// enough favorable excursion. Stops only ever tighten: for a long the
// trailing stop is non-decreasing, for a short non-increasing.
type TrailingEngine struct {
	cfg  config.TrailingConfig
	gw   broker.ExecutionGateway
	log  *logger.Logger
	sink events.Sink
}

// NewTrailingEngine wires the trailing pass.
func NewTrailingEngine(cfg config.TrailingConfig, gw broker.ExecutionGateway, log *logger.Logger, sink events.Sink) *TrailingEngine {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &TrailingEngine{cfg: cfg, gw: gw, log: log, sink: sink}
}

// Manage runs the trailing pass for one position. Returns true when a
// stop modify was confirmed by the gateway.
func (t *TrailingEngine) Manage(ctx context.Context, rec *position.Record, snap broker.MarketSnapshot, spec config.SymbolSpec) (bool, error) {
	price := snap.Mid()
	if price <= 0 {
		return false, nil
	}
	profitPips := rec.ProfitPips(price, spec)

	if !rec.TrailingActive {
		if profitPips < t.cfg.ActivationPips {
			return false, nil
		}
		rec.TrailingActive = true
		t.log.Info("🎯 Trailing activated for %s %s at +%.1f pips", rec.Symbol, rec.Ticket, profitPips)
		t.sink.Publish(events.Event{
			Type:     events.TypeTrailingActivated,
			Time:     snap.Time,
			Strategy: rec.Strategy,
			Symbol:   rec.Symbol,
			Ticket:   rec.Ticket,
			Side:     rec.Side,
			Price:    price,
		})
	}

	if snap.ATRPips <= 0 {
		return false, nil
	}

	distPips := snap.ATRPips * t.cfg.BaseMultiplier
	if spec.BaselineVolPips > 0 {
		distPips *= clip(snap.ATRPips/spec.BaselineVolPips, 0.5, 2.0)
	}
	// Strong momentum in either direction tightens the trail: with the
	// trend to bank more of the run, against it to get out sooner.
	if math.Abs(snap.Momentum) >= t.cfg.StrongTrendThreshold {
		distPips *= t.cfg.StrongTrendFactor
	}

	candidate := price - rec.Direction()*spec.PipsToPrice(distPips)
	if !t.improves(rec, candidate, spec) {
		return false, nil
	}

	if err := t.gw.Modify(ctx, rec.Ticket, candidate, 0); err != nil {
		return false, err
	}
	prev := rec.StopLoss
	rec.StopLoss = candidate
	t.log.Info("📈 Trailing stop %s %s: %.5f -> %.5f (trail %.1f pips)",
		rec.Symbol, rec.Ticket, prev, candidate, distPips)
	t.sink.Publish(events.Event{
		Type:     events.TypeStopModified,
		Time:     snap.Time,
		Strategy: rec.Strategy,
		Symbol:   rec.Symbol,
		Ticket:   rec.Ticket,
		Side:     rec.Side,
		Price:    price,
		StopLoss: candidate,
		Reason:   "trailing",
	})
	return true, nil
}

// improves accepts a candidate only when it tightens protection by at
// least the minimum step. The first stop after activation is always an
// improvement.
func (t *TrailingEngine) improves(rec *position.Record, candidate float64, spec config.SymbolSpec) bool {
	if rec.StopLoss == 0 {
		return true
	}
	gain := spec.PriceToPips((candidate - rec.StopLoss) * rec.Direction())
	return gain >= t.cfg.MinStepPips
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
