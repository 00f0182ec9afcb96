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

// minAdjustPips is the smallest stop move the adjuster bothers the
// gateway with. The time channel tightens continuously; without a
// floor it would issue a modify on every tick.
const minAdjustPips = 1.0

// proposal is one channel's suggested levels. Zero means leave that
// level alone.
type proposal struct {
	stopLoss   float64
	takeProfit float64
	channel    string
}

// StopAdjuster recomputes static stop/target levels through three
// channels in fixed order: time decay, volatility rescale, correlation
// tighten. When several channels propose in the same tick the last one
// wins. While the trailing engine owns a position's stop the channels
// leave the stop alone and only touch the target.
type StopAdjuster struct {
	cfg  *config.Config
	gw   broker.ExecutionGateway
	log  *logger.Logger
	sink events.Sink
}

// NewStopAdjuster wires the dynamic stop pass.
func NewStopAdjuster(cfg *config.Config, gw broker.ExecutionGateway, log *logger.Logger, sink events.Sink) *StopAdjuster {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &StopAdjuster{cfg: cfg, gw: gw, log: log, sink: sink}
}

// Manage runs the three channels over one position. Returns true when
// a modify was confirmed.
func (d *StopAdjuster) Manage(ctx context.Context, rec *position.Record, snap broker.MarketSnapshot, spec config.SymbolSpec, correlatedOpen int) (bool, error) {
	price := snap.Mid()
	if price <= 0 {
		return false, nil
	}

	var winner *proposal
	if p := d.timeChannel(rec, snap, spec); p != nil {
		winner = p
	}
	if p := d.volatilityChannel(rec, snap, spec); p != nil {
		winner = p
	}
	if p := d.correlationChannel(rec, price, spec, correlatedOpen); p != nil {
		winner = p
	}
	if winner == nil {
		return false, nil
	}

	if err := d.gw.Modify(ctx, rec.Ticket, winner.stopLoss, winner.takeProfit); err != nil {
		return false, err
	}
	if winner.stopLoss > 0 {
		rec.StopLoss = winner.stopLoss
	}
	if winner.takeProfit > 0 {
		rec.TakeProfit = winner.takeProfit
	}
	d.log.Info("🔧 Dynamic stop %s %s via %s: SL %.5f TP %.5f",
		rec.Symbol, rec.Ticket, winner.channel, rec.StopLoss, rec.TakeProfit)
	d.sink.Publish(events.Event{
		Type:       events.TypeStopModified,
		Time:       snap.Time,
		Strategy:   rec.Strategy,
		Symbol:     rec.Symbol,
		Ticket:     rec.Ticket,
		Side:       rec.Side,
		Price:      price,
		StopLoss:   rec.StopLoss,
		TakeProfit: rec.TakeProfit,
		Reason:     winner.channel,
	})
	return true, nil
}

// timeChannel tightens the stop toward entry as the position ages,
// scaled by the strategy's decay rate and floored at the configured
// minimum factor.
func (d *StopAdjuster) timeChannel(rec *position.Record, snap broker.MarketSnapshot, spec config.SymbolSpec) *proposal {
	if rec.TrailingActive || rec.InitialStopPips <= 0 || rec.StopLoss == 0 {
		return nil
	}
	hours := rec.Age(snap.Time).Hours()
	if hours <= 0 {
		return nil
	}
	decay := d.cfg.StrategyDecayRate(rec.Strategy)
	factor := math.Max(d.cfg.DynamicStops.MinTimeFactor, 1-decay*hours)
	if factor >= 1 {
		return nil
	}

	candidate := rec.EntryPrice - rec.Direction()*spec.PipsToPrice(rec.InitialStopPips*factor)
	if spec.PriceToPips((candidate-rec.StopLoss)*rec.Direction()) < minAdjustPips {
		return nil
	}
	return &proposal{stopLoss: candidate, channel: "time_decay"}
}

// volatilityChannel rescales the original stop/target distances when
// current volatility has moved far enough from the volatility at open.
func (d *StopAdjuster) volatilityChannel(rec *position.Record, snap broker.MarketSnapshot, spec config.SymbolSpec) *proposal {
	if rec.OpenATRPips <= 0 || snap.ATRPips <= 0 {
		return nil
	}
	ratio := snap.ATRPips / rec.OpenATRPips
	if math.Abs(ratio-1) <= d.cfg.DynamicStops.VolatilityTriggerRatio {
		return nil
	}

	var p proposal
	p.channel = "volatility"
	if !rec.TrailingActive && rec.InitialStopPips > 0 && rec.StopLoss != 0 {
		candidate := rec.EntryPrice - rec.Direction()*spec.PipsToPrice(rec.InitialStopPips*ratio)
		if math.Abs(spec.PriceToPips(candidate-rec.StopLoss)) >= minAdjustPips {
			p.stopLoss = candidate
		}
	}
	if rec.InitialTPPips > 0 && rec.TakeProfit != 0 {
		candidate := rec.EntryPrice + rec.Direction()*spec.PipsToPrice(rec.InitialTPPips*ratio)
		if math.Abs(spec.PriceToPips(candidate-rec.TakeProfit)) >= minAdjustPips {
			p.takeProfit = candidate
		}
	}
	if p.stopLoss == 0 && p.takeProfit == 0 {
		return nil
	}
	return &p
}

// correlationChannel pulls the stop toward the current price when too
// much correlated exposure is open. It only ever tightens.
func (d *StopAdjuster) correlationChannel(rec *position.Record, price float64, spec config.SymbolSpec, correlatedOpen int) *proposal {
	if rec.TrailingActive || rec.StopLoss == 0 {
		return nil
	}
	if correlatedOpen <= d.cfg.DynamicStops.MaxCorrelatedForTighten {
		return nil
	}

	gap := (price - rec.StopLoss) * rec.Direction()
	if gap <= 0 {
		return nil
	}
	candidate := price - rec.Direction()*gap*d.cfg.DynamicStops.CorrelationTightenFactor
	if spec.PriceToPips((candidate-rec.StopLoss)*rec.Direction()) < minAdjustPips {
		return nil
	}
	return &proposal{stopLoss: candidate, channel: "correlation"}
}
