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

// PartialCloseScheduler banks profit in tiers: each tier names a profit
// threshold and the volume percentage to close when it is reached.
// Tiers fire strictly in order and never re-fire; a tier index only
// ever moves forward.
type PartialCloseScheduler struct {
	cfg    config.PartialCloseConfig
	gw     broker.ExecutionGateway
	ledger *position.Ledger
	log    *logger.Logger
	sink   events.Sink
}

// NewPartialCloseScheduler wires the partial close pass.
func NewPartialCloseScheduler(cfg config.PartialCloseConfig, gw broker.ExecutionGateway, ledger *position.Ledger, log *logger.Logger, sink events.Sink) *PartialCloseScheduler {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &PartialCloseScheduler{cfg: cfg, gw: gw, ledger: ledger, log: log, sink: sink}
}

// Manage evaluates the next unfired tier for one position. Returns
// true when a partial close was confirmed.
func (p *PartialCloseScheduler) Manage(ctx context.Context, rec *position.Record, snap broker.MarketSnapshot, spec config.SymbolSpec) (bool, error) {
	if rec.TierIndex >= len(p.cfg.Tiers) {
		return false, nil
	}
	price := snap.Mid()
	if price <= 0 {
		return false, nil
	}

	tier := p.cfg.Tiers[rec.TierIndex]
	profitPips := rec.ProfitPips(price, spec)
	if profitPips < tier.ProfitPips {
		return false, nil
	}

	closeVolume := floorToStep(rec.Volume*tier.ClosePercent, spec.LotStep)
	if closeVolume < spec.MinLot || closeVolume >= rec.Volume {
		// Position too small to peel a slice off; the tier stays armed.
		return false, nil
	}

	if err := p.gw.PartialClose(ctx, rec.Ticket, closeVolume); err != nil {
		return false, err
	}

	realized := profitPips * spec.PipValuePerLot * closeVolume
	if err := p.ledger.ApplyPartialClose(rec.Ticket, closeVolume, realized); err != nil {
		// The gateway already filled; the next reconciliation pass will
		// align the book.
		p.log.LogError("partial close bookkeeping", err)
	}
	rec.TierIndex++

	p.log.Trade("💰 Partial close %s %s: %.2f lots at +%.1f pips (tier %d, banked %.2f)",
		rec.Symbol, rec.Ticket, closeVolume, profitPips, rec.TierIndex, realized)
	p.sink.Publish(events.Event{
		Type:     events.TypePartialClose,
		Time:     snap.Time,
		Strategy: rec.Strategy,
		Symbol:   rec.Symbol,
		Ticket:   rec.Ticket,
		Side:     rec.Side,
		Volume:   closeVolume,
		Price:    price,
		Profit:   realized,
		Reason:   "tier",
	})

	if p.cfg.ProfitLockEnabled && !rec.ProfitLocked {
		p.lockProfit(ctx, rec, price, snap, spec)
	}
	return true, nil
}

// lockProfit moves the static stop to breakeven plus a small buffer
// after the first tier banked something. Failure here is not fatal;
// the partial close already succeeded.
func (p *PartialCloseScheduler) lockProfit(ctx context.Context, rec *position.Record, price float64, snap broker.MarketSnapshot, spec config.SymbolSpec) {
	candidate := rec.EntryPrice + rec.Direction()*spec.PipsToPrice(p.cfg.ProfitLockBufferPips)
	gain := spec.PriceToPips((candidate - rec.StopLoss) * rec.Direction())
	if rec.StopLoss != 0 && gain <= 0 {
		rec.ProfitLocked = true
		return
	}
	if err := p.gw.Modify(ctx, rec.Ticket, candidate, 0); err != nil {
		p.log.LogWarning("profit lock", "modify failed for %s: %v", rec.Ticket, err)
		return
	}
	rec.StopLoss = candidate
	rec.ProfitLocked = true
	p.log.Info("🔒 Profit locked %s %s: stop to %.5f", rec.Symbol, rec.Ticket, candidate)
	p.sink.Publish(events.Event{
		Type:     events.TypeStopModified,
		Time:     snap.Time,
		Strategy: rec.Strategy,
		Symbol:   rec.Symbol,
		Ticket:   rec.Ticket,
		Side:     rec.Side,
		Price:    price,
		StopLoss: candidate,
		Reason:   "profit_lock",
	})
}

// floorToStep rounds down so a tier never closes more than its share.
func floorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step+1e-9) * step
}
