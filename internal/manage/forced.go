package manage

import (
	"context"
	"fmt"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/events"
	"github.com/oyi77/forex-trader-sub001/internal/logger"
	"github.com/oyi77/forex-trader-sub001/internal/position"
	"github.com/oyi77/forex-trader-sub001/internal/risk"
)

// ForcedExitRules closes positions that violate a hard limit: held too
// long, carrying too much VaR, too deep a loss, or too much tail risk.
// These checks run before every other pass and a forced close skips the
// remaining passes for the position that tick.
type ForcedExitRules struct {
	cfg  *config.Config
	gw   broker.ExecutionGateway
	log  *logger.Logger
	sink events.Sink
}

// NewForcedExitRules wires the forced exit pass.
func NewForcedExitRules(cfg *config.Config, gw broker.ExecutionGateway, log *logger.Logger, sink events.Sink) *ForcedExitRules {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &ForcedExitRules{cfg: cfg, gw: gw, log: log, sink: sink}
}

// Check evaluates the hard limits for one position without acting.
// The returned reason is empty when the position may live on.
func (f *ForcedExitRules) Check(rec *position.Record, snap broker.MarketSnapshot, pr risk.PositionRisk, equity float64) (position.CloseReason, string) {
	maxHold := f.cfg.ForcedExit.MaxHold(f.cfg.StrategyScalping(rec.Strategy))
	if age := rec.Age(snap.Time); age > maxHold {
		return position.ReasonMaxHold, fmt.Sprintf("held %s, limit %s", age.Round(time.Second), maxHold)
	}
	if equity > 0 {
		if pr.VaR > equity*f.cfg.ForcedExit.MaxVaRFraction {
			return position.ReasonExcessVaR, fmt.Sprintf("VaR %.0f above %.0f%% of equity", pr.VaR, f.cfg.ForcedExit.MaxVaRFraction*100)
		}
		if loss := -pr.Unrealized; loss > equity*f.cfg.ForcedExit.MaxLossFraction {
			return position.ReasonExcessLoss, fmt.Sprintf("loss %.0f above %.0f%% of equity", loss, f.cfg.ForcedExit.MaxLossFraction*100)
		}
		if pr.TailRisk > equity*f.cfg.ForcedExit.MaxTailRiskFraction {
			return position.ReasonTailRisk, fmt.Sprintf("tail risk %.0f above %.0f%% of equity", pr.TailRisk, f.cfg.ForcedExit.MaxTailRiskFraction*100)
		}
	}
	return "", ""
}

// Manage checks the hard limits and, when one fires, closes the
// position through the gateway. The ledger fold happens in the engine
// once the close is confirmed.
func (f *ForcedExitRules) Manage(ctx context.Context, rec *position.Record, snap broker.MarketSnapshot, pr risk.PositionRisk, equity float64) (position.CloseReason, error) {
	reason, detail := f.Check(rec, snap, pr, equity)
	if reason == "" {
		return "", nil
	}

	if err := f.gw.Close(ctx, rec.Ticket); err != nil {
		return "", err
	}

	f.log.Risk("⛔ Forced exit %s %s: %s (%s)", rec.Symbol, rec.Ticket, reason, detail)
	f.sink.Publish(events.Event{
		Type:     events.TypeForcedExit,
		Time:     snap.Time,
		Strategy: rec.Strategy,
		Symbol:   rec.Symbol,
		Ticket:   rec.Ticket,
		Side:     rec.Side,
		Volume:   rec.Volume,
		Price:    snap.Mid(),
		Reason:   string(reason) + ": " + detail,
	})
	return reason, nil
}
