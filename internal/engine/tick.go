package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	engerr "github.com/oyi77/forex-trader-sub001/internal/errors"
	"github.com/oyi77/forex-trader-sub001/internal/events"
	"github.com/oyi77/forex-trader-sub001/internal/monitoring"
	"github.com/oyi77/forex-trader-sub001/internal/position"
	"github.com/oyi77/forex-trader-sub001/internal/recovery"
	"github.com/oyi77/forex-trader-sub001/internal/risk"
	"github.com/oyi77/forex-trader-sub001/internal/safety"
	"github.com/oyi77/forex-trader-sub001/internal/signal"
	"github.com/oyi77/forex-trader-sub001/internal/sizing"
	"github.com/oyi77/forex-trader-sub001/internal/state"
)

// tick runs one full pipeline pass. The order is fixed: reconcile
// before managing so every pass works on gateway-confirmed positions,
// manage before aggregating so the gate and new admissions see the
// post-management book.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	e.tickCount++

	markets := e.collectSnapshots(ctx)

	acct, err := e.broker.Account(ctx)
	if err != nil {
		e.log.LogWarning("Account", "snapshot failed, tick %d skipped: %v", e.tickCount, err)
		if e.health != nil {
			e.health.RecordError(fmt.Sprintf("account snapshot: %v", err))
		}
		e.escalate(engerr.Categorize(err, "gateway", "account"), now)
		return
	}

	e.reconcile(ctx, markets, now)

	pre := e.agg.Compute(e.ledger.Open(), markets)
	e.managePositions(ctx, markets, pre, acct.Equity, now)

	totals := e.agg.Compute(e.ledger.Open(), markets)

	if e.gate.Evaluate(now, acct.Equity, acct.Balance) {
		reason := e.gate.TripReason()
		e.log.LogEmergencyStop(reason)
		e.publish(events.Event{Type: events.TypeEmergencyStop, Time: now, Reason: reason})
	}

	e.processSignals(ctx, markets, totals, acct, now)

	e.housekeep(totals, acct, now)
}

// collectSnapshots pulls and validates one snapshot per configured
// symbol. A symbol whose snapshot fails or comes back malformed sits
// this tick out; its open positions keep their protective levels at
// the broker.
func (e *Engine) collectSnapshots(ctx context.Context) map[string]broker.MarketSnapshot {
	markets := make(map[string]broker.MarketSnapshot, len(e.cfg.Engine.Symbols))
	for _, symbol := range e.cfg.Engine.Symbols {
		snap, err := e.broker.Snapshot(ctx, symbol)
		if err != nil {
			e.log.LogWarning("MarketData", "snapshot %s failed: %v", symbol, err)
			continue
		}
		if err := safety.CheckSnapshot(snap); err != nil {
			e.log.LogWarning("MarketData", "snapshot %s rejected: %v", symbol, err)
			continue
		}
		markets[symbol] = snap
	}
	return markets
}

// reconcile walks the open book and asks the gateway about every
// ticket. The gateway's view wins: a position it reports closed is
// folded into the ledger exactly once, a position it reports open has
// its volume and levels refreshed.
func (e *Engine) reconcile(ctx context.Context, markets map[string]broker.MarketSnapshot, now time.Time) {
	for _, rec := range e.ledger.Open() {
		spec, ok := e.cfg.Spec(rec.Symbol)
		if !ok {
			e.log.Warning("Open ticket %s has no spec for %s, leaving untouched", rec.Ticket, rec.Symbol)
			continue
		}

		st, err := e.broker.Status(ctx, rec.Ticket)
		if err != nil {
			e.log.LogWarning("Reconcile", "status %s failed: %v", rec.Ticket, err)
			e.escalate(engerr.Categorize(err, "gateway", "status"), now)
			continue
		}

		if st.Open {
			rec.ApplyStatus(st, spec, now)
			continue
		}

		closePrice := st.ClosedPrice
		if closePrice <= 0 {
			if snap, ok := markets[rec.Symbol]; ok {
				closePrice = markPrice(rec.Side, snap)
			} else {
				closePrice = rec.LastPrice
			}
		}
		closeTime := st.CloseTime
		if closeTime.IsZero() {
			closeTime = now
		}

		e.log.Info("Reconcile: gateway reports %s closed (%.5f), folding", rec.Ticket, closePrice)
		e.publish(events.Event{
			Type:   events.TypeReconciliationClose,
			Time:   now,
			Symbol: rec.Symbol,
			Ticket: rec.Ticket,
			Side:   rec.Side,
			Volume: rec.Volume,
			Price:  closePrice,
		})
		e.foldClose(rec, closePrice, st.RealizedProfit, position.ReasonReconciliation, closeTime, spec)
	}
}

// managePositions runs the four passes over every open position in
// ledger order. A position force-closed this tick skips the remaining
// passes; so does one whose gateway call failed, since its state at
// the broker is no longer certain.
func (e *Engine) managePositions(ctx context.Context, markets map[string]broker.MarketSnapshot, pre risk.Totals, equity float64, now time.Time) {
	for _, rec := range e.ledger.Open() {
		snap, ok := markets[rec.Symbol]
		if !ok {
			continue
		}
		spec, ok := e.cfg.Spec(rec.Symbol)
		if !ok {
			continue
		}

		rec.UpdateMarket(markPrice(rec.Side, snap), spec, now)

		reason, err := e.forced.Manage(ctx, rec, snap, pre.ByTicket[rec.Ticket], equity)
		if err != nil {
			e.reportGatewayFailure(rec, "forced close", err, now)
			continue
		}
		if reason != "" {
			e.finalizeClose(ctx, rec, markPrice(rec.Side, snap), spec, reason, now)
			continue
		}

		if _, err := e.trail.Manage(ctx, rec, snap, spec); err != nil {
			e.reportGatewayFailure(rec, "trailing stop", err, now)
			continue
		}
		if _, err := e.partial.Manage(ctx, rec, snap, spec); err != nil {
			e.reportGatewayFailure(rec, "partial close", err, now)
			continue
		}

		correlated := risk.CountCorrelated(rec.Symbol, rec.Side, e.ledger.Open(), e.cfg) - 1
		if correlated < 0 {
			correlated = 0
		}
		if _, err := e.stops.Manage(ctx, rec, snap, spec, correlated); err != nil {
			e.reportGatewayFailure(rec, "stop adjust", err, now)
		}
	}
}

// finalizeClose resolves the terminal numbers for a position the
// gateway just confirmed closed, preferring the gateway's fill over
// the engine's own mark, then folds it.
func (e *Engine) finalizeClose(ctx context.Context, rec *position.Record, fallbackPrice float64, spec config.SymbolSpec, reason position.CloseReason, now time.Time) {
	closePrice := fallbackPrice
	profit := rec.UnrealizedProfit(fallbackPrice, spec)
	closeTime := now

	if st, err := e.broker.Status(ctx, rec.Ticket); err == nil && !st.Open {
		if st.ClosedPrice > 0 {
			closePrice = st.ClosedPrice
		}
		profit = st.RealizedProfit
		if !st.CloseTime.IsZero() {
			closeTime = st.CloseTime
		}
	}

	e.foldClose(rec, closePrice, profit, reason, closeTime, spec)
}

// foldClose is the single place a position leaves the open book. It
// updates the ledger, the gate's daily window and streak, the strategy
// statistics, the journal and the event stream, in that order.
func (e *Engine) foldClose(rec *position.Record, closePrice, finalProfit float64, reason position.CloseReason, closeTime time.Time, spec config.SymbolSpec) {
	trade, err := e.ledger.Close(rec.Ticket, closePrice, finalProfit, reason, closeTime, spec)
	if err != nil {
		e.log.LogError("Ledger close", err)
		return
	}

	e.gate.RecordTradeClose(trade.Profit)
	e.book.Record(trade.Strategy, trade.Profit)
	if e.state != nil {
		e.state.AppendTrade(trade)
	}

	e.log.LogPositionClosed(string(trade.Ticket), trade.Symbol, trade.Profit, trade.ProfitPips, string(reason))
	e.publish(events.Event{
		Type:     events.TypePositionClosed,
		Time:     closeTime,
		Strategy: trade.Strategy,
		Symbol:   trade.Symbol,
		Ticket:   trade.Ticket,
		Side:     trade.Side,
		Volume:   trade.Volume,
		Price:    closePrice,
		Profit:   trade.Profit,
		Reason:   string(reason),
	})
}

// processSignals asks the signal source for proposals on every symbol
// that produced a snapshot and runs each through sizing and admission.
func (e *Engine) processSignals(ctx context.Context, markets map[string]broker.MarketSnapshot, totals risk.Totals, acct broker.AccountInfo, now time.Time) {
	for _, symbol := range e.cfg.Engine.Symbols {
		snap, ok := markets[symbol]
		if !ok {
			continue
		}
		for _, sig := range e.source.Signals(snap) {
			e.tryOpen(ctx, sig, snap, totals, acct, now)
		}
	}
}

// tryOpen takes one signal through the full admission path: size it,
// ask the gate, validate the protective levels, then send the order.
// Every non-entry is an outcome, not an error; only a failed gateway
// call is reported as an execution failure.
func (e *Engine) tryOpen(ctx context.Context, sig signal.TradeSignal, snap broker.MarketSnapshot, totals risk.Totals, acct broker.AccountInfo, now time.Time) {
	spec, ok := e.cfg.Spec(sig.Symbol)
	if !ok {
		e.reject(sig, "no spec configured for symbol", now)
		return
	}

	stopPips := e.cfg.Engine.Signal.StopPips
	if stopPips <= 0 {
		stopPips = snap.ATRPips * 2
	}
	targetPips := e.cfg.Engine.Signal.TargetPips
	if targetPips <= 0 {
		targetPips = stopPips * 2
	}

	correlated := risk.CountCorrelated(sig.Symbol, sig.Side, e.ledger.Open(), e.cfg)

	decision := e.sizer.Size(sizing.Request{
		Symbol:     sig.Symbol,
		Strategy:   sig.Strategy,
		Side:       sig.Side,
		Confidence: sig.Confidence,
		StopPips:   stopPips,
	}, sizing.MarketState{
		Equity:         acct.Equity,
		Price:          snap.Mid(),
		ATRPips:        snap.ATRPips,
		Regime:         snap.Regime,
		CorrelatedOpen: correlated,
	})
	if decision.Volume <= 0 {
		e.reject(sig, "sized to zero: "+decision.Reason, now)
		return
	}

	adm := e.gate.Admit(risk.AdmissionRequest{
		Symbol:                  sig.Symbol,
		Strategy:                sig.Strategy,
		Side:                    sig.Side,
		Volume:                  decision.Volume,
		Equity:                  acct.Equity,
		OpenPositions:           e.ledger.OpenCount(),
		StrategyPositions:       e.ledger.CountByStrategy(sig.Strategy),
		ProjectedExposure:       totals.TotalExposure + decision.Volume*spec.NotionalPerLot,
		ProjectedVaR:            e.agg.ProjectVaR(totals, sig.Symbol, decision.Volume, snap),
		CorrelatedSameDirection: correlated,
	})
	if !adm.Allowed {
		e.reject(sig, adm.Reason, now)
		return
	}

	entry := entryPrice(sig.Side, snap)
	stopLoss, takeProfit := protectiveLevels(sig.Side, entry, spec, stopPips, targetPips)
	if err := safety.CheckLevels(sig.Side, entry, stopLoss, takeProfit); err != nil {
		e.reject(sig, "invalid protective levels: "+err.Error(), now)
		return
	}

	req := broker.OpenRequest{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Volume:     decision.Volume,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Strategy:   sig.Strategy,
	}
	ticket, err := e.broker.Open(ctx, req)
	if err != nil {
		cat := engerr.Categorize(err, "gateway", "open")
		e.log.Error("Open %s %s %.2f lots failed [%s]: %v", sig.Symbol, sig.Side, decision.Volume, cat.Category, err)
		e.publish(events.Event{
			Type:   events.TypeExecutionFailed,
			Time:   now,
			Symbol: sig.Symbol,
			Side:   sig.Side,
			Volume: decision.Volume,
			Reason: gatewayReason(err),
		})
		e.escalate(cat, now)
		return
	}

	rec := &position.Record{
		Ticket:          ticket,
		Symbol:          sig.Symbol,
		Side:            sig.Side,
		Strategy:        sig.Strategy,
		EntryPrice:      entry,
		Volume:          decision.Volume,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		InitialStopPips: stopPips,
		InitialTPPips:   targetPips,
		OpenATRPips:     snap.ATRPips,
		Confidence:      sig.Confidence,
		OpenTime:        now,
		PeakPrice:       entry,
		LastPrice:       entry,
		LastUpdate:      now,
	}
	// The gateway may have aligned the volume to the lot step.
	if st, err := e.broker.Status(ctx, ticket); err == nil && st.Open {
		rec.ApplyStatus(st, spec, now)
	}
	if err := e.ledger.Track(rec); err != nil {
		e.log.LogError("Ledger track", err)
		return
	}

	e.log.LogExecution("POSITION OPENED", string(ticket), rec.Symbol, string(rec.Side), rec.Volume, rec.EntryPrice, rec.StopLoss, rec.TakeProfit)
	e.log.Risk("Sized %s %s to %.2f lots: base %.2f, kelly %.2f, sharpe %.2f, var %.2f, vol %.2f, corr %.2f, regime %.2f, conf %.2f",
		sig.Symbol, sig.Side, decision.Volume, decision.BaseSize, decision.KellyMult, decision.SharpeMult,
		decision.VaRShrink, decision.VolMult, decision.CorrMult, decision.RegimeMult, decision.ConfMult)
	e.publish(events.Event{
		Type:       events.TypePositionOpened,
		Time:       now,
		Strategy:   rec.Strategy,
		Symbol:     rec.Symbol,
		Ticket:     ticket,
		Side:       rec.Side,
		Volume:     rec.Volume,
		Price:      rec.EntryPrice,
		StopLoss:   rec.StopLoss,
		TakeProfit: rec.TakeProfit,
		Reason:     sig.Reason,
	})
}

// reject records a non-admitted signal as an outcome.
func (e *Engine) reject(sig signal.TradeSignal, reason string, now time.Time) {
	e.log.Risk("Rejected %s %s (%s): %s", sig.Symbol, sig.Side, sig.Strategy, reason)
	e.publish(events.Event{
		Type:     events.TypeAdmissionRejected,
		Time:     now,
		Strategy: sig.Strategy,
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Reason:   reason,
	})
}

// reportGatewayFailure logs and streams a failed management call. The
// position stays in the book; the next tick retries naturally.
func (e *Engine) reportGatewayFailure(rec *position.Record, op string, err error, now time.Time) {
	e.log.LogError(fmt.Sprintf("%s %s", op, rec.Ticket), err)
	e.publish(events.Event{
		Type:   events.TypeExecutionFailed,
		Time:   now,
		Symbol: rec.Symbol,
		Ticket: rec.Ticket,
		Side:   rec.Side,
		Reason: gatewayReason(err),
	})
	e.escalate(engerr.Categorize(err, "gateway", op), now)
}

// escalate feeds one categorized gateway failure to the recovery
// monitor and applies its verdict. Halting goes through the gate so
// the stop shows up on every status surface and needs an operator
// reset like any other emergency.
func (e *Engine) escalate(failure *engerr.EngineError, now time.Time) {
	switch e.failures.Observe(failure) {
	case recovery.EscalationHalt:
		if e.gate.State() != risk.StateEmergencyStopped {
			e.gate.ForceStop("persistent gateway credential failures")
			e.publish(events.Event{Type: events.TypeEmergencyStop, Time: now, Reason: "gateway_credentials"})
		}
	case recovery.EscalationDegraded:
		if e.health != nil {
			e.health.RecordError("repeated gateway failures")
		}
	}
}

// housekeep refreshes metrics, health, the status snapshot, the
// periodic log block and the persisted state.
func (e *Engine) housekeep(totals risk.Totals, acct broker.AccountInfo, now time.Time) {
	drawdown := e.gate.Drawdown(acct.Equity)

	monitoring.UpdatePortfolio(acct.Equity, acct.Balance, totals.TotalExposure, totals.TotalVaR, drawdown, e.ledger.OpenCount())
	if e.health != nil {
		e.health.RecordTick(acct.Equity, string(e.gate.State()))
	}

	e.updateStatus(totals, acct, drawdown, now)

	if e.tickCount%logStatusEvery == 0 {
		e.log.LogPortfolioStatus(acct.Equity, acct.Balance, totals.TotalExposure, totals.TotalVaR,
			drawdown, e.ledger.OpenCount(), string(e.gate.State()))
	}

	if e.state != nil {
		e.state.Update(e.exportState(now))
	}
}

// exportState assembles the persistable snapshot of everything that
// must survive a restart.
func (e *Engine) exportState(now time.Time) state.SystemState {
	return state.SystemState{
		SessionStart: e.sessionStart,
		LastUpdated:  now,
		Gate:         e.gate.Export(),
		Stats:        e.book.Snapshot(),
		Open:         e.ledger.Snapshot(),
	}
}
