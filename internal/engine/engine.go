// Package engine runs the trading loop: one ticker goroutine that
// snapshots the market, reconciles the position ledger against the
// gateway, runs the management passes, evaluates the risk gate and
// admits new entries. All trading state is owned by that goroutine;
// the only lock in the package guards the read-only status snapshot
// served to the console and the health endpoint.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	engerr "github.com/oyi77/forex-trader-sub001/internal/errors"
	"github.com/oyi77/forex-trader-sub001/internal/events"
	"github.com/oyi77/forex-trader-sub001/internal/logger"
	"github.com/oyi77/forex-trader-sub001/internal/manage"
	"github.com/oyi77/forex-trader-sub001/internal/monitoring"
	"github.com/oyi77/forex-trader-sub001/internal/position"
	"github.com/oyi77/forex-trader-sub001/internal/recovery"
	"github.com/oyi77/forex-trader-sub001/internal/risk"
	"github.com/oyi77/forex-trader-sub001/internal/signal"
	"github.com/oyi77/forex-trader-sub001/internal/sizing"
	"github.com/oyi77/forex-trader-sub001/internal/state"
)

// logStatusEvery is the tick cadence of the portfolio status block in
// the session log. At the default 5s interval that is once a minute.
const logStatusEvery = 12

// Options wires an Engine to its collaborators. Config, Broker and
// Logger are required; the rest default to fresh instances so tests
// and backtests can run with exactly the pieces they care about.
type Options struct {
	Config *config.Config
	Broker broker.Broker
	Logger *logger.Logger

	// Ledger, Book and Gate may arrive pre-populated from a restored
	// state snapshot. Nil means start empty.
	Ledger *position.Ledger
	Book   *position.Book
	Gate   *risk.Gate

	// Signals overrides the config-selected signal source.
	Signals signal.Source

	// Sink receives the event stream. Nil drops all events.
	Sink events.Sink

	// State enables snapshot persistence and the trade journal.
	State *state.Manager

	// Health, when set, is fed a reading after every tick.
	Health *monitoring.HealthChecker

	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

// Engine owns the tick pipeline and every piece of trading state.
type Engine struct {
	cfg    *config.Config
	log    *logger.Logger
	broker broker.Broker

	ledger *position.Ledger
	book   *position.Book
	gate   *risk.Gate
	agg    *risk.Aggregator
	sizer  *sizing.Sizer

	forced  *manage.ForcedExitRules
	trail   *manage.TrailingEngine
	partial *manage.PartialCloseScheduler
	stops   *manage.StopAdjuster

	source   signal.Source
	scorer   signal.Scorer
	sink     events.Sink
	state    *state.Manager
	health   *monitoring.HealthChecker
	failures *recovery.Monitor

	now          func() time.Time
	sessionStart time.Time
	tickCount    uint64

	mu     sync.RWMutex
	status Status
}

// New validates the options and assembles the engine. The management
// passes and the sizer are built here; they share the engine's gateway,
// logger and event sink.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, engerr.NewConfigError("engine", "new", "config is required")
	}
	if opts.Broker == nil {
		return nil, engerr.NewConfigError("engine", "new", "broker is required")
	}
	if opts.Logger == nil {
		return nil, engerr.NewConfigError("engine", "new", "logger is required")
	}
	if len(opts.Config.Engine.Symbols) == 0 {
		return nil, engerr.NewConfigError("engine", "new", "at least one symbol is required")
	}

	e := &Engine{
		cfg:    opts.Config,
		log:    opts.Logger,
		broker: opts.Broker,
		ledger: opts.Ledger,
		book:   opts.Book,
		gate:   opts.Gate,
		source: opts.Signals,
		sink:   opts.Sink,
		state:  opts.State,
		health: opts.Health,
		now:    opts.Clock,
	}
	if e.ledger == nil {
		e.ledger = position.NewLedger()
	}
	if e.book == nil {
		e.book = position.NewBook()
	}
	if e.gate == nil {
		e.gate = risk.NewGate(opts.Config.Risk)
	}
	if e.source == nil {
		e.source = signal.FromConfig(opts.Config.Engine.Signal)
	}
	e.scorer = signal.ExcursionScorer{}
	if e.sink == nil {
		e.sink = events.NopSink{}
	}
	if e.now == nil {
		e.now = time.Now
	}

	e.failures = recovery.NewMonitor(e.log)
	e.agg = risk.NewAggregator(e.cfg)
	e.sizer = sizing.NewSizer(e.cfg, e.book)
	e.forced = manage.NewForcedExitRules(e.cfg, e.broker, e.log, e.sink)
	e.trail = manage.NewTrailingEngine(e.cfg.Trailing, e.broker, e.log, e.sink)
	e.partial = manage.NewPartialCloseScheduler(e.cfg.PartialClose, e.broker, e.ledger, e.log, e.sink)
	e.stops = manage.NewStopAdjuster(e.cfg, e.broker, e.log, e.sink)

	e.sessionStart = e.now()
	return e, nil
}

// Ledger exposes the position ledger for state export and reporting.
func (e *Engine) Ledger() *position.Ledger { return e.ledger }

// Book exposes the per-strategy statistics book.
func (e *Engine) Book() *position.Book { return e.book }

// Gate exposes the risk gate.
func (e *Engine) Gate() *risk.Gate { return e.gate }

// Run ticks until the context is cancelled. The first tick fires
// immediately so a fresh start does not sit idle for a full interval.
// Cancellation is the normal way to stop the engine and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Engine.TickDuration()
	e.log.Info("Engine started: %d symbol(s), tick every %s, signal source %q, broker %s",
		len(e.cfg.Engine.Symbols), interval, e.source.Name(), e.broker.Name())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("Engine stopping after %d ticks", e.tickCount)
			return nil
		case <-ticker.C:
			e.runTick(ctx)
		}
	}
}

// runTick is the panic boundary around one tick. A panic in any pass
// loses that tick, never the process; positions at the broker keep
// their protective levels either way.
func (e *Engine) runTick(ctx context.Context) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Tick %d recovered from panic: %v", e.tickCount, r)
			if e.health != nil {
				e.health.RecordError(fmt.Sprintf("tick panic: %v", r))
			}
		}
	}()

	e.tick(ctx, e.now())
	monitoring.ObserveTick(time.Since(started))
}

// ResetEmergency clears the emergency latch on behalf of an operator.
// It reports whether the latch was actually set and suits the
// monitoring server's ResetFunc directly.
func (e *Engine) ResetEmergency(operator string) bool {
	if !e.gate.Reset() {
		return false
	}
	e.log.Risk("Emergency latch cleared by %q, admissions resume", operator)
	e.publish(events.Event{
		Type:   events.TypeGateReset,
		Time:   e.now(),
		Reason: operator,
	})
	return true
}

// CloseAll flattens every open position through the gateway, folding
// each confirmed close into the ledger with the given reason. Used on
// shutdown when the config says open risk must not outlive the
// process. Returns how many positions were closed; failures are logged
// and the position left for the next session's reconcile.
func (e *Engine) CloseAll(ctx context.Context, reason position.CloseReason) int {
	closed := 0
	for _, rec := range e.ledger.Open() {
		spec, ok := e.cfg.Spec(rec.Symbol)
		if !ok {
			e.log.Warning("Cannot close %s: no spec for %s", rec.Ticket, rec.Symbol)
			continue
		}
		if err := e.broker.Close(ctx, rec.Ticket); err != nil {
			e.log.LogError(fmt.Sprintf("Close %s on shutdown", rec.Ticket), err)
			e.publish(events.Event{
				Type:   events.TypeExecutionFailed,
				Time:   e.now(),
				Symbol: rec.Symbol,
				Ticket: rec.Ticket,
				Reason: gatewayReason(err),
			})
			continue
		}
		e.finalizeClose(ctx, rec, rec.LastPrice, spec, reason, e.now())
		closed++
	}
	return closed
}

// publish sends one event to the configured sink.
func (e *Engine) publish(ev events.Event) {
	e.sink.Publish(ev)
}

// gatewayReason maps a gateway error onto its stable code for event
// streams and metric labels.
func gatewayReason(err error) string {
	var gerr *broker.GatewayError
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return "GATEWAY_ERROR"
}

// markPrice is the price a position would close at right now: longs
// exit on the bid, shorts on the ask.
func markPrice(side broker.Side, snap broker.MarketSnapshot) float64 {
	if side == broker.SideShort {
		return snap.Ask
	}
	return snap.Bid
}

// entryPrice is the side the next market order would fill on.
func entryPrice(side broker.Side, snap broker.MarketSnapshot) float64 {
	if side == broker.SideShort {
		return snap.Bid
	}
	return snap.Ask
}

// protectiveLevels places the stop and target around the entry at the
// given pip distances for the trade direction.
func protectiveLevels(side broker.Side, entry float64, spec config.SymbolSpec, stopPips, targetPips float64) (stopLoss, takeProfit float64) {
	dir := 1.0
	if side == broker.SideShort {
		dir = -1.0
	}
	stopLoss = entry - dir*spec.PipsToPrice(stopPips)
	takeProfit = entry + dir*spec.PipsToPrice(targetPips)
	return stopLoss, takeProfit
}
