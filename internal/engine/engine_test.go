package engine

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/broker/paper"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/events"
	"github.com/oyi77/forex-trader-sub001/internal/logger"
	"github.com/oyi77/forex-trader-sub001/internal/position"
	"github.com/oyi77/forex-trader-sub001/internal/risk"
	"github.com/oyi77/forex-trader-sub001/internal/signal"
)

func testSpec() config.SymbolSpec {
	return config.SymbolSpec{
		PipSize:         0.0001,
		PipValuePerLot:  10,
		NotionalPerLot:  100000,
		MarginPerLot:    500,
		MinLot:          0.01,
		MaxLot:          5.0,
		LotStep:         0.01,
		BaselineVolPips: 10,
		Base:            "EUR",
		Quote:           "USD",
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			Symbols:      []string{"EURUSD"},
			TickInterval: "5s",
			Signal: config.SignalConfig{
				Source:     "manual",
				StopPips:   20,
				TargetPips: 40,
				Strategy:   "momentum",
			},
		},
		Symbols: map[string]config.SymbolSpec{"EURUSD": testSpec()},
		Risk: config.RiskConfig{
			Profile:                  config.ProfileConservative,
			InitialBalance:           10000,
			MaxDrawdown:              0.25,
			DailyLossLimit:           0.50,
			CatastrophicLossFraction: 0.80,
			MaxPositions:             5,
			MaxPerStrategy:           3,
			MaxExposureMultiple:      10,
			MaxPortfolioVaRFraction:  0.10,
			MaxCorrelatedPositions:   3,
		},
		Sizing: config.SizingConfig{
			RiskFraction:            0.01,
			MaxLeverage:             20,
			KellyFraction:           0.5,
			TargetSharpe:            1.0,
			MinTradesForStats:       10,
			MaxPositionVaRFraction:  0.2,
			MaxAccountRiskFraction:  0.05,
			CorrelationImpactWeight: 0.25,
		},
		Trailing: config.TrailingConfig{
			ActivationPips:       15,
			BaseMultiplier:       1.0,
			MinStepPips:          2,
			StrongTrendThreshold: 0.7,
			StrongTrendFactor:    1.5,
		},
		PartialClose: config.PartialCloseConfig{
			Tiers:                []config.PartialCloseTier{{ProfitPips: 20, ClosePercent: 0.5}},
			ProfitLockEnabled:    true,
			ProfitLockBufferPips: 2,
		},
		DynamicStops: config.DynamicStopsConfig{
			MinTimeFactor:            0.5,
			VolatilityTriggerRatio:   0.5,
			CorrelationTightenFactor: 0.8,
			MaxCorrelatedForTighten:  2,
		},
		ForcedExit: config.ForcedExitConfig{
			MaxHoldHours:        48,
			ScalpMaxHoldHours:   4,
			MaxVaRFraction:      0.5,
			MaxLossFraction:     0.5,
			MaxTailRiskFraction: 1.0,
		},
		Broker: config.BrokerConfig{
			Name:  "paper",
			Paper: &config.PaperConfig{InitialBalance: 10000, SpreadPips: 0, SlippagePips: 0},
		},
	}
}

// scriptedSource hands each queued signal to the engine exactly once,
// on the next tick that snapshots its symbol.
type scriptedSource struct {
	queue []signal.TradeSignal
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Signals(snap broker.MarketSnapshot) []signal.TradeSignal {
	var out, keep []signal.TradeSignal
	for _, sig := range s.queue {
		if sig.Symbol == snap.Symbol {
			out = append(out, sig)
		} else {
			keep = append(keep, sig)
		}
	}
	s.queue = keep
	return out
}

func (s *scriptedSource) add(symbol string, side broker.Side, confidence float64) {
	s.queue = append(s.queue, signal.TradeSignal{
		Symbol:     symbol,
		Side:       side,
		Confidence: confidence,
		Strategy:   "momentum",
		Reason:     "scripted",
	})
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	cfg   *config.Config
	paper *paper.Broker
	eng   *Engine
	clock *fakeClock
	sink  *events.ChannelSink
	src   *scriptedSource
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	pb := paper.New(cfg.Broker.Paper, cfg.Symbols)
	pb.SetClock(clock.now)

	log, err := logger.NewAt(t.TempDir(), "engine-test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	src := &scriptedSource{}
	sink := events.NewChannelSink(128)
	eng, err := New(Options{
		Config:  cfg,
		Broker:  pb,
		Logger:  log,
		Signals: src,
		Sink:    sink,
		Clock:   clock.now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &harness{cfg: cfg, paper: pb, eng: eng, clock: clock, sink: sink, src: src}
}

func (h *harness) tick() {
	h.eng.runTick(context.Background())
}

func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-h.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countType(evs []events.Event, typ events.Type) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func firstOfType(evs []events.Event, typ events.Type) (events.Event, bool) {
	for _, ev := range evs {
		if ev.Type == typ {
			return ev, true
		}
	}
	return events.Event{}, false
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestTickOpensPositionFromSignal(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetScript("EURUSD", []paper.Tick{{Mid: 1.1000, ATRPips: 10}})
	h.src.add("EURUSD", broker.SideLong, 100)

	h.tick()

	if got := h.eng.Ledger().OpenCount(); got != 1 {
		t.Fatalf("expected 1 open position, got %d", got)
	}
	rec := h.eng.Ledger().Open()[0]
	if !near(rec.Volume, 0.5) {
		t.Errorf("expected 0.5 lots, got %v", rec.Volume)
	}
	if !near(rec.EntryPrice, 1.1000) {
		t.Errorf("expected entry 1.1000, got %v", rec.EntryPrice)
	}
	if !near(rec.StopLoss, 1.0980) || !near(rec.TakeProfit, 1.1040) {
		t.Errorf("expected levels 1.0980/1.1040, got %v/%v", rec.StopLoss, rec.TakeProfit)
	}
	if rec.Strategy != "momentum" {
		t.Errorf("expected strategy momentum, got %q", rec.Strategy)
	}

	evs := h.drain()
	if countType(evs, events.TypePositionOpened) != 1 {
		t.Error("expected one position_opened event")
	}

	st := h.eng.Status()
	if len(st.Open) != 1 || !near(st.Equity, 10000) {
		t.Errorf("unexpected status: %d open, equity %v", len(st.Open), st.Equity)
	}
}

func TestEntriesBlockedWhileLatched(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetScript("EURUSD", []paper.Tick{{Mid: 1.1000, ATRPips: 10}})
	h.eng.Gate().ForceStop("operator drill")

	h.src.add("EURUSD", broker.SideLong, 100)
	h.tick()

	if got := h.eng.Ledger().OpenCount(); got != 0 {
		t.Fatalf("expected no positions while latched, got %d", got)
	}
	evs := h.drain()
	rej, ok := firstOfType(evs, events.TypeAdmissionRejected)
	if !ok {
		t.Fatal("expected an admission_rejected event")
	}
	if !strings.HasPrefix(rej.Reason, "emergency stop is latched") {
		t.Errorf("unexpected rejection reason %q", rej.Reason)
	}

	if !h.eng.ResetEmergency("ops") {
		t.Fatal("expected reset to clear the latch")
	}
	if h.eng.ResetEmergency("ops") {
		t.Error("second reset should report nothing to clear")
	}
	evs = h.drain()
	if reset, ok := firstOfType(evs, events.TypeGateReset); !ok || reset.Reason != "ops" {
		t.Errorf("expected gate_reset by ops, got %+v", evs)
	}

	h.src.add("EURUSD", broker.SideLong, 100)
	h.tick()
	if got := h.eng.Ledger().OpenCount(); got != 1 {
		t.Errorf("expected entry after reset, got %d open", got)
	}
}

func TestGatewayCloseIsReconciledOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetScript("EURUSD", []paper.Tick{
		{Mid: 1.1000, ATRPips: 10},
		{Mid: 1.0975, ATRPips: 10},
	})
	h.src.add("EURUSD", broker.SideLong, 100)

	h.tick() // opens 0.5 lots at 1.1000, stop 1.0980
	h.drain()
	h.tick() // price crashes through the stop; gateway closes

	if got := h.eng.Ledger().OpenCount(); got != 0 {
		t.Fatalf("expected no open positions, got %d", got)
	}
	trades := h.eng.Ledger().ClosedTrades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(trades))
	}
	trade := trades[0]
	if trade.Reason != position.ReasonReconciliation {
		t.Errorf("expected reconciliation close, got %q", trade.Reason)
	}
	if !near(trade.Profit, -100) {
		t.Errorf("expected -100 profit (20 pips on 0.5 lots), got %v", trade.Profit)
	}
	if !near(trade.ProfitPips, -20) {
		t.Errorf("expected -20 pips, got %v", trade.ProfitPips)
	}

	if got := h.eng.Gate().ConsecutiveLosses(); got != 1 {
		t.Errorf("expected streak 1, got %d", got)
	}
	if got := h.eng.Book().Account().Trades; got != 1 {
		t.Errorf("expected 1 recorded trade, got %d", got)
	}

	evs := h.drain()
	if countType(evs, events.TypeReconciliationClose) != 1 {
		t.Error("expected one reconciliation_close event")
	}
	if countType(evs, events.TypePositionClosed) != 1 {
		t.Error("expected one position_closed event")
	}

	h.tick() // nothing left to fold
	if got := len(h.eng.Ledger().ClosedTrades()); got != 1 {
		t.Errorf("close folded twice: %d trades", got)
	}
}

// statusWithoutProfit mimics venues whose terminal status carries the
// fill price but no realized figure.
type statusWithoutProfit struct {
	*paper.Broker
}

func (b statusWithoutProfit) Status(ctx context.Context, ticket broker.Ticket) (broker.PositionStatus, error) {
	st, err := b.Broker.Status(ctx, ticket)
	if err == nil && !st.Open {
		st.RealizedProfit = 0
	}
	return st, err
}

func TestVenueCloseWithoutProfitFigureStillFeedsGate(t *testing.T) {
	cfg := testConfig()
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	pb := paper.New(cfg.Broker.Paper, cfg.Symbols)
	pb.SetClock(clock.now)
	pb.SetScript("EURUSD", []paper.Tick{
		{Mid: 1.1000, ATRPips: 10},
		{Mid: 1.0975, ATRPips: 10},
	})

	log, err := logger.NewAt(t.TempDir(), "engine-test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	src := &scriptedSource{}
	eng, err := New(Options{
		Config:  cfg,
		Broker:  statusWithoutProfit{pb},
		Logger:  log,
		Signals: src,
		Sink:    events.NewChannelSink(128),
		Clock:   clock.now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src.add("EURUSD", broker.SideLong, 100)
	eng.runTick(context.Background()) // opens 0.5 lots at 1.1000, stop 1.0980
	eng.runTick(context.Background()) // crash through the stop; venue reports price only

	trades := eng.Ledger().ClosedTrades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(trades))
	}
	if !near(trades[0].Profit, -100) {
		t.Errorf("expected -100 profit derived from the fill price, got %v", trades[0].Profit)
	}

	// The loss must reach the daily window and the streak, not vanish.
	realized, _ := eng.Gate().DailyRealized()
	if !near(realized, -100) {
		t.Errorf("daily realized = %v, want -100", realized)
	}
	if got := eng.Gate().ConsecutiveLosses(); got != 1 {
		t.Errorf("expected streak 1, got %d", got)
	}
	if got := eng.Book().Account().Trades; got != 1 {
		t.Errorf("expected 1 recorded trade, got %d", got)
	}
}

func TestForcedExitOnMaxHold(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.ForcedExit.MaxHoldHours = 2
	})
	h.paper.SetScript("EURUSD", []paper.Tick{
		{Mid: 1.1000, ATRPips: 10},
		{Mid: 1.1002, ATRPips: 10},
	})
	h.src.add("EURUSD", broker.SideLong, 100)

	h.tick()
	h.drain()

	h.clock.advance(3 * time.Hour)
	h.tick()

	if got := h.eng.Ledger().OpenCount(); got != 0 {
		t.Fatalf("expected forced flat, got %d open", got)
	}
	trades := h.eng.Ledger().ClosedTrades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Reason != position.ReasonMaxHold {
		t.Errorf("expected max-hold close, got %q", trades[0].Reason)
	}
	if !near(trades[0].Profit, 10) {
		t.Errorf("expected +10 profit (2 pips on 0.5 lots), got %v", trades[0].Profit)
	}

	evs := h.drain()
	if countType(evs, events.TypeForcedExit) != 1 {
		t.Error("expected one forced_exit event")
	}
	if countType(evs, events.TypePositionClosed) != 1 {
		t.Error("expected one position_closed event")
	}
}

func TestDrawdownLatchesEmergencyStop(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Risk.MaxDrawdown = 0.05
		cfg.Risk.MaxExposureMultiple = 40
		cfg.Sizing.RiskFraction = 0.05
	})
	h.paper.SetScript("EURUSD", []paper.Tick{
		{Mid: 1.1000, ATRPips: 10},
		{Mid: 1.0940, ATRPips: 10},
	})
	h.src.add("EURUSD", broker.SideLong, 100)

	h.tick() // opens 2.5 lots, stop 20 pips away
	h.drain()

	h.src.add("EURUSD", broker.SideLong, 100)
	h.tick() // stop fills for -500, drawdown hits 5%

	if got := h.eng.Gate().State(); got != risk.StateEmergencyStopped {
		t.Fatalf("expected emergency stop, got %s", got)
	}

	evs := h.drain()
	if countType(evs, events.TypeEmergencyStop) != 1 {
		t.Error("expected one emergency_stop event")
	}
	// The signal queued for this tick must be turned away by the
	// fresh latch, not executed.
	if countType(evs, events.TypeAdmissionRejected) != 1 {
		t.Error("expected the same-tick signal to be rejected")
	}
	if got := h.eng.Ledger().OpenCount(); got != 0 {
		t.Errorf("expected flat book, got %d open", got)
	}

	st := h.eng.Status()
	if st.GateState != risk.StateEmergencyStopped || st.TripReason == "" {
		t.Errorf("status not reflecting the latch: %+v", st.GateState)
	}
}

func TestTrailingAndPartialOnWinner(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetScript("EURUSD", []paper.Tick{
		{Mid: 1.1000, ATRPips: 10},
		{Mid: 1.1016, ATRPips: 10},
		{Mid: 1.1025, ATRPips: 10},
		{Mid: 1.1026, ATRPips: 10},
	})
	h.src.add("EURUSD", broker.SideLong, 100)

	h.tick() // open 0.5 at 1.1000
	h.tick() // +16 pips: trailing activates, stop to 1.1006
	h.tick() // +25 pips: stop to 1.1015, tier 1 banks half
	h.tick() // +26 pips: 1 pip improvement is below the min step

	if got := h.eng.Ledger().OpenCount(); got != 1 {
		t.Fatalf("expected the runner still open, got %d", got)
	}
	rec := h.eng.Ledger().Open()[0]
	if !rec.TrailingActive {
		t.Error("trailing should be active")
	}
	if rec.TierIndex != 1 {
		t.Errorf("expected tier 1 fired, got %d", rec.TierIndex)
	}
	if !near(rec.Volume, 0.25) {
		t.Errorf("expected half the volume left, got %v", rec.Volume)
	}
	if !rec.ProfitLocked {
		t.Error("profit lock should be marked")
	}
	if !near(rec.StopLoss, 1.1015) {
		t.Errorf("expected stop 1.1015, got %v", rec.StopLoss)
	}
	if !near(rec.RealizedProfit, 62.5) {
		t.Errorf("expected 62.50 banked (25 pips on 0.25), got %v", rec.RealizedProfit)
	}

	acct, err := h.paper.Account(context.Background())
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !near(acct.Balance, 10062.5) {
		t.Errorf("expected balance 10062.50, got %v", acct.Balance)
	}

	evs := h.drain()
	if countType(evs, events.TypeTrailingActivated) != 1 {
		t.Error("expected one trailing_activated event")
	}
	if countType(evs, events.TypePartialClose) != 1 {
		t.Error("expected one partial_close event")
	}
	if got := countType(evs, events.TypeStopModified); got != 2 {
		t.Errorf("expected two stop moves (activation tick and tier tick), got %d", got)
	}
}

func TestExecutionFailureLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		spec := cfg.Symbols["EURUSD"]
		spec.MarginPerLot = 50000
		cfg.Symbols["EURUSD"] = spec
	})
	h.paper.SetScript("EURUSD", []paper.Tick{{Mid: 1.1000, ATRPips: 10}})
	h.src.add("EURUSD", broker.SideLong, 100)

	h.tick()
	h.tick() // no retry without a fresh signal

	if got := h.eng.Ledger().OpenCount(); got != 0 {
		t.Fatalf("expected no position after failed open, got %d", got)
	}
	if got := len(h.eng.Ledger().ClosedTrades()); got != 0 {
		t.Fatalf("ledger must stay untouched, got %d closed trades", got)
	}

	evs := h.drain()
	if got := countType(evs, events.TypeExecutionFailed); got != 1 {
		t.Fatalf("expected exactly one execution_failed event, got %d", got)
	}
	ev, _ := firstOfType(evs, events.TypeExecutionFailed)
	if ev.Reason != broker.ErrInsufficientBalance.Code {
		t.Errorf("expected reason %q, got %q", broker.ErrInsufficientBalance.Code, ev.Reason)
	}
}

func TestSnapshotFailureSkipsSymbol(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Engine.Symbols = []string{"EURUSD", "GBPUSD"}
		cfg.Symbols["GBPUSD"] = config.SymbolSpec{
			PipSize: 0.0001, PipValuePerLot: 10, NotionalPerLot: 100000,
			MarginPerLot: 500, MinLot: 0.01, MaxLot: 5, LotStep: 0.01,
			BaselineVolPips: 10, Base: "GBP", Quote: "USD",
		}
	})
	// A dead GBPUSD feed produces quotes the snapshot check rejects.
	h.paper.SetScript("EURUSD", []paper.Tick{{Mid: 1.1000, ATRPips: 10}})
	h.paper.SetScript("GBPUSD", []paper.Tick{{Mid: 0}})
	h.src.add("EURUSD", broker.SideLong, 100)
	h.src.add("GBPUSD", broker.SideLong, 100)

	h.tick()

	if got := h.eng.Ledger().OpenCount(); got != 1 {
		t.Fatalf("expected the healthy symbol to trade, got %d open", got)
	}
	if h.eng.Ledger().Open()[0].Symbol != "EURUSD" {
		t.Errorf("unexpected symbol %s", h.eng.Ledger().Open()[0].Symbol)
	}
}

func TestCloseAllFlattensTheBook(t *testing.T) {
	h := newHarness(t, nil)
	h.paper.SetScript("EURUSD", []paper.Tick{{Mid: 1.1000, ATRPips: 10}})
	h.src.add("EURUSD", broker.SideLong, 100)
	h.src.add("EURUSD", broker.SideLong, 100)

	h.tick()
	if got := h.eng.Ledger().OpenCount(); got != 2 {
		t.Fatalf("expected two positions, got %d", got)
	}
	h.drain()

	closed := h.eng.CloseAll(context.Background(), position.ReasonShutdown)
	if closed != 2 {
		t.Fatalf("expected 2 closes, got %d", closed)
	}
	if got := h.eng.Ledger().OpenCount(); got != 0 {
		t.Errorf("expected flat book, got %d", got)
	}
	for _, trade := range h.eng.Ledger().ClosedTrades() {
		if trade.Reason != position.ReasonShutdown {
			t.Errorf("expected shutdown close, got %q", trade.Reason)
		}
		if !near(trade.Profit, 0) {
			t.Errorf("expected flat exit at unchanged price, got %v", trade.Profit)
		}
	}
	evs := h.drain()
	if got := countType(evs, events.TypePositionClosed); got != 2 {
		t.Errorf("expected two position_closed events, got %d", got)
	}
}
