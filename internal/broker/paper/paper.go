// Package paper provides an in-process broker backend with simulated
// fills. It implements the same contract as the live Bybit gateway, so
// the engine, the safety wrappers and the test suites run against it
// unchanged.
//
// Prices come from a per-symbol feed: either a script installed with
// SetScript, which replays exactly the ticks it is given, or a seeded
// random walk. Both are deterministic, so a paper session replays the
// same way every run. The feed advances one step per Snapshot call;
// after each step open positions are swept against the new quote and
// closed when price crosses a protective level, stops filling with
// slippage against the position and targets filling at their level.
package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/regime"
)

// Walk parameters. The drift term mean-reverts slowly so the walk
// produces trending stretches instead of pure noise.
const (
	defaultSeed       = 1905
	defaultAnchorPips = 10000
	defaultATRPips    = 10.0

	walkNoiseWeight = 0.6
	walkDriftDecay  = 0.92
	walkDriftShock  = 0.18
	walkStepScale   = 0.35
	momentumScale   = 2.5
)

// Tick is one scripted feed step. Mid must be positive; ATRPips falls
// back to the symbol baseline and Regime is classified from momentum
// and volatility when left empty.
type Tick struct {
	Mid      float64
	ATRPips  float64
	Momentum float64
	Regime   string
}

type quote struct {
	bid float64
	ask float64
}

// feed holds the price state for one symbol. Script mode holds the
// last tick once the script is exhausted; walk mode never runs out.
type feed struct {
	script []Tick
	cursor int

	mid     float64
	drift   float64
	baseATR float64
	rng     *rand.Rand
}

func (f *feed) next(spec config.SymbolSpec) Tick {
	if len(f.script) > 0 {
		t := f.script[f.cursor]
		if f.cursor < len(f.script)-1 {
			f.cursor++
		}
		if t.ATRPips <= 0 {
			t.ATRPips = f.baseATR
		}
		if t.Regime == "" {
			t.Regime = regime.Classify(t.Momentum, regime.VolRatio(t.ATRPips, spec.BaselineVolPips))
		}
		return t
	}

	f.drift = f.drift*walkDriftDecay + (f.rng.Float64()*2-1)*walkDriftShock
	step := (f.rng.Float64()*2-1)*walkNoiseWeight + f.drift
	f.mid += spec.PipsToPrice(f.baseATR) * step * walkStepScale
	if f.mid < spec.PipSize {
		f.mid = spec.PipSize
	}
	mom := clampUnit(f.drift * momentumScale)
	return Tick{
		Mid:      f.mid,
		ATRPips:  f.baseATR,
		Momentum: mom,
		Regime:   regime.Classify(mom, regime.VolRatio(f.baseATR, spec.BaselineVolPips)),
	}
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// position is the broker-side record of one simulated ticket.
type position struct {
	ticket     broker.Ticket
	symbol     string
	side       broker.Side
	volume     float64
	entryPrice float64
	stopLoss   float64
	takeProfit float64
	openTime   time.Time

	// terminal fields, set when the position leaves the open book
	closedPrice float64
	realized    float64
	closeTime   time.Time
}

// Broker is the simulated backend. All methods are safe for concurrent
// use; the engine itself calls them from a single goroutine.
type Broker struct {
	specs        map[string]config.SymbolSpec
	spreadPips   float64
	slippagePips float64
	seed         uint64
	now          func() time.Time

	mu      sync.RWMutex
	balance float64
	feeds   map[string]*feed
	quotes  map[string]quote
	open    map[broker.Ticket]*position
	closed  map[broker.Ticket]*position
	seq     int
}

// New builds a paper broker from the paper section of the config. The
// symbol specs drive pip arithmetic, lot constraints and margin.
func New(cfg *config.PaperConfig, specs map[string]config.SymbolSpec) *Broker {
	b := &Broker{
		specs:  specs,
		seed:   defaultSeed,
		now:    time.Now,
		feeds:  make(map[string]*feed),
		quotes: make(map[string]quote),
		open:   make(map[broker.Ticket]*position),
		closed: make(map[broker.Ticket]*position),
	}
	if cfg != nil {
		b.balance = cfg.InitialBalance
		b.spreadPips = cfg.SpreadPips
		b.slippagePips = cfg.SlippagePips
	}
	return b
}

// SetScript installs a fixed tick sequence for a symbol, replacing the
// random walk. The cursor restarts at the first tick.
func (b *Broker) SetScript(symbol string, ticks []Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.feedFor(symbol)
	f.script = ticks
	f.cursor = 0
}

// SetAnchor sets the starting price of a symbol's random walk. Without
// an anchor the walk starts at a price derived from the pip size.
func (b *Broker) SetAnchor(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if price > 0 {
		b.feedFor(symbol).mid = price
	}
}

// SetClock pins the time source for tests.
func (b *Broker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *Broker) Name() string { return "paper" }

func (b *Broker) Connect(ctx context.Context) error { return nil }

func (b *Broker) Disconnect() error { return nil }

// feedFor lazily builds the per-symbol feed. Each symbol gets its own
// generator seeded from the symbol name, so one symbol's tick count
// never disturbs another's price path.
func (b *Broker) feedFor(symbol string) *feed {
	if f, ok := b.feeds[symbol]; ok {
		return f
	}
	spec := b.specs[symbol]
	h := fnv.New64a()
	h.Write([]byte(symbol))
	f := &feed{
		mid:     spec.PipsToPrice(defaultAnchorPips),
		baseATR: spec.BaselineVolPips,
		rng:     rand.New(rand.NewSource(int64(b.seed ^ h.Sum64()))),
	}
	if f.baseATR <= 0 {
		f.baseATR = defaultATRPips
	}
	if f.mid <= 0 {
		f.mid = 1.0
	}
	b.feeds[symbol] = f
	return f
}

// Snapshot advances the symbol's feed one step, sweeps open positions
// against the new quote and returns the market view.
func (b *Broker) Snapshot(ctx context.Context, symbol string) (broker.MarketSnapshot, error) {
	spec, ok := b.specs[symbol]
	if !ok {
		return broker.MarketSnapshot{}, broker.NewGatewayError("SYMBOL_NOT_FOUND",
			fmt.Sprintf("no symbol spec configured for %s", symbol), false)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tick := b.feedFor(symbol).next(spec)
	half := spec.PipsToPrice(b.spreadPips) / 2
	q := quote{bid: tick.Mid - half, ask: tick.Mid + half}
	b.quotes[symbol] = q
	b.sweepLocked(symbol, q, spec)

	return broker.MarketSnapshot{
		Symbol:   symbol,
		Bid:      q.bid,
		Ask:      q.ask,
		ATRPips:  tick.ATRPips,
		Momentum: tick.Momentum,
		Regime:   tick.Regime,
		Time:     b.now(),
	}, nil
}

// sweepLocked closes positions whose protective level the new quote
// crossed. Stops are checked before targets.
func (b *Broker) sweepLocked(symbol string, q quote, spec config.SymbolSpec) {
	slip := spec.PipsToPrice(b.slippagePips)
	for _, pos := range b.open {
		if pos.symbol != symbol {
			continue
		}
		exit := exitSidePrice(pos.side, q)
		switch {
		case pos.stopLoss > 0 && stopHit(pos.side, exit, pos.stopLoss):
			b.closeLocked(pos, stopFill(pos.side, pos.stopLoss, slip), spec)
		case pos.takeProfit > 0 && targetHit(pos.side, exit, pos.takeProfit):
			b.closeLocked(pos, pos.takeProfit, spec)
		}
	}
}

func stopHit(side broker.Side, exit, stop float64) bool {
	if side == broker.SideLong {
		return exit <= stop
	}
	return exit >= stop
}

func targetHit(side broker.Side, exit, target float64) bool {
	if side == broker.SideLong {
		return exit >= target
	}
	return exit <= target
}

// stopFill applies slippage against the position, the way a market
// stop fills once its level trades.
func stopFill(side broker.Side, level, slip float64) float64 {
	if side == broker.SideLong {
		return level - slip
	}
	return level + slip
}

func entryFill(side broker.Side, q quote, slip float64) float64 {
	if side == broker.SideLong {
		return q.ask + slip
	}
	return q.bid - slip
}

func exitFill(side broker.Side, q quote, slip float64) float64 {
	if side == broker.SideLong {
		return q.bid - slip
	}
	return q.ask + slip
}

// exitSidePrice is the quote side the position would close on, without
// slippage. Marks and sweep triggers both use it.
func exitSidePrice(side broker.Side, q quote) float64 {
	if side == broker.SideLong {
		return q.bid
	}
	return q.ask
}

func direction(side broker.Side) float64 {
	if side == broker.SideShort {
		return -1
	}
	return 1
}

// closeLocked realizes the remaining volume at the fill price and moves
// the position to the terminal book.
func (b *Broker) closeLocked(pos *position, fill float64, spec config.SymbolSpec) {
	pips := spec.PriceToPips((fill - pos.entryPrice) * direction(pos.side))
	pos.realized = pips * spec.PipValuePerLot * pos.volume
	pos.closedPrice = fill
	pos.closeTime = b.now()
	b.balance += pos.realized

	delete(b.open, pos.ticket)
	b.closed[pos.ticket] = pos
}

// alignVolume applies the symbol lot constraints the way the live
// gateway does: floor to the step, cap at the maximum, reject anything
// that cannot reach the minimum.
func alignVolume(vol float64, spec config.SymbolSpec) (float64, error) {
	if vol <= 0 {
		return 0, broker.ErrInvalidVolume
	}
	if spec.LotStep > 0 {
		vol = math.Floor(vol/spec.LotStep+1e-9) * spec.LotStep
	}
	if spec.MaxLot > 0 && vol > spec.MaxLot {
		vol = spec.MaxLot
	}
	if spec.MinLot > 0 && vol < spec.MinLot {
		return 0, broker.ErrInvalidVolume
	}
	if vol <= 0 {
		return 0, broker.ErrInvalidVolume
	}
	return vol, nil
}

// usedMarginLocked sums the margin held against open positions.
func (b *Broker) usedMarginLocked() float64 {
	total := 0.0
	for _, pos := range b.open {
		total += b.specs[pos.symbol].MarginPerLot * pos.volume
	}
	return total
}

// unrealizedLocked marks an open position at the exit side of the
// current quote. Zero until the symbol has traded at least one tick.
func (b *Broker) unrealizedLocked(pos *position, spec config.SymbolSpec) float64 {
	q, ok := b.quotes[pos.symbol]
	if !ok {
		return 0
	}
	pips := spec.PriceToPips((exitSidePrice(pos.side, q) - pos.entryPrice) * direction(pos.side))
	return pips * spec.PipValuePerLot * pos.volume
}

func (b *Broker) equityLocked() float64 {
	equity := b.balance
	for _, pos := range b.open {
		equity += b.unrealizedLocked(pos, b.specs[pos.symbol])
	}
	return equity
}

// Open fills a market order at the current quote plus slippage. The
// symbol must have produced at least one snapshot, otherwise there is
// no price to fill at.
func (b *Broker) Open(ctx context.Context, req broker.OpenRequest) (broker.Ticket, error) {
	spec, ok := b.specs[req.Symbol]
	if !ok {
		return "", broker.NewGatewayError("SYMBOL_NOT_FOUND",
			fmt.Sprintf("no symbol spec configured for %s", req.Symbol), false)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.quotes[req.Symbol]
	if !ok {
		return "", broker.NewGatewayError("NO_QUOTE",
			fmt.Sprintf("no market data for %s yet", req.Symbol), false)
	}
	vol, err := alignVolume(req.Volume, spec)
	if err != nil {
		return "", err
	}
	if spec.MarginPerLot > 0 {
		free := b.equityLocked() - b.usedMarginLocked()
		if spec.MarginPerLot*vol > free {
			return "", broker.ErrInsufficientBalance
		}
	}

	b.seq++
	pos := &position{
		ticket:     broker.Ticket(fmt.Sprintf("paper-%06d", b.seq)),
		symbol:     req.Symbol,
		side:       req.Side,
		volume:     vol,
		entryPrice: entryFill(req.Side, q, spec.PipsToPrice(b.slippagePips)),
		stopLoss:   req.StopLoss,
		takeProfit: req.TakeProfit,
		openTime:   b.now(),
	}
	b.open[pos.ticket] = pos
	return pos.ticket, nil
}

// Modify replaces the protective levels of an open ticket. Zero leaves
// the corresponding level as it was. Levels are applied as given; a
// level already beyond the market closes the position on the symbol's
// next snapshot.
func (b *Broker) Modify(ctx context.Context, ticket broker.Ticket, stopLoss, takeProfit float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[ticket]
	if !ok {
		return broker.ErrTicketNotFound
	}
	if stopLoss > 0 {
		pos.stopLoss = stopLoss
	}
	if takeProfit > 0 {
		pos.takeProfit = takeProfit
	}
	return nil
}

// PartialClose realizes part of the position at the current quote.
// The requested volume must leave the position open; a full flatten
// goes through Close.
func (b *Broker) PartialClose(ctx context.Context, ticket broker.Ticket, volume float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[ticket]
	if !ok {
		return broker.ErrTicketNotFound
	}
	spec := b.specs[pos.symbol]
	if volume <= 0 || volume >= pos.volume-spec.LotStep/2 {
		return broker.ErrInvalidVolume
	}
	q, ok := b.quotes[pos.symbol]
	if !ok {
		return broker.NewGatewayError("NO_QUOTE",
			fmt.Sprintf("no market data for %s yet", pos.symbol), false)
	}

	fill := exitFill(pos.side, q, spec.PipsToPrice(b.slippagePips))
	pips := spec.PriceToPips((fill - pos.entryPrice) * direction(pos.side))
	b.balance += pips * spec.PipValuePerLot * volume
	pos.volume -= volume
	return nil
}

// Close flattens the ticket at the current quote plus slippage.
func (b *Broker) Close(ctx context.Context, ticket broker.Ticket) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[ticket]
	if !ok {
		return broker.ErrTicketNotFound
	}
	spec := b.specs[pos.symbol]
	q, ok := b.quotes[pos.symbol]
	if !ok {
		return broker.NewGatewayError("NO_QUOTE",
			fmt.Sprintf("no market data for %s yet", pos.symbol), false)
	}
	b.closeLocked(pos, exitFill(pos.side, q, spec.PipsToPrice(b.slippagePips)), spec)
	return nil
}

// Status reports the broker-side view of a ticket. Open positions are
// marked at the exit side of the last quote; closed ones carry their
// terminal fill. RealizedProfit covers the final fill only, partial
// closes are banked into the balance as they happen.
func (b *Broker) Status(ctx context.Context, ticket broker.Ticket) (broker.PositionStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if pos, ok := b.open[ticket]; ok {
		spec := b.specs[pos.symbol]
		st := broker.PositionStatus{
			Ticket:     ticket,
			Open:       true,
			Volume:     pos.volume,
			StopLoss:   pos.stopLoss,
			TakeProfit: pos.takeProfit,
		}
		if q, ok := b.quotes[pos.symbol]; ok {
			st.CurrentPrice = exitSidePrice(pos.side, q)
			st.Unrealized = b.unrealizedLocked(pos, spec)
		}
		return st, nil
	}
	if pos, ok := b.closed[ticket]; ok {
		return broker.PositionStatus{
			Ticket:         ticket,
			Open:           false,
			ClosedPrice:    pos.closedPrice,
			RealizedProfit: pos.realized,
			CloseTime:      pos.closeTime,
		}, nil
	}
	return broker.PositionStatus{}, broker.ErrTicketNotFound
}

// Account reports the simulated balance and marked equity.
func (b *Broker) Account(ctx context.Context) (broker.AccountInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return broker.AccountInfo{
		Balance: b.balance,
		Equity:  b.equityLocked(),
	}, nil
}
