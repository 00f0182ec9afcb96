package bybit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
	"github.com/oyi77/forex-trader-sub001/internal/indicators"
	"github.com/oyi77/forex-trader-sub001/internal/logger"
	"github.com/oyi77/forex-trader-sub001/internal/regime"
)

// Gateway implements the broker contract on top of the Bybit client.
// Volume on the contract is submitted directly as venue quantity in
// base units, so SymbolSpec lot arithmetic must be quoted per 1.0 of
// base quantity.
type Gateway struct {
	client *Client
	specs  map[string]config.SymbolSpec
	log    *logger.Logger

	klineInterval KlineInterval
	klineDepth    int
	atrPeriod     int
	momoPeriod    int
}

// NewGateway creates a gateway for the configured symbols.
func NewGateway(cfg Config, specs map[string]config.SymbolSpec, log *logger.Logger) *Gateway {
	return &Gateway{
		client:        NewClient(cfg),
		specs:         specs,
		log:           log,
		klineInterval: defaultKlineInterval,
		klineDepth:    defaultKlineDepth,
		atrPeriod:     defaultATRPeriod,
		momoPeriod:    defaultMomoPeriod,
	}
}

// Name identifies the backend.
func (g *Gateway) Name() string {
	return "bybit"
}

// Connect verifies credentials and reachability with a wallet read.
func (g *Gateway) Connect(ctx context.Context) error {
	info, err := g.client.WalletEquity(ctx)
	if err != nil {
		return err
	}
	if g.log != nil {
		g.log.Info("Connected to Bybit %s, equity %.2f", g.client.Environment(), info.Equity)
	}
	return nil
}

// Disconnect releases nothing; the client is a stateless REST wrapper.
func (g *Gateway) Disconnect() error {
	return nil
}

// Snapshot assembles the per-tick market view for a symbol: top of
// book from the ticker, ATR/momentum/regime derived from the recent
// kline window.
func (g *Gateway) Snapshot(ctx context.Context, symbol string) (broker.MarketSnapshot, error) {
	spec, ok := g.specs[symbol]
	if !ok {
		return broker.MarketSnapshot{}, broker.NewGatewayError("SYMBOL_NOT_FOUND",
			fmt.Sprintf("no symbol spec configured for %s", symbol), false)
	}

	quote, err := g.client.Ticker(ctx, symbol)
	if err != nil {
		return broker.MarketSnapshot{}, err
	}

	klines, err := g.client.Klines(ctx, KlineParams{
		Symbol:   symbol,
		Interval: g.klineInterval,
		Limit:    g.klineDepth,
	})
	if err != nil {
		return broker.MarketSnapshot{}, err
	}

	bars := toBars(klines)
	atrPips := spec.PriceToPips(indicators.ATR(bars, g.atrPeriod))
	momentum := indicators.EfficiencyRatio(bars, g.momoPeriod)
	volRatio := regime.VolRatio(atrPips, spec.BaselineVolPips)

	return broker.MarketSnapshot{
		Symbol:   symbol,
		Bid:      quote.Bid,
		Ask:      quote.Ask,
		ATRPips:  atrPips,
		Momentum: momentum,
		Regime:   regime.Classify(momentum, volRatio),
		Time:     quote.Time,
	}, nil
}

// Open places a market order with attached protective levels and
// synthesizes the ticket from symbol, side and the venue's order
// creation time.
func (g *Gateway) Open(ctx context.Context, req broker.OpenRequest) (broker.Ticket, error) {
	inst, err := g.client.Instruments().Get(ctx, req.Symbol)
	if err != nil {
		return "", err
	}
	qty, err := alignQty(req.Volume, inst.MinQty, inst.MaxQty, inst.QtyStep)
	if err != nil {
		return "", err
	}

	ack, err := g.client.PlaceMarket(ctx, MarketOrder{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        formatQty(qty, inst.QtyStep),
		StopLoss:   formatPrice(req.StopLoss, inst.TickSize),
		TakeProfit: formatPrice(req.TakeProfit, inst.TickSize),
		LinkID:     linkID(req.Strategy),
	})
	if err != nil {
		return "", err
	}

	opened := ack.Created
	if opened.IsZero() {
		opened = time.Now()
	}
	return makeTicket(req.Symbol, req.Side, opened), nil
}

// Modify replaces the protective levels on the ticket's net position.
// Zero values leave the corresponding level unchanged.
func (g *Gateway) Modify(ctx context.Context, ticket broker.Ticket, stopLoss, takeProfit float64) error {
	symbol, _, _, err := splitTicket(ticket)
	if err != nil {
		return err
	}
	if stopLoss <= 0 && takeProfit <= 0 {
		return nil
	}

	inst, err := g.client.Instruments().Get(ctx, symbol)
	if err != nil {
		return err
	}
	return g.client.SetTradingStop(ctx, symbol,
		formatPrice(stopLoss, inst.TickSize),
		formatPrice(takeProfit, inst.TickSize))
}

// PartialClose reduces the position with a reduce-only market order.
func (g *Gateway) PartialClose(ctx context.Context, ticket broker.Ticket, volume float64) error {
	symbol, side, _, err := splitTicket(ticket)
	if err != nil {
		return err
	}

	inst, err := g.client.Instruments().Get(ctx, symbol)
	if err != nil {
		return err
	}
	qty, err := alignQty(volume, inst.MinQty, inst.MaxQty, inst.QtyStep)
	if err != nil {
		return err
	}

	_, err = g.client.PlaceMarket(ctx, MarketOrder{
		Symbol:     symbol,
		Side:       side.Opposite(),
		Qty:        formatQty(qty, inst.QtyStep),
		ReduceOnly: true,
	})
	return err
}

// Close flattens the ticket's position at its current venue size.
func (g *Gateway) Close(ctx context.Context, ticket broker.Ticket) error {
	symbol, side, _, err := splitTicket(ticket)
	if err != nil {
		return err
	}

	positions, err := g.client.Positions(ctx, symbol)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.Side != side {
			continue
		}
		inst, err := g.client.Instruments().Get(ctx, symbol)
		if err != nil {
			return err
		}
		_, err = g.client.PlaceMarket(ctx, MarketOrder{
			Symbol:     symbol,
			Side:       side.Opposite(),
			Qty:        formatQty(pos.Size, inst.QtyStep),
			ReduceOnly: true,
		})
		return err
	}
	return broker.ErrTicketNotFound
}

// Status reports the venue's view of the ticket. For positions the
// venue closed on its own the terminal price comes from the last
// filled reduce-only order; RealizedProfit is not populated here, the
// ledger derives it from its own entry price and ClosedPrice.
func (g *Gateway) Status(ctx context.Context, ticket broker.Ticket) (broker.PositionStatus, error) {
	symbol, side, opened, err := splitTicket(ticket)
	if err != nil {
		return broker.PositionStatus{}, err
	}

	positions, err := g.client.Positions(ctx, symbol)
	if err != nil {
		return broker.PositionStatus{}, err
	}
	for _, pos := range positions {
		if pos.Side != side {
			continue
		}
		return broker.PositionStatus{
			Ticket:       ticket,
			Open:         true,
			CurrentPrice: pos.MarkPrice,
			Volume:       pos.Size,
			StopLoss:     pos.StopLoss,
			TakeProfit:   pos.TakeProfit,
			Unrealized:   pos.Unrealized,
		}, nil
	}

	st := broker.PositionStatus{Ticket: ticket, Open: false, CloseTime: time.Now()}
	if price, at, ok := g.lastReduceFill(ctx, symbol, side, opened); ok {
		st.ClosedPrice = price
		st.CloseTime = at
	} else if quote, qerr := g.client.Ticker(ctx, symbol); qerr == nil {
		st.ClosedPrice = quote.Last
		st.CloseTime = quote.Time
	}
	return st, nil
}

// lastReduceFill finds the most recent filled reduce-only order that
// would have closed a position of the given side.
func (g *Gateway) lastReduceFill(ctx context.Context, symbol string, side broker.Side, opened time.Time) (float64, time.Time, bool) {
	orders, err := g.client.OrderHistory(ctx, symbol, 20)
	if err != nil {
		return 0, time.Time{}, false
	}
	closing := venueSide(side.Opposite())
	for _, o := range orders {
		if !o.ReduceOnly || o.Status != "Filled" || o.Side != closing {
			continue
		}
		if !opened.IsZero() && o.Updated.Before(opened) {
			continue
		}
		return o.AvgPrice, o.Updated, true
	}
	return 0, time.Time{}, false
}

// Account reads balance and equity from the unified wallet.
func (g *Gateway) Account(ctx context.Context) (broker.AccountInfo, error) {
	return g.client.WalletEquity(ctx)
}

// makeTicket synthesizes the stable position identifier. Bybit nets
// positions per symbol and side, so the open time disambiguates the
// ledger entry, not the venue lookup.
func makeTicket(symbol string, side broker.Side, opened time.Time) broker.Ticket {
	return broker.Ticket(fmt.Sprintf("%s/%s/%d", symbol, side, opened.UnixMilli()))
}

// splitTicket recovers symbol, side and open time from a ticket.
func splitTicket(t broker.Ticket) (string, broker.Side, time.Time, error) {
	parts := strings.Split(string(t), "/")
	if len(parts) != 3 || parts[0] == "" {
		return "", "", time.Time{}, broker.NewGatewayError("BAD_TICKET",
			fmt.Sprintf("malformed ticket %q", t), false)
	}
	side := broker.Side(parts[1])
	if side != broker.SideLong && side != broker.SideShort {
		return "", "", time.Time{}, broker.NewGatewayError("BAD_TICKET",
			fmt.Sprintf("malformed ticket %q", t), false)
	}
	msec, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", time.Time{}, broker.NewGatewayError("BAD_TICKET",
			fmt.Sprintf("malformed ticket %q", t), false)
	}
	return parts[0], side, time.UnixMilli(msec), nil
}

// linkID builds an order link ID from the strategy tag. Bybit allows
// 36 chars from a restricted alphabet.
func linkID(strategy string) string {
	tag := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, strategy)
	if tag == "" {
		tag = "trader"
	}
	id := fmt.Sprintf("%s-%d", tag, time.Now().UnixNano())
	if len(id) > 36 {
		id = id[len(id)-36:]
	}
	return id
}
