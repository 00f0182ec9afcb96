package bybit

import (
	"context"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
)

// venueSide converts a broker side to Bybit's order side.
func venueSide(side broker.Side) string {
	if side == broker.SideShort {
		return "Sell"
	}
	return "Buy"
}

// positionSide converts Bybit's position side back to a broker side.
func positionSide(s string) broker.Side {
	if s == "Sell" {
		return broker.SideShort
	}
	return broker.SideLong
}

// MarketOrder describes one market order. Qty and prices are already
// formatted to the instrument's step and tick. ReduceOnly orders must
// not carry protective levels.
type MarketOrder struct {
	Symbol     string
	Side       broker.Side
	Qty        string
	StopLoss   string
	TakeProfit string
	ReduceOnly bool
	LinkID     string
}

// OrderAck is the venue's acknowledgement of a placed order.
type OrderAck struct {
	OrderID string
	LinkID  string
	Created time.Time
}

// PlaceMarket submits a market order. The call is deliberately not
// retried: a transport failure leaves the fill state unknown and the
// next reconcile pass resolves it against the position list.
func (c *Client) PlaceMarket(ctx context.Context, ord MarketOrder) (OrderAck, error) {
	params := map[string]interface{}{
		"category":  c.category,
		"symbol":    ord.Symbol,
		"side":      venueSide(ord.Side),
		"orderType": "Market",
		"qty":       ord.Qty,
	}
	if ord.StopLoss != "" {
		params["stopLoss"] = ord.StopLoss
	}
	if ord.TakeProfit != "" {
		params["takeProfit"] = ord.TakeProfit
	}
	if ord.ReduceOnly {
		params["reduceOnly"] = true
	}
	if ord.LinkID != "" {
		params["orderLinkId"] = ord.LinkID
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return OrderAck{}, transportError("place order", err)
	}

	var ack struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		CreatedTime string `json:"createdTime"`
	}
	if err := decodeResult(result, &ack); err != nil {
		return OrderAck{}, err
	}

	return OrderAck{
		OrderID: ack.OrderID,
		LinkID:  ack.OrderLinkID,
		Created: parseMillis(ack.CreatedTime),
	}, nil
}

// SetTradingStop replaces the protective levels on the net position
// for a symbol. Empty strings leave the corresponding level untouched;
// Bybit interprets "0" as an explicit clear, so carrying the zero
// value over the wire would drop protection.
func (c *Client) SetTradingStop(ctx context.Context, symbol, stopLoss, takeProfit string) error {
	params := map[string]interface{}{
		"category":    c.category,
		"symbol":      symbol,
		"positionIdx": 0, // one-way mode
	}
	if stopLoss != "" {
		params["stopLoss"] = stopLoss
	}
	if takeProfit != "" {
		params["takeProfit"] = takeProfit
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionTradingStop(ctx)
	if err != nil {
		return transportError("set trading stop", err)
	}

	var ignored struct{}
	return decodeResult(result, &ignored)
}

// Position is one net venue position.
type Position struct {
	Symbol     string
	Side       broker.Side
	Size       float64
	EntryPrice float64
	MarkPrice  float64
	StopLoss   float64
	TakeProfit float64
	Unrealized float64
	Created    time.Time
	Updated    time.Time
}

// Positions lists open positions, optionally filtered to one symbol.
// Zero-size rows the venue keeps for one-way mode are dropped.
func (c *Client) Positions(ctx context.Context, symbol string) ([]Position, error) {
	params := map[string]interface{}{
		"category": c.category,
	}
	if symbol != "" {
		params["symbol"] = symbol
	}

	var positions []Position
	err := withRetry(ctx, c.retry, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
		if err != nil {
			return transportError("get positions", err)
		}

		var list struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				MarkPrice     string `json:"markPrice"`
				StopLoss      string `json:"stopLoss"`
				TakeProfit    string `json:"takeProfit"`
				UnrealisedPnl string `json:"unrealisedPnl"`
				CreatedTime   string `json:"createdTime"`
				UpdatedTime   string `json:"updatedTime"`
			} `json:"list"`
		}
		if err := decodeResult(result, &list); err != nil {
			return err
		}

		positions = positions[:0]
		for _, p := range list.List {
			size := parseFloat(p.Size)
			if size == 0 {
				continue
			}
			positions = append(positions, Position{
				Symbol:     p.Symbol,
				Side:       positionSide(p.Side),
				Size:       size,
				EntryPrice: parseFloat(p.AvgPrice),
				MarkPrice:  parseFloat(p.MarkPrice),
				StopLoss:   parseFloat(p.StopLoss),
				TakeProfit: parseFloat(p.TakeProfit),
				Unrealized: parseFloat(p.UnrealisedPnl),
				Created:    parseMillis(p.CreatedTime),
				Updated:    parseMillis(p.UpdatedTime),
			})
		}
		return nil
	})
	return positions, err
}

// OrderRecord is one row of the venue's order history.
type OrderRecord struct {
	OrderID    string
	Symbol     string
	Side       string // venue side, "Buy" or "Sell"
	Qty        float64
	AvgPrice   float64
	Status     string
	ReduceOnly bool
	Created    time.Time
	Updated    time.Time
}

// OrderHistory lists recent orders for a symbol, newest first. Used to
// recover the fill price of positions the venue closed on its own.
func (c *Client) OrderHistory(ctx context.Context, symbol string, limit int) ([]OrderRecord, error) {
	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}
	if limit > 0 {
		params["limit"] = limit
	}

	var orders []OrderRecord
	err := withRetry(ctx, c.retry, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
		if err != nil {
			return transportError("get order history", err)
		}

		var list struct {
			List []struct {
				OrderID     string `json:"orderId"`
				Symbol      string `json:"symbol"`
				Side        string `json:"side"`
				Qty         string `json:"qty"`
				AvgPrice    string `json:"avgPrice"`
				OrderStatus string `json:"orderStatus"`
				ReduceOnly  bool   `json:"reduceOnly"`
				CreatedTime string `json:"createdTime"`
				UpdatedTime string `json:"updatedTime"`
			} `json:"list"`
		}
		if err := decodeResult(result, &list); err != nil {
			return err
		}

		orders = orders[:0]
		for _, o := range list.List {
			orders = append(orders, OrderRecord{
				OrderID:    o.OrderID,
				Symbol:     o.Symbol,
				Side:       o.Side,
				Qty:        parseFloat(o.Qty),
				AvgPrice:   parseFloat(o.AvgPrice),
				Status:     o.OrderStatus,
				ReduceOnly: o.ReduceOnly,
				Created:    parseMillis(o.CreatedTime),
				Updated:    parseMillis(o.UpdatedTime),
			})
		}
		return nil
	})
	return orders, err
}
