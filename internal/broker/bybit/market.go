package bybit

import (
	"context"
	"sort"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/indicators"
)

// KlineInterval is a candle size in Bybit's wire format.
type KlineInterval string

const (
	Interval1m  KlineInterval = "1"
	Interval3m  KlineInterval = "3"
	Interval5m  KlineInterval = "5"
	Interval15m KlineInterval = "15"
	Interval30m KlineInterval = "30"
	Interval1h  KlineInterval = "60"
	Interval4h  KlineInterval = "240"
	Interval1d  KlineInterval = "D"
)

// Kline is one candle.
type Kline struct {
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Turnover float64
}

// KlineParams selects the candles to fetch.
type KlineParams struct {
	Symbol   string
	Interval KlineInterval
	Limit    int // max 1000, default 200
	Start    *time.Time
	End      *time.Time
}

// Klines fetches candles for a symbol, oldest first.
func (c *Client) Klines(ctx context.Context, params KlineParams) ([]Kline, error) {
	if params.Limit == 0 {
		params.Limit = 200
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}

	reqParams := map[string]interface{}{
		"category": c.category,
		"symbol":   params.Symbol,
		"interval": string(params.Interval),
		"limit":    params.Limit,
	}
	if params.Start != nil {
		reqParams["start"] = params.Start.UnixMilli()
	}
	if params.End != nil {
		reqParams["end"] = params.End.UnixMilli()
	}

	var klines []Kline
	err := withRetry(ctx, c.retry, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(reqParams).GetMarketKline(ctx)
		if err != nil {
			return transportError("get klines", err)
		}
		parsed, err := parseKlines(result)
		if err != nil {
			return err
		}
		klines = parsed
		return nil
	})
	return klines, err
}

// parseKlines decodes the kline envelope. The venue returns candles
// newest first; callers get them in chronological order.
func parseKlines(response interface{}) ([]Kline, error) {
	var result struct {
		Symbol   string     `json:"symbol"`
		Category string     `json:"category"`
		List     [][]string `json:"list"`
	}
	if err := decodeResult(response, &result); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(result.List))
	for _, item := range result.List {
		if len(item) < 7 {
			continue
		}
		// [startTime, open, high, low, close, volume, turnover]
		klines = append(klines, Kline{
			Start:    parseMillis(item[0]),
			Open:     parseFloat(item[1]),
			High:     parseFloat(item[2]),
			Low:      parseFloat(item[3]),
			Close:    parseFloat(item[4]),
			Volume:   parseFloat(item[5]),
			Turnover: parseFloat(item[6]),
		})
	}

	sort.Slice(klines, func(i, j int) bool {
		return klines[i].Start.Before(klines[j].Start)
	})
	return klines, nil
}

// Quote is the current top of book for a symbol.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	Time   time.Time
}

// Ticker fetches the current quote for a symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (Quote, error) {
	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}

	var quote Quote
	err := withRetry(ctx, c.retry, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
		if err != nil {
			return transportError("get tickers", err)
		}

		var tickers struct {
			Category string `json:"category"`
			List     []struct {
				Symbol    string `json:"symbol"`
				Bid1Price string `json:"bid1Price"`
				Ask1Price string `json:"ask1Price"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		}
		if err := decodeResult(result, &tickers); err != nil {
			return err
		}
		if len(tickers.List) == 0 {
			return broker.NewGatewayError("SYMBOL_NOT_FOUND", "no ticker data for "+symbol, false)
		}

		t := tickers.List[0]
		quote = Quote{
			Symbol: t.Symbol,
			Bid:    parseFloat(t.Bid1Price),
			Ask:    parseFloat(t.Ask1Price),
			Last:   parseFloat(t.LastPrice),
			Time:   time.Now(),
		}
		return nil
	})
	return quote, err
}

// Snapshot derivation parameters. ATR uses Wilder smoothing, momentum
// is a signed efficiency ratio in [-1, 1]: net close-to-close change
// over the window divided by the sum of absolute bar changes.
const (
	defaultKlineInterval = Interval5m
	defaultKlineDepth    = 64
	defaultATRPeriod     = 14
	defaultMomoPeriod    = 10
)

// toBars strips venue fields so the indicator math sees plain candles.
func toBars(klines []Kline) []indicators.Bar {
	bars := make([]indicators.Bar, len(klines))
	for i, k := range klines {
		bars[i] = indicators.Bar{Open: k.Open, High: k.High, Low: k.Low, Close: k.Close}
	}
	return bars
}
