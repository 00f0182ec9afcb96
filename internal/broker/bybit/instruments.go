package bybit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
)

// Instrument carries the order constraints for one symbol.
type Instrument struct {
	Symbol      string
	Status      string
	TickSize    float64
	MinQty      float64
	MaxQty      float64
	QtyStep     float64
	MinNotional float64
}

// InstrumentCache caches instrument constraints per symbol so order
// submission does not pay an extra round trip on every tick.
type InstrumentCache struct {
	client  *Client
	mutex   sync.RWMutex
	entries map[string]Instrument
	fetched map[string]time.Time
	ttl     time.Duration
}

// NewInstrumentCache creates a cache with a one hour refresh interval.
func NewInstrumentCache(client *Client) *InstrumentCache {
	return &InstrumentCache{
		client:  client,
		entries: make(map[string]Instrument),
		fetched: make(map[string]time.Time),
		ttl:     time.Hour,
	}
}

// Get returns the constraints for a symbol, fetching them when the
// cached entry is missing or stale.
func (ic *InstrumentCache) Get(ctx context.Context, symbol string) (Instrument, error) {
	ic.mutex.RLock()
	inst, ok := ic.entries[symbol]
	fresh := ok && time.Since(ic.fetched[symbol]) < ic.ttl
	ic.mutex.RUnlock()
	if fresh {
		return inst, nil
	}

	fetched, err := ic.fetch(ctx, symbol)
	if err != nil {
		if ok {
			// Stale beats nothing when the venue is unreachable.
			return inst, nil
		}
		return Instrument{}, err
	}

	ic.mutex.Lock()
	ic.entries[symbol] = fetched
	ic.fetched[symbol] = time.Now()
	ic.mutex.Unlock()
	return fetched, nil
}

func (ic *InstrumentCache) fetch(ctx context.Context, symbol string) (Instrument, error) {
	c := ic.client
	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}

	var inst Instrument
	err := withRetry(ctx, c.retry, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
		if err != nil {
			return transportError("get instrument info", err)
		}

		var info struct {
			Category string `json:"category"`
			List     []struct {
				Symbol      string `json:"symbol"`
				Status      string `json:"status"`
				PriceFilter struct {
					TickSize string `json:"tickSize"`
				} `json:"priceFilter"`
				LotSizeFilter struct {
					MinNotionalValue string `json:"minNotionalValue"`
					MaxOrderQty      string `json:"maxOrderQty"`
					MinOrderQty      string `json:"minOrderQty"`
					QtyStep          string `json:"qtyStep"`
				} `json:"lotSizeFilter"`
			} `json:"list"`
		}
		if err := decodeResult(result, &info); err != nil {
			return err
		}

		for _, item := range info.List {
			if item.Symbol != symbol {
				continue
			}
			inst = Instrument{
				Symbol:      item.Symbol,
				Status:      item.Status,
				TickSize:    parseFloat(item.PriceFilter.TickSize),
				MinQty:      parseFloat(item.LotSizeFilter.MinOrderQty),
				MaxQty:      parseFloat(item.LotSizeFilter.MaxOrderQty),
				QtyStep:     parseFloat(item.LotSizeFilter.QtyStep),
				MinNotional: parseFloat(item.LotSizeFilter.MinNotionalValue),
			}
			return nil
		}
		return broker.NewGatewayError("SYMBOL_NOT_FOUND",
			fmt.Sprintf("instrument %s not listed", symbol), false)
	})
	return inst, err
}

// AlignQty floors qty onto the instrument's step and caps it at the
// maximum order size. A quantity that cannot reach the venue minimum
// is rejected rather than silently raised; raising it would put on
// more risk than the sizing chain approved.
func (ic *InstrumentCache) AlignQty(ctx context.Context, symbol string, qty float64) (float64, error) {
	inst, err := ic.Get(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return alignQty(qty, inst.MinQty, inst.MaxQty, inst.QtyStep)
}

func alignQty(qty, minQty, maxQty, step float64) (float64, error) {
	if qty <= 0 {
		return 0, broker.ErrInvalidVolume
	}
	if step > 0 {
		qty = math.Floor(qty/step+1e-9) * step
	}
	if maxQty > 0 && qty > maxQty {
		qty = maxQty
	}
	if qty < minQty || qty <= 0 {
		return 0, broker.ErrInvalidVolume
	}
	return qty, nil
}

// decimalsFor counts the decimal places of a step or tick size, used
// to format quantities and prices the way the venue expects.
func decimalsFor(step float64) int {
	if step <= 0 {
		return 8
	}
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// formatQty renders a quantity aligned to the instrument's step.
func formatQty(qty, step float64) string {
	return strconv.FormatFloat(qty, 'f', decimalsFor(step), 64)
}

// formatPrice rounds a price to the instrument's tick and renders it.
// A zero price formats to the empty string so optional levels drop out
// of order parameters entirely.
func formatPrice(price, tick float64) string {
	if price <= 0 {
		return ""
	}
	if tick > 0 {
		price = math.Round(price/tick) * tick
	}
	return strconv.FormatFloat(price, 'f', decimalsFor(tick), 64)
}
