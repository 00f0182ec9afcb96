package position

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/config"
)

// Ledger tracks open positions by ticket and accumulates the session's
// closed trades. All mutation happens on the engine tick goroutine; the
// lock exists for the status and monitoring readers.
type Ledger struct {
	mu     sync.RWMutex
	open   map[broker.Ticket]*Record
	closed []ClosedTrade
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		open: make(map[broker.Ticket]*Record),
	}
}

// Track adds a freshly filled position to the book. Tracking the same
// ticket twice is a programming error and is rejected.
func (l *Ledger) Track(rec *Record) error {
	if rec == nil || rec.Ticket == "" {
		return fmt.Errorf("cannot track position without ticket")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.open[rec.Ticket]; exists {
		return fmt.Errorf("ticket %s is already tracked", rec.Ticket)
	}
	if rec.OriginalVolume == 0 {
		rec.OriginalVolume = rec.Volume
	}
	l.open[rec.Ticket] = rec
	return nil
}

// Get returns the live record for a ticket. Callers on the tick
// goroutine may mutate it through the management passes.
func (l *Ledger) Get(ticket broker.Ticket) (*Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.open[ticket]
	return rec, ok
}

// Open returns the open records ordered by open time, then ticket, so
// every management pass walks the book in the same order.
func (l *Ledger) Open() []*Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Record, 0, len(l.open))
	for _, rec := range l.open {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].Ticket < out[j].Ticket
		}
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

// OpenCount is the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.open)
}

// CountByStrategy counts open positions belonging to one strategy.
func (l *Ledger) CountByStrategy(strategy string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, rec := range l.open {
		if rec.Strategy == strategy {
			n++
		}
	}
	return n
}

// CountForSymbol counts open positions on one symbol.
func (l *Ledger) CountForSymbol(symbol string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, rec := range l.open {
		if rec.Symbol == symbol {
			n++
		}
	}
	return n
}

// Close removes a position from the book and records the closed trade.
// The realized profit passed in covers the final fill only; banked
// partial-close profit is folded in here.
func (l *Ledger) Close(ticket broker.Ticket, closePrice, finalProfit float64, reason CloseReason, now time.Time, spec config.SymbolSpec) (ClosedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.open[ticket]
	if !ok {
		return ClosedTrade{}, fmt.Errorf("ticket %s is not tracked", ticket)
	}
	delete(l.open, ticket)

	trade := ClosedTrade{
		Ticket:        rec.Ticket,
		Symbol:        rec.Symbol,
		Side:          rec.Side,
		Strategy:      rec.Strategy,
		OpenTime:      rec.OpenTime,
		CloseTime:     now,
		EntryPrice:    rec.EntryPrice,
		ClosePrice:    closePrice,
		Volume:        rec.OriginalVolume,
		FinalVolume:   rec.Volume,
		PartialVolume: rec.OriginalVolume - rec.Volume,
		PeakPips:      rec.PeakProfitPips,
		TroughPips:    rec.TroughProfitPips,
		Partials:      rec.TierIndex,
		Confidence:    rec.Confidence,
		Reason:        reason,
	}
	if closePrice > 0 {
		trade.ProfitPips = spec.PriceToPips((closePrice - rec.EntryPrice) * rec.Direction())
		// Gateways that only report the terminal fill price leave the
		// realized figure at zero; derive it from the remaining volume.
		if finalProfit == 0 {
			finalProfit = trade.ProfitPips * spec.PipValuePerLot * rec.Volume
		}
	}
	trade.Profit = rec.RealizedProfit + finalProfit
	l.closed = append(l.closed, trade)
	return trade, nil
}

// ApplyPartialClose reduces the tracked volume after a partial fill and
// banks the realized slice.
func (l *Ledger) ApplyPartialClose(ticket broker.Ticket, closedVolume, realized float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.open[ticket]
	if !ok {
		return fmt.Errorf("ticket %s is not tracked", ticket)
	}
	if closedVolume <= 0 || closedVolume >= rec.Volume {
		return fmt.Errorf("partial close volume %.4f out of range for ticket %s", closedVolume, ticket)
	}
	rec.Volume -= closedVolume
	rec.RealizedProfit += realized
	return nil
}

// ClosedTrades returns a copy of the session's closed trades in close
// order.
func (l *Ledger) ClosedTrades() []ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ClosedTrade, len(l.closed))
	copy(out, l.closed)
	return out
}

// SessionRealized sums profit across closed trades plus the banked
// partial profit still attached to open positions.
func (l *Ledger) SessionRealized() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0.0
	for _, t := range l.closed {
		total += t.Profit
	}
	for _, rec := range l.open {
		total += rec.RealizedProfit
	}
	return total
}

// Snapshot returns deep copies of the open records for readers outside
// the tick goroutine.
func (l *Ledger) Snapshot() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, 0, len(l.open))
	for _, rec := range l.open {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].Ticket < out[j].Ticket
		}
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

// RestoreOpen reseeds the book from persisted records, used once at
// startup before reconciliation against the gateway.
func (l *Ledger) RestoreOpen(records []Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range records {
		rec := records[i]
		if rec.Ticket == "" {
			continue
		}
		l.open[rec.Ticket] = &rec
	}
}
