package engine

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/position"
	"github.com/oyi77/forex-trader-sub001/internal/risk"
)

// Status is the read-only snapshot the engine publishes after every
// tick for the console and the health endpoint. Everything in it is a
// copy; readers never touch live trading state.
type Status struct {
	Time       time.Time
	Tick       uint64
	Equity     float64
	Balance    float64
	Exposure   float64
	TotalVaR   float64
	Drawdown   float64
	GateState  risk.State
	TripReason string

	Open            []position.Record
	ClosedTrades    int
	SessionRealized float64
}

// Status returns the snapshot from the most recent completed tick.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// updateStatus refreshes the published snapshot at the end of a tick.
func (e *Engine) updateStatus(totals risk.Totals, acct broker.AccountInfo, drawdown float64, now time.Time) {
	st := Status{
		Time:            now,
		Tick:            e.tickCount,
		Equity:          acct.Equity,
		Balance:         acct.Balance,
		Exposure:        totals.TotalExposure,
		TotalVaR:        totals.TotalVaR,
		Drawdown:        drawdown,
		GateState:       e.gate.State(),
		TripReason:      e.gate.TripReason(),
		Open:            e.ledger.Snapshot(),
		ClosedTrades:    len(e.ledger.ClosedTrades()),
		SessionRealized: e.ledger.SessionRealized(),
	}

	e.mu.Lock()
	e.status = st
	e.mu.Unlock()
}

// PrintStatus renders the portfolio snapshot and open position table
// the way the session console shows them.
func (e *Engine) PrintStatus(w io.Writer) {
	st := e.Status()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("PORTFOLIO STATUS")
	t.SetStyle(table.StyleRounded)

	gate := string(st.GateState)
	if st.TripReason != "" {
		gate = fmt.Sprintf("%s (%s)", gate, st.TripReason)
	}

	t.AppendRows([]table.Row{
		{"💼 Equity", fmt.Sprintf("$%.2f", st.Equity)},
		{"💰 Balance", fmt.Sprintf("$%.2f", st.Balance)},
		{"📊 Exposure", fmt.Sprintf("$%.2f", st.Exposure)},
		{"📉 Portfolio VaR", fmt.Sprintf("$%.2f", st.TotalVaR)},
		{"🌊 Drawdown", fmt.Sprintf("%.2f%%", st.Drawdown*100)},
		{"🚦 Risk Gate", gate},
		{"📦 Open Positions", fmt.Sprintf("%d", len(st.Open))},
		{"✅ Closed Trades", fmt.Sprintf("%d", st.ClosedTrades)},
		{"💹 Session P/L", fmt.Sprintf("$%.2f", st.SessionRealized)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Fprintln(w)

	if len(st.Open) == 0 {
		return
	}

	pt := table.NewWriter()
	pt.SetOutputMirror(w)
	pt.SetTitle("OPEN POSITIONS")
	pt.SetStyle(table.StyleRounded)
	pt.AppendHeader(table.Row{"Ticket", "Symbol", "Side", "Lots", "Entry", "Price", "Stop", "Target", "Pips", "P/L", "Score", "Age"})

	for i := range st.Open {
		rec := st.Open[i]
		spec, ok := e.cfg.Spec(rec.Symbol)
		if !ok {
			continue
		}
		pips := rec.ProfitPips(rec.LastPrice, spec)
		pl := rec.UnrealizedProfit(rec.LastPrice, spec)
		score := e.scorer.Score(&rec, rec.LastPrice, spec)
		flags := ""
		if rec.TrailingActive {
			flags = " T"
		}
		pt.AppendRow(table.Row{
			rec.Ticket,
			rec.Symbol,
			rec.Side,
			fmt.Sprintf("%.2f", rec.Volume),
			fmt.Sprintf("%.5f", rec.EntryPrice),
			fmt.Sprintf("%.5f", rec.LastPrice),
			fmt.Sprintf("%.5f", rec.StopLoss),
			fmt.Sprintf("%.5f", rec.TakeProfit),
			fmt.Sprintf("%+.1f", pips),
			fmt.Sprintf("%+.2f", pl),
			fmt.Sprintf("%.0f%s", score, flags),
			rec.Age(st.Time).Round(time.Minute),
		})
	}
	pt.Render()
	fmt.Fprintln(w)
}
