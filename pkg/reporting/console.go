package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/oyi77/forex-trader-sub001/internal/position"
)

// PrintSessionSummary renders the end-of-session console tables:
// headline account numbers, per-strategy performance and the exit
// reason breakdown.
func PrintSessionSummary(w io.Writer, report *SessionReport) {
	book := report.Book
	if book == nil {
		book = position.NewBook()
	}
	account := book.Account()

	gate := report.GateState
	if report.TripReason != "" {
		gate = fmt.Sprintf("%s (%s)", gate, report.TripReason)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("SESSION SUMMARY")
	t.SetStyle(table.StyleRounded)

	rows := []table.Row{
		{"🕐 Session", report.Session},
		{"🧭 Profile", report.Profile},
		{"💱 Symbols", strings.Join(report.Symbols, ", ")},
		{"⏱ Duration", fmt.Sprintf("%.1fh", report.Duration().Hours())},
		{"💰 Start Balance", fmt.Sprintf("$%.2f", report.StartBalance)},
		{"💰 Final Balance", fmt.Sprintf("$%.2f", report.FinalBalance)},
		{"💹 Net Profit", fmt.Sprintf("$%+.2f (%+.2f%%)", report.NetProfit(), report.Return()*100)},
		{"🌊 Max Drawdown", fmt.Sprintf("%.2f%%", report.MaxDrawdown*100)},
		{"📦 Trades Closed", fmt.Sprintf("%d", len(report.Trades))},
		{"✅ Win Rate", fmt.Sprintf("%.1f%% (%d/%d)", account.WinRate()*100, account.Wins, account.Trades)},
		{"🚦 Risk Gate", gate},
	}
	if best, worst, ok := bestAndWorst(report.Trades); ok {
		rows = append(rows,
			table.Row{"🏆 Best Trade", describeTrade(best)},
			table.Row{"💀 Worst Trade", describeTrade(worst)},
		)
	}
	t.AppendRows(rows)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Fprintln(w)

	if len(report.Trades) == 0 {
		fmt.Fprintln(w, "📭 No trades were closed this session.")
		return
	}

	pt := table.NewWriter()
	pt.SetOutputMirror(w)
	pt.SetTitle("STRATEGY PERFORMANCE")
	pt.SetStyle(table.StyleRounded)
	pt.AppendHeader(table.Row{"Strategy", "Trades", "Win %", "Avg Win", "Avg Loss", "PF", "Sharpe", "Net P/L"})

	names := book.Strategies()
	sort.Strings(names)
	for _, name := range names {
		pt.AppendRow(statsRow(name, book.Stats(name)))
	}
	pt.AppendSeparator()
	pt.AppendRow(statsRow("ACCOUNT", account))
	pt.Render()
	fmt.Fprintln(w)

	rt := table.NewWriter()
	rt.SetOutputMirror(w)
	rt.SetTitle("EXIT REASONS")
	rt.SetStyle(table.StyleRounded)
	rt.AppendHeader(table.Row{"Reason", "Count", "Wins", "Net P/L"})
	for _, r := range reasonBreakdown(report.Trades) {
		rt.AppendRow(table.Row{
			r.Reason,
			fmt.Sprintf("%d", r.Count),
			fmt.Sprintf("%d", r.Wins),
			fmt.Sprintf("$%+.2f", r.Net),
		})
	}
	rt.Render()
	fmt.Fprintln(w)
}

func statsRow(name string, stats position.Stats) table.Row {
	return table.Row{
		name,
		fmt.Sprintf("%d", stats.Trades),
		fmt.Sprintf("%.1f%%", stats.WinRate()*100),
		fmt.Sprintf("$%.2f", stats.AvgWin()),
		fmt.Sprintf("$%.2f", stats.AvgLoss()),
		fmt.Sprintf("%.2f", stats.ProfitFactor()),
		fmt.Sprintf("%.2f", stats.Sharpe()),
		fmt.Sprintf("$%+.2f", stats.TotalProfit),
	}
}

// bestAndWorst picks the extremes by realized profit. ok is false for
// an empty session.
func bestAndWorst(trades []position.ClosedTrade) (best, worst position.ClosedTrade, ok bool) {
	if len(trades) == 0 {
		return best, worst, false
	}
	best, worst = trades[0], trades[0]
	for _, t := range trades[1:] {
		if t.Profit > best.Profit {
			best = t
		}
		if t.Profit < worst.Profit {
			worst = t
		}
	}
	return best, worst, true
}

func describeTrade(t position.ClosedTrade) string {
	return fmt.Sprintf("%s %s $%+.2f (%s)", t.Symbol, t.Side, t.Profit, t.Reason)
}
