// Package reporting renders end-of-session output: a styled Excel
// trade journal and console summary tables. Everything here works on
// copies handed over at shutdown; nothing reaches back into live
// trading state.
package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/position"
	"github.com/xuri/excelize/v2"
)

// SessionReport bundles what the journal and summary writers need:
// the session's closed trades, the per-strategy stats book and the
// account numbers captured at shutdown.
type SessionReport struct {
	Session      string
	Profile      string
	Symbols      []string
	StartTime    time.Time
	EndTime      time.Time
	StartBalance float64
	FinalBalance float64
	FinalEquity  float64
	PeakEquity   float64
	MaxDrawdown  float64 // fraction of peak equity
	GateState    string
	TripReason   string
	Trades       []position.ClosedTrade
	Book         *position.Book
}

// NetProfit is the session's realized result, final minus starting balance.
func (r *SessionReport) NetProfit() float64 {
	return r.FinalBalance - r.StartBalance
}

// Return is the session result as a fraction of the starting balance.
func (r *SessionReport) Return() float64 {
	if r.StartBalance == 0 {
		return 0
	}
	return r.NetProfit() / r.StartBalance
}

// Duration is the session wall-clock length.
func (r *SessionReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// ExcelStyles holds the workbook's shared cell styles.
type ExcelStyles struct {
	HeaderStyle   int
	TitleStyle    int
	SectionStyle  int
	BaseStyle     int
	PriceStyle    int
	NumberStyle   int
	CurrencyStyle int
	PercentStyle  int
	WinStyle      int
	LossStyle     int
	SummaryStyle  int
}

// ExcelJournal writes the session journal workbook.
type ExcelJournal struct{}

// NewExcelJournal creates a new Excel journal writer.
func NewExcelJournal() *ExcelJournal {
	return &ExcelJournal{}
}

// WriteJournalXLSX writes the Trades and Summary sheets to path,
// creating the target directory when needed.
func (j *ExcelJournal) WriteJournalXLSX(report *SessionReport, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create journal directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const tradesSheet = "Trades"
	const summarySheet = "Summary"

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	fx.NewSheet(summarySheet)

	styles, err := j.createStyles(fx)
	if err != nil {
		return err
	}

	if err := j.writeTradesSheet(fx, tradesSheet, report, styles); err != nil {
		return err
	}
	if err := j.writeSummarySheet(fx, summarySheet, report, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

// createStyles builds the workbook styles once so sheet writers can
// share the style ids.
func (j *ExcelJournal) createStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	lightBorders := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	// Header style - dark slate background with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	// Title style for the summary sheet banner
	styles.TitleStyle, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 16, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"1F4E79"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 2},
			{Type: "right", Color: "000000", Style: 2},
			{Type: "top", Color: "000000", Style: 2},
			{Type: "bottom", Color: "000000", Style: 2},
		},
	})
	if err != nil {
		return styles, err
	}

	// Section style for summary sheet group headers
	styles.SectionStyle, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 13, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	// Base style (light borders)
	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: lightBorders})
	if err != nil {
		return styles, err
	}

	// Price style - five decimals for FX quotes
	priceFmt := "0.00000"
	styles.PriceStyle, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: &priceFmt,
		Alignment:    &excelize.Alignment{Horizontal: "right"},
		Border:       lightBorders,
	})
	if err != nil {
		return styles, err
	}

	// Number style - two decimals for pips and ratios
	styles.NumberStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    2,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorders,
	})
	if err != nil {
		return styles, err
	}

	// Currency style (right aligned, $ format)
	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorders,
	})
	if err != nil {
		return styles, err
	}

	// Percentage style (right aligned, % format)
	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    10,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    lightBorders,
	})
	if err != nil {
		return styles, err
	}

	// Winner rows (light green background)
	styles.WinStyle, err = fx.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E6FFE6"}, Pattern: 1},
		Border: lightBorders,
	})
	if err != nil {
		return styles, err
	}

	// Loser rows (light red background)
	styles.LossStyle, err = fx.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"FFE6E6"}, Pattern: 1},
		Border: lightBorders,
	})
	if err != nil {
		return styles, err
	}

	// Summary style (blue banner rows)
	styles.SummaryStyle, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 2},
			{Type: "right", Color: "000000", Style: 2},
			{Type: "top", Color: "000000", Style: 2},
			{Type: "bottom", Color: "000000", Style: 2},
		},
	})
	if err != nil {
		return styles, err
	}

	return styles, nil
}

// writeTradesSheet writes one row per closed trade, in close order,
// with winners and losers tinted for quick scanning.
func (j *ExcelJournal) writeTradesSheet(fx *excelize.File, sheet string, report *SessionReport, styles ExcelStyles) error {
	fx.SetColWidth(sheet, "A", "A", 14) // Ticket
	fx.SetColWidth(sheet, "B", "B", 10) // Symbol
	fx.SetColWidth(sheet, "C", "C", 8)  // Side
	fx.SetColWidth(sheet, "D", "D", 12) // Strategy
	fx.SetColWidth(sheet, "E", "F", 19) // Opened, Closed
	fx.SetColWidth(sheet, "G", "G", 9)  // Hold
	fx.SetColWidth(sheet, "H", "H", 8)  // Lots
	fx.SetColWidth(sheet, "I", "J", 11) // Entry, Exit
	fx.SetColWidth(sheet, "K", "M", 9)  // Pips, MFE, MAE
	fx.SetColWidth(sheet, "N", "N", 9)  // Partials
	fx.SetColWidth(sheet, "O", "O", 11) // Banked lots
	fx.SetColWidth(sheet, "P", "P", 12) // Profit
	fx.SetColWidth(sheet, "Q", "Q", 18) // Reason
	fx.SetColWidth(sheet, "R", "R", 8)  // Conf

	headers := []string{
		"Ticket", "Symbol", "Side", "Strategy", "Opened", "Closed",
		"Hold", "Lots", "Entry", "Exit", "Pips", "MFE", "MAE",
		"Partials", "Banked", "Profit", "Reason", "Conf",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle)
	}

	row := 2
	wins := 0
	for _, t := range report.Trades {
		if t.Profit >= 0 {
			wins++
		}
		values := []interface{}{
			string(t.Ticket),
			t.Symbol,
			strings.ToUpper(string(t.Side)),
			t.Strategy,
			t.OpenTime.Format("2006-01-02 15:04:05"),
			t.CloseTime.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%.1fh", t.HoldTime().Hours()),
			t.Volume,
			t.EntryPrice,
			t.ClosePrice,
			t.ProfitPips,
			t.PeakPips,
			t.TroughPips,
			t.Partials,
			t.PartialVolume,
			t.Profit,
			string(t.Reason),
			t.Confidence,
		}
		j.writeTradeRow(fx, sheet, row, values, styles, t.Profit >= 0)
		row++
	}

	if len(report.Trades) == 0 {
		fx.MergeCell(sheet, fmt.Sprintf("A%d:R%d", row, row), "")
		cell, _ := excelize.CoordinatesToCellName(1, row)
		fx.SetCellValue(sheet, cell, "No trades closed this session.")
		fx.SetCellStyle(sheet, cell, cell, styles.BaseStyle)
		row++
	} else {
		fx.AutoFilter(sheet, fmt.Sprintf("A1:R%d", row-1), []excelize.AutoFilterOptions{})
	}

	fx.MergeCell(sheet, fmt.Sprintf("A%d:R%d", row, row), "")
	cell, _ := excelize.CoordinatesToCellName(1, row)
	fx.SetCellValue(sheet, cell, fmt.Sprintf("SESSION TOTAL - Trades: %d | Wins: %d | Losses: %d | Net: $%.2f",
		len(report.Trades), wins, len(report.Trades)-wins, report.NetProfit()))
	fx.SetCellStyle(sheet, cell, cell, styles.SummaryStyle)

	return nil
}

// writeTradeRow writes a single trade row with per-column formats and
// a win/loss background tint on the text columns.
func (j *ExcelJournal) writeTradeRow(fx *excelize.File, sheet string, row int, values []interface{}, styles ExcelStyles, win bool) {
	rowStyle := styles.WinStyle
	if !win {
		rowStyle = styles.LossStyle
	}
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		fx.SetCellValue(sheet, cell, v)

		switch {
		case i == 8 || i == 9: // Entry, Exit
			fx.SetCellStyle(sheet, cell, cell, styles.PriceStyle)
		case i >= 10 && i <= 12: // Pips, MFE, MAE
			fx.SetCellStyle(sheet, cell, cell, styles.NumberStyle)
		case i == 14: // Banked lots
			fx.SetCellStyle(sheet, cell, cell, styles.NumberStyle)
		case i == 15: // Profit
			fx.SetCellStyle(sheet, cell, cell, styles.CurrencyStyle)
		case i == 17: // Conf
			fx.SetCellStyle(sheet, cell, cell, styles.NumberStyle)
		default:
			fx.SetCellStyle(sheet, cell, cell, rowStyle)
		}
	}
}

// writeSummarySheet writes the session header, account numbers,
// per-strategy performance and the close-reason breakdown.
func (j *ExcelJournal) writeSummarySheet(fx *excelize.File, sheet string, report *SessionReport, styles ExcelStyles) error {
	fx.SetColWidth(sheet, "A", "A", 24)
	fx.SetColWidth(sheet, "B", "B", 20)
	fx.SetColWidth(sheet, "C", "J", 12)

	fx.MergeCell(sheet, "A1:J1", "")
	fx.SetCellValue(sheet, "A1", "SESSION SUMMARY")
	fx.SetCellStyle(sheet, "A1", "A1", styles.TitleStyle)
	fx.SetRowHeight(sheet, 1, 26)

	row := 3
	row = j.writeSection(fx, sheet, row, "SESSION", styles)
	gate := report.GateState
	if report.TripReason != "" {
		gate = fmt.Sprintf("%s (%s)", gate, report.TripReason)
	}
	sessionRows := []struct {
		label string
		value interface{}
	}{
		{"Session", report.Session},
		{"Profile", report.Profile},
		{"Symbols", strings.Join(report.Symbols, ", ")},
		{"Started", report.StartTime.Format("2006-01-02 15:04:05")},
		{"Stopped", report.EndTime.Format("2006-01-02 15:04:05")},
		{"Duration", fmt.Sprintf("%.1fh", report.Duration().Hours())},
		{"Risk Gate", gate},
	}
	for _, kv := range sessionRows {
		j.writeKeyValue(fx, sheet, row, kv.label, kv.value, styles, styles.BaseStyle)
		row++
	}
	row++

	row = j.writeSection(fx, sheet, row, "ACCOUNT", styles)
	accountRows := []struct {
		label string
		value interface{}
		style int
	}{
		{"Start Balance", report.StartBalance, styles.CurrencyStyle},
		{"Final Balance", report.FinalBalance, styles.CurrencyStyle},
		{"Final Equity", report.FinalEquity, styles.CurrencyStyle},
		{"Peak Equity", report.PeakEquity, styles.CurrencyStyle},
		{"Net Profit", report.NetProfit(), styles.CurrencyStyle},
		{"Return", report.Return(), styles.PercentStyle},
		{"Max Drawdown", report.MaxDrawdown, styles.PercentStyle},
	}
	for _, kv := range accountRows {
		j.writeKeyValue(fx, sheet, row, kv.label, kv.value, styles, kv.style)
		row++
	}
	row++

	book := report.Book
	if book == nil {
		book = position.NewBook()
	}

	row = j.writeSection(fx, sheet, row, "STRATEGY PERFORMANCE", styles)
	perfHeaders := []string{
		"Strategy", "Trades", "Wins", "Losses", "Win Rate",
		"Avg Win", "Avg Loss", "Payoff", "Profit Factor", "Net Profit",
	}
	for i, h := range perfHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle)
	}
	row++

	names := book.Strategies()
	sort.Strings(names)
	for _, name := range names {
		stats := book.Stats(name)
		j.writeStatsRow(fx, sheet, row, name, stats, styles, false)
		row++
	}
	j.writeStatsRow(fx, sheet, row, "ACCOUNT", book.Account(), styles, true)
	row += 2

	row = j.writeSection(fx, sheet, row, "EXIT REASONS", styles)
	reasonHeaders := []string{"Reason", "Count", "Wins", "Net Profit"}
	for i, h := range reasonHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle)
	}
	row++

	for _, r := range reasonBreakdown(report.Trades) {
		values := []interface{}{r.Reason, r.Count, r.Wins, r.Net}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			fx.SetCellValue(sheet, cell, v)
			if i == 3 {
				fx.SetCellStyle(sheet, cell, cell, styles.CurrencyStyle)
			} else {
				fx.SetCellStyle(sheet, cell, cell, styles.BaseStyle)
			}
		}
		row++
	}

	return nil
}

// writeSection writes a merged group header and returns the row below
// the blank spacer.
func (j *ExcelJournal) writeSection(fx *excelize.File, sheet string, row int, title string, styles ExcelStyles) int {
	fx.MergeCell(sheet, fmt.Sprintf("A%d:J%d", row, row), "")
	cell, _ := excelize.CoordinatesToCellName(1, row)
	fx.SetCellValue(sheet, cell, title)
	fx.SetCellStyle(sheet, cell, cell, styles.SectionStyle)
	return row + 2
}

// writeKeyValue writes a label/value pair in columns A and B.
func (j *ExcelJournal) writeKeyValue(fx *excelize.File, sheet string, row int, label string, value interface{}, styles ExcelStyles, valueStyle int) {
	labelCell, _ := excelize.CoordinatesToCellName(1, row)
	valueCell, _ := excelize.CoordinatesToCellName(2, row)
	fx.SetCellValue(sheet, labelCell, label)
	fx.SetCellStyle(sheet, labelCell, labelCell, styles.BaseStyle)
	fx.SetCellValue(sheet, valueCell, value)
	fx.SetCellStyle(sheet, valueCell, valueCell, valueStyle)
}

// writeStatsRow writes one strategy performance row. The account
// roll-up gets the banner style across the full row.
func (j *ExcelJournal) writeStatsRow(fx *excelize.File, sheet string, row int, name string, stats position.Stats, styles ExcelStyles, rollup bool) {
	values := []interface{}{
		name,
		stats.Trades,
		stats.Wins,
		stats.Losses,
		stats.WinRate(),
		stats.AvgWin(),
		stats.AvgLoss(),
		stats.PayoffRatio(),
		stats.ProfitFactor(),
		stats.TotalProfit,
	}
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		fx.SetCellValue(sheet, cell, v)
		switch {
		case rollup:
			fx.SetCellStyle(sheet, cell, cell, styles.SummaryStyle)
		case i == 4:
			fx.SetCellStyle(sheet, cell, cell, styles.PercentStyle)
		case i == 5 || i == 6 || i == 9:
			fx.SetCellStyle(sheet, cell, cell, styles.CurrencyStyle)
		case i == 7 || i == 8:
			fx.SetCellStyle(sheet, cell, cell, styles.NumberStyle)
		default:
			fx.SetCellStyle(sheet, cell, cell, styles.BaseStyle)
		}
	}
}

// reasonRollup aggregates closed trades by exit reason.
type reasonRollup struct {
	Reason string
	Count  int
	Wins   int
	Net    float64
}

// reasonBreakdown rolls the trades up by close reason, sorted by name.
func reasonBreakdown(trades []position.ClosedTrade) []reasonRollup {
	byReason := make(map[string]*reasonRollup)
	for _, t := range trades {
		r, ok := byReason[string(t.Reason)]
		if !ok {
			r = &reasonRollup{Reason: string(t.Reason)}
			byReason[string(t.Reason)] = r
		}
		r.Count++
		if t.Profit >= 0 {
			r.Wins++
		}
		r.Net += t.Profit
	}
	out := make([]reasonRollup, 0, len(byReason))
	for _, r := range byReason {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}

// JournalPath builds the workbook path for one session inside dir.
func JournalPath(dir, session string) string {
	return filepath.Join(dir, fmt.Sprintf("journal_%s.xlsx", session))
}

// Package-level convenience function
func WriteJournalXLSX(report *SessionReport, path string) error {
	journal := NewExcelJournal()
	return journal.WriteJournalXLSX(report, path)
}
