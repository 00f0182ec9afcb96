package reporting

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/position"
)

func sampleReport() *SessionReport {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	book := position.NewBook()
	book.Record("momentum", 180)
	book.Record("momentum", -60)
	book.Record("scalper", 40)

	trades := []position.ClosedTrade{
		{
			Ticket: "P-1001", Symbol: "EURUSD", Side: broker.SideLong, Strategy: "momentum",
			OpenTime: start, CloseTime: start.Add(3 * time.Hour),
			EntryPrice: 1.1000, ClosePrice: 1.1036, Volume: 0.5,
			FinalVolume: 0.25, PartialVolume: 0.25,
			Profit: 180, ProfitPips: 36, PeakPips: 41, TroughPips: -6, Partials: 1,
			Confidence: 72, Reason: position.ReasonTakeProfit,
		},
		{
			Ticket: "P-1002", Symbol: "GBPUSD", Side: broker.SideShort, Strategy: "momentum",
			OpenTime: start.Add(time.Hour), CloseTime: start.Add(2 * time.Hour),
			EntryPrice: 1.2700, ClosePrice: 1.2712, Volume: 0.5,
			Profit: -60, ProfitPips: -12, PeakPips: 3, TroughPips: -12,
			Reason: position.ReasonStopLoss,
		},
		{
			Ticket: "P-1003", Symbol: "EURUSD", Side: broker.SideLong, Strategy: "scalper",
			OpenTime: start.Add(4 * time.Hour), CloseTime: start.Add(5 * time.Hour),
			EntryPrice: 1.1020, ClosePrice: 1.1028, Volume: 0.5,
			Profit: 40, ProfitPips: 8, PeakPips: 9, TroughPips: -2,
			Reason: position.ReasonTrailingStop,
		},
	}

	return &SessionReport{
		Session:      "20250310-080000",
		Profile:      "conservative",
		Symbols:      []string{"EURUSD", "GBPUSD"},
		StartTime:    start,
		EndTime:      start.Add(6 * time.Hour),
		StartBalance: 10000,
		FinalBalance: 10160,
		FinalEquity:  10160,
		PeakEquity:   10180,
		MaxDrawdown:  0.012,
		GateState:    "normal",
		Trades:       trades,
		Book:         book,
	}
}

func findRow(rows [][]string, first string) []string {
	for _, row := range rows {
		if len(row) > 0 && row[0] == first {
			return row
		}
	}
	return nil
}

func TestWriteJournalXLSX(t *testing.T) {
	report := sampleReport()
	path := filepath.Join(t.TempDir(), "out", "journal.xlsx")

	if err := WriteJournalXLSX(report, path); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	fx, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer fx.Close()

	sheets := fx.GetSheetList()
	for _, want := range []string{"Trades", "Summary"} {
		found := false
		for _, s := range sheets {
			if s == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("sheet %q missing, have %v", want, sheets)
		}
	}

	rows, err := fx.GetRows("Trades")
	if err != nil {
		t.Fatalf("read trades sheet: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("trades sheet rows = %d, want header + 3 trades + total", len(rows))
	}
	if rows[0][0] != "Ticket" || rows[0][14] != "Banked" || rows[0][16] != "Reason" || rows[0][17] != "Conf" {
		t.Errorf("unexpected header row %v", rows[0])
	}
	if rows[1][0] != "P-1001" || rows[1][2] != "LONG" || rows[1][16] != "take_profit" {
		t.Errorf("unexpected first trade row %v", rows[1])
	}
	if rows[1][14] != "0.25" {
		t.Errorf("banked lots cell = %q, want 0.25", rows[1][14])
	}
	if rows[2][0] != "P-1002" || rows[2][2] != "SHORT" {
		t.Errorf("unexpected second trade row %v", rows[2])
	}
	if !strings.Contains(rows[4][0], "Trades: 3") || !strings.Contains(rows[4][0], "Wins: 2") {
		t.Errorf("unexpected total row %q", rows[4][0])
	}

	summary, err := fx.GetRows("Summary")
	if err != nil {
		t.Fatalf("read summary sheet: %v", err)
	}
	if row := findRow(summary, "Session"); row == nil || row[1] != "20250310-080000" {
		t.Errorf("session row = %v", row)
	}
	if row := findRow(summary, "momentum"); row == nil || row[1] != "2" {
		t.Errorf("momentum stats row = %v", row)
	}
	if row := findRow(summary, "ACCOUNT"); row == nil || row[1] != "3" {
		t.Errorf("account rollup row = %v", row)
	}
	if row := findRow(summary, "stop_loss"); row == nil || row[1] != "1" {
		t.Errorf("stop_loss reason row = %v", row)
	}
}

func TestWriteJournalXLSXEmptySession(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	report := &SessionReport{
		Session:      "20250310-080000",
		Profile:      "conservative",
		Symbols:      []string{"EURUSD"},
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
		StartBalance: 10000,
		FinalBalance: 10000,
		FinalEquity:  10000,
		PeakEquity:   10000,
		GateState:    "normal",
	}
	path := filepath.Join(t.TempDir(), "journal.xlsx")

	if err := WriteJournalXLSX(report, path); err != nil {
		t.Fatalf("write empty journal: %v", err)
	}

	fx, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer fx.Close()

	rows, err := fx.GetRows("Trades")
	if err != nil {
		t.Fatalf("read trades sheet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("trades sheet rows = %d, want header + placeholder + total", len(rows))
	}
	if rows[1][0] != "No trades closed this session." {
		t.Errorf("placeholder row = %q", rows[1][0])
	}
	if !strings.Contains(rows[2][0], "Trades: 0") {
		t.Errorf("total row = %q", rows[2][0])
	}
}

func TestJournalPath(t *testing.T) {
	got := JournalPath("journal", "20250310-080000")
	want := filepath.Join("journal", "journal_20250310-080000.xlsx")
	if got != want {
		t.Errorf("journal path = %q, want %q", got, want)
	}
}
