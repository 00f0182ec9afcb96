// Command download_klines pulls historical candles from Bybit and
// writes them to CSV, one file per symbol. Market data endpoints are
// public, so no API credentials are needed.
//
// Usage:
//
//	go run scripts/download_klines.go -symbols BTCUSDT,ETHUSDT -interval 5m -start 2025-01-01
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker/bybit"
)

const pageSize = 1000 // venue maximum per request

func main() {
	var (
		symbol   = flag.String("symbol", "BTCUSDT", "Trading symbol (e.g. BTCUSDT)")
		symbols  = flag.String("symbols", "", "Comma-separated list of symbols (overrides -symbol)")
		interval = flag.String("interval", "1h", "Candle interval (1m, 3m, 5m, 15m, 30m, 1h, 4h, 1d)")
		category = flag.String("category", "linear", "Market category (linear, inverse, spot)")
		testnet  = flag.Bool("testnet", false, "Use the testnet endpoint")

		startDate = flag.String("start", "", "Start date (YYYY-MM-DD), default one year back")
		endDate   = flag.String("end", "", "End date (YYYY-MM-DD), default now")

		outdir = flag.String("outdir", "data/bybit", "Directory to write CSV files")
		output = flag.String("output", "", "Explicit output file path (single symbol only)")
	)
	flag.Parse()

	symList := splitList(*symbols)
	if len(symList) == 0 {
		symList = []string{strings.ToUpper(strings.TrimSpace(*symbol))}
	}

	kint, err := parseInterval(*interval)
	if err != nil {
		log.Fatalf("Invalid interval: %v", err)
	}

	end := time.Now()
	start := end.AddDate(-1, 0, 0)
	if *startDate != "" {
		if start, err = time.Parse("2006-01-02", *startDate); err != nil {
			log.Fatalf("Invalid start date: %v", err)
		}
	}
	if *endDate != "" {
		if end, err = time.Parse("2006-01-02", *endDate); err != nil {
			log.Fatalf("Invalid end date: %v", err)
		}
	}
	if !end.After(start) {
		log.Fatalf("End date %s is not after start date %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	if *output != "" && len(symList) > 1 {
		log.Fatalf("-output only works with a single symbol, got %d", len(symList))
	}

	client := bybit.NewClient(bybit.Config{
		Testnet:  *testnet,
		Category: *category,
	})

	fmt.Println("🚀 Bybit Kline Downloader")
	fmt.Printf("🎯 Symbols: %s\n", strings.Join(symList, ", "))
	fmt.Printf("⏱️  Interval: %s\n", *interval)
	fmt.Printf("📅 Range: %s to %s\n", start.Format("2006-01-02"), end.Format("2006-01-02"))

	ctx := context.Background()
	for _, sym := range symList {
		outPath := *output
		if outPath == "" {
			outPath = filepath.Join(*outdir, *category, fmt.Sprintf("%s_%s.csv", sym, *interval))
		}
		if err := downloadOne(ctx, client, sym, kint, start, end, outPath); err != nil {
			log.Printf("❌ %s: %v", sym, err)
			continue
		}
	}

	fmt.Println("🎉 Done")
}

func downloadOne(ctx context.Context, client *bybit.Client, symbol string, interval bybit.KlineInterval, start, end time.Time, outPath string) error {
	fmt.Printf("\n📊 Downloading %s...\n", symbol)

	klines, err := fetchRange(ctx, client, symbol, interval, start, end)
	if err != nil {
		return err
	}
	if len(klines) == 0 {
		return fmt.Errorf("no candles in range")
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}
	if err := writeCSV(klines, outPath); err != nil {
		return err
	}

	first, last := klines[0], klines[len(klines)-1]
	fmt.Printf("✅ %d candles, %s to %s\n", len(klines),
		first.Start.Format("2006-01-02 15:04"), last.Start.Format("2006-01-02 15:04"))
	fmt.Printf("💾 Saved to %s\n", outPath)
	return nil
}

// fetchRange pages backwards from end because the venue serves the
// newest candles first. Each page's oldest candle becomes the next
// end cursor.
func fetchRange(ctx context.Context, client *bybit.Client, symbol string, interval bybit.KlineInterval, start, end time.Time) ([]bybit.Kline, error) {
	var all []bybit.Kline
	cursor := end

	for cursor.After(start) {
		page, err := client.Klines(ctx, bybit.KlineParams{
			Symbol:   symbol,
			Interval: interval,
			Limit:    pageSize,
			Start:    &start,
			End:      &cursor,
		})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		all = append(page, all...)
		cursor = page[0].Start.Add(-time.Millisecond)
		if len(page) < pageSize {
			break
		}
	}
	return all, nil
}

func writeCSV(klines []bybit.Kline, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume", "turnover"}); err != nil {
		return err
	}
	for _, k := range klines {
		row := []string{
			strconv.FormatInt(k.Start.UnixMilli(), 10),
			formatPrice(k.Open),
			formatPrice(k.High),
			formatPrice(k.Low),
			formatPrice(k.Close),
			formatPrice(k.Volume),
			formatPrice(k.Turnover),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func splitList(csvList string) []string {
	var out []string
	for _, s := range strings.Split(csvList, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseInterval(s string) (bybit.KlineInterval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1m", "1":
		return bybit.Interval1m, nil
	case "3m", "3":
		return bybit.Interval3m, nil
	case "5m", "5":
		return bybit.Interval5m, nil
	case "15m", "15":
		return bybit.Interval15m, nil
	case "30m", "30":
		return bybit.Interval30m, nil
	case "1h", "60":
		return bybit.Interval1h, nil
	case "4h", "240":
		return bybit.Interval4h, nil
	case "1d", "d":
		return bybit.Interval1d, nil
	default:
		return "", fmt.Errorf("unsupported interval %q", s)
	}
}
