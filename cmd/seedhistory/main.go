// cmd/seedhistory loads daily candles into the history store, either from a
// CSV file or as a synthetic random walk, and prints the resulting study
// values as a sanity check.
//
// Usage:
//
//	go run ./cmd/seedhistory --instrument=KRX:KOSPI:005930 --csv=005930.csv
//	go run ./cmd/seedhistory --synthetic=1500 --dsn=data/candles.db
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"marketchart/config"
	"marketchart/internal/chart/timeseries"
	"marketchart/internal/indicator"
	"marketchart/internal/logger"
	"marketchart/internal/model"
	"marketchart/internal/store/sqlstore"
)

func main() {
	logger.Init("seedhistory", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// Flags
	instFlag := flag.String("instrument", "KRX:KOSPI:005930", "Instrument as EXCHANGE:MARKET:CODE")
	csvPath := flag.String("csv", "", "CSV file of date,open,high,low,close,volume[,turnover]")
	synthetic := flag.Int("synthetic", 0, "Generate this many synthetic weekday candles instead of reading CSV")
	startPrice := flag.Float64("start-price", 70000, "Starting price for synthetic candles")
	driver := flag.String("driver", "sqlite3", "Database driver (sqlite3 or postgres)")
	dsn := flag.String("dsn", "data/candles.db", "Database DSN")
	studies := flag.String("studies", "", "Study specs to verify, e.g. MA:5,RSI:14 (default: chart defaults)")
	flag.Parse()

	inst, err := config.ParseInstrument(*instFlag)
	if err != nil {
		fatal("bad instrument", err)
	}

	var candles []model.Candle
	switch {
	case *synthetic > 0:
		candles = synthesize(*synthetic, time.Now(), *startPrice, time.Now().UnixNano())
	case *csvPath != "":
		f, err := os.Open(*csvPath)
		if err != nil {
			fatal("open csv", err)
		}
		candles, err = readCandles(f)
		f.Close()
		if err != nil {
			fatal("read csv", err)
		}
	default:
		fatal("nothing to load", fmt.Errorf("pass --csv or --synthetic"))
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if *driver == "sqlite3" {
		os.MkdirAll("data", 0o755)
	}
	store, err := sqlstore.Open(ctx, *driver, *dsn)
	if err != nil {
		fatal("open store", err)
	}
	defer store.Close()

	if err := store.UpsertCandles(ctx, inst, candles); err != nil {
		fatal("upsert", err)
	}
	total, err := store.Count(ctx, inst)
	if err != nil {
		fatal("count", err)
	}
	slog.Info("candles stored", "instrument", inst.Key(), "loaded", len(candles), "total", total)

	// Verify studies over what was loaded
	specs := indicator.DefaultSpecs()
	if *studies != "" {
		if specs, err = indicator.ParseSpecs(*studies); err != nil {
			fatal("studies", err)
		}
	}
	buf, err := timeseries.New(inst, specs, timeseries.DefaultTheme())
	if err != nil {
		fatal("studies", err)
	}
	buf.ReplaceAll(candles)

	last, _ := buf.Last()
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        HISTORY SEEDED                ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Instrument: %-23s ║\n", inst.Key())
	fmt.Printf("║  Candles:    %-23d ║\n", buf.Len())
	fmt.Printf("║  Last day:   %-23s ║\n", last.Day().Format("2006-01-02"))
	fmt.Printf("║  Last close: %-23.2f ║\n", last.Close)
	for _, line := range sortedLines(buf.Lines()) {
		v := "warming up"
		if n := len(line.points); n > 0 {
			v = fmt.Sprintf("%.4f", line.points[n-1].Value)
		}
		fmt.Printf("║  %-11s %-23s ║\n", line.name+":", v)
	}
	fmt.Println("╚══════════════════════════════════════╝")
}

type namedLine struct {
	name   string
	points []model.LinePoint
}

func sortedLines(lines map[string][]model.LinePoint) []namedLine {
	out := make([]namedLine, 0, len(lines))
	for name, pts := range lines {
		out = append(out, namedLine{name: name, points: pts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
