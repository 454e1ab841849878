package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"marketchart/internal/model"
)

// readCandles parses rows of date,open,high,low,close,volume[,turnover].
// date is YYYY-MM-DD or YYYYMMDD. A header row and blank lines are skipped.
func readCandles(r io.Reader) ([]model.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []model.Candle
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "date") {
			continue
		}
		c, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
}

func parseRow(rec []string) (model.Candle, error) {
	if len(rec) < 6 {
		return model.Candle{}, fmt.Errorf("want at least 6 fields, got %d", len(rec))
	}
	day, err := parseDay(strings.TrimSpace(rec[0]))
	if err != nil {
		return model.Candle{}, err
	}
	var f [4]float64
	for i := range f {
		if f[i], err = strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64); err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+2, err)
		}
	}
	vol, err := strconv.ParseInt(strings.TrimSpace(rec[5]), 10, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("volume: %w", err)
	}
	c := model.Candle{Time: day, Open: f[0], High: f[1], Low: f[2], Close: f[3], Volume: vol}
	if len(rec) > 6 && strings.TrimSpace(rec[6]) != "" {
		if c.Turnover, err = strconv.ParseFloat(strings.TrimSpace(rec[6]), 64); err != nil {
			return model.Candle{}, fmt.Errorf("turnover: %w", err)
		}
	}
	if c.High < c.Low {
		return model.Candle{}, fmt.Errorf("high %v below low %v", c.High, c.Low)
	}
	return c, nil
}

func parseDay(s string) (int64, error) {
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("invalid date %q", s)
}

// synthesize builds n weekday candles ending at end with a random walk
// starting around start.
func synthesize(n int, end time.Time, start float64, seed int64) []model.Candle {
	rng := rand.New(rand.NewSource(seed))
	days := make([]time.Time, 0, n)
	for d := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC); len(days) < n; d = d.AddDate(0, 0, -1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, d)
		}
	}

	out := make([]model.Candle, n)
	price := start
	for i := range out {
		d := days[n-1-i]
		open := price
		close := open * (1 + (rng.Float64()-0.5)*0.04)
		high := max(open, close) * (1 + rng.Float64()*0.01)
		low := min(open, close) * (1 - rng.Float64()*0.01)
		vol := int64(100000 + rng.Intn(900000))
		out[i] = model.Candle{
			Time:     d.Unix(),
			Open:     round(open),
			High:     round(high),
			Low:      round(low),
			Close:    round(close),
			Volume:   vol,
			Turnover: round(close) * float64(vol),
		}
		price = close
	}
	return out
}

func round(v float64) float64 {
	return float64(int64(v + 0.5))
}
