// Package history defines where a chart session gets its historical daily
// candles from and provides an HTTP implementation.
package history

import (
	"context"
	"fmt"

	"marketchart/internal/model"
)

// IntervalDaily is the only candle interval the chart requests.
const IntervalDaily = "1d"

// Request asks for up to Limit daily candles of Instrument. When Before is
// non-zero only candles strictly older than Before are returned.
type Request struct {
	Instrument model.Instrument
	Interval   string
	Limit      int
	Before     int64
}

// Key identifies the page the request asks for.
func (r Request) Key() string {
	return fmt.Sprintf("%s:%s:%d:%d", r.Instrument.Key(), r.Interval, r.Limit, r.Before)
}

// Source returns pages of historical candles ordered oldest first. A page
// shorter than Limit means no older data exists.
type Source interface {
	Fetch(ctx context.Context, req Request) ([]model.Candle, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req Request) ([]model.Candle, error)

func (f SourceFunc) Fetch(ctx context.Context, req Request) ([]model.Candle, error) {
	return f(ctx, req)
}
