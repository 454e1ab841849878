// Package realtime merges streaming trade ticks and quote snapshots into the
// last candle of a chart buffer.
package realtime

import (
	"errors"
	"log/slog"
	"time"

	"marketchart/internal/chart/timeseries"
	"marketchart/internal/model"
)

// ErrStaleTick is returned for a tick or snapshot of a day older than the
// buffer's last candle. Nothing is mutated.
var ErrStaleTick = errors.New("realtime: tick for a closed trading day")

// Reasons reported to OnIgnored.
const (
	ReasonType       = "type"
	ReasonInstrument = "instrument"
	ReasonNoTrade    = "no_trade"
)

// Merger applies realtime updates to one buffer. Like the buffer it is
// driven from a single goroutine.
type Merger struct {
	buf *timeseries.Buffer
	loc *time.Location
	now func() time.Time

	// Optional hooks for metrics.
	OnApplied func(kind string)
	OnIgnored func(reason string)
	OnStale   func()
}

// New creates a merger writing into buf. Ticks that carry no day key are
// assigned to the current date in loc.
func New(buf *timeseries.Buffer, loc *time.Location) *Merger {
	if loc == nil {
		loc = time.UTC
	}
	return &Merger{buf: buf, loc: loc, now: time.Now}
}

// ApplyTick merges t into the buffer. It reports whether the buffer changed.
func (m *Merger) ApplyTick(t model.Tick) (bool, error) {
	switch {
	case t.Type != model.TickTypeTrade:
		m.ignored(ReasonType)
		return false, nil
	case t.Code != m.buf.Instrument().Code:
		m.ignored(ReasonInstrument)
		return false, nil
	case !t.HasTrade():
		m.ignored(ReasonNoTrade)
		return false, nil
	}

	day := m.dayKey(t.DayKey)
	last, ok := m.buf.Last()
	if ok && day < last.Time {
		return false, m.stale(day, last.Time)
	}

	var c model.Candle
	if !ok || day > last.Time {
		open := t.DayOpen
		if open <= 0 {
			open = t.Price
			if ok {
				open = last.Close
			}
		}
		c = model.Candle{
			Time:     day,
			Open:     open,
			High:     maxf(open, t.Price, t.DayHigh),
			Low:      minPositive(minf(open, t.Price), t.DayLow),
			Close:    t.Price,
			Volume:   t.DayVolume,
			Turnover: t.Turnover,
		}
	} else {
		c = last
		c.High = maxf(c.High, t.Price, t.DayHigh)
		c.Low = minPositive(minf(c.Low, t.Price), t.DayLow)
		c.Close = t.Price
		c.Volume = t.DayVolume
		if t.Turnover > 0 {
			c.Turnover = t.Turnover
		}
	}

	if err := m.write(c, "tick"); err != nil {
		return false, err
	}
	return true, nil
}

// ApplySnapshot merges a full-day quote. A snapshot for the day of the
// last candle corrects it in place, so a candle opened by a tick is never
// duplicated.
func (m *Merger) ApplySnapshot(s model.QuoteSnapshot) (bool, error) {
	if s.Code != m.buf.Instrument().Code {
		m.ignored(ReasonInstrument)
		return false, nil
	}
	if s.Close <= model.NoTradePrice {
		m.ignored(ReasonNoTrade)
		return false, nil
	}

	day := m.dayKey(s.DayKey)
	last, ok := m.buf.Last()
	if ok && day < last.Time {
		return false, m.stale(day, last.Time)
	}

	var c model.Candle
	if !ok || day > last.Time {
		open := s.Open
		if open <= 0 {
			open = s.Close
			if ok {
				open = last.Close
			}
		}
		c = model.Candle{
			Time:     day,
			Open:     open,
			High:     maxf(open, s.Close, s.High),
			Low:      minPositive(minf(open, s.Close), s.Low),
			Close:    s.Close,
			Volume:   s.Volume,
			Turnover: s.Turnover,
		}
	} else {
		c = last
		if s.Open > 0 {
			c.Open = s.Open
		}
		c.High = maxf(c.High, c.Open, s.Close, s.High)
		c.Low = minPositive(minf(c.Low, c.Open, s.Close), s.Low)
		c.Close = s.Close
		if s.Volume > c.Volume {
			c.Volume = s.Volume
		}
		if s.Turnover > 0 {
			c.Turnover = s.Turnover
		}
	}

	if err := m.write(c, "snapshot"); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Merger) write(c model.Candle, kind string) error {
	if _, err := m.buf.UpsertLast(c); err != nil {
		return err
	}
	m.buf.Notify()
	if m.OnApplied != nil {
		m.OnApplied(kind)
	}
	return nil
}

func (m *Merger) dayKey(k int64) int64 {
	if k != 0 {
		return k
	}
	return model.DayKey(m.now(), m.loc)
}

func (m *Merger) stale(day, last int64) error {
	slog.Debug("stale realtime update dropped", "day", day, "last", last)
	if m.OnStale != nil {
		m.OnStale()
	}
	return ErrStaleTick
}

func (m *Merger) ignored(reason string) {
	if m.OnIgnored != nil {
		m.OnIgnored(reason)
	}
}

func maxf(v float64, rest ...float64) float64 {
	for _, r := range rest {
		if r > v {
			v = r
		}
	}
	return v
}

func minf(v float64, rest ...float64) float64 {
	for _, r := range rest {
		if r < v {
			v = r
		}
	}
	return v
}

// minPositive lowers v to low when low is a reported (positive) value.
func minPositive(v, low float64) float64 {
	if low > 0 && low < v {
		return low
	}
	return v
}
