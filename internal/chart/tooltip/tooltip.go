// Package tooltip resolves the hover state of a chart into the OHLCV record
// shown in its header.
package tooltip

import (
	"marketchart/internal/chart/timeseries"
	"marketchart/internal/model"
)

// Record is the data shown for the hovered (or latest) candle.
type Record struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     int64   `json:"volume"`
	Turnover   float64 `json:"turnover"`
	Change     float64 `json:"change"`
	ChangeRate float64 `json:"change_rate"` // percent
}

// Reader is the read side of the candle buffer the resolver needs.
type Reader interface {
	Len() int
	At(i int) (model.Candle, bool)
	IndexOf(ts int64) (int, bool)
}

// Resolve picks the pinned candle when it exists, otherwise the latest one.
// It returns false for an empty buffer.
func Resolve(h model.Hover, r Reader) (Record, bool) {
	idx := r.Len() - 1
	if idx < 0 {
		return Record{}, false
	}
	if h.Pinned {
		if i, ok := r.IndexOf(h.Time); ok {
			idx = i
		}
	}
	c, _ := r.At(idx)

	base := c.Open
	if prev, ok := r.At(idx - 1); ok {
		base = prev.Close
	}
	rec := Record{
		Time:     c.Time,
		Open:     c.Open,
		High:     c.High,
		Low:      c.Low,
		Close:    c.Close,
		Volume:   c.Volume,
		Turnover: c.Turnover,
		Change:   c.Close - base,
	}
	if base != 0 {
		rec.ChangeRate = rec.Change / base * 100
	}
	return rec, true
}

// Resolver keeps the tooltip record current as the buffer and hover move.
// Emit is only called when the record actually changes.
type Resolver struct {
	buf   *timeseries.Buffer
	hover model.Hover
	emit  func(Record, bool)

	last    Record
	hasLast bool
	emitted bool
	unsub   func()
}

// NewResolver subscribes to buf and emits the initial record.
func NewResolver(buf *timeseries.Buffer, emit func(rec Record, ok bool)) *Resolver {
	r := &Resolver{buf: buf, emit: emit}
	r.unsub = buf.Subscribe(r.onChange)
	r.refresh()
	return r
}

// Close stops following the buffer.
func (r *Resolver) Close() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

// Hover is the current hover state.
func (r *Resolver) Hover() model.Hover { return r.hover }

// Current is the last resolved record.
func (r *Resolver) Current() (Record, bool) { return r.last, r.hasLast }

// SetHover moves the hover and re-resolves.
func (r *Resolver) SetHover(h model.Hover) {
	r.hover = h
	r.refresh()
}

func (r *Resolver) onChange(ch timeseries.Change) {
	if r.hover.Pinned && !ch.Touches(r.hover.Time) {
		if _, ok := r.buf.IndexOf(r.hover.Time); ok {
			return
		}
	}
	r.refresh()
}

func (r *Resolver) refresh() {
	rec, ok := Resolve(r.hover, r.buf)
	if r.emitted && ok == r.hasLast && rec == r.last {
		return
	}
	r.last, r.hasLast, r.emitted = rec, ok, true
	if r.emit != nil {
		r.emit(rec, ok)
	}
}
