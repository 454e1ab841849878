// Package loader pages older history into a chart buffer when the visible
// window approaches its left edge.
package loader

import (
	"context"
	"log/slog"

	"marketchart/internal/chart/timeseries"
	"marketchart/internal/history"
	"marketchart/internal/model"
)

const (
	DefaultPageSize  = 250
	DefaultThreshold = 10
)

// Hooks are optional observers for backfill outcomes.
type Hooks struct {
	OnPage    func(added int)
	OnFailure func(err error)
}

// Loader owns the load cursor and exhausted flag of one buffer. It is not
// safe for concurrent use; callers drive it from the engine loop.
type Loader struct {
	buf       *timeseries.Buffer
	src       history.Source
	pageSize  int
	threshold float64

	cursor    int64
	exhausted bool
	inFlight  bool

	Hooks Hooks
}

// New creates a loader over buf. Non-positive pageSize or threshold fall
// back to the defaults.
func New(buf *timeseries.Buffer, src history.Source, pageSize, threshold int) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Loader{buf: buf, src: src, pageSize: pageSize, threshold: float64(threshold)}
}

// PageSize is the number of bars requested per page.
func (l *Loader) PageSize() int { return l.pageSize }

// InitialRequest is the request for the newest page of inst.
func (l *Loader) InitialRequest(inst model.Instrument) history.Request {
	return history.Request{Instrument: inst, Interval: history.IntervalDaily, Limit: l.pageSize}
}

// Seed records the outcome of the initial load: rows is the number of
// candles the initial page returned.
func (l *Loader) Seed(rows int) {
	l.inFlight = false
	if first, ok := l.buf.First(); ok {
		l.cursor = first.Time
	}
	if rows < l.pageSize {
		l.exhausted = true
	}
}

// HasMore reports whether older history may still exist.
func (l *Loader) HasMore() bool { return !l.exhausted }

// Cursor is the time of the oldest loaded candle.
func (l *Loader) Cursor() int64 { return l.cursor }

// InFlight reports whether a page request is outstanding.
func (l *Loader) InFlight() bool { return l.inFlight }

// Begin checks whether w needs another page. When it does, the request is
// returned and the loader is marked in flight until Complete.
func (l *Loader) Begin(w model.Window) (history.Request, bool) {
	if l.exhausted || l.inFlight || w.From >= l.threshold || l.buf.Len() == 0 {
		return history.Request{}, false
	}
	l.inFlight = true
	return history.Request{
		Instrument: l.buf.Instrument(),
		Interval:   history.IntervalDaily,
		Limit:      l.pageSize,
		Before:     l.cursor,
	}, true
}

// Complete applies the page fetched for req and returns the number of bars
// added. A failed fetch leaves the cursor untouched so a later scroll
// retries the same page.
func (l *Loader) Complete(req history.Request, page []model.Candle, err error) int {
	l.inFlight = false
	if err != nil {
		slog.Warn("backfill failed",
			"instrument", req.Instrument.Key(),
			"before", req.Before,
			"error", err,
		)
		if l.Hooks.OnFailure != nil {
			l.Hooks.OnFailure(err)
		}
		return 0
	}

	added := l.buf.Prepend(page)
	if first, ok := l.buf.First(); ok {
		l.cursor = first.Time
	}
	if len(page) < req.Limit {
		l.exhausted = true
	}
	l.buf.Notify()

	slog.Debug("backfill page applied",
		"instrument", req.Instrument.Key(),
		"rows", len(page),
		"added", added,
		"exhausted", l.exhausted,
	)
	if l.Hooks.OnPage != nil {
		l.Hooks.OnPage(added)
	}
	return added
}

// MaybeLoadMore runs Begin, the fetch and Complete in sequence. The
// returned window is w shifted right by the number of bars added so the
// same candles stay on screen.
func (l *Loader) MaybeLoadMore(ctx context.Context, w model.Window) (int, model.Window) {
	req, ok := l.Begin(w)
	if !ok {
		return 0, w
	}
	page, err := l.src.Fetch(ctx, req)
	added := l.Complete(req, page, err)
	return added, w.Shift(added)
}

// Fetch runs the source for req. It performs no loader bookkeeping and is
// safe to call from a worker goroutine.
func (l *Loader) Fetch(ctx context.Context, req history.Request) ([]model.Candle, error) {
	return l.src.Fetch(ctx, req)
}
