// Package engine runs one chart: a single goroutine owns the buffer of the
// selected instrument and every collaborator that reads or writes it.
//
// Anything that touches chart state (feed ticks, pane events, fetch
// completions, REST calls) is turned into a closure and posted to the loop.
// Fetches run on worker goroutines and post their result back tagged with
// the session that issued them, so switching instrument cancels them by
// identity.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketchart/internal/bus"
	"marketchart/internal/chart/panesync"
	"marketchart/internal/chart/timeseries"
	"marketchart/internal/history"
	"marketchart/internal/indicator"
	"marketchart/internal/metrics"
	"marketchart/internal/model"
	"marketchart/internal/ringbuf"
)

const (
	DefaultVisibleBars = 80
	DefaultTickQueue   = 4096
	// MaxPendingTicks bounds the ticks held while the initial page loads.
	MaxPendingTicks = 256

	queueSampleInterval = 5 * time.Second
)

var (
	// ErrStopped is returned by calls made after Run has returned.
	ErrStopped = errors.New("engine: stopped")
	// ErrNoInstrument is returned when selecting an empty instrument.
	ErrNoInstrument = errors.New("engine: no instrument")
)

// Options configure an Engine. Source is required.
type Options struct {
	Source      history.Source
	Specs       []indicator.Spec
	Theme       timeseries.Theme
	Location    *time.Location
	PageSize    int
	Threshold   int
	VisibleBars int
	TickQueue   int
	Metrics     *metrics.Metrics

	// OnSelect is called on the loop after a new session starts, e.g. to
	// narrow the feed subscription. It must not block.
	OnSelect func(inst model.Instrument)
}

// Engine owns the chart state. Construct with New and start with Run.
type Engine struct {
	opts Options
	m    *metrics.Metrics

	events chan func()
	done   chan struct{}
	ctx    context.Context

	pushMu sync.Mutex
	ticks  *ringbuf.Ring[model.Tick]
	wake   chan struct{}

	out *bus.FanOut[Update]

	// loop-owned
	theme timeseries.Theme
	sess  *session
	panes *panesync.Synchronizer
	hover model.Hover
	dirty bool
}

// New validates opts and creates an idle engine.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, errors.New("engine: history source is required")
	}
	if len(opts.Specs) == 0 {
		opts.Specs = indicator.DefaultSpecs()
	}
	if _, err := timeseries.New(model.Instrument{}, opts.Specs, opts.Theme); err != nil {
		return nil, err
	}
	if opts.Theme == (timeseries.Theme{}) {
		opts.Theme = timeseries.DefaultTheme()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.VisibleBars <= 0 {
		opts.VisibleBars = DefaultVisibleBars
	}
	if opts.TickQueue <= 0 {
		opts.TickQueue = DefaultTickQueue
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetricsWith(prometheus.NewRegistry())
	}

	out := bus.New[Update](64)
	out.OnDrop = func(idx int) {
		m.FanoutDropsTotal.WithLabelValues(subscriberLabel(idx)).Inc()
	}
	return &Engine{
		opts:   opts,
		m:      m,
		events: make(chan func(), 1024),
		done:   make(chan struct{}),
		ctx:    context.Background(),
		ticks:  ringbuf.New[model.Tick](opts.TickQueue),
		wake:   make(chan struct{}, 1),
		out:    out,
		theme:  opts.Theme,
	}, nil
}

// Updates is the output bus. Subscribers receive an Update whenever
// something a consumer shows has changed.
func (e *Engine) Updates() *bus.FanOut[Update] { return e.out }

// Run processes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.ctx = ctx
	defer func() {
		e.endSession()
		if e.panes != nil {
			e.panes.Close()
		}
		close(e.done)
		e.out.Close()
		slog.Info("chart engine stopped")
	}()
	slog.Info("chart engine started")

	sample := time.NewTicker(queueSampleInterval)
	defer sample.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.events:
			fn()
		case <-e.wake:
			e.drainTicks()
		case <-sample.C:
			e.sampleQueues()
		}
		e.flush()
	}
}

// QueueStats is the fill level of the tick ring and of every update
// subscriber channel.
type QueueStats struct {
	Ticks   bus.ChannelStat   `json:"ticks"`
	Updates []bus.ChannelStat `json:"updates"`
}

// Queues reports queue depths. It is safe from any goroutine.
func (e *Engine) Queues() QueueStats {
	return QueueStats{
		Ticks:   bus.ChannelStat{Len: e.ticks.Len(), Cap: e.ticks.Cap()},
		Updates: e.out.ChannelStats(),
	}
}

func (e *Engine) sampleQueues() {
	q := e.Queues()
	e.m.TickQueueDepth.Set(float64(q.Ticks.Len))
	for i, st := range q.Updates {
		e.m.FanoutQueueDepth.WithLabelValues(subscriberLabel(i)).Set(float64(st.Len))
	}
}

// Post queues fn to run on the loop. It returns false once the engine has
// stopped.
func (e *Engine) Post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.events <- fn:
		return true
	case <-e.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (e *Engine) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !e.Post(func() { fn(); close(finished) }) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// ── Public API, safe from any goroutine ──

// Select switches the chart to inst, discarding the current buffer.
func (e *Engine) Select(inst model.Instrument) error {
	if inst.IsZero() {
		return ErrNoInstrument
	}
	if !e.Post(func() { e.selectInstrument(inst) }) {
		return ErrStopped
	}
	return nil
}

// ApplyTick queues a realtime tick. Ticks are handed over through a ring
// buffer; a full ring drops the tick and counts the overflow.
func (e *Engine) ApplyTick(t model.Tick) {
	e.pushMu.Lock()
	ok := e.ticks.Push(t)
	e.pushMu.Unlock()
	if !ok {
		e.m.RingBufOverflow.Inc()
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// ApplySnapshot queues a full-day quote snapshot.
func (e *Engine) ApplySnapshot(q model.QuoteSnapshot) {
	e.Post(func() { e.applySnapshot(q) })
}

// VisibleRangeChanged reports a window change from a consumer that does
// not go through bound panes.
func (e *Engine) VisibleRangeChanged(w model.Window) {
	e.Post(func() { e.rangeChanged(w) })
}

// SetHover pins the tooltip to a time or, with the zero Hover, follows the
// latest candle.
func (e *Engine) SetHover(h model.Hover) {
	e.Post(func() { e.setHover(h) })
}

// JumpToLive frames the newest bars.
func (e *Engine) JumpToLive() {
	e.Post(e.jumpToLive)
}

// SetTheme recolors the volume bars.
func (e *Engine) SetTheme(theme timeseries.Theme) {
	e.Post(func() {
		e.theme = theme
		if s := e.sess; s != nil {
			s.buf.SetTheme(theme)
			s.buf.Notify()
		}
	})
}

// BindPanes synchronizes the two panes and drives them from the current
// session. Previously bound panes are released. The panes' callbacks must
// be delivered on the loop (see Post).
func (e *Engine) BindPanes(price, ind panesync.Pane) {
	e.Post(func() { e.bindPanes(price, ind) })
}

// Snapshot returns a copy of the whole chart state.
func (e *Engine) Snapshot(ctx context.Context) (Chart, error) {
	var c Chart
	err := e.call(ctx, func() { c = e.snapshot() })
	return c, err
}

// ── Loop side ──

func (e *Engine) drainTicks() {
	e.ticks.Drain(e.applyTick)
}

func (e *Engine) rangeChanged(w model.Window) {
	s := e.sess
	if s == nil || (s.hasWindow && s.window.Equal(w)) {
		return
	}
	s.window, s.hasWindow = w, true
	e.dirty = true
	e.maybeLoadMore(s)
}

func (e *Engine) setHover(h model.Hover) {
	e.hover = h
	if s := e.sess; s != nil {
		s.tip.SetHover(h)
	}
}

func (e *Engine) jumpToLive() {
	s := e.sess
	if s == nil || s.buf.Len() == 0 {
		return
	}
	e.frame(s, model.LiveWindow(s.buf.Len(), e.opts.VisibleBars))
	e.maybeLoadMore(s)
}

// frame sets the session window and pushes it to the panes.
func (e *Engine) frame(s *session, w model.Window) {
	s.window, s.hasWindow = w, true
	e.dirty = true
	if e.panes != nil {
		e.panes.SetVisibleRange(w)
	}
}

func (e *Engine) bindPanes(price, ind panesync.Pane) {
	if e.panes != nil {
		e.panes.Close()
	}
	var sy *panesync.Synchronizer
	sy = panesync.Bind(price, ind, panesync.Options{
		OnRange: e.rangeChanged,
		OnHover: e.setHover,
		OnWriteFailure: func(op string, err error) {
			e.m.PaneWriteFailures.WithLabelValues(op).Inc()
		},
		OnClose: func() {
			if e.panes == sy {
				e.panes = nil
			}
		},
	})
	e.panes = sy
	if s := e.sess; s != nil && s.hasWindow {
		sy.SetVisibleRange(s.window)
	}
}
