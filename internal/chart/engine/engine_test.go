package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"marketchart/internal/bus"
	"marketchart/internal/chart/panesync"
	"marketchart/internal/chart/timeseries"
	"marketchart/internal/history"
	"marketchart/internal/indicator"
	"marketchart/internal/metrics"
	"marketchart/internal/model"
)

const day = int64(86400)

var (
	samsung = model.Instrument{Exchange: "KRX", Market: "KOSPI", Code: "005930"}
	hynix   = model.Instrument{Exchange: "KRX", Market: "KOSPI", Code: "000660"}
)

// fakeSource serves per-code histories. While gate is set, fetches for
// that code block until the gate is closed or the request is cancelled.
type fakeSource struct {
	mu      sync.Mutex
	history map[string][]model.Candle
	gates   map[string]chan struct{}
	fail    error
	calls   []history.Request
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		history: make(map[string][]model.Candle),
		gates:   make(map[string]chan struct{}),
	}
}

func (f *fakeSource) Fetch(ctx context.Context, req history.Request) ([]model.Candle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	gate := f.gates[req.Instrument.Code]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	all := f.history[req.Instrument.Code]
	end := len(all)
	if req.Before != 0 {
		end = 0
		for end < len(all) && all[end].Time < req.Before {
			end++
		}
	}
	start := end - req.Limit
	if start < 0 {
		start = 0
	}
	out := make([]model.Candle, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (f *fakeSource) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func makeHistory(n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 100 + float64(i%7)
		out[i] = model.Candle{Time: int64(i+1) * day, Open: p, High: p + 2, Low: p - 2, Close: p + 1, Volume: 1000}
	}
	return out
}

func start(t *testing.T, src history.Source) (*Engine, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	e, err := New(Options{
		Source:   src,
		Specs:    []indicator.Spec{{Kind: indicator.KindMA, Period: 5}},
		Location: time.UTC,
		Metrics:  m,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, m
}

func snap(t *testing.T, e *Engine) Chart {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := e.Snapshot(ctx)
	require.NoError(t, err)
	return c
}

func waitFor(t *testing.T, e *Engine, cond func(Chart) bool) Chart {
	t.Helper()
	var last Chart
	require.Eventually(t, func() bool {
		last = snap(t, e)
		return cond(last)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func ready(c Chart) bool { return c.Status == StatusReady }

func TestNew_Validates(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Source: newFakeSource(), Specs: []indicator.Spec{{Kind: "NOPE"}}})
	require.Error(t, err)
}

func TestSelect_LoadsAndFramesLiveEdge(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(600)
	e, _ := start(t, src)

	c := snap(t, e)
	require.Equal(t, StatusIdle, c.Status)

	updates := e.Updates().Subscribe()
	require.NoError(t, e.Select(samsung))
	c = waitFor(t, e, ready)

	require.Equal(t, 250, c.Bars)
	require.Len(t, c.Candles, 250)
	require.Len(t, c.Volume, 250)
	require.Len(t, c.Lines["MA_5"], 246)
	require.True(t, c.HasMore)
	require.NotNil(t, c.Window)
	require.Equal(t, model.Window{From: 170, To: 249}, *c.Window)
	require.NotNil(t, c.Tooltip)
	require.Equal(t, int64(600)*day, c.Tooltip.Time)
	require.NotEmpty(t, c.Session)

	// Loading and ready states were both published.
	seen := map[Status]bool{}
	require.Eventually(t, func() bool {
		for {
			select {
			case u := <-updates:
				seen[u.Status] = true
			default:
				return seen[StatusLoading] && seen[StatusReady]
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSelect_RejectsEmptyInstrument(t *testing.T) {
	e, _ := start(t, newFakeSource())
	require.ErrorIs(t, e.Select(model.Instrument{}), ErrNoInstrument)
}

func TestInitialLoadFailure_IsBlockingError(t *testing.T) {
	src := newFakeSource()
	src.setFail(errors.New("endpoint down"))
	e, m := start(t, src)

	require.NoError(t, e.Select(samsung))
	c := waitFor(t, e, func(c Chart) bool { return c.Status == StatusError })

	require.Equal(t, "endpoint down", c.Error)
	require.Zero(t, c.Bars)
	require.False(t, c.HasMore)
	require.Equal(t, 1.0, testutil.ToFloat64(m.InitialLoadFails))
}

func TestTicksDuringLoad_ApplyAfterHistory(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(100)
	gate := make(chan struct{})
	src.gates[samsung.Code] = gate
	e, m := start(t, src)

	require.NoError(t, e.Select(samsung))
	waitFor(t, e, func(c Chart) bool { return c.Status == StatusLoading })

	last := 100 * day
	e.ApplyTick(model.Tick{Type: model.TickTypeTrade, Code: samsung.Code, Price: 120, DayHigh: 121, DayVolume: 5000, DayKey: last})
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.PendingTicks) == 1 }, 2*time.Second, 5*time.Millisecond)

	close(gate)
	c := waitFor(t, e, ready)

	// Merged into the loaded bar for the same day, not appended.
	require.Equal(t, 100, c.Bars)
	tail := c.Candles[99]
	require.Equal(t, last, tail.Time)
	require.Equal(t, 120.0, tail.Close)
	require.Equal(t, 121.0, tail.High)
	require.Equal(t, int64(5000), tail.Volume)
	require.Equal(t, 0.0, testutil.ToFloat64(m.PendingTicks))
	require.False(t, c.HasMore)
}

func TestTick_NewDayFollowsLiveEdge(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(300)
	e, m := start(t, src)

	require.NoError(t, e.Select(samsung))
	before := waitFor(t, e, ready)

	e.ApplyTick(model.Tick{Type: model.TickTypeTrade, Code: samsung.Code, Price: 99, DayOpen: 98, DayKey: 301 * day})
	c := waitFor(t, e, func(c Chart) bool { return c.Bars == 251 })

	require.Equal(t, before.Window.Shift(1), *c.Window)
	require.Equal(t, 98.0, c.Candles[250].Open)
	require.Equal(t, int64(301)*day, c.Tooltip.Time)
	require.Equal(t, 1.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("applied")))

	// Older day is discarded.
	e.ApplyTick(model.Tick{Type: model.TickTypeTrade, Code: samsung.Code, Price: 99, DayKey: 200 * day})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.TicksTotal.WithLabelValues("stale")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 251, snap(t, e).Bars)
}

func TestSnapshot_CorrectsToday(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(10)
	e, m := start(t, src)
	require.NoError(t, e.Select(samsung))
	waitFor(t, e, ready)

	e.ApplySnapshot(model.QuoteSnapshot{Code: samsung.Code, DayKey: 10 * day, Open: 101, High: 130, Low: 90, Close: 125, Volume: 9000})
	c := waitFor(t, e, func(c Chart) bool { return c.Candles[9].Close == 125 })

	require.Equal(t, 10, c.Bars)
	require.Equal(t, 130.0, c.Candles[9].High)
	require.Equal(t, 90.0, c.Candles[9].Low)
	require.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues("applied")))
}

func TestBackfill_PrependsAndShiftsWindow(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(600)
	e, m := start(t, src)
	require.NoError(t, e.Select(samsung))
	waitFor(t, e, ready)

	e.VisibleRangeChanged(model.Window{From: 5, To: 80})
	c := waitFor(t, e, func(c Chart) bool { return c.Bars == 500 })

	require.Equal(t, model.Window{From: 255, To: 330}, *c.Window)
	require.Equal(t, int64(101)*day, c.Candles[0].Time)
	require.True(t, c.HasMore)
	require.Equal(t, 250.0, testutil.ToFloat64(m.BackfillBars))

	// Last page is short and marks the cursor exhausted.
	e.VisibleRangeChanged(model.Window{From: 2, To: 70})
	c = waitFor(t, e, func(c Chart) bool { return c.Bars == 600 })
	require.False(t, c.HasMore)
	require.Equal(t, model.Window{From: 102, To: 170}, *c.Window)

	calls := src.callCount()
	e.VisibleRangeChanged(model.Window{From: 0, To: 60})
	snap(t, e)
	require.Equal(t, calls, src.callCount())
}

func TestBackfill_FailureRetriesOnNextScroll(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(400)
	e, m := start(t, src)
	require.NoError(t, e.Select(samsung))
	waitFor(t, e, ready)

	src.setFail(errors.New("timeout"))
	e.VisibleRangeChanged(model.Window{From: 3, To: 80})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.BackfillFailures) == 1
	}, 2*time.Second, 5*time.Millisecond)
	c := snap(t, e)
	require.Equal(t, 250, c.Bars)
	require.True(t, c.HasMore)

	src.setFail(nil)
	e.VisibleRangeChanged(model.Window{From: 4, To: 80})
	c = waitFor(t, e, func(c Chart) bool { return c.Bars == 400 })
	require.Equal(t, model.Window{From: 154, To: 230}, *c.Window)
}

func TestSwitch_DropsStaleResults(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(50)
	src.history[hynix.Code] = makeHistory(30)
	src.gates[samsung.Code] = make(chan struct{})
	e, m := start(t, src)

	require.NoError(t, e.Select(samsung))
	waitFor(t, e, func(c Chart) bool { return c.Status == StatusLoading })
	first := snap(t, e).Session

	require.NoError(t, e.Select(hynix))
	c := waitFor(t, e, ready)

	require.Equal(t, hynix, c.Instrument)
	require.NotEqual(t, first, c.Session)
	require.Equal(t, 30, c.Bars)
	// The cancelled fetch for the first session came back and was dropped.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.StaleResults) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionSwitches))
	require.Equal(t, 30, snap(t, e).Bars)

	// Ticks for the previous instrument no longer apply.
	e.ApplyTick(model.Tick{Type: model.TickTypeTrade, Code: samsung.Code, Price: 1, DayKey: 31 * day})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.TicksIgnored.WithLabelValues("instrument")) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHoverAndJumpToLive(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(100)
	e, _ := start(t, src)
	require.NoError(t, e.Select(samsung))
	waitFor(t, e, ready)

	e.SetHover(model.PinnedAt(50 * day))
	c := waitFor(t, e, func(c Chart) bool { return c.Hover.Pinned })
	require.Equal(t, int64(50)*day, c.Tooltip.Time)

	e.SetHover(model.Hover{})
	c = waitFor(t, e, func(c Chart) bool { return !c.Hover.Pinned })
	require.Equal(t, int64(100)*day, c.Tooltip.Time)

	e.VisibleRangeChanged(model.Window{From: 30, To: 60})
	waitFor(t, e, func(c Chart) bool { return c.Window.From == 30 })
	e.JumpToLive()
	c = waitFor(t, e, func(c Chart) bool { return c.Window.From != 30 })
	require.Equal(t, model.LiveWindow(100, DefaultVisibleBars), *c.Window)
}

func TestSetTheme_Recolors(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(10)
	e, _ := start(t, src)
	require.NoError(t, e.Select(samsung))
	waitFor(t, e, ready)

	dark := timeseries.Theme{UpColor: "#00ff00", DownColor: "#ff0000"}
	e.SetTheme(dark)
	c := waitFor(t, e, func(c Chart) bool { return c.Volume[0].Color == dark.UpColor })
	require.Equal(t, dark.UpColor, c.Volume[9].Color)
}

func TestRingOverflowCounted(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	e, err := New(Options{Source: newFakeSource(), TickQueue: 2, Metrics: m})
	require.NoError(t, err)

	// Not running: nothing drains the ring.
	for i := 0; i < 5; i++ {
		e.ApplyTick(model.Tick{Code: samsung.Code})
	}
	require.Equal(t, 3.0, testutil.ToFloat64(m.RingBufOverflow))
}

func TestQueueDepthSampled(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	e, err := New(Options{Source: newFakeSource(), TickQueue: 8, Metrics: m})
	require.NoError(t, err)
	_ = e.Updates().Subscribe()

	// Not running: ticks and updates stay queued.
	for i := 0; i < 3; i++ {
		e.ApplyTick(model.Tick{Code: samsung.Code})
	}
	e.out.Publish(Update{Status: StatusIdle})

	q := e.Queues()
	require.Equal(t, bus.ChannelStat{Len: 3, Cap: 8}, q.Ticks)
	require.Equal(t, []bus.ChannelStat{{Len: 1, Cap: 64}}, q.Updates)

	e.sampleQueues()
	require.Equal(t, 3.0, testutil.ToFloat64(m.TickQueueDepth))
	require.Equal(t, 1.0, testutil.ToFloat64(m.FanoutQueueDepth.WithLabelValues("0")))
}

// ── bound panes ──

type recPane struct {
	mu      sync.Mutex
	windows []model.Window
	onRange func(model.Window)
	onCross func(panesync.Crosshair, bool)
	onDest  func()
}

func (p *recPane) SetVisibleLogicalRange(w model.Window) error {
	p.mu.Lock()
	p.windows = append(p.windows, w)
	p.mu.Unlock()
	return nil
}

func (p *recPane) SetCrosshair(panesync.Crosshair) error { return nil }
func (p *recPane) ClearCrosshair() error { return nil }
func (p *recPane) PriceScaleWidth() (float64, error) { return 60, nil }
func (p *recPane) SetPriceScaleMinWidth(float64) error { return nil }
func (p *recPane) OnLayoutChange(func()) func() { return func() {} }

func (p *recPane) OnVisibleLogicalRangeChange(fn func(model.Window)) func() {
	p.onRange = fn
	return func() { p.onRange = nil }
}

func (p *recPane) OnCrosshairMove(fn func(panesync.Crosshair, bool)) func() {
	p.onCross = fn
	return func() { p.onCross = nil }
}

func (p *recPane) OnDestroy(fn func()) func() {
	p.onDest = fn
	return func() { p.onDest = nil }
}

func (p *recPane) last() (model.Window, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.windows) == 0 {
		return model.Window{}, false
	}
	return p.windows[len(p.windows)-1], true
}

func TestBindPanes_DrivesWindowAndHover(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(600)
	e, _ := start(t, src)

	price, ind := &recPane{}, &recPane{}
	e.BindPanes(price, ind)
	require.NoError(t, e.Select(samsung))
	waitFor(t, e, ready)

	w, ok := ind.last()
	require.True(t, ok)
	require.Equal(t, model.Window{From: 170, To: 249}, w)

	// A scroll on the price pane reaches the engine and triggers backfill;
	// the shifted window is pushed back to both panes.
	e.Post(func() { price.onRange(model.Window{From: 5, To: 80}) })
	waitFor(t, e, func(c Chart) bool { return c.Bars == 500 })
	w, _ = price.last()
	require.Equal(t, model.Window{From: 255, To: 330}, w)
	w, _ = ind.last()
	require.Equal(t, model.Window{From: 255, To: 330}, w)

	e.Post(func() { ind.onCross(panesync.Crosshair{Time: 400 * day}, true) })
	c := waitFor(t, e, func(c Chart) bool { return c.Hover.Pinned })
	require.Equal(t, int64(400)*day, c.Tooltip.Time)

	e.Post(func() { ind.onCross(panesync.Crosshair{}, false) })
	c = waitFor(t, e, func(c Chart) bool { return !c.Hover.Pinned })
	require.Equal(t, int64(600)*day, c.Tooltip.Time)

	// Destroying a pane releases the bindings.
	e.Post(func() { price.onDest() })
	snap(t, e)
	require.Nil(t, price.onRange)
	require.Nil(t, ind.onRange)
}

func TestSwitch_KeepsHoverOverPane(t *testing.T) {
	src := newFakeSource()
	src.history[samsung.Code] = makeHistory(300)
	src.history[hynix.Code] = makeHistory(300)
	e, _ := start(t, src)

	price, ind := &recPane{}, &recPane{}
	e.BindPanes(price, ind)
	require.NoError(t, e.Select(samsung))
	waitFor(t, e, ready)

	e.Post(func() { price.onCross(panesync.Crosshair{Time: 200 * day}, true) })
	c := waitFor(t, e, func(c Chart) bool { return c.Hover.Pinned })
	require.Equal(t, int64(200)*day, c.Tooltip.Time)

	require.NoError(t, e.Select(hynix))
	c = waitFor(t, e, func(c Chart) bool { return c.Instrument == hynix && ready(c) })
	require.Equal(t, model.PinnedAt(200*day), c.Hover)
	require.NotNil(t, c.Tooltip)
	require.Equal(t, int64(200)*day, c.Tooltip.Time)

	// The pointer resting on the same bar reports nothing new.
	e.Post(func() { price.onCross(panesync.Crosshair{Time: 200 * day}, true) })
	c = snap(t, e)
	require.True(t, c.Hover.Pinned)
	require.Equal(t, int64(200)*day, c.Tooltip.Time)
}
