package panesync

import (
	"fmt"
	"log/slog"

	"marketchart/internal/model"
)

// Options are the synchronizer's outputs. All fields are optional.
type Options struct {
	// OnRange receives every window the panes were synced to by the user.
	OnRange func(model.Window)
	// OnHover receives hover changes derived from the crosshair.
	OnHover func(model.Hover)
	// OnWriteFailure is called for every swallowed pane write failure.
	OnWriteFailure func(op string, err error)
	// OnClose is called once when the synchronizer is torn down.
	OnClose func()
}

// side identifies one of the two panes.
type side int

const (
	pricePane side = iota
	indicatorPane
)

func (s side) other() side { return 1 - s }

// Synchronizer binds two panes. It is not safe for concurrent use; all
// pane callbacks must arrive on the goroutine that owns it.
type Synchronizer struct {
	panes [2]Pane
	opts  Options

	rng   rangeBinding
	cross crosshairBinding
	width widthBinding

	unsubs []func()
	closed bool
}

// Bind connects price and indicator and returns the running synchronizer.
// Destroying either pane closes it.
func Bind(price, indicator Pane, opts Options) *Synchronizer {
	s := &Synchronizer{panes: [2]Pane{price, indicator}, opts: opts}
	for _, sd := range []side{pricePane, indicatorPane} {
		sd := sd
		p := s.panes[sd]
		s.unsubs = append(s.unsubs,
			p.OnVisibleLogicalRangeChange(func(w model.Window) { s.rangeChanged(sd, w) }),
			p.OnCrosshairMove(func(c Crosshair, inside bool) { s.crosshairMoved(sd, c, inside) }),
			p.OnLayoutChange(func() { s.layoutChanged() }),
			p.OnDestroy(func() { s.Close() }),
		)
	}
	s.layoutChanged()
	return s
}

// Close removes every handler. It is idempotent.
func (s *Synchronizer) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for _, u := range s.unsubs {
		if u != nil {
			u()
		}
	}
	s.unsubs = nil
	if s.opts.OnClose != nil {
		s.opts.OnClose()
	}
}

// Closed reports whether the synchronizer has been torn down.
func (s *Synchronizer) Closed() bool { return s.closed }

// VisibleRange is the window both panes were last synced to.
func (s *Synchronizer) VisibleRange() (model.Window, bool) {
	return s.rng.window, s.rng.known
}

// SetVisibleRange moves both panes to w without reporting it through OnRange.
func (s *Synchronizer) SetVisibleRange(w model.Window) {
	if s.closed {
		return
	}
	s.rng.syncing = true
	for _, p := range s.panes {
		s.guard("set_range", func() error { return p.SetVisibleLogicalRange(w) })
	}
	s.rng.syncing = false
	s.rng.window, s.rng.known = w, true
}

// ── range binding ──

type rangeBinding struct {
	syncing bool
	known   bool
	window  model.Window
}

func (s *Synchronizer) rangeChanged(from side, w model.Window) {
	if s.closed || s.rng.syncing {
		return
	}
	// The other pane echoing the window we just gave it.
	if s.rng.known && s.rng.window.Equal(w) {
		return
	}
	s.rng.syncing = true
	target := s.panes[from.other()]
	s.guard("set_range", func() error { return target.SetVisibleLogicalRange(w) })
	s.rng.syncing = false
	s.rng.window, s.rng.known = w, true

	if s.opts.OnRange != nil {
		s.opts.OnRange(w)
	}
}

// ── crosshair binding ──

type crosshairBinding struct {
	syncing bool
	inside  [2]bool
	hover   model.Hover
}

func (s *Synchronizer) crosshairMoved(from side, c Crosshair, inside bool) {
	if s.closed || s.cross.syncing {
		return
	}
	s.cross.inside[from] = inside
	target := s.panes[from.other()]

	s.cross.syncing = true
	switch {
	case inside:
		mirrored := Crosshair{Time: c.Time}
		s.guard("set_crosshair", func() error { return target.SetCrosshair(mirrored) })
	case !s.cross.inside[from.other()]:
		s.guard("clear_crosshair", target.ClearCrosshair)
	}
	s.cross.syncing = false

	var h model.Hover
	switch {
	case inside:
		h = model.PinnedAt(c.Time)
	case s.cross.inside[from.other()]:
		return
	}
	if h == s.cross.hover {
		return
	}
	s.cross.hover = h
	if s.opts.OnHover != nil {
		s.opts.OnHover(h)
	}
}

// ── price scale width binding ──

type widthBinding struct {
	syncing bool
	applied float64
}

func (s *Synchronizer) layoutChanged() {
	if s.closed || s.width.syncing {
		return
	}
	var widest float64
	for _, p := range s.panes {
		w, err := s.measure(p)
		if err != nil {
			return
		}
		if w > widest {
			widest = w
		}
	}
	if widest == s.width.applied {
		return
	}
	s.width.syncing = true
	for _, p := range s.panes {
		s.guard("set_min_width", func() error { return p.SetPriceScaleMinWidth(widest) })
	}
	s.width.syncing = false
	s.width.applied = widest
}

// ResetWidth drops the shared minimum and equalizes again from the panes'
// own label widths. Between resets the shared width only grows, since each
// pane is measured with the minimum already applied.
func (s *Synchronizer) ResetWidth() {
	if s.closed {
		return
	}
	s.width.syncing = true
	for _, p := range s.panes {
		s.guard("set_min_width", func() error { return p.SetPriceScaleMinWidth(0) })
	}
	s.width.syncing = false
	s.width.applied = 0
	s.layoutChanged()
}

// Width is the price-scale width last applied to both panes.
func (s *Synchronizer) Width() float64 { return s.width.applied }

func (s *Synchronizer) measure(p Pane) (w float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panesync: measure panicked: %v", r)
			s.writeFailed("measure", err)
		}
	}()
	w, err = p.PriceScaleWidth()
	if err != nil {
		s.writeFailed("measure", err)
	}
	return w, err
}

// guard runs a pane write, swallowing errors and panics from a disposed pane.
func (s *Synchronizer) guard(op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.writeFailed(op, fmt.Errorf("panesync: %s panicked: %v", op, r))
		}
	}()
	if err := fn(); err != nil {
		s.writeFailed(op, err)
	}
}

func (s *Synchronizer) writeFailed(op string, err error) {
	slog.Debug("pane write failed", "op", op, "error", err)
	if s.opts.OnWriteFailure != nil {
		s.opts.OnWriteFailure(op, err)
	}
}
