package gateway

import (
	"errors"

	"marketchart/internal/chart/panesync"
	"marketchart/internal/model"
)

var errClientGone = errors.New("gateway: client send buffer full or closed")

// handlers is a small subscription list keyed by registration id.
type handlers[F any] struct {
	next int
	fns  map[int]F
}

func (h *handlers[F]) add(fn F) func() {
	if h.fns == nil {
		h.fns = make(map[int]F)
	}
	id := h.next
	h.next++
	h.fns[id] = fn
	return func() { delete(h.fns, id) }
}

func (h *handlers[F]) each(call func(F)) {
	for _, fn := range h.fns {
		call(fn)
	}
}

func (h *handlers[F]) len() int { return len(h.fns) }

// RemotePane is a pane rendered in a browser. Writes become PaneCommand
// messages on the client's websocket; events read from the socket are
// replayed into the registered handlers.
//
// Everything except construction must happen on the engine loop.
type RemotePane struct {
	name  string
	send  func(v any) error
	width float64

	disposed bool

	ranges   handlers[func(model.Window)]
	crosses  handlers[func(panesync.Crosshair, bool)]
	layouts  handlers[func()]
	destroys handlers[func()]
}

// NewRemotePane creates a pane named name writing through send.
func NewRemotePane(name string, send func(v any) error) *RemotePane {
	return &RemotePane{name: name, send: send}
}

// Name is the wire name of the pane.
func (p *RemotePane) Name() string { return p.name }

func (p *RemotePane) command(cmd PaneCommand) error {
	if p.disposed {
		return panesync.ErrPaneDisposed
	}
	cmd.Type = MsgPane
	cmd.Pane = p.name
	return p.send(cmd)
}

func (p *RemotePane) SetVisibleLogicalRange(w model.Window) error {
	return p.command(PaneCommand{Op: OpSetRange, Window: &w})
}

func (p *RemotePane) SetCrosshair(c panesync.Crosshair) error {
	return p.command(PaneCommand{Op: OpSetCrosshair, Time: c.Time, Price: c.Price, HasPrice: c.HasPrice})
}

func (p *RemotePane) ClearCrosshair() error {
	return p.command(PaneCommand{Op: OpClearCrosshair})
}

// PriceScaleWidth returns the width the browser last reported.
func (p *RemotePane) PriceScaleWidth() (float64, error) {
	if p.disposed {
		return 0, panesync.ErrPaneDisposed
	}
	return p.width, nil
}

// SetPriceScaleMinWidth sends the minimum. Lowering it below the cached
// width caps the cache until the browser reports its new layout.
func (p *RemotePane) SetPriceScaleMinWidth(width float64) error {
	if err := p.command(PaneCommand{Op: OpSetMinWidth, Width: width}); err != nil {
		return err
	}
	if width < p.width {
		p.width = width
	}
	return nil
}

func (p *RemotePane) OnVisibleLogicalRangeChange(fn func(model.Window)) func() {
	return p.ranges.add(fn)
}

func (p *RemotePane) OnCrosshairMove(fn func(panesync.Crosshair, bool)) func() {
	return p.crosses.add(fn)
}

func (p *RemotePane) OnLayoutChange(fn func()) func() {
	return p.layouts.add(fn)
}

func (p *RemotePane) OnDestroy(fn func()) func() {
	return p.destroys.add(fn)
}

// ── browser events ──

func (p *RemotePane) rangeChanged(w model.Window) {
	if p.disposed {
		return
	}
	p.ranges.each(func(fn func(model.Window)) { fn(w) })
}

func (p *RemotePane) crosshairMoved(c panesync.Crosshair, inside bool) {
	if p.disposed {
		return
	}
	p.crosses.each(func(fn func(panesync.Crosshair, bool)) { fn(c, inside) })
}

func (p *RemotePane) layoutChanged(width float64) {
	if p.disposed {
		return
	}
	p.width = width
	p.layouts.each(func(fn func()) { fn() })
}

func (p *RemotePane) destroy() {
	if p.disposed {
		return
	}
	p.disposed = true
	p.destroys.each(func(fn func()) { fn() })
}

// handlerCount is the number of live registrations, for tests.
func (p *RemotePane) handlerCount() int {
	return p.ranges.len() + p.crosses.len() + p.layouts.len() + p.destroys.len()
}
