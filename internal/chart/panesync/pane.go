// Package panesync keeps the price pane and the indicator pane of a chart in
// lock-step: same visible window, mirrored crosshair time line and a common
// price-scale width.
package panesync

import (
	"errors"

	"marketchart/internal/model"
)

// ErrPaneDisposed is returned by a Pane that has already been destroyed.
var ErrPaneDisposed = errors.New("panesync: pane disposed")

// Crosshair is a crosshair position. HasPrice is false for a time-only line.
type Crosshair struct {
	Time     int64   `json:"time"`
	Price    float64 `json:"price,omitempty"`
	HasPrice bool    `json:"has_price"`
}

// Pane is the rendering surface of one chart pane. Subscription methods
// return a function that removes the handler.
type Pane interface {
	SetVisibleLogicalRange(w model.Window) error
	SetCrosshair(c Crosshair) error
	ClearCrosshair() error
	PriceScaleWidth() (float64, error)
	SetPriceScaleMinWidth(width float64) error

	// OnVisibleLogicalRangeChange fires when the user pans or zooms.
	OnVisibleLogicalRangeChange(fn func(model.Window)) func()
	// OnCrosshairMove fires on pointer movement; inside is false when the
	// pointer leaves the pane.
	OnCrosshairMove(fn func(c Crosshair, inside bool)) func()
	// OnLayoutChange fires after the pane re-measured its price scale.
	OnLayoutChange(fn func()) func()
	OnDestroy(fn func()) func()
}
