package model

import "math"

// Window is a visible range over the logical index space of the candle
// sequence. Both bounds may be fractional or lie outside [0, len).
type Window struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Shift moves the window right by n bars.
func (w Window) Shift(n int) Window {
	return Window{From: w.From + float64(n), To: w.To + float64(n)}
}

// Width returns the number of bars spanned.
func (w Window) Width() float64 {
	return w.To - w.From
}

// Equal compares two windows within a small epsilon.
func (w Window) Equal(o Window) bool {
	const eps = 1e-9
	return math.Abs(w.From-o.From) < eps && math.Abs(w.To-o.To) < eps
}

// LiveWindow frames the last bars bars of a sequence of length n.
func LiveWindow(n, bars int) Window {
	if bars <= 0 {
		bars = 1
	}
	to := float64(n - 1)
	return Window{From: to - float64(bars-1), To: to}
}

// Hover is the pointer state shared by both panes. The zero value means
// "following latest": no time is pinned.
type Hover struct {
	Pinned bool  `json:"pinned"`
	Time   int64 `json:"time,omitempty"`
}

// PinnedAt returns a hover pinned to t.
func PinnedAt(t int64) Hover {
	return Hover{Pinned: true, Time: t}
}
