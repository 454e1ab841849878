// Package indicator provides technical indicator calculations over daily candles.
//
// Every indicator is built from incremental kernels (SMA, EMA, RSI, SMMA) that
// consume one value at a time. The pure series functions (MA, RSI, MACD,
// Bollinger, ...) and the buffer's incremental Track run the very same
// kernels, so a full recomputation and an incremental tail update execute
// identical floating point operations and agree bar for bar.
package indicator

import "marketchart/internal/model"

// Sample is one output value of a study for the most recent candle.
type Sample struct {
	Value float64
	Ready bool
}

// Study consumes finalized candles and produces one Sample per output line.
type Study interface {
	// Update feeds the next candle and recalculates.
	Update(c model.Candle)

	// Values returns the samples for the last Update, one per output line.
	Values() []Sample

	// Clone returns an independent copy of the current state. Feeding the
	// clone never affects the original.
	Clone() Study

	// Reset clears all accumulated state.
	Reset()
}

// kernel is a single-valued rolling calculation over a float stream.
type kernel interface {
	Add(v float64)
	Value() float64
	Ready() bool
	Reset()
	clone() kernel
}

// closeStudy runs one kernel over candle closes.
type closeStudy struct {
	k kernel
}

func (s *closeStudy) Update(c model.Candle) { s.k.Add(c.Close) }

func (s *closeStudy) Values() []Sample {
	return []Sample{{Value: s.k.Value(), Ready: s.k.Ready()}}
}

func (s *closeStudy) Clone() Study { return &closeStudy{k: s.k.clone()} }
func (s *closeStudy) Reset()       { s.k.Reset() }
