package indicator

import (
	"math"

	"marketchart/internal/model"
)

// Bollinger computes the middle band (SMA of closes) and the upper/lower
// bands at k population standard deviations. Outputs, in order: upper,
// middle, lower.
type Bollinger struct {
	sma *SMA
	k   float64
	out [3]Sample
}

// NewBollinger creates a Bollinger band study (typically 20, 2).
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{sma: NewSMA(period), k: k}
}

func (b *Bollinger) Update(c model.Candle) {
	b.sma.Add(c.Close)
	b.out = [3]Sample{}
	if !b.sma.Ready() {
		return
	}

	mean := b.sma.Value()
	// Walk the ring in physical order; the result depends only on the ring
	// contents, so clones produce the same value.
	var ss float64
	for _, v := range b.sma.buf {
		d := v - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(b.sma.period))

	b.out[0] = Sample{Value: mean + b.k*sd, Ready: true}
	b.out[1] = Sample{Value: mean, Ready: true}
	b.out[2] = Sample{Value: mean - b.k*sd, Ready: true}
}

func (b *Bollinger) Values() []Sample {
	out := b.out
	return out[:]
}

func (b *Bollinger) Clone() Study {
	return &Bollinger{sma: b.sma.Clone(), k: b.k, out: b.out}
}

func (b *Bollinger) Reset() {
	b.sma.Reset()
	b.out = [3]Sample{}
}
