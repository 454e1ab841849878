package indicator

import "marketchart/internal/model"

// MACD tracks the fast/slow EMA spread of closes, its signal EMA and the
// histogram. Outputs, in order: line, signal, histogram.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	out    [3]Sample
}

// NewMACD creates a MACD study (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Update(c model.Candle) {
	m.fast.Add(c.Close)
	m.slow.Add(c.Close)
	m.out = [3]Sample{}

	if !m.fast.Ready() || !m.slow.Ready() {
		return
	}
	line := m.fast.Value() - m.slow.Value()
	m.out[0] = Sample{Value: line, Ready: true}

	// The signal EMA only ever sees MACD values, never the warm-up gap.
	m.signal.Add(line)
	if !m.signal.Ready() {
		return
	}
	sig := m.signal.Value()
	m.out[1] = Sample{Value: sig, Ready: true}
	m.out[2] = Sample{Value: line - sig, Ready: true}
}

func (m *MACD) Values() []Sample {
	out := m.out
	return out[:]
}

func (m *MACD) Clone() Study {
	return &MACD{
		fast:   m.fast.Clone(),
		slow:   m.slow.Clone(),
		signal: m.signal.Clone(),
		out:    m.out,
	}
}

func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.out = [3]Sample{}
}
