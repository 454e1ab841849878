package indicator

import "marketchart/internal/model"

// Track maintains one study's output lines against a candle sequence.
//
// The committed state has consumed every candle except the last one. The
// last (in-progress) candle is always evaluated on a clone of the committed
// state, so rewriting it any number of times costs O(1) per line and leaves
// the committed state untouched.
type Track struct {
	spec      Spec
	names     []string
	committed Study
	lines     [][]model.LinePoint
}

// NewTrack creates an empty track for spec.
func NewTrack(spec Spec) (*Track, error) {
	study, err := spec.New()
	if err != nil {
		return nil, err
	}
	names := spec.Lines()
	return &Track{
		spec:      spec,
		names:     names,
		committed: study,
		lines:     make([][]model.LinePoint, len(names)),
	}, nil
}

// Spec returns the study configuration.
func (t *Track) Spec() Spec { return t.spec }

// Names returns the output line names.
func (t *Track) Names() []string { return t.names }

// Line returns output line i. The slice is owned by the track.
func (t *Track) Line(i int) []model.LinePoint { return t.lines[i] }

// Rebuild recomputes every line from scratch.
func (t *Track) Rebuild(candles []model.Candle) {
	t.committed.Reset()
	for i := range t.lines {
		t.lines[i] = t.lines[i][:0]
	}
	if len(candles) == 0 {
		return
	}
	for _, c := range candles[:len(candles)-1] {
		t.committed.Update(c)
		t.appendSamples(c.Time, t.committed.Values())
	}
	t.evalLast(candles[len(candles)-1])
}

// RewriteLast re-evaluates the final candle after it was replaced in place.
func (t *Track) RewriteLast(candles []model.Candle) {
	if len(candles) == 0 {
		return
	}
	last := candles[len(candles)-1]
	t.dropTime(last.Time)
	t.evalLast(last)
}

// AppendLast commits the previous last candle and evaluates the newly
// appended one.
func (t *Track) AppendLast(candles []model.Candle) {
	n := len(candles)
	if n == 0 {
		return
	}
	if n >= 2 {
		t.committed.Update(candles[n-2])
	}
	t.evalLast(candles[n-1])
}

func (t *Track) evalLast(c model.Candle) {
	tmp := t.committed.Clone()
	tmp.Update(c)
	t.appendSamples(c.Time, tmp.Values())
}

func (t *Track) appendSamples(ts int64, samples []Sample) {
	for i, s := range samples {
		if s.Ready {
			t.lines[i] = append(t.lines[i], model.LinePoint{Time: ts, Value: s.Value})
		}
	}
}

// dropTime removes the trailing point stamped ts from every line.
func (t *Track) dropTime(ts int64) {
	for i, line := range t.lines {
		if n := len(line); n > 0 && line[n-1].Time == ts {
			t.lines[i] = line[:n-1]
		}
	}
}
