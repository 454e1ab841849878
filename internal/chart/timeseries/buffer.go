// Package timeseries holds the authoritative candle buffer of one chart
// session together with its volume bars and derived indicator lines.
//
// The buffer is not safe for concurrent use; the engine event loop owns it.
// Writers go through ReplaceAll, Prepend and UpsertLast; every mutation is
// recorded as a pending Change which Notify fans out to subscribers.
package timeseries

import (
	"errors"
	"sort"
	"time"

	"marketchart/internal/indicator"
	"marketchart/internal/model"
)

// ErrStaleCandle is returned by UpsertLast for a candle older than the last bar.
var ErrStaleCandle = errors.New("timeseries: candle older than last bar")

// Theme holds the volume bar colours.
type Theme struct {
	UpColor   string `yaml:"up_color" json:"up_color" validate:"required"`
	DownColor string `yaml:"down_color" json:"down_color" validate:"required"`
}

// DefaultTheme is the light chart palette.
func DefaultTheme() Theme {
	return Theme{UpColor: "#26a69a", DownColor: "#ef5350"}
}

func (t Theme) color(d model.Direction) string {
	if d == model.Down {
		return t.DownColor
	}
	return t.UpColor
}

// Change describes what moved since the previous Notify.
type Change struct {
	Version   uint64
	Reset     bool  // whole buffer replaced or instrument switched
	Prepended int   // bars added at the front
	TailTime  int64 // time of the last candle rewritten or appended; 0 if untouched
	Appended  bool  // a new last candle was opened
	Recolored bool  // theme changed
}

// Touches reports whether the change may have altered what a reader sees
// for the candle at ts.
func (c Change) Touches(ts int64) bool {
	return c.Reset || c.Prepended > 0 || (c.TailTime != 0 && c.TailTime == ts)
}

type lineRef struct {
	track int
	line  int
}

type subscriber struct {
	id int
	fn func(Change)
}

// Buffer is the mutable candle store for exactly one instrument.
type Buffer struct {
	instrument model.Instrument
	candles    []model.Candle
	volume     []model.VolumeBar
	tracks     []*indicator.Track
	lines      map[string]lineRef
	names      []string
	theme      Theme

	version uint64
	pending Change
	dirty   bool

	subs   []subscriber
	nextID int

	// OnRecompute is called after derived series are regenerated (optional).
	// full is false for tail-only updates.
	OnRecompute func(full bool, d time.Duration)
}

// New creates an empty buffer for inst computing the given studies.
func New(inst model.Instrument, specs []indicator.Spec, theme Theme) (*Buffer, error) {
	b := &Buffer{
		instrument: inst,
		lines:      make(map[string]lineRef),
		theme:      theme,
	}
	for _, spec := range specs {
		tr, err := indicator.NewTrack(spec)
		if err != nil {
			return nil, err
		}
		for li, name := range tr.Names() {
			if _, dup := b.lines[name]; dup {
				continue
			}
			b.lines[name] = lineRef{track: len(b.tracks), line: li}
			b.names = append(b.names, name)
		}
		b.tracks = append(b.tracks, tr)
	}
	return b, nil
}

// ── Mutation entry points ──

// ReplaceAll discards every candle and loads candles instead. The input is
// sorted by time and de-duplicated, the later entry winning.
func (b *Buffer) ReplaceAll(candles []model.Candle) {
	b.candles = normalize(candles)
	b.rebuild()
	b.mark(Change{Reset: true})
}

// Prepend adds candles strictly older than the current first bar and
// returns how many were added. Derived series are fully recomputed.
func (b *Buffer) Prepend(candles []model.Candle) int {
	older := normalize(candles)
	if len(b.candles) > 0 {
		first := b.candles[0].Time
		cut := sort.Search(len(older), func(i int) bool { return older[i].Time >= first })
		older = older[:cut]
	}
	if len(older) == 0 {
		return 0
	}

	merged := make([]model.Candle, 0, len(older)+len(b.candles))
	merged = append(merged, older...)
	merged = append(merged, b.candles...)
	b.candles = merged
	b.rebuild()
	b.mark(Change{Prepended: len(older)})
	return len(older)
}

// UpsertLast replaces the last candle when c has the same time, or appends
// c when it is newer. Only the tail of each derived series is recomputed.
// Returns ErrStaleCandle, without mutating, when c is older than the last bar.
func (b *Buffer) UpsertLast(c model.Candle) (appended bool, err error) {
	start := time.Now()
	n := len(b.candles)
	switch {
	case n > 0 && c.Time < b.candles[n-1].Time:
		return false, ErrStaleCandle

	case n > 0 && c.Time == b.candles[n-1].Time:
		b.candles[n-1] = c
		b.volume[n-1] = b.volumeBar(c)
		for _, tr := range b.tracks {
			tr.RewriteLast(b.candles)
		}

	default:
		b.candles = append(b.candles, c)
		b.volume = append(b.volume, b.volumeBar(c))
		for _, tr := range b.tracks {
			tr.AppendLast(b.candles)
		}
		appended = true
	}

	if b.OnRecompute != nil {
		b.OnRecompute(false, time.Since(start))
	}
	b.mark(Change{TailTime: c.Time, Appended: appended})
	return appended, nil
}

// Reset switches the buffer to a new instrument, discarding all data.
func (b *Buffer) Reset(inst model.Instrument) {
	b.instrument = inst
	b.candles = nil
	b.rebuild()
	b.mark(Change{Reset: true})
}

// SetTheme recolours every volume bar.
func (b *Buffer) SetTheme(theme Theme) {
	b.theme = theme
	for i := range b.volume {
		b.volume[i].Color = theme.color(b.volume[i].Direction)
	}
	b.mark(Change{Recolored: true})
}

// ── Change notification ──

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (b *Buffer) Subscribe(fn func(Change)) (unsubscribe func()) {
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	return func() {
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Notify delivers the coalesced pending change to every subscriber. It is a
// no-op when nothing changed since the previous call.
func (b *Buffer) Notify() {
	if !b.dirty {
		return
	}
	ch := b.pending
	ch.Version = b.version
	b.pending = Change{}
	b.dirty = false

	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	for _, s := range subs {
		s.fn(ch)
	}
}

// ── Readers ──

// Instrument returns the instrument the buffer currently holds.
func (b *Buffer) Instrument() model.Instrument { return b.instrument }

// Len returns the number of candles.
func (b *Buffer) Len() int { return len(b.candles) }

// Version increases with every mutation.
func (b *Buffer) Version() uint64 { return b.version }

// Theme returns the active theme.
func (b *Buffer) Theme() Theme { return b.theme }

// At returns the candle at logical index i.
func (b *Buffer) At(i int) (model.Candle, bool) {
	if i < 0 || i >= len(b.candles) {
		return model.Candle{}, false
	}
	return b.candles[i], true
}

// First returns the oldest candle.
func (b *Buffer) First() (model.Candle, bool) { return b.At(0) }

// Last returns the most recent candle.
func (b *Buffer) Last() (model.Candle, bool) { return b.At(len(b.candles) - 1) }

// IndexOf returns the logical index of the candle stamped ts.
func (b *Buffer) IndexOf(ts int64) (int, bool) {
	i := sort.Search(len(b.candles), func(i int) bool { return b.candles[i].Time >= ts })
	if i < len(b.candles) && b.candles[i].Time == ts {
		return i, true
	}
	return -1, false
}

// Candles returns a copy of the candle sequence.
func (b *Buffer) Candles() []model.Candle {
	out := make([]model.Candle, len(b.candles))
	copy(out, b.candles)
	return out
}

// Volume returns a copy of the volume bars.
func (b *Buffer) Volume() []model.VolumeBar {
	out := make([]model.VolumeBar, len(b.volume))
	copy(out, b.volume)
	return out
}

// LineNames lists the derived lines in configuration order.
func (b *Buffer) LineNames() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Line returns a copy of the named derived line.
func (b *Buffer) Line(name string) ([]model.LinePoint, bool) {
	ref, ok := b.lines[name]
	if !ok {
		return nil, false
	}
	src := b.tracks[ref.track].Line(ref.line)
	out := make([]model.LinePoint, len(src))
	copy(out, src)
	return out, true
}

// Lines returns copies of every derived line keyed by name.
func (b *Buffer) Lines() map[string][]model.LinePoint {
	out := make(map[string][]model.LinePoint, len(b.names))
	for _, name := range b.names {
		out[name], _ = b.Line(name)
	}
	return out
}

// ── internals ──

func (b *Buffer) rebuild() {
	start := time.Now()
	b.volume = make([]model.VolumeBar, len(b.candles))
	for i, c := range b.candles {
		b.volume[i] = b.volumeBar(c)
	}
	for _, tr := range b.tracks {
		tr.Rebuild(b.candles)
	}
	if b.OnRecompute != nil {
		b.OnRecompute(true, time.Since(start))
	}
}

func (b *Buffer) volumeBar(c model.Candle) model.VolumeBar {
	d := c.Direction()
	return model.VolumeBar{
		Time:      c.Time,
		Value:     float64(c.Volume),
		Direction: d,
		Color:     b.theme.color(d),
	}
}

func (b *Buffer) mark(ch Change) {
	b.version++
	b.dirty = true
	p := &b.pending
	p.Reset = p.Reset || ch.Reset
	p.Prepended += ch.Prepended
	p.Appended = p.Appended || ch.Appended
	p.Recolored = p.Recolored || ch.Recolored
	if ch.TailTime != 0 {
		p.TailTime = ch.TailTime
	}
}

// normalize sorts a copy of candles by time and drops duplicate keys,
// keeping the later entry.
func normalize(candles []model.Candle) []model.Candle {
	out := make([]model.Candle, len(candles))
	copy(out, candles)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	w := 0
	for _, c := range out {
		if w > 0 && out[w-1].Time == c.Time {
			out[w-1] = c
			continue
		}
		out[w] = c
		w++
	}
	return out[:w]
}
