package tooltip

import (
	"math"
	"testing"

	"marketchart/internal/chart/timeseries"
	"marketchart/internal/model"
)

const day = int64(86400)

func assertClose(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: expected %.6f, got %.6f", name, want, got)
	}
}

func newBuffer(t *testing.T, candles ...model.Candle) *timeseries.Buffer {
	t.Helper()
	buf, err := timeseries.New(model.Instrument{Code: "005930"}, nil, timeseries.DefaultTheme())
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	buf.ReplaceAll(candles)
	buf.Notify()
	return buf
}

func threeDays() []model.Candle {
	return []model.Candle{
		{Time: 1 * day, Open: 95, High: 101, Low: 94, Close: 100, Volume: 10},
		{Time: 2 * day, Open: 100, High: 112, Low: 99, Close: 110, Volume: 20},
		{Time: 3 * day, Open: 110, High: 111, Low: 98, Close: 99, Volume: 30},
	}
}

func TestResolve_Latest(t *testing.T) {
	buf := newBuffer(t, threeDays()...)
	rec, ok := Resolve(model.Hover{}, buf)
	if !ok {
		t.Fatal("expected a record")
	}
	if rec.Time != 3*day || rec.Volume != 30 {
		t.Errorf("expected latest candle, got %+v", rec)
	}
	assertClose(t, "change", rec.Change, -11, 1e-9)
	assertClose(t, "rate", rec.ChangeRate, -10, 1e-9)
}

func TestResolve_Pinned(t *testing.T) {
	buf := newBuffer(t, threeDays()...)
	rec, _ := Resolve(model.PinnedAt(2*day), buf)
	if rec.Time != 2*day {
		t.Fatalf("expected pinned candle, got %d", rec.Time)
	}
	assertClose(t, "change", rec.Change, 10, 1e-9)
	assertClose(t, "rate", rec.ChangeRate, 10, 1e-9)
}

func TestResolve_PinnedMissingFallsBackToLatest(t *testing.T) {
	buf := newBuffer(t, threeDays()...)
	rec, _ := Resolve(model.PinnedAt(40*day), buf)
	if rec.Time != 3*day {
		t.Errorf("expected latest candle, got %d", rec.Time)
	}
}

func TestResolve_FirstCandleUsesOwnOpen(t *testing.T) {
	buf := newBuffer(t, threeDays()...)
	rec, _ := Resolve(model.PinnedAt(day), buf)
	assertClose(t, "change", rec.Change, 5, 1e-9)
	assertClose(t, "rate", rec.ChangeRate, 5.0/95*100, 1e-9)
}

func TestResolve_ZeroBase(t *testing.T) {
	buf := newBuffer(t, model.Candle{Time: day, Open: 0, High: 1, Low: 0, Close: 1})
	rec, _ := Resolve(model.Hover{}, buf)
	if rec.ChangeRate != 0 {
		t.Errorf("expected rate 0, got %v", rec.ChangeRate)
	}
}

func TestResolve_Empty(t *testing.T) {
	buf := newBuffer(t)
	if _, ok := Resolve(model.Hover{}, buf); ok {
		t.Error("expected no record for an empty buffer")
	}
}

func TestResolver_FollowsLatest(t *testing.T) {
	buf := newBuffer(t, threeDays()...)
	var got []Record
	NewResolver(buf, func(r Record, ok bool) { got = append(got, r) })
	if len(got) != 1 {
		t.Fatalf("expected initial emit, got %d", len(got))
	}

	last, _ := buf.Last()
	last.Close = 105
	buf.UpsertLast(last)
	buf.Notify()
	if len(got) != 2 || got[1].Close != 105 {
		t.Fatalf("expected updated record, got %+v", got)
	}

	// Theme change leaves the record untouched.
	buf.SetTheme(timeseries.Theme{UpColor: "a", DownColor: "b"})
	buf.Notify()
	if len(got) != 2 {
		t.Errorf("expected no emit for identical record, got %d", len(got))
	}
}

func TestResolver_PinnedIgnoresTailUpdates(t *testing.T) {
	buf := newBuffer(t, threeDays()...)
	var got []Record
	r := NewResolver(buf, func(rec Record, ok bool) { got = append(got, rec) })
	r.SetHover(model.PinnedAt(2 * day))
	if len(got) != 2 || got[1].Time != 2*day {
		t.Fatalf("expected pinned record, got %+v", got)
	}

	last, _ := buf.Last()
	last.Close = 120
	buf.UpsertLast(last)
	buf.Notify()
	if len(got) != 2 {
		t.Errorf("tail update must not re-emit while pinned elsewhere, got %d", len(got))
	}

	r.SetHover(model.Hover{})
	if len(got) != 3 || got[2].Close != 120 {
		t.Errorf("expected latest record after unpin, got %+v", got[len(got)-1])
	}
}

func TestResolver_PinnedOnTail(t *testing.T) {
	buf := newBuffer(t, threeDays()...)
	var got []Record
	r := NewResolver(buf, func(rec Record, ok bool) { got = append(got, rec) })
	r.SetHover(model.PinnedAt(3 * day))
	if len(got) != 1 {
		t.Fatalf("pinning the latest candle is not a change, got %d emits", len(got))
	}

	last, _ := buf.Last()
	last.High = 130
	buf.UpsertLast(last)
	buf.Notify()
	if len(got) != 2 || got[1].High != 130 {
		t.Errorf("expected re-emit for pinned tail, got %+v", got)
	}
}

func TestResolver_Close(t *testing.T) {
	buf := newBuffer(t, threeDays()...)
	calls := 0
	r := NewResolver(buf, func(Record, bool) { calls++ })
	r.Close()

	last, _ := buf.Last()
	last.Close = 1
	buf.UpsertLast(last)
	buf.Notify()
	if calls != 1 {
		t.Errorf("expected no emit after Close, got %d", calls)
	}
}
