package main

import (
	"math/rand"
	"testing"
)

func TestInstrumentStep_RunningDayValues(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	in := &instrument{Code: "005930", Price: 70000}

	var prevVol int64
	for i := 0; i < 50; i++ {
		tk := in.step(rng, 86400)
		if tk.DayHigh < tk.Price || tk.DayLow > tk.Price {
			t.Fatalf("step %d: price %v outside [%v, %v]", i, tk.Price, tk.DayLow, tk.DayHigh)
		}
		if tk.DayVolume <= prevVol {
			t.Fatalf("step %d: expected volume to grow past %d, got %d", i, prevVol, tk.DayVolume)
		}
		prevVol = tk.DayVolume
	}

	tk := in.step(rng, 2*86400)
	if tk.DayKey != 2*86400 {
		t.Errorf("expected day key %d, got %d", 2*86400, tk.DayKey)
	}
	if tk.DayOpen != tk.Price || tk.DayHigh != tk.Price || tk.DayLow != tk.Price {
		t.Errorf("expected a fresh day at %v, got o=%v h=%v l=%v", tk.Price, tk.DayOpen, tk.DayHigh, tk.DayLow)
	}
	if tk.DayVolume > 100 {
		t.Errorf("expected volume reset, got %d", tk.DayVolume)
	}

	q := in.quote()
	if q.Close != tk.Price || q.Volume != tk.DayVolume {
		t.Errorf("quote %+v does not match tick %+v", q, tk)
	}
}

func TestParseInstruments(t *testing.T) {
	got := parseInstruments("005930:71000, 000660 ,:5")
	if len(got) != 2 {
		t.Fatalf("expected 2 instruments, got %d", len(got))
	}
	if got[0].Code != "005930" || got[0].Price != 71000 {
		t.Errorf("unexpected first instrument %+v", got[0])
	}
	if got[1].Code != "000660" || got[1].Price != 10000 {
		t.Errorf("unexpected second instrument %+v", got[1])
	}
}
