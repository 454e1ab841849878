package markethours

import (
	"strings"
	"testing"
	"time"
)

var kst = time.FixedZone("KST", 9*3600)

func calendar() *Calendar {
	return NewWithLocation(kst)
}

func TestIsMarketOpen(t *testing.T) {
	c := calendar()
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before open", time.Date(2026, 3, 3, 8, 59, 0, 0, kst), false},
		{"at open", time.Date(2026, 3, 3, 9, 0, 0, 0, kst), true},
		{"midday", time.Date(2026, 3, 3, 12, 0, 0, 0, kst), true},
		{"at close", time.Date(2026, 3, 3, 15, 30, 0, 0, kst), false},
		{"saturday", time.Date(2026, 3, 7, 10, 0, 0, 0, kst), false},
		{"holiday", time.Date(2026, 3, 2, 10, 0, 0, 0, kst), false},
		{"utc input", time.Date(2026, 3, 3, 1, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		if got := c.IsMarketOpen(tc.t); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestDayKey_UsesLocalDate(t *testing.T) {
	c := calendar()
	// 2026-03-03 23:30 UTC is already 2026-03-04 in Seoul.
	got := c.DayKey(time.Date(2026, 3, 3, 23, 30, 0, 0, time.UTC))
	want := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC).Unix()
	if got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func TestNextOpen_SkipsWeekendAndHoliday(t *testing.T) {
	c := calendar()
	// Friday 2026-02-13 after close; Mon-Wed are Seollal.
	got := c.NextOpen(time.Date(2026, 2, 13, 16, 0, 0, 0, kst))
	want := time.Date(2026, 2, 19, 9, 0, 0, 0, kst)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	early := time.Date(2026, 3, 3, 7, 0, 0, 0, kst)
	if got := c.NextOpen(early); !got.Equal(time.Date(2026, 3, 3, 9, 0, 0, 0, kst)) {
		t.Errorf("expected today's open, got %v", got)
	}
}

func TestSetHolidays(t *testing.T) {
	c := calendar()
	set, err := ParseHolidays([]string{"2026-03-03"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c.SetHolidays(set)
	if c.IsTradingDay(time.Date(2026, 3, 3, 10, 0, 0, 0, kst)) {
		t.Error("expected configured holiday")
	}
	if !c.IsTradingDay(time.Date(2026, 3, 2, 10, 0, 0, 0, kst)) {
		t.Error("default holidays should be replaced")
	}

	if _, err := ParseHolidays([]string{"03/03/2026"}); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestStatusString(t *testing.T) {
	c := calendar()
	open := c.StatusString(time.Date(2026, 3, 3, 14, 0, 0, 0, kst))
	if !strings.HasPrefix(open, "Market Open") || !strings.Contains(open, "1h30m") {
		t.Errorf("unexpected status %q", open)
	}
	closed := c.StatusString(time.Date(2026, 3, 3, 16, 0, 0, 0, kst))
	if !strings.HasPrefix(closed, "Market Closed, opens Wed 09:00") {
		t.Errorf("unexpected status %q", closed)
	}
}
