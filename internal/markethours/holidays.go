package markethours

import (
	"fmt"
	"time"
)

// KRX holidays for 2026. Format: month, day pairs.
var krxHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},    // New Year's Day
	{time.February, 16},  // Seollal
	{time.February, 17},  // Seollal
	{time.February, 18},  // Seollal
	{time.March, 2},      // Independence Movement Day (substitute)
	{time.May, 1},        // Labour Day
	{time.May, 5},        // Children's Day
	{time.May, 25},       // Buddha's Birthday (substitute)
	{time.June, 3},       // Local elections
	{time.August, 17},    // Liberation Day (substitute)
	{time.September, 24}, // Chuseok
	{time.September, 25}, // Chuseok
	{time.October, 5},    // National Foundation Day (substitute)
	{time.October, 9},    // Hangul Day
	{time.December, 25},  // Christmas
	{time.December, 31},  // Year-end closing
}

// DefaultHolidays returns the built-in holiday list as YYYY-MM-DD keys.
func DefaultHolidays() []string {
	out := make([]string, 0, len(krxHolidays2026))
	for _, h := range krxHolidays2026 {
		out = append(out, dateKey(2026, h.month, h.day))
	}
	return out
}

// ParseHolidays validates YYYY-MM-DD dates and returns them as a set.
func ParseHolidays(dates []string) (map[string]bool, error) {
	set := make(map[string]bool, len(dates))
	for _, d := range dates {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("markethours: holiday %q: %w", d, err)
		}
		set[t.Format("2006-01-02")] = true
	}
	return set, nil
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}
