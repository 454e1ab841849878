// Package markethours knows when the exchange is trading and which
// trading day a wall-clock instant belongs to.
package markethours

import (
	"fmt"
	"time"

	"marketchart/internal/model"
)

// Default session: 09:00-15:30 Asia/Seoul.
const (
	DefaultZone = "Asia/Seoul"
	OpenHour    = 9
	OpenMinute  = 0
	CloseHour   = 15
	CloseMinute = 30
)

// Calendar is a market's trading session in its local time zone.
type Calendar struct {
	loc        *time.Location
	openMin    int
	closeMin   int
	holidaySet map[string]bool
}

// New creates a calendar for the named IANA zone with the default session
// and holidays.
func New(zone string) (*Calendar, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("markethours: load zone %q: %w", zone, err)
	}
	set, _ := ParseHolidays(DefaultHolidays())
	return &Calendar{
		loc:        loc,
		openMin:    OpenHour*60 + OpenMinute,
		closeMin:   CloseHour*60 + CloseMinute,
		holidaySet: set,
	}, nil
}

// NewWithLocation is New with an already resolved location.
func NewWithLocation(loc *time.Location) *Calendar {
	set, _ := ParseHolidays(DefaultHolidays())
	return &Calendar{
		loc:        loc,
		openMin:    OpenHour*60 + OpenMinute,
		closeMin:   CloseHour*60 + CloseMinute,
		holidaySet: set,
	}
}

// SetSession overrides the open and close times (local hh:mm).
func (c *Calendar) SetSession(openHour, openMinute, closeHour, closeMinute int) {
	c.openMin = openHour*60 + openMinute
	c.closeMin = closeHour*60 + closeMinute
}

// SetHolidays replaces the holiday set.
func (c *Calendar) SetHolidays(set map[string]bool) {
	c.holidaySet = set
}

// Location is the market's time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// DayKey is the trading-day key (UTC midnight of the local date) for t.
func (c *Calendar) DayKey(t time.Time) int64 {
	return model.DayKey(t, c.loc)
}

// IsHoliday returns true if the local date of t is an exchange holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	lt := t.In(c.loc)
	return c.holidaySet[dateKey(lt.Year(), lt.Month(), lt.Day())]
}

// IsWeekday returns true if t is Mon-Fri in local time.
func (c *Calendar) IsWeekday(t time.Time) bool {
	wd := t.In(c.loc).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	return c.IsWeekday(t) && !c.IsHoliday(t)
}

// IsMarketOpen returns true if t falls within trading hours on a trading day.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	lt := t.In(c.loc)
	hm := lt.Hour()*60 + lt.Minute()
	return hm >= c.openMin && hm < c.closeMin
}

// NextOpen returns the next market open. If t is before today's open on a
// trading day, returns today's open.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	lt := t.In(c.loc)

	todayOpen := c.at(lt, c.openMin)
	if lt.Before(todayOpen) && c.IsTradingDay(lt) {
		return todayOpen
	}

	d := lt.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ { // weekends plus the longest holiday run
		if c.IsTradingDay(d) {
			return c.at(d, c.openMin)
		}
		d = d.AddDate(0, 0, 1)
	}
	return c.at(lt.AddDate(0, 0, 1), c.openMin)
}

// TodayClose returns the close of t's local date.
func (c *Calendar) TodayClose(t time.Time) time.Time {
	return c.at(t.In(c.loc), c.closeMin)
}

// TimeUntilClose returns the duration until today's close, 0 once closed.
func (c *Calendar) TimeUntilClose(t time.Time) time.Duration {
	d := c.TodayClose(t).Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// StatusString returns a human-readable market status.
func (c *Calendar) StatusString(t time.Time) string {
	if c.IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(c.TimeUntilClose(t)))
	}
	next := c.NextOpen(t)
	lt := next.In(c.loc)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		lt.Weekday().String()[:3], lt.Format("15:04"), fmtDur(next.Sub(t)))
}

func (c *Calendar) at(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, c.loc)
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
