package model

import "time"

// Candle is one trading day of OHLCV data for a single instrument.
// Time is the trading-day key: Unix seconds at UTC midnight of the session date.
type Candle struct {
	Time     int64   `json:"time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	Turnover float64 `json:"turnover"`
}

// Day returns the trading day as a UTC time.
func (c *Candle) Day() time.Time {
	return time.Unix(c.Time, 0).UTC()
}

// Direction reports whether the candle closed at or above its open.
func (c *Candle) Direction() Direction {
	if c.Close >= c.Open {
		return Up
	}
	return Down
}

// LinePoint is one value of a derived line series.
type LinePoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Direction tags a volume bar with the colour group of its candle.
type Direction int8

const (
	Up   Direction = 1
	Down Direction = -1
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// VolumeBar mirrors the candle at the same Time. It is derived, never edited.
type VolumeBar struct {
	Time      int64     `json:"time"`
	Value     float64   `json:"value"`
	Direction Direction `json:"direction"`
	Color     string    `json:"color"`
}

// DayKey truncates t to its calendar date in loc and returns that date's
// UTC midnight as Unix seconds.
func DayKey(t time.Time, loc *time.Location) int64 {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC).Unix()
}
