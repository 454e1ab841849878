package main

import (
	"math/rand"
	"time"

	"marketchart/internal/model"
)

// instrument holds per-code simulation state for the current trading day.
type instrument struct {
	Code  string
	Price float64

	day      int64
	open     float64
	high     float64
	low      float64
	volume   int64
	turnover float64
}

// step advances the instrument by one trade and returns the tick. A new
// day key resets the running day values.
func (in *instrument) step(rng *rand.Rand, dayKey int64) model.Tick {
	in.Price = walkPrice(rng, in.Price)
	qty := int64(rng.Intn(100) + 1)

	if dayKey != in.day {
		in.day = dayKey
		in.open, in.high, in.low = in.Price, in.Price, in.Price
		in.volume, in.turnover = 0, 0
	}
	if in.Price > in.high {
		in.high = in.Price
	}
	if in.Price < in.low {
		in.low = in.Price
	}
	in.volume += qty
	in.turnover += in.Price * float64(qty)

	return model.Tick{
		Code:      in.Code,
		Price:     in.Price,
		DayOpen:   in.open,
		DayHigh:   in.high,
		DayLow:    in.low,
		DayVolume: in.volume,
		Turnover:  in.turnover,
		DayKey:    in.day,
	}
}

// quote is the full-day snapshot of the current state.
func (in *instrument) quote() model.QuoteSnapshot {
	return model.QuoteSnapshot{
		Code:     in.Code,
		DayKey:   in.day,
		Open:     in.open,
		High:     in.high,
		Low:      in.low,
		Close:    in.Price,
		Volume:   in.volume,
		Turnover: in.turnover,
	}
}

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement,
// rounded to whole currency units.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price + float64(int64(price*pct))
	if next < 1 {
		next = 1
	}
	return next
}

// newRNG seeds a generator from the clock.
func newRNG() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
