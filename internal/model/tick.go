package model

// Transport message tags. Only TickTypeTrade carries ticks for the merger;
// TickTypeQuote carries full-day quote snapshots.
const (
	TickTypeTrade = "trade"
	TickTypeQuote = "quote"
)

// NoTradePrice is the price reported before the first trade of the day.
const NoTradePrice = 0.0

// Tick is one realtime update for the instrument's current trading day.
// DayHigh, DayLow and DayVolume are running values for the whole day.
type Tick struct {
	Type      string  `json:"type"`
	Code      string  `json:"code"`
	Price     float64 `json:"price"`
	DayOpen   float64 `json:"day_open"`
	DayHigh   float64 `json:"day_high"`
	DayLow    float64 `json:"day_low"`
	DayVolume int64   `json:"day_volume"`
	Turnover  float64 `json:"turnover"`
	DayKey    int64   `json:"day_key"`
}

// HasTrade reports whether the tick carries a real traded price.
func (t *Tick) HasTrade() bool {
	return t.Price > NoTradePrice
}

// QuoteSnapshot is an out-of-band full-day quote used to seed or correct
// today's candle independently of tick arrival.
type QuoteSnapshot struct {
	Code     string  `json:"code"`
	DayKey   int64   `json:"day_key"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	Turnover float64 `json:"turnover"`
}
