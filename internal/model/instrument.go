package model

// Instrument identifies the traded instrument a chart session is showing.
type Instrument struct {
	Code     string `json:"code"`
	Market   string `json:"market"`
	Exchange string `json:"exchange"`
	Name     string `json:"name,omitempty"`
}

// Key returns a unique key for this instrument: "exchange:market:code".
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.Market + ":" + i.Code
}

// IsZero reports whether no instrument is set.
func (i Instrument) IsZero() bool {
	return i.Code == ""
}
