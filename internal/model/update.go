package model

import "encoding/json"

// MarketUpdate is one published view of a market: the reconciled series
// tail plus the band readout and zone classification at the latest close.
type MarketUpdate struct {
	Market     Market  `json:"market"`
	Symbol     string  `json:"symbol"`
	TS         int64   `json:"ts"` // latest bar timestamp, ms
	Price      float64 `json:"price"`
	Upper      float64 `json:"upper"`
	Middle     float64 `json:"middle"`
	Lower      float64 `json:"lower"`
	BandsValid bool    `json:"bands_valid"`
	Zone       string  `json:"zone"`
	Seeding    string  `json:"seeding"`
	BarCount   int     `json:"bar_count"`

	// Series is the reconciled bar window. Omitted from the compact
	// publish payload; fanout consumers read it directly.
	Series Series `json:"-"`
}

// JSON returns the compact publish payload.
func (u MarketUpdate) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
