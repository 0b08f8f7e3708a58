package model

import "time"

// Tick represents a single most-recent-trade price sample, normalized at the
// channel boundary from whatever shape the provider delivered (string or
// numeric prices, possibly array-wrapped).
type Tick struct {
	Market Market    `json:"market"`
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"` // UTC
}

// DepthLevel is one price/volume rung of an order-book ladder.
type DepthLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Depth is an order-book snapshot: bid and ask ladders, best first.
type Depth struct {
	Market Market       `json:"market"`
	Symbol string       `json:"symbol"`
	Bids   []DepthLevel `json:"bids"`
	Asks   []DepthLevel `json:"asks"`
	TS     time.Time    `json:"ts"`
}
