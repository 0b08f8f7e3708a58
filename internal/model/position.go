package model

import (
	"encoding/json"
	"time"
)

// Direction of an open position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Position represents one strategy's open position plus running extremes.
// Prices are in the instrument's quote currency.
type Position struct {
	HasPosition  bool      `json:"has_position"`
	Direction    Direction `json:"direction,omitempty"`
	EntryPrice   float64   `json:"entry_price,omitempty"`
	EntryTime    time.Time `json:"entry_time,omitempty"`
	CurrentPrice float64   `json:"current_price"`
	MaxPriceSeen float64   `json:"max_price_seen,omitempty"`
	MinPriceSeen float64   `json:"min_price_seen,omitempty"`

	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
}

// PositionSnapshot is the derived P&L view produced on every price sample.
type PositionSnapshot struct {
	Model        string    `json:"model"`
	HasPosition  bool      `json:"has_position"`
	Direction    Direction `json:"direction,omitempty"`
	CurrentPrice float64   `json:"current_price"`

	Points             float64 `json:"points"`
	Money              float64 `json:"money"`
	MaxFavorablePoints float64 `json:"max_favorable_points"`
	DrawdownPercent    float64 `json:"drawdown_percent"`

	// Threshold latch: set once, never changed by later samples.
	OutcomeReached bool      `json:"outcome_reached"`
	IsWin          bool      `json:"is_win,omitempty"`
	ActualPrice    float64   `json:"actual_price,omitempty"`
	ReachedAt      time.Time `json:"reached_at,omitempty"`
	Completed      bool      `json:"completed"`
}

// Operation is one immutable entry of the decision log: created when a
// strategy decision is executed, never mutated afterward.
type Operation struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"` // BUY, SELL, HOLD, CLOSE
	Price     float64   `json:"price"`
	Rationale string    `json:"rationale"`
	PnL       float64   `json:"pnl,omitempty"` // P&L at decision time, if any
}

// JSON returns the JSON-encoded snapshot (ignoring errors for hot-path usage).
func (s *PositionSnapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// JSON returns the JSON-encoded operation record.
func (o *Operation) JSON() []byte {
	b, _ := json.Marshal(o)
	return b
}
