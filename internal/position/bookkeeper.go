// Package position tracks open positions and running P&L per strategy model.
//
// Each strategy model id owns an independent position and operation stream;
// a write under one key never touches another key's state. The stop-loss /
// take-profit outcome is a one-way latch per position lifetime: once a
// threshold is crossed, later samples cannot change the recorded outcome.
package position

import (
	"fmt"
	"sync"
	"time"

	"silvermon/internal/model"

	"github.com/google/uuid"
)

// Config configures the bookkeeper.
type Config struct {
	// PointValue converts price points to currency.
	PointValue float64

	// Horizon finalizes positions that cross neither threshold within
	// this duration, so "pending" never persists indefinitely.
	Horizon time.Duration
}

const (
	defaultPointValue = 15
	defaultHorizon    = 15 * time.Minute
)

// entry is the per-model mutable state.
type entry struct {
	pos model.Position

	maxFavorablePoints float64

	outcomeReached bool
	isWin          bool
	actualPrice    float64
	reachedAt      time.Time
	completed      bool
}

// Bookkeeper maintains positions keyed by strategy model id.
type Bookkeeper struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Bookkeeper.
func New(cfg Config) *Bookkeeper {
	if cfg.PointValue <= 0 {
		cfg.PointValue = defaultPointValue
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = defaultHorizon
	}
	return &Bookkeeper{cfg: cfg, entries: make(map[string]*entry)}
}

// Open records a new position for the model and returns the operation log
// entry. An existing open position for the same model is replaced.
func (b *Bookkeeper) Open(modelID string, dir model.Direction, price, stop, target float64, now time.Time, rationale string) model.Operation {
	b.mu.Lock()
	b.entries[modelID] = &entry{
		pos: model.Position{
			HasPosition:  true,
			Direction:    dir,
			EntryPrice:   price,
			EntryTime:    now,
			CurrentPrice: price,
			MaxPriceSeen: price,
			MinPriceSeen: price,
			StopLoss:     stop,
			TakeProfit:   target,
		},
	}
	b.mu.Unlock()

	action := "BUY"
	if dir == model.Short {
		action = "SELL"
	}
	return model.Operation{
		ID:        uuid.NewString(),
		Model:     modelID,
		Timestamp: now,
		Action:    action,
		Price:     price,
		Rationale: rationale,
	}
}

// ClosePosition resets the model to no-position and returns the closing
// operation carrying the realized P&L. Returns an error when no position
// is open for the model.
func (b *Bookkeeper) ClosePosition(modelID string, price float64, now time.Time, rationale string) (model.Operation, error) {
	b.mu.Lock()
	e, ok := b.entries[modelID]
	if !ok || !e.pos.HasPosition {
		b.mu.Unlock()
		return model.Operation{}, fmt.Errorf("position: no open position for model %q", modelID)
	}
	points := pointsFor(e.pos.Direction, e.pos.EntryPrice, price)
	delete(b.entries, modelID)
	b.mu.Unlock()

	return model.Operation{
		ID:        uuid.NewString(),
		Model:     modelID,
		Timestamp: now,
		Action:    "CLOSE",
		Price:     price,
		Rationale: rationale,
		PnL:       points * b.cfg.PointValue,
	}, nil
}

// OnPriceSample feeds a price sample for the model and returns the derived
// snapshot. With no open position the snapshot carries zeroed P&L and the
// price passthrough.
func (b *Bookkeeper) OnPriceSample(modelID string, price float64, now time.Time) model.PositionSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[modelID]
	if !ok || !e.pos.HasPosition {
		return model.PositionSnapshot{Model: modelID, CurrentPrice: price}
	}

	p := &e.pos
	p.CurrentPrice = price
	if price > p.MaxPriceSeen {
		p.MaxPriceSeen = price
	}
	if price < p.MinPriceSeen {
		p.MinPriceSeen = price
	}

	points := pointsFor(p.Direction, p.EntryPrice, price)

	// Max favorable excursion: best price in the position's favor so far.
	var favorable float64
	if p.Direction == model.Long {
		favorable = p.MaxPriceSeen - p.EntryPrice
	} else {
		favorable = p.EntryPrice - p.MinPriceSeen
	}
	if favorable > e.maxFavorablePoints {
		e.maxFavorablePoints = favorable
	}

	drawdown := 0.0
	if e.maxFavorablePoints > 0 {
		drawdown = (e.maxFavorablePoints - points) / e.maxFavorablePoints * 100
	}

	// Threshold crossing, direction-aware. First crossing latches.
	if !e.outcomeReached {
		switch p.Direction {
		case model.Long:
			if p.StopLoss > 0 && price <= p.StopLoss {
				e.latch(false, price, now)
			} else if p.TakeProfit > 0 && price >= p.TakeProfit {
				e.latch(true, price, now)
			}
		case model.Short:
			if p.StopLoss > 0 && price >= p.StopLoss {
				e.latch(false, price, now)
			} else if p.TakeProfit > 0 && price <= p.TakeProfit {
				e.latch(true, price, now)
			}
		}
	}

	// Age-based finalization: past the horizon without a verdict, stop
	// reporting the position as pending.
	if !e.completed && !e.outcomeReached && now.Sub(p.EntryTime) >= b.cfg.Horizon {
		e.completed = true
	}

	return model.PositionSnapshot{
		Model:              modelID,
		HasPosition:        true,
		Direction:          p.Direction,
		CurrentPrice:       price,
		Points:             points,
		Money:              points * b.cfg.PointValue,
		MaxFavorablePoints: e.maxFavorablePoints,
		DrawdownPercent:    drawdown,
		OutcomeReached:     e.outcomeReached,
		IsWin:              e.isWin,
		ActualPrice:        e.actualPrice,
		ReachedAt:          e.reachedAt,
		Completed:          e.completed,
	}
}

// Position returns a copy of the model's position, if open.
func (b *Bookkeeper) Position(modelID string) (model.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[modelID]
	if !ok {
		return model.Position{}, false
	}
	return e.pos, e.pos.HasPosition
}

// Models returns the ids with open positions.
func (b *Bookkeeper) Models() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.entries))
	for id := range b.entries {
		out = append(out, id)
	}
	return out
}

func (e *entry) latch(win bool, price float64, now time.Time) {
	e.outcomeReached = true
	e.isWin = win
	e.actualPrice = price
	e.reachedAt = now
	e.completed = true
}

func pointsFor(dir model.Direction, entry, price float64) float64 {
	if dir == model.Short {
		return entry - price
	}
	return price - entry
}
