// Package reconcile merges polled and pushed K-line data into one canonical
// series per market.
//
// Each market owns exactly one Reconciler. Poll snapshots seed the series
// until the push channel delivers its initial snapshot; from then on the
// push channel is authoritative and the caller is expected to suppress
// redundant polling (Seeding exposes the state for that). Push bar updates
// only ever replace the last bar; the providers do not emit a distinct
// "new bar opened" event, so no rollover detection is attempted.
package reconcile

import (
	"log/slog"
	"sort"
	"sync"

	"silvermon/internal/model"
)

// Seeding identifies which source currently feeds the canonical series.
type Seeding int32

const (
	// PollingOnly: no push snapshot received yet, poll snapshots adopted.
	PollingOnly Seeding = iota
	// PushSeeded: push channel delivered its initial snapshot and owns
	// the series.
	PushSeeded
)

func (s Seeding) String() string {
	if s == PushSeeded {
		return "push_seeded"
	}
	return "polling_only"
}

// DefaultMaxBars caps the canonical series length.
const DefaultMaxBars = 120

// Reconciler maintains the canonical ordered series for one market.
// Safe for concurrent use: every entry point holds the mutex for the whole
// read-then-write of the seeding state and series.
type Reconciler struct {
	market  model.Market
	maxBars int

	mu      sync.Mutex
	series  model.Series
	seeding Seeding

	// rejected counts bars dropped for violating the OHLC invariant.
	rejected uint64

	// OnChange, if set, is called with a copy of the series after any
	// mutation. Called without the lock held.
	OnChange func(model.Series)

	// OnReject, if set, is called with the number of bars a mutation
	// dropped. Called without the lock held.
	OnReject func(n int)
}

// New creates a Reconciler for the given market. maxBars <= 0 selects
// DefaultMaxBars.
func New(market model.Market, maxBars int) *Reconciler {
	if maxBars <= 0 {
		maxBars = DefaultMaxBars
	}
	return &Reconciler{market: market, maxBars: maxBars}
}

// Market returns the market this reconciler owns.
func (r *Reconciler) Market() model.Market { return r.market }

// MaxBars returns the series length cap.
func (r *Reconciler) MaxBars() int { return r.maxBars }

// Seeding returns the current authority state.
func (r *Reconciler) Seeding() Seeding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seeding
}

// Series returns a copy of the canonical series.
func (r *Reconciler) Series() model.Series {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.series.Clone()
}

// LastPrice returns the most recent close and true, or false when empty.
func (r *Reconciler) LastPrice() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.series.Last()
	if !ok {
		return 0, false
	}
	return last.Close, true
}

// RejectedBars returns how many malformed bars were dropped so far.
func (r *Reconciler) RejectedBars() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rejected
}

// ApplyPollSnapshot adopts a polled full-series snapshot when the series is
// still poll-fed. While push-seeded the snapshot is ignored for the series
// itself (the caller uses it for other derived values only) and false is
// returned.
func (r *Reconciler) ApplyPollSnapshot(bars model.Series) bool {
	r.mu.Lock()
	if r.seeding == PushSeeded {
		r.mu.Unlock()
		return false
	}
	before := r.rejected
	r.series = r.normalize(bars)
	r.evict()
	dropped := r.rejected - before
	snap := r.series.Clone()
	r.mu.Unlock()

	r.notifyReject(dropped)
	r.notify(snap)
	return true
}

// ApplyPushInitialSnapshot unconditionally replaces the series with the push
// channel's initial snapshot and marks push as the authoritative source.
// Idempotent: applying the same snapshot twice yields the same series.
func (r *Reconciler) ApplyPushInitialSnapshot(bars model.Series) {
	r.mu.Lock()
	before := r.rejected
	r.series = r.normalize(bars)
	r.evict()
	r.seeding = PushSeeded
	dropped := r.rejected - before
	snap := r.series.Clone()
	r.mu.Unlock()

	r.notifyReject(dropped)
	r.notify(snap)
}

// ApplyPushBarUpdate replaces the last bar of the series with bar; when the
// series is empty the update becomes its sole element. Update events never
// append a second bar: they only mutate the open/current bar.
func (r *Reconciler) ApplyPushBarUpdate(bar model.Bar) {
	if !bar.Valid() {
		r.mu.Lock()
		r.rejected++
		r.mu.Unlock()
		slog.Warn("reconcile: dropping malformed bar update",
			"market", r.market, "ts", bar.TS)
		r.notifyReject(1)
		return
	}

	r.mu.Lock()
	if len(r.series) == 0 {
		r.series = model.Series{bar}
	} else {
		// Guard the strictly-increasing invariant: an update carrying a
		// timestamp older than the previous bar would corrupt ordering.
		if len(r.series) > 1 && bar.TS <= r.series[len(r.series)-2].TS {
			r.rejected++
			r.mu.Unlock()
			slog.Warn("reconcile: dropping out-of-order bar update",
				"market", r.market, "ts", bar.TS)
			r.notifyReject(1)
			return
		}
		r.series[len(r.series)-1] = bar
	}
	r.evict()
	snap := r.series.Clone()
	r.mu.Unlock()

	r.notify(snap)
}

// PushDown reverts authority to polling after the push channel reports
// closed or error. Already-seeded data is kept.
func (r *Reconciler) PushDown() {
	r.mu.Lock()
	changed := r.seeding != PollingOnly
	r.seeding = PollingOnly
	r.mu.Unlock()
	if changed {
		slog.Info("reconcile: push channel down, reverting to polling authority",
			"market", r.market)
	}
}

// normalize sorts, de-duplicates by timestamp (last occurrence wins) and
// drops bars violating the OHLC invariant. Caller holds the lock.
func (r *Reconciler) normalize(bars model.Series) model.Series {
	out := make(model.Series, 0, len(bars))
	for _, b := range bars {
		if !b.Valid() {
			r.rejected++
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS < out[j].TS })

	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].TS == b.TS {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

// evict enforces the length cap, dropping oldest bars first.
// Caller holds the lock.
func (r *Reconciler) evict() {
	if over := len(r.series) - r.maxBars; over > 0 {
		r.series = append(model.Series(nil), r.series[over:]...)
	}
}

func (r *Reconciler) notify(snap model.Series) {
	if r.OnChange != nil {
		r.OnChange(snap)
	}
}

func (r *Reconciler) notifyReject(n uint64) {
	if n > 0 && r.OnReject != nil {
		r.OnReject(int(n))
	}
}
