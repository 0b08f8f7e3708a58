// Package marketdata wires the per-market pipeline: reconciled series in,
// band readouts and position snapshots out.
//
// One Coordinator owns one market. It is the push channel's Handler, the
// owner of that market's Reconciler, and the polling driver. Every series
// change recomputes the band envelope and emits a MarketUpdate on the
// Updates channel for fan-out.
package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"silvermon/internal/band"
	"silvermon/internal/feed/poll"
	"silvermon/internal/markethours"
	"silvermon/internal/model"
	"silvermon/internal/position"
	"silvermon/internal/reconcile"
)

const (
	defaultBandPeriod     = 20
	defaultBandMultiplier = 2.0
	defaultPollInterval   = 60 * time.Second
	defaultKlineInterval  = "1m"
	updateBufSize         = 16
)

// Config configures one market coordinator.
type Config struct {
	Market         model.Market
	BandPeriod     int           // default 20
	BandMultiplier float64       // default 2.0
	MaxBars        int           // reconciler cap; <= 0 selects the default
	PollInterval   time.Duration // default 60s
	KlineInterval  string        // default "1m"
}

func (c *Config) fill() {
	if c.BandPeriod <= 0 {
		c.BandPeriod = defaultBandPeriod
	}
	if c.BandMultiplier <= 0 {
		c.BandMultiplier = defaultBandMultiplier
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.KlineInterval == "" {
		c.KlineInterval = defaultKlineInterval
	}
}

// Coordinator drives one market's data flow. It implements push.Handler.
type Coordinator struct {
	cfg    Config
	rec    *reconcile.Reconciler
	poller *poll.Client
	book   *position.Bookkeeper

	updates chan model.MarketUpdate

	// OnSnapshot, if set, receives the per-model position snapshot computed
	// for every price sample.
	OnSnapshot func(model.PositionSnapshot)

	// OnPollResult, if set, observes every poll request issued: what names
	// the endpoint, err is nil on success.
	OnPollResult func(what string, err error)

	mu        sync.Mutex
	lastDepth model.Depth
	lastState model.ConnectionState
	dropped   uint64
}

// New creates a Coordinator. poller may be nil when the market is push-only;
// book may be nil when no position tracking is wanted.
func New(cfg Config, poller *poll.Client, book *position.Bookkeeper) *Coordinator {
	cfg.fill()
	c := &Coordinator{
		cfg:     cfg,
		poller:  poller,
		book:    book,
		updates: make(chan model.MarketUpdate, updateBufSize),
	}
	c.rec = reconcile.New(cfg.Market, cfg.MaxBars)
	c.rec.OnChange = c.seriesChanged
	return c
}

// Market returns the coordinated market.
func (c *Coordinator) Market() model.Market { return c.cfg.Market }

// Reconciler exposes the canonical series owner for status reads.
func (c *Coordinator) Reconciler() *reconcile.Reconciler { return c.rec }

// Updates returns the stream of band readouts. One value per series change;
// values are dropped, not queued, when the consumer lags.
func (c *Coordinator) Updates() <-chan model.MarketUpdate { return c.updates }

// DroppedUpdates reports updates discarded because the channel was full.
func (c *Coordinator) DroppedUpdates() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// seriesChanged recomputes the envelope and publishes one MarketUpdate.
// Runs on whichever goroutine mutated the series.
func (c *Coordinator) seriesChanged(series model.Series) {
	u := model.MarketUpdate{
		Market:   c.cfg.Market,
		Symbol:   c.cfg.Market.Symbol(),
		Seeding:  c.rec.Seeding().String(),
		BarCount: len(series),
		Series:   series,
	}

	if last, ok := series.Last(); ok {
		u.TS = last.TS
		u.Price = last.Close
	}

	bands, err := band.Compute(series, c.cfg.BandPeriod, c.cfg.BandMultiplier)
	if err != nil {
		slog.Error("band compute failed", "market", c.cfg.Market, "err", err)
	} else if p, ok := bands.Last(); ok {
		u.Upper = p.Upper
		u.Middle = p.Middle
		u.Lower = p.Lower
		u.BandsValid = true
		u.Zone = string(band.Classify(u.Price, p))
	}

	select {
	case c.updates <- u:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		slog.Warn("update channel full, dropping", "market", c.cfg.Market)
	}
}

// RunPolling polls the REST source until ctx is cancelled. Polls are
// suppressed while the market is closed and while the push channel owns the
// series. Blocks.
func (c *Coordinator) RunPolling(ctx context.Context) {
	if c.poller == nil {
		return
	}

	c.PollOnce(ctx)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.PollOnce(ctx)
		}
	}
}

// PollOnce performs a single poll cycle: a K-line snapshot when the series
// is still poll-fed, plus a trade tick to drive position sampling.
func (c *Coordinator) PollOnce(ctx context.Context) {
	if c.poller == nil {
		return
	}
	now := time.Now()
	if c.cfg.Market == model.MarketDomestic && !markethours.PreciseOTCOpen(now) {
		return
	}

	symbol := c.cfg.Market.Symbol()

	if c.rec.Seeding() == reconcile.PollingOnly {
		series, err := c.poller.Klines(ctx, symbol, c.cfg.KlineInterval, c.rec.MaxBars())
		c.pollResult("klines", err)
		if err != nil {
			c.logPollErr("klines", err)
		} else {
			c.rec.ApplyPollSnapshot(series)
		}
	}

	tick, err := c.poller.TradeTick(ctx, symbol)
	c.pollResult("trade tick", err)
	if err != nil {
		c.logPollErr("trade tick", err)
		return
	}
	c.sample(tick.Price, now)
}

func (c *Coordinator) pollResult(what string, err error) {
	if c.OnPollResult != nil {
		c.OnPollResult(what, err)
	}
}

func (c *Coordinator) logPollErr(what string, err error) {
	if errors.Is(err, poll.ErrTransient) {
		slog.Warn("poll failed, will retry next cycle",
			"market", c.cfg.Market, "what", what, "err", err)
		return
	}
	slog.Error("poll failed permanently for this cycle",
		"market", c.cfg.Market, "what", what, "err", err)
}

// sample runs every tracked model's position through the bookkeeper.
func (c *Coordinator) sample(price float64, now time.Time) {
	if c.book == nil || c.OnSnapshot == nil {
		return
	}
	for _, id := range c.book.Models() {
		c.OnSnapshot(c.book.OnPriceSample(id, price, now))
	}
}

// Depth returns the most recent order book push.
func (c *Coordinator) Depth() model.Depth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDepth
}

// ConnState returns the last reported push channel state.
func (c *Coordinator) ConnState() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastState
}

// OnInitialBars implements push.Handler.
func (c *Coordinator) OnInitialBars(m model.Market, bars model.Series) {
	c.rec.ApplyPushInitialSnapshot(bars)
}

// OnBarUpdate implements push.Handler.
func (c *Coordinator) OnBarUpdate(m model.Market, bar model.Bar) {
	c.rec.ApplyPushBarUpdate(bar)
}

// OnTick implements push.Handler.
func (c *Coordinator) OnTick(m model.Market, tick model.Tick) {
	c.sample(tick.Price, time.Now())
}

// OnDepth implements push.Handler.
func (c *Coordinator) OnDepth(m model.Market, depth model.Depth) {
	c.mu.Lock()
	c.lastDepth = depth
	c.mu.Unlock()
}

// OnStateChange implements push.Handler. A channel that leaves Open hands
// series authority back to polling.
func (c *Coordinator) OnStateChange(m model.Market, s model.ConnectionState) {
	c.mu.Lock()
	c.lastState = s
	c.mu.Unlock()

	switch s {
	case model.ConnReconnecting, model.ConnFailed, model.ConnIdle:
		c.rec.PushDown()
	}
	slog.Info("push channel state", "market", m, "state", s.String())
}
