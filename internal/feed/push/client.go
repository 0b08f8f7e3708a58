package push

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"silvermon/internal/model"
)

const (
	defaultHeartbeat      = 20 * time.Second
	defaultResubThrottle  = 2 * time.Second
	defaultCoalesceWindow = 200 * time.Millisecond
	writeTimeout          = 10 * time.Second
)

// Conn is the subset of *websocket.Conn the client uses. Injectable for
// tests via Config.Dial.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc establishes the underlying socket.
type DialFunc func(ctx context.Context, url string) (Conn, error)

func gorillaDial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config configures one push channel instance.
type Config struct {
	URL    string
	Market model.Market
	Symbol string

	Backoff BackoffPolicy

	// Heartbeat is the resubscription heartbeat interval. The provider's
	// keep-alive mechanism is "re-subscribe", not a ping/pong frame.
	Heartbeat time.Duration

	// ResubThrottle suppresses redundant resubscribe requests issued
	// within this window of the previous one. Heartbeat-triggered
	// resubscriptions bypass the throttle.
	ResubThrottle time.Duration

	// CoalesceWindow rate-limits bar-update forwarding downstream.
	CoalesceWindow time.Duration

	// OnCoalescedDrop, if set, fires for every bar update superseded
	// inside a coalescing window.
	OnCoalescedDrop func()

	// Dial defaults to a gorilla/websocket dialer.
	Dial DialFunc
}

func (c *Config) fill() {
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.ResubThrottle <= 0 {
		c.ResubThrottle = defaultResubThrottle
	}
	if c.CoalesceWindow <= 0 {
		c.CoalesceWindow = defaultCoalesceWindow
	}
	if c.Dial == nil {
		c.Dial = gorillaDial
	}
	if c.Backoff.MaxAttempts <= 0 {
		c.Backoff = ExponentialBackoff()
	}
}

// Client manages one persistent push channel:
//
//	Idle → Connecting → Open → (close/error) → Reconnecting → Connecting …
//	→ Failed (terminal once the attempt cap is exhausted)
//
// All handler callbacks are guarded so nothing fires after Close.
type Client struct {
	cfg     Config
	codec   Codec
	handler Handler
	log     *slog.Logger

	state  atomic.Int32
	seq    atomic.Int64
	active atomic.Bool
	closed atomic.Bool

	mu         sync.Mutex
	conn       Conn
	lastSub    time.Time
	heartbeat  *time.Ticker
	hbStop     chan struct{}
	reconnects atomic.Uint64

	coalesce *coalescer

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a push channel client. Start must be called to connect.
func NewClient(cfg Config, codec Codec, handler Handler) *Client {
	cfg.fill()
	c := &Client{
		cfg:     cfg,
		codec:   codec,
		handler: handler,
		log:     slog.With("channel", cfg.Market, "symbol", cfg.Symbol),
		done:    make(chan struct{}),
	}
	c.coalesce = newCoalescer(cfg.CoalesceWindow, func(bar model.Bar) {
		if c.active.Load() {
			c.handler.OnBarUpdate(cfg.Market, bar)
		}
	})
	c.coalesce.onDrop = cfg.OnCoalescedDrop
	c.state.Store(int32(model.ConnIdle))
	return c
}

// State returns the current connection state.
func (c *Client) State() model.ConnectionState {
	return model.ConnectionState(c.state.Load())
}

// Reconnects returns the total reconnect attempts made.
func (c *Client) Reconnects() uint64 { return c.reconnects.Load() }

// CoalescedDrops returns bar updates superseded before forwarding.
func (c *Client) CoalescedDrops() uint64 { return c.coalesce.Dropped() }

// Start launches the connection loop. Returns immediately; lifecycle events
// arrive through the handler. Calling Start on a closed client is a no-op.
func (c *Client) Start(ctx context.Context) {
	if c.closed.Load() {
		return
	}
	if !c.active.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
}

// Close tears the channel down: idempotent, cancels all timers, closes the
// socket if open, and guarantees no handler callback fires afterward.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.active.Store(false)
		if c.cancel != nil {
			c.cancel()
		}
		c.coalesce.Stop()
		c.stopHeartbeat()
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed when the client has fully shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil || !c.active.Load() {
			return
		}

		c.setState(model.ConnConnecting)
		conn, err := c.cfg.Dial(ctx, c.cfg.URL)
		if err != nil {
			c.log.Warn("dial failed", "err", err, "attempt", attempt+1)
			c.setState(model.ConnReconnecting)
			if !c.waitRetry(ctx, &attempt) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		attempt = 0
		c.setState(model.ConnOpen)
		c.log.Info("channel open")

		c.resubscribe(true)
		c.startHeartbeat()

		err = c.readLoop(ctx, conn)
		c.stopHeartbeat()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil || !c.active.Load() {
			return
		}
		c.log.Warn("channel closed", "err", err)
		c.setState(model.ConnReconnecting)
		if !c.waitRetry(ctx, &attempt) {
			return
		}
	}
}

// waitRetry sleeps the backoff delay for the next attempt. Returns false
// when the cap is exhausted (terminal Failed) or the context is cancelled.
func (c *Client) waitRetry(ctx context.Context, attempt *int) bool {
	*attempt++
	if *attempt > c.cfg.Backoff.MaxAttempts {
		c.log.Error("reconnect attempts exhausted", "attempts", c.cfg.Backoff.MaxAttempts)
		c.setState(model.ConnFailed)
		return false
	}
	c.reconnects.Add(1)
	delay := c.cfg.Backoff.Delay(*attempt)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(frame)
	}
}

// dispatch decodes one frame and routes it by message kind.
func (c *Client) dispatch(frame []byte) {
	if !c.active.Load() {
		return
	}
	msg, err := c.codec.Decode(frame)
	if err != nil {
		c.log.Warn("frame parse error", "err", err)
		return
	}

	switch msg.Kind {
	case MsgUnknown:
		c.log.Warn("unknown cmd code, dropping frame", "cmd", msg.Cmd)
	case MsgIgnored:
		// valid but irrelevant to this core
	case MsgSubAck:
		if !msg.OK {
			c.log.Warn("subscription ack with non-success status",
				"cmd", msg.Cmd, "status", msg.Status)
		}
	case MsgInitialBars:
		if c.active.Load() {
			c.handler.OnInitialBars(c.cfg.Market, msg.Bars)
		}
	case MsgBarUpdate:
		c.coalesce.Offer(msg.Bar, time.Now())
	case MsgTick:
		if c.active.Load() {
			c.handler.OnTick(c.cfg.Market, msg.Tick)
		}
	case MsgDepth:
		if c.active.Load() {
			c.handler.OnDepth(c.cfg.Market, msg.Depth)
		}
	}
}

// resubscribe (re)issues every subscription frame for the symbol. force
// bypasses the redundancy throttle; heartbeats always force.
func (c *Client) resubscribe(force bool) {
	c.mu.Lock()
	if !force && time.Since(c.lastSub) < c.cfg.ResubThrottle {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.lastSub = time.Now()
	c.mu.Unlock()

	if conn == nil {
		return
	}

	ids := SubscriptionIDs{
		NextSeq: func() int64 { return c.seq.Add(1) },
		Trace:   uuid.NewString,
	}
	frames, err := c.codec.SubscribeFrames(c.cfg.Symbol, ids)
	if err != nil {
		c.log.Error("building subscription frames", "err", err)
		return
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
			c.log.Warn("subscription write failed", "err", err)
			return
		}
	}
	c.log.Debug("subscriptions issued", "frames", len(frames))
}

func (c *Client) startHeartbeat() {
	c.mu.Lock()
	c.heartbeat = time.NewTicker(c.cfg.Heartbeat)
	c.hbStop = make(chan struct{})
	ticker, stop := c.heartbeat, c.hbStop
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if c.active.Load() {
					c.resubscribe(true)
				}
			}
		}
	}()
}

func (c *Client) stopHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
}

// RequestResubscribe asks for a throttled resubscription, used by callers
// that suspect a stale subscription (e.g. after a quiet period). Subject to
// the redundancy throttle.
func (c *Client) RequestResubscribe() {
	if c.active.Load() && c.State() == model.ConnOpen {
		c.resubscribe(false)
	}
}

func (c *Client) setState(s model.ConnectionState) {
	old := model.ConnectionState(c.state.Swap(int32(s)))
	if old != s && c.active.Load() {
		c.handler.OnStateChange(c.cfg.Market, s)
	}
}
