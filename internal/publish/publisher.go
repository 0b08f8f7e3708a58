// Package publish pushes live monitor state to Redis for downstream
// consumers (dashboards, bots). Each update is written two ways in one
// pipeline: a latest-value key with a TTL for late joiners, and a pub/sub
// message for real-time subscribers.
package publish

import (
	"context"
	"fmt"
	"log"
	"time"

	"silvermon/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL    = 30 * time.Minute
	breakerMaxFailures  = 5
	breakerResetTimeout = 10 * time.Second
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes market updates, position snapshots, and operation
// records to Redis. A circuit breaker sheds writes while Redis is down so
// the data pipeline never blocks on publishing.
type Publisher struct {
	client  *goredis.Client
	breaker *breaker
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// BreakerState reports the publish circuit breaker state.
func (p *Publisher) BreakerState() BreakerState { return p.breaker.currentState() }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	b := newBreaker(breakerMaxFailures, breakerResetTimeout)
	b.onStateChange = func(from, to BreakerState) {
		log.Printf("[publish] circuit breaker %s -> %s", from, to)
	}

	log.Printf("[publish] connected to %s", cfg.Addr)
	return &Publisher{client: client, breaker: b}, nil
}

// Run reads market updates from updateCh and publishes them.
// Blocks until ctx is cancelled or updateCh is closed.
func (p *Publisher) Run(ctx context.Context, updateCh <-chan model.MarketUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updateCh:
			if !ok {
				return
			}
			p.writeUpdate(ctx, u)
		}
	}
}

// writeUpdate performs the pipelined SET + PUBLISH for one update.
func (p *Publisher) writeUpdate(ctx context.Context, u model.MarketUpdate) {
	latestKey := "band:latest:" + string(u.Market)
	pubsubCh := "pub:band:" + string(u.Market)
	jsonData := string(u.JSON())

	err := p.breaker.execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, pubsubCh, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && err != ErrBreakerOpen {
		log.Printf("[publish] update pipeline error for %s: %v", u.Market, err)
	}
}

// PublishSnapshot writes one per-model position snapshot.
func (p *Publisher) PublishSnapshot(ctx context.Context, snap model.PositionSnapshot) {
	latestKey := "pnl:latest:" + snap.Model
	pubsubCh := "pub:pnl:" + snap.Model
	jsonData := string(snap.JSON())

	err := p.breaker.execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, pubsubCh, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && err != ErrBreakerOpen {
		log.Printf("[publish] snapshot pipeline error for %s: %v", snap.Model, err)
	}
}

// PublishOperation announces one operation record on pub/sub.
func (p *Publisher) PublishOperation(ctx context.Context, op model.Operation) {
	jsonData := string(op.JSON())
	err := p.breaker.execute(func() error {
		return p.client.Publish(ctx, "pub:ops:"+op.Model, jsonData).Err()
	})
	if err != nil && err != ErrBreakerOpen {
		log.Printf("[publish] operation publish error for %s: %v", op.ID, err)
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
