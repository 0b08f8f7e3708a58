package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the monitor.
type Metrics struct {
	PushMessagesTotal *prometheus.CounterVec // labels: market, kind
	PushReconnects    *prometheus.CounterVec // labels: market
	CoalescedDrops    *prometheus.CounterVec // labels: market
	RejectedBarsTotal *prometheus.CounterVec // labels: market

	PollRequestsTotal *prometheus.CounterVec // labels: market
	PollErrorsTotal   *prometheus.CounterVec // labels: market, class=transient|permanent

	BandUpdatesTotal *prometheus.CounterVec // labels: market
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	MarketOpen       *prometheus.GaugeVec   // labels: market; 0=closed, 1=open

	AdvisorRequestDur prometheus.Histogram
	PositionMoney     *prometheus.GaugeVec // labels: model
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		PushMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silvermon_push_messages_total",
			Help: "Push frames received (by market and decoded kind)",
		}, []string{"market", "kind"}),
		PushReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silvermon_push_reconnects_total",
			Help: "Push channel reconnection attempts",
		}, []string{"market"}),
		CoalescedDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silvermon_coalesced_drops_total",
			Help: "Bar updates absorbed by the coalescing window",
		}, []string{"market"}),
		RejectedBarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silvermon_rejected_bars_total",
			Help: "Bars dropped for violating the OHLC invariant or ordering",
		}, []string{"market"}),

		PollRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silvermon_poll_requests_total",
			Help: "Poll requests issued",
		}, []string{"market"}),
		PollErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silvermon_poll_errors_total",
			Help: "Polling failures (by error class)",
		}, []string{"market", "class"}),

		BandUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silvermon_band_updates_total",
			Help: "Band readouts published",
		}, []string{"market"}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silvermon_fanout_drops_total",
			Help: "Updates dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		MarketOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "silvermon_market_open",
			Help: "Market session state (0=closed, 1=open)",
		}, []string{"market"}),

		AdvisorRequestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "silvermon_advisor_request_duration_seconds",
			Help:    "Advisory service request latency",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		PositionMoney: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "silvermon_position_money",
			Help: "Current open-position P&L in currency per model",
		}, []string{"model"}),
	}

	prometheus.MustRegister(
		m.PushMessagesTotal,
		m.PushReconnects,
		m.CoalescedDrops,
		m.RejectedBarsTotal,
		m.PollRequestsTotal,
		m.PollErrorsTotal,
		m.BandUpdatesTotal,
		m.FanoutDropsTotal,
		m.MarketOpen,
		m.AdvisorRequestDur,
		m.PositionMoney,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	PushConnected  map[string]bool `json:"push_connected"`
	LastBarTime    time.Time       `json:"last_bar_time"`
	RedisConnected bool            `json:"redis_connected"`
	SQLiteOK       bool            `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		PushConnected: make(map[string]bool),
		StartedAt:     time.Now(),
	}
}

func (h *HealthStatus) SetPushConnected(market string, v bool) {
	h.mu.Lock()
	h.PushConnected[market] = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	anyPush := false
	for _, v := range h.PushConnected {
		if v {
			anyPush = true
			break
		}
	}

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !anyPush || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string          `json:"status"`
		Uptime          string          `json:"uptime"`
		PushConnected   map[string]bool `json:"push_connected"`
		LastBarTime     string          `json:"last_bar_time"`
		BarAge          string          `json:"bar_age"`
		RedisConnected  bool            `json:"redis_connected"`
		RedisLatencyMs  float64         `json:"redis_latency_ms"`
		SQLiteOK        bool            `json:"sqlite_ok"`
		SQLiteLatencyMs float64         `json:"sqlite_latency_ms"`
		LastCheckAt     string          `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		PushConnected:   h.PushConnected,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
