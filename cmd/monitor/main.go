package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"silvermon/config"
	"silvermon/internal/advisor"
	"silvermon/internal/feed/poll"
	"silvermon/internal/feed/push"
	"silvermon/internal/logger"
	"silvermon/internal/marketdata"
	"silvermon/internal/marketdata/bus"
	"silvermon/internal/markethours"
	"silvermon/internal/metrics"
	"silvermon/internal/model"
	"silvermon/internal/notification"
	"silvermon/internal/oplog"
	"silvermon/internal/position"
	"silvermon/internal/provider/domestic"
	"silvermon/internal/provider/london"
	"silvermon/internal/publish"
)

// instrumentedHandler wraps a coordinator to keep health and metrics in
// step with the push channel without the coordinator knowing about either.
type instrumentedHandler struct {
	*marketdata.Coordinator
	health *metrics.HealthStatus
	prom   *metrics.Metrics
	notify notification.Notifier
}

func (h instrumentedHandler) OnInitialBars(m model.Market, bars model.Series) {
	h.prom.PushMessagesTotal.WithLabelValues(string(m), "initial_bars").Inc()
	h.health.SetLastBarTime(time.Now())
	h.Coordinator.OnInitialBars(m, bars)
}

func (h instrumentedHandler) OnBarUpdate(m model.Market, bar model.Bar) {
	h.prom.PushMessagesTotal.WithLabelValues(string(m), "bar_update").Inc()
	h.health.SetLastBarTime(time.Now())
	h.Coordinator.OnBarUpdate(m, bar)
}

func (h instrumentedHandler) OnTick(m model.Market, tick model.Tick) {
	h.prom.PushMessagesTotal.WithLabelValues(string(m), "tick").Inc()
	h.Coordinator.OnTick(m, tick)
}

func (h instrumentedHandler) OnStateChange(m model.Market, s model.ConnectionState) {
	h.health.SetPushConnected(string(m), s == model.ConnOpen)
	if s == model.ConnReconnecting {
		h.prom.PushReconnects.WithLabelValues(string(m)).Inc()
	}
	if s == model.ConnFailed {
		h.notify.Send(context.Background(), notification.PushChannelFailed(m))
	}
	h.Coordinator.OnStateChange(m, s)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("monitor", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	log.Println("[monitor] starting...")

	cfg := config.Load()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Operation log (off hot path) ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("[monitor] creating oplog dir %s: %v", dir, err)
		}
	}
	ops, err := oplog.Open(oplog.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[monitor] oplog init failed: %v", err)
	}
	defer ops.Close()
	health.SetSQLiteOK(true)
	go ops.RunSweeper(ctx)
	log.Println("[monitor] operation log ready")

	// ---- Redis publisher ----
	var pub *publish.Publisher
	pub, err = publish.New(publish.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[monitor] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
		pub = nil
	} else {
		health.SetRedisConnected(true)
		log.Println("[monitor] redis publisher ready")
	}

	// ---- Periodic liveness checks ----
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), ops.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, ops.DB(), 10*time.Second)
	}

	// ---- Notifications ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.NotifyWebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(notification.WebhookConfig{URL: cfg.NotifyWebhookURL}))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
		}))
	}
	notify := notification.NewMulti(backends...)

	// ---- Bookkeeper shared across markets ----
	book := position.New(position.Config{PointValue: cfg.PointValue})

	// ---- Per-market coordinators ----
	snapshots := make(chan model.PositionSnapshot, 256)
	newCoord := func(m model.Market, pollURL string) *marketdata.Coordinator {
		poller := poll.New(poll.Config{BaseURL: pollURL, Market: m})
		c := marketdata.New(marketdata.Config{
			Market:         m,
			BandPeriod:     cfg.BandPeriod,
			BandMultiplier: cfg.BandMultiplier,
			MaxBars:        cfg.MaxBars,
			PollInterval:   cfg.PollInterval,
			KlineInterval:  cfg.KlineInterval,
		}, poller, book)
		c.OnSnapshot = func(s model.PositionSnapshot) {
			select {
			case snapshots <- s:
			default:
			}
		}
		c.OnPollResult = func(what string, err error) {
			prom.PollRequestsTotal.WithLabelValues(string(m)).Inc()
			if err != nil {
				class := "permanent"
				if errors.Is(err, poll.ErrTransient) {
					class = "transient"
				}
				prom.PollErrorsTotal.WithLabelValues(string(m), class).Inc()
			}
		}
		c.Reconciler().OnReject = func(n int) {
			prom.RejectedBarsTotal.WithLabelValues(string(m)).Add(float64(n))
		}
		return c
	}

	londonCoord := newCoord(model.MarketLondon, cfg.PollBaseURLLondon)
	domesticCoord := newCoord(model.MarketDomestic, cfg.PollBaseURLDomestic)
	coords := []*marketdata.Coordinator{londonCoord, domesticCoord}

	// ---- Push channels ----
	coalescedDrop := func(m model.Market) func() {
		return func() { prom.CoalescedDrops.WithLabelValues(string(m)).Inc() }
	}

	londonPush := push.NewClient(push.Config{
		URL:             cfg.PushURLLondon,
		Market:          model.MarketLondon,
		Symbol:          model.MarketLondon.Symbol(),
		Backoff:         push.FixedBackoff(),
		OnCoalescedDrop: coalescedDrop(model.MarketLondon),
	}, london.Codec{KlineKind: cfg.KlineInterval},
		instrumentedHandler{londonCoord, health, prom, notify})

	domesticPush := push.NewClient(push.Config{
		URL:             cfg.PushURLDomestic,
		Market:          model.MarketDomestic,
		Symbol:          model.MarketDomestic.Symbol(),
		Backoff:         push.ExponentialBackoff(),
		OnCoalescedDrop: coalescedDrop(model.MarketDomestic),
	}, domestic.Codec{Interval: cfg.KlineInterval},
		instrumentedHandler{domesticCoord, health, prom, notify})

	londonPush.Start(ctx)
	domesticPush.Start(ctx)
	defer londonPush.Close()
	defer domesticPush.Close()

	// ---- Polling fallback ----
	for _, c := range coords {
		go c.RunPolling(ctx)
	}

	// ---- Fan-out of band updates ----
	updateCh := make(chan model.MarketUpdate, 256)
	fanout := bus.New(256)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}

	var pubUpdateCh <-chan model.MarketUpdate
	if pub != nil {
		pubUpdateCh = fanout.Subscribe()
	}
	advisorCh := fanout.Subscribe()

	go fanout.Run(ctx, updateCh)

	// Funnel per-coordinator updates into the single fan-out input.
	for _, c := range coords {
		go func(c *marketdata.Coordinator) {
			for {
				select {
				case <-ctx.Done():
					return
				case u, ok := <-c.Updates():
					if !ok {
						return
					}
					prom.BandUpdatesTotal.WithLabelValues(string(u.Market)).Inc()
					select {
					case updateCh <- u:
					default:
					}
				}
			}
		}(c)
	}

	if pub != nil && pubUpdateCh != nil {
		go pub.Run(ctx, pubUpdateCh)
	}

	// ---- Position snapshot sink ----
	go func() {
		latched := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-snapshots:
				if !ok {
					return
				}
				prom.PositionMoney.WithLabelValues(s.Model).Set(s.Money)
				if pub != nil {
					pub.PublishSnapshot(ctx, s)
				}
				if s.OutcomeReached && !latched[s.Model] {
					latched[s.Model] = true
					notify.Send(ctx, notification.OutcomeLatched(s))
				}
				if !s.HasPosition {
					delete(latched, s.Model)
				}
			}
		}
	}()

	// ---- Session state gauge ----
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				for _, m := range []model.Market{model.MarketLondon, model.MarketDomestic} {
					open := 0.0
					if markethours.IsOpen(m, now) {
						open = 1.0
					}
					prom.MarketOpen.WithLabelValues(string(m)).Set(open)
				}
			}
		}
	}()

	// ---- Advisory loop (optional) ----
	if cfg.LLMEndpoint != "" {
		adv := advisor.New(advisor.Config{
			Endpoint: cfg.LLMEndpoint,
			APIKey:   cfg.LLMAPIKey,
			Model:    cfg.LLMModel,
		})
		go runAdvisor(ctx, adv, cfg.LLMModel, advisorCh, book, ops, pub, prom, notify)
		log.Printf("[monitor] advisory loop enabled, model=%s", cfg.LLMModel)
	} else {
		// Keep the fanout subscriber drained even without an advisor.
		go func() {
			for range advisorCh {
			}
		}()
	}

	log.Printf("[monitor] pipeline ready: london=%s domestic=%s", cfg.PushURLLondon, cfg.PushURLDomestic)
	log.Printf("[monitor] %s | %s",
		markethours.StatusString(model.MarketLondon, time.Now()),
		markethours.StatusString(model.MarketDomestic, time.Now()))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[monitor] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if pub != nil {
		pub.Close()
	}

	log.Println("[monitor] shutdown complete.")
}

// runAdvisor asks the advisory service for a decision on each new domestic
// band readout, at most once per cooldown window, and executes it through
// the bookkeeper.
func runAdvisor(ctx context.Context, adv *advisor.Client, modelID string,
	updates <-chan model.MarketUpdate, book *position.Bookkeeper,
	ops *oplog.Store, pub *publish.Publisher, prom *metrics.Metrics,
	notify notification.Notifier) {

	const cooldown = 5 * time.Minute
	var lastAsk time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Market != model.MarketDomestic || !u.BandsValid {
				continue
			}
			if time.Since(lastAsk) < cooldown {
				continue
			}
			lastAsk = time.Now()

			start := time.Now()
			decision, err := adv.Decide(ctx, buildPrompt(u, book, modelID))
			prom.AdvisorRequestDur.Observe(time.Since(start).Seconds())
			if err != nil {
				slog.Warn("advisor decision failed", "err", err)
				continue
			}

			op, acted := executeDecision(decision, u, book, modelID)
			if !acted {
				continue
			}
			if err := ops.Append(op); err != nil {
				slog.Error("oplog append failed", "err", err)
			}
			if pub != nil {
				pub.PublishOperation(ctx, op)
			}
			notify.Send(ctx, notification.OperationExecuted(op))
			slog.Info("advisor decision executed",
				"action", decision.Action, "price", op.Price, "confidence", decision.Confidence)
		}
	}
}

// buildPrompt summarizes the current market state for the advisory service.
func buildPrompt(u model.MarketUpdate, book *position.Bookkeeper, modelID string) []advisor.Message {
	state := "no open position"
	if pos, ok := book.Position(modelID); ok && pos.HasPosition {
		state = string(pos.Direction) + " from " + strconv.FormatFloat(pos.EntryPrice, 'f', -1, 64)
	}
	return []advisor.Message{
		{Role: "system", Content: "You are a silver futures trading advisor. Respond with a single JSON object: " +
			`{"action":"BUY|SELL|HOLD|CLOSE","confidence":0..1,"entry_price":n,"stop_loss":n,"take_profit":n,"rationale":"..."}`},
		{Role: "user", Content: string(u.JSON()) + "\ncurrent position: " + state},
	}
}

// executeDecision applies a decision to the bookkeeper. HOLD and redundant
// actions produce no operation.
func executeDecision(d advisor.Decision, u model.MarketUpdate,
	book *position.Bookkeeper, modelID string) (model.Operation, bool) {

	pos, hasPos := book.Position(modelID)
	open := hasPos && pos.HasPosition
	now := time.Now()

	switch d.Action {
	case advisor.ActionBuy:
		if open {
			return model.Operation{}, false
		}
		entry := d.EntryPrice
		if entry == 0 {
			entry = u.Price
		}
		return book.Open(modelID, model.Long, entry, d.StopLoss, d.TakeProfit, now, d.Rationale), true
	case advisor.ActionSell:
		if open {
			return model.Operation{}, false
		}
		entry := d.EntryPrice
		if entry == 0 {
			entry = u.Price
		}
		return book.Open(modelID, model.Short, entry, d.StopLoss, d.TakeProfit, now, d.Rationale), true
	case advisor.ActionClose:
		if !open {
			return model.Operation{}, false
		}
		op, err := book.ClosePosition(modelID, u.Price, now, d.Rationale)
		if err != nil {
			return model.Operation{}, false
		}
		return op, true
	default: // HOLD
		return model.Operation{}, false
	}
}
