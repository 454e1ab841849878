// cmd/chartd serves the daily candle chart: history is loaded from SQL or
// HTTP (optionally through a Redis cache), live ticks arrive over a
// websocket, Redis pub/sub or Kafka, and browsers attach over /ws.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"marketchart/config"
	"marketchart/internal/api"
	"marketchart/internal/chart/engine"
	"marketchart/internal/gateway"
	"marketchart/internal/history"
	"marketchart/internal/logger"
	"marketchart/internal/marketdata/feed"
	"marketchart/internal/marketdata/kafkafeed"
	"marketchart/internal/marketdata/redisfeed"
	"marketchart/internal/marketdata/snapshot"
	"marketchart/internal/marketdata/wsfeed"
	"marketchart/internal/markethours"
	"marketchart/internal/metrics"
	"marketchart/internal/model"
	redisstore "marketchart/internal/store/redis"
	"marketchart/internal/store/sqlstore"
)

var processStart = time.Now()

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger.Init("chartd", logger.ParseLevel(cfg.LogLevel))
	slog.Info("starting", "instrument", cfg.DefaultInstrument.Key(), "feed", cfg.FeedKind, "history", cfg.HistoryBackend)

	if err := run(cfg); err != nil {
		slog.Error("chartd failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Market calendar ----
	cal, err := markethours.New(cfg.MarketTZ)
	if err != nil {
		return err
	}
	if len(cfg.Holidays) > 0 {
		set, err := markethours.ParseHolidays(cfg.Holidays)
		if err != nil {
			return err
		}
		cal.SetHolidays(set)
	}

	// ---- History source ----
	var src history.Source
	var store *sqlstore.Store
	switch cfg.HistoryBackend {
	case "sql":
		if cfg.HistoryDriver == "sqlite3" {
			os.MkdirAll("data", 0o755)
		}
		store, err = sqlstore.Open(ctx, cfg.HistoryDriver, cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		defer store.Close()
		src = store
	case "http":
		src = history.NewHTTPSource(cfg.HistoryURL)
	}

	// ---- Redis (optional): history cache + tick channel ----
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisstore.Connect(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			slog.Warn("redis unavailable, continuing without cache", "error", err)
		} else {
			defer rdb.Close()
			health.CheckRedis(ctx, rdb)
			cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
			cb.OnStateChange = func(from, to redisstore.State) {
				slog.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
			}
			cached := redisstore.NewCachedSource(rdb, src, cfg.HistoryCacheTTL, cb)
			cached.OnHit = prom.CacheHits.Inc
			cached.OnMiss = prom.CacheMisses.Inc
			src = cached
		}
	}
	if store != nil {
		health.StartLivenessChecker(ctx, rdb, store.DB().DB, 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, rdb, nil, 10*time.Second)
	}

	// ---- Realtime feed ----
	tickSource, subscriber, err := newFeed(cfg, rdb, prom)
	if err != nil {
		return err
	}

	// ---- Engine ----
	var poller *snapshot.Poller
	eng, err := engine.New(engine.Options{
		Source:      src,
		Specs:       cfg.Studies,
		Theme:       cfg.Theme,
		Location:    cal.Location(),
		PageSize:    cfg.PageSize,
		Threshold:   cfg.BackfillThreshold,
		VisibleBars: cfg.VisibleBars,
		Metrics:     prom,
		OnSelect: func(inst model.Instrument) {
			if subscriber != nil {
				subscriber.Subscribe(inst.Code)
			}
			if poller != nil {
				poller.SetInstrument(inst)
			}
		},
	})
	if err != nil {
		return err
	}

	// ---- Quote snapshots (optional) ----
	if cfg.QuoteURL != "" {
		poller, err = snapshot.New(cfg.SnapshotCron, snapshot.NewHTTPFetcher(cfg.QuoteURL), cal, eng.ApplySnapshot)
		if err != nil {
			return err
		}
		poller.OnError = func(error) { prom.SnapshotsTotal.WithLabelValues("error").Inc() }
		poller.Start()
		defer poller.Stop()
	}

	go eng.Run(ctx)
	go trackChart(ctx, eng, health)
	go trackMarket(ctx, cal, prom)

	if tickSource != nil {
		sink := feed.Sink{
			Tick: func(t model.Tick) {
				health.SetLastTickTime(time.Now())
				eng.ApplyTick(t)
			},
			Quote: eng.ApplySnapshot,
			OnMessage: func(tag string) {
				prom.FeedMessages.WithLabelValues(tag).Inc()
			},
			OnConnect: health.SetFeedConnected,
		}
		go func() {
			if err := tickSource.Run(ctx, sink); err != nil && ctx.Err() == nil {
				slog.Error("feed stopped", "error", err)
			}
		}()
	}

	if err := eng.Select(cfg.DefaultInstrument); err != nil {
		return err
	}

	// ---- HTTP: websocket + REST ----
	hub := gateway.NewHub(eng, prom)
	go hub.Run(ctx)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Engine:   eng,
			Hub:      hub,
			Health:   health,
			Calendar: cal,
			Start:    processStart,
		}),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
		slog.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	return nil
}

// newFeed builds the configured realtime transport. The subscriber is nil
// when the transport cannot narrow its stream.
func newFeed(cfg *config.Config, rdb *goredis.Client, prom *metrics.Metrics) (feed.Source, feed.Subscriber, error) {
	switch cfg.FeedKind {
	case "ws":
		ing, err := wsfeed.New(wsfeed.Config{URL: cfg.FeedURL})
		if err != nil {
			return nil, nil, fmt.Errorf("ws feed: %w", err)
		}
		ing.OnReconnect = prom.FeedReconnects.Inc
		return ing, ing, nil
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis feed: REDIS_ADDR not set or unreachable")
		}
		f := redisfeed.New(rdb, cfg.FeedChannel)
		f.OnReconnect = prom.FeedReconnects.Inc
		return f, f, nil
	case "kafka":
		f, err := kafkafeed.New(cfg.KafkaBrokers, cfg.KafkaTopic, "chartd")
		if err != nil {
			return nil, nil, fmt.Errorf("kafka feed: %w", err)
		}
		return f, f, nil
	}
	slog.Warn("no realtime feed configured, chart shows history only")
	return nil, nil, nil
}

// trackChart mirrors the chart status into the health report.
func trackChart(ctx context.Context, eng *engine.Engine, health *metrics.HealthStatus) {
	updates := eng.Updates().Subscribe()
	defer eng.Updates().Unsubscribe(updates)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			health.SetChart(u.Instrument.Key(), string(u.Status))
		}
	}
}

// trackMarket keeps the market state gauge current.
func trackMarket(ctx context.Context, cal *markethours.Calendar, prom *metrics.Metrics) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		if cal.IsMarketOpen(time.Now()) {
			prom.MarketState.Set(1)
		} else {
			prom.MarketState.Set(0)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
