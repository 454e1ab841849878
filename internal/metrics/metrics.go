package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the chart engine.
type Metrics struct {
	// Realtime merge
	TicksTotal      *prometheus.CounterVec // labels: result=applied|ignored|stale
	TicksIgnored    *prometheus.CounterVec // labels: reason
	SnapshotsTotal  *prometheus.CounterVec // labels: result=applied|ignored|stale|error
	PendingTicks    prometheus.Gauge
	RingBufOverflow prometheus.Counter
	TickQueueDepth  prometheus.Gauge
	FeedReconnects  prometheus.Counter
	FeedMessages    *prometheus.CounterVec // labels: type

	// History loading
	InitialLoadDur   prometheus.Histogram
	InitialLoadFails prometheus.Counter
	BackfillPages    prometheus.Counter
	BackfillBars     prometheus.Counter
	BackfillFailures prometheus.Counter
	StaleResults     prometheus.Counter

	// Derived series
	RecomputeDur *prometheus.HistogramVec // labels: kind=full|tail

	// Panes
	PaneWriteFailures *prometheus.CounterVec // labels: op

	// Fan-out to browser clients
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	FanoutQueueDepth *prometheus.GaugeVec   // labels: subscriber
	ClientsConnected prometheus.Gauge

	// History cache
	CacheHits                prometheus.Counter
	CacheMisses              prometheus.Counter
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Market session
	MarketState     prometheus.Gauge // 0=closed, 1=open
	SessionSwitches prometheus.Counter
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// NewMetrics registers the metrics on the default registry. It is safe to
// call more than once; later calls return the same set.
func NewMetrics() *Metrics {
	defaultOnce.Do(func() {
		defaultM = NewMetricsWith(prometheus.DefaultRegisterer)
	})
	return defaultM
}

// NewMetricsWith registers and returns all metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	latency := []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_ticks_total",
			Help: "Realtime ticks by merge result",
		}, []string{"result"}),
		TicksIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_ticks_ignored_total",
			Help: "Ticks ignored by the merger (by reason)",
		}, []string{"reason"}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_snapshots_total",
			Help: "Quote snapshots by merge result",
		}, []string{"result"}),
		PendingTicks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_pending_ticks",
			Help: "Ticks held until the initial load completes",
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_ringbuf_overflow_total",
			Help: "Tick ring buffer push overflows (dropped ticks)",
		}),
		TickQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_tick_queue_depth",
			Help: "Ticks waiting in the ring buffer for the engine loop",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_feed_reconnects_total",
			Help: "Realtime feed reconnection attempts",
		}),
		FeedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_feed_messages_total",
			Help: "Feed envelopes received (by type tag)",
		}, []string{"type"}),

		InitialLoadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chart_initial_load_duration_seconds",
			Help:    "Latency of the initial history page",
			Buckets: prometheus.DefBuckets,
		}),
		InitialLoadFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_initial_load_failures_total",
			Help: "Initial history loads that failed",
		}),
		BackfillPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_backfill_pages_total",
			Help: "Backfill pages applied",
		}),
		BackfillBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_backfill_bars_total",
			Help: "Bars prepended by backfill",
		}),
		BackfillFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_backfill_failures_total",
			Help: "Backfill fetches that failed and will be retried on scroll",
		}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_stale_fetch_results_total",
			Help: "Fetch results discarded because the instrument changed",
		}),

		RecomputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chart_recompute_duration_seconds",
			Help:    "Derived series recompute latency",
			Buckets: latency,
		}, []string{"kind"}),

		PaneWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_pane_write_failures_total",
			Help: "Swallowed writes to disposed panes (by operation)",
		}, []string{"op"}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_fanout_drops_total",
			Help: "Updates dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		FanoutQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chart_fanout_queue_depth",
			Help: "Updates buffered per FanOut subscriber channel",
		}, []string{"subscriber"}),
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_ws_clients",
			Help: "Connected browser clients",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_history_cache_hits_total",
			Help: "History pages served from Redis",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_history_cache_misses_total",
			Help: "History pages fetched from the backing source",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		SessionSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_session_switches_total",
			Help: "Instrument switches (new chart sessions)",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TicksIgnored,
		m.SnapshotsTotal,
		m.PendingTicks,
		m.RingBufOverflow,
		m.TickQueueDepth,
		m.FeedReconnects,
		m.FeedMessages,
		m.InitialLoadDur,
		m.InitialLoadFails,
		m.BackfillPages,
		m.BackfillBars,
		m.BackfillFailures,
		m.StaleResults,
		m.RecomputeDur,
		m.PaneWriteFailures,
		m.FanoutDropsTotal,
		m.FanoutQueueDepth,
		m.ClientsConnected,
		m.CacheHits,
		m.CacheMisses,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.MarketState,
		m.SessionSwitches,
	)

	return m
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	HistoryOK      bool      `json:"history_ok"`
	Instrument     string    `json:"instrument"`
	ChartStatus    string    `json:"chart_status"`

	// Liveness probe results
	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	HistoryLatencyMs float64   `json:"history_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		HistoryOK: true,
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetChart(instrument, status string) {
	h.mu.Lock()
	h.Instrument = instrument
	h.ChartStatus = status
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

// CheckHistoryDB pings the candle store and records latency + health.
func (h *HealthStatus) CheckHistoryDB(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.HistoryOK = err == nil
	h.HistoryLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies
// are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
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
				if db != nil {
					h.CheckHistoryDB(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP reports health as JSON: unhealthy when history is unreachable,
// degraded when the realtime feed is down.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected {
		overallStatus = "degraded"
	}
	if !h.HistoryOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		Instrument       string  `json:"instrument"`
		ChartStatus      string  `json:"chart_status"`
		FeedConnected    bool    `json:"feed_connected"`
		TickAge          string  `json:"tick_age"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		HistoryOK        bool    `json:"history_ok"`
		HistoryLatencyMs float64 `json:"history_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		Instrument:       h.Instrument,
		ChartStatus:      h.ChartStatus,
		FeedConnected:    h.FeedConnected,
		TickAge:          tickAge,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		HistoryOK:        h.HistoryOK,
		HistoryLatencyMs: h.HistoryLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
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
		slog.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
