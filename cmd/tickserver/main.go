// cmd/tickserver: demo tick server.
// Simulates trades for a set of instrument codes and publishes them as feed
// envelopes, for running chartd without a broker connection.
//
// Every TICK_QUOTE_EVERY ticks per code a quote envelope carrying the full
// day snapshot is sent as well. Websocket clients may send a subscribe
// envelope to narrow the codes they receive.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR : listen address  (default: ":8765")
//	TICK_CODES       : comma-separated CODE:PRICE pairs (default: "005930:71000")
//	TICK_INTERVAL_MS : broadcast interval milliseconds (default: "250")
//	TICK_QUOTE_EVERY : ticks between quote envelopes (default: "40")
//	MARKET_TZ        : zone that defines the trading day (default: "Asia/Seoul")
//	TICK_REDIS_ADDR  : also publish on Redis pub/sub when set
//	TICK_REDIS_CHANNEL
//	TICK_KAFKA_BROKERS: also produce to Kafka when set
//	TICK_KAFKA_TOPIC
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"marketchart/internal/logger"
	"marketchart/internal/marketdata/feed"
	"marketchart/internal/marketdata/kafkafeed"
	"marketchart/internal/marketdata/redisfeed"
	"marketchart/internal/markethours"
	redisstore "marketchart/internal/store/redis"
)

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	send   chan []byte
	filter feed.CodeFilter
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{send: make(chan []byte, 256)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.send)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(code string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.filter.Allows(code) {
			continue
		}
		select {
		case c.send <- msg:
		default: // slow client, drop tick
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("upgrade failed", "error", err)
			return
		}
		slog.Info("client connected", "remote", r.RemoteAddr)

		c := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			slog.Info("client disconnected", "remote", r.RemoteAddr)
		}()

		// Read pump: subscription changes. Exits when the peer goes away.
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					h.unregister(conn)
					return
				}
				msg, err := feed.Decode(raw)
				if err != nil || msg.Sub == nil {
					continue
				}
				c.filter.Set(msg.Sub.Codes...)
				slog.Info("client subscribed", "remote", r.RemoteAddr, "codes", msg.Sub.Codes)
			}
		}()

		// Write pump: sends envelopes to this client.
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// publisher is an extra outlet besides the websocket hub.
type publisher func(ctx context.Context, code string, payload []byte) error

func runGenerator(ctx context.Context, h *hub, pubs []publisher, instruments []*instrument, cal *markethours.Calendar, interval time.Duration, quoteEvery int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := newRNG()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n++
			day := cal.DayKey(now)
			for _, in := range instruments {
				b, err := feed.EncodeTick(in.step(rng, day))
				if err != nil {
					continue
				}
				emit(ctx, h, pubs, in.Code, b)

				if quoteEvery > 0 && n%quoteEvery == 0 {
					if b, err := feed.EncodeQuote(in.quote()); err == nil {
						emit(ctx, h, pubs, in.Code, b)
					}
				}
			}
		}
	}
}

func emit(ctx context.Context, h *hub, pubs []publisher, code string, b []byte) {
	h.broadcast(code, b)
	for _, p := range pubs {
		if err := p(ctx, code, b); err != nil {
			slog.Debug("publish failed", "code", code, "error", err)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	logger.Init("tickserver", logger.ParseLevel(envOrDefault("LOG_LEVEL", "info")))

	// Config
	addr := envOrDefault("TICK_SERVER_ADDR", ":8765")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 250)
	quoteEvery := envIntOrDefault("TICK_QUOTE_EVERY", 40)

	instruments := parseInstruments(envOrDefault("TICK_CODES", "005930:71000"))
	if len(instruments) == 0 {
		slog.Error("no instruments configured via TICK_CODES")
		os.Exit(1)
	}
	cal, err := markethours.New(envOrDefault("MARKET_TZ", markethours.DefaultZone))
	if err != nil {
		slog.Error("calendar", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pubs []publisher
	if redisAddr := os.Getenv("TICK_REDIS_ADDR"); redisAddr != "" {
		rdb, err := redisstore.Connect(ctx, redisstore.Config{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
		if err != nil {
			slog.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		p := redisstore.NewPublisher(rdb, envOrDefault("TICK_REDIS_CHANNEL", redisfeed.DefaultChannel), nil)
		pubs = append(pubs, func(ctx context.Context, _ string, b []byte) error { return p.Publish(ctx, b) })
		slog.Info("publishing to redis", "addr", redisAddr)
	}
	if brokers := os.Getenv("TICK_KAFKA_BROKERS"); brokers != "" {
		w, err := kafkafeed.NewWriter(strings.Split(brokers, ","), envOrDefault("TICK_KAFKA_TOPIC", kafkafeed.DefaultTopic))
		if err != nil {
			slog.Error("kafka writer", "error", err)
			os.Exit(1)
		}
		defer w.Close()
		pubs = append(pubs, w.Publish)
		slog.Info("publishing to kafka", "brokers", brokers)
	}

	h := newHub()
	go runGenerator(ctx, h, pubs, instruments, cal, time.Duration(intervalMs)*time.Millisecond, quoteEvery)

	// HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		slog.Info("listening", "addr", addr, "codes", len(instruments), "interval_ms", intervalMs)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// parseInstruments reads CODE:PRICE pairs. A missing price starts at 10000.
func parseInstruments(s string) []*instrument {
	var result []*instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, priceStr, _ := strings.Cut(part, ":")
		code = strings.TrimSpace(code)
		if code == "" {
			slog.Warn("skipping invalid code spec", "spec", part)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(priceStr), 64)
		if err != nil || price <= 0 {
			price = 10000
		}
		result = append(result, &instrument{Code: code, Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
