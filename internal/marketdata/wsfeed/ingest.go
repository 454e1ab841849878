// Package wsfeed streams feed envelopes from a websocket server (for
// example cmd/tickserver) into a feed.Sink, reconnecting with exponential
// backoff.
package wsfeed

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"marketchart/internal/marketdata/feed"
)

// Config holds configuration for the websocket ingest.
type Config struct {
	// URL of the tick websocket server, e.g. "ws://localhost:8765/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest implements feed.Source and feed.Subscriber over a websocket.
type Ingest struct {
	cfg Config

	mu    sync.Mutex
	conn  *websocket.Conn
	codes []string

	// Optional hook, called each time a reconnection is scheduled.
	OnReconnect func()
}

// New creates a new Ingest. Returns an error if the URL is unparseable.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New("wsfeed: url scheme must be ws or wss")
	}
	return &Ingest{cfg: cfg}, nil
}

// Subscribe narrows the stream to codes. It is remembered and re-sent on
// every reconnect.
func (ing *Ingest) Subscribe(codes ...string) {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	ing.codes = append([]string(nil), codes...)
	if ing.conn != nil {
		if err := ing.sendSubscription(); err != nil {
			slog.Warn("wsfeed subscribe failed", "error", err)
		}
	}
}

// Run connects and streams messages into sink until ctx is cancelled,
// reconnecting automatically on disconnect.
func (ing *Ingest) Run(ctx context.Context, sink feed.Sink) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = ing.cfg.ReconnectDelay
	bo.MaxInterval = ing.cfg.MaxReconnectDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := ing.runOnce(ctx, sink)
		if err == nil {
			return nil
		}
		if connected {
			bo.Reset()
		}

		delay := bo.NextBackOff()
		slog.Warn("wsfeed disconnected, reconnecting", "url", ing.cfg.URL, "error", err, "delay", delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (ing *Ingest) runOnce(ctx context.Context, sink feed.Sink) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	ing.mu.Lock()
	ing.conn = conn
	if len(ing.codes) > 0 {
		if err := ing.sendSubscription(); err != nil {
			ing.conn = nil
			ing.mu.Unlock()
			return true, err
		}
	}
	ing.mu.Unlock()
	defer func() {
		ing.mu.Lock()
		ing.conn = nil
		ing.mu.Unlock()
	}()

	slog.Info("wsfeed connected", "url", ing.cfg.URL)
	sink.Connected(true)
	defer sink.Connected(false)

	// Close the connection when ctx is cancelled to unblock ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ing.mu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			ing.mu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		if err := sink.Dispatch(raw); err != nil {
			slog.Debug("wsfeed parse error", "error", err, "raw", string(raw))
		}
	}
}

// sendSubscription writes the current code set. Callers hold ing.mu.
func (ing *Ingest) sendSubscription() error {
	msg, err := feed.Encode(feed.TypeSubscribe, feed.Subscription{Codes: ing.codes})
	if err != nil {
		return err
	}
	ing.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ing.conn.WriteMessage(websocket.TextMessage, msg)
}
