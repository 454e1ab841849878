package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketchart/internal/marketdata/feed"
	"marketchart/internal/model"
)

var upgrader = websocket.Upgrader{}

// tickServer answers a subscription with one trade for the first code and
// then drops the connection.
func tickServer(t *testing.T, conns *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		conns.Add(1)

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := feed.Decode(raw)
		if err != nil || msg.Sub == nil || len(msg.Sub.Codes) == 0 {
			t.Errorf("expected subscription, got %s", raw)
			return
		}
		out, _ := feed.EncodeTick(model.Tick{Code: msg.Sub.Codes[0], Price: 71200, DayKey: 86400})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat","data":{}}`))
		conn.WriteMessage(websocket.TextMessage, out)
	}))
}

func TestIngest_SubscribesAndDelivers(t *testing.T) {
	var conns atomic.Int32
	srv := tickServer(t, &conns)
	defer srv.Close()

	ing, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), ReconnectDelay: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ing.Subscribe("005930")

	ticks := make(chan model.Tick, 4)
	var reconnects atomic.Int32
	ing.OnReconnect = func() { reconnects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ing.Run(ctx, feed.Sink{Tick: func(tk model.Tick) { ticks <- tk }})
	}()

	for i := 0; i < 2; i++ {
		select {
		case tk := <-ticks:
			if tk.Code != "005930" || tk.Type != model.TickTypeTrade {
				t.Errorf("unexpected tick %+v", tk)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for tick %d", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if conns.Load() < 2 || reconnects.Load() < 1 {
		t.Errorf("expected a reconnect, got conns=%d reconnects=%d", conns.Load(), reconnects.Load())
	}
}

func TestNew_RejectsHTTP(t *testing.T) {
	if _, err := New(Config{URL: "http://localhost:1/ws"}); err == nil {
		t.Error("expected error for non-websocket scheme")
	}
}
