// Package gateway serves the chart to browsers over websocket: engine
// updates are broadcast to every client and a client may attach its two
// rendered panes to the engine as RemotePanes.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"marketchart/internal/chart/engine"
	"marketchart/internal/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub manages websocket clients and fans engine updates out to them.
type Hub struct {
	eng *engine.Engine
	m   *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	latest  []byte

	replay  *ReplayBuffer
	updates <-chan engine.Update

	// Latency tracks enqueue to socket write delay.
	Latency     *LatencyTracker
	Broadcaster *Broadcaster
}

// NewHub creates a hub for eng. m may be nil.
func NewHub(eng *engine.Engine, m *metrics.Metrics) *Hub {
	h := &Hub{
		eng:     eng,
		m:       m,
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(500),
		Latency: NewLatencyTracker(10000),
		updates: eng.Updates().Subscribe(),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Run forwards engine updates until ctx is cancelled or the engine stops.
func (h *Hub) Run(ctx context.Context) {
	defer h.eng.Updates().Unsubscribe(h.updates)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-h.updates:
			if !ok {
				return
			}
			data, err := json.Marshal(u)
			if err != nil {
				slog.Error("update marshal failed", "error", err)
				continue
			}
			h.Broadcaster.Broadcast(MsgUpdate, data)
		}
	}
}

// ServeHTTP upgrades the request to a websocket. A last_seq query
// parameter replays buffered updates newer than it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	lastSeq, _ := strconv.ParseInt(r.URL.Query().Get("last_seq"), 10, 64)
	h.HandleWSRequest(conn, lastSeq)
}

// HandleWSRequest registers an upgraded connection.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastSeq int64) {
	client := newClient(h, conn)
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.m != nil {
		h.m.ClientsConnected.Set(float64(count))
	}
	slog.Info("ws client connected", "clients", count)

	client.sendInitialState(lastSeq)
	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters c and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	if h.m != nil {
		h.m.ClientsConnected.Set(float64(count))
	}
	c.close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq is the sequence number of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Missed returns buffered envelopes with seq in [from, to].
func (h *Hub) Missed(from, to int64) [][]byte {
	entries := h.replay.Range(from, to)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}
