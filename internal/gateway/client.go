package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketchart/config"
	"marketchart/internal/chart/panesync"
)

// outbound is a queued message with its enqueue time for latency tracking.
type outbound struct {
	data []byte
	at   time.Time
}

// Client represents a single websocket peer.
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	mu     sync.Mutex
	send   chan outbound
	closed bool

	// Owned by readPump; the panes themselves live on the engine loop.
	price     *RemotePane
	indicator *RemotePane
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{conn: conn, hub: h, send: make(chan outbound, 256)}
}

// enqueue queues data without blocking. It reports false when the client
// is gone or too slow.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- outbound{data: data, at: time.Now()}:
		return true
	default:
		return false
	}
}

// sendJSON marshals v and queues it.
func (c *Client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !c.enqueue(data) {
		return errClientGone
	}
	return nil
}

func (c *Client) sendError(msg string) {
	c.sendJSON(ErrorMsg{Type: MsgError, Error: msg})
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendInitialState replays envelopes after lastSeq when the replay buffer
// still holds them, otherwise sends the latest update.
func (c *Client) sendInitialState(lastSeq int64) {
	h := c.hub
	h.mu.RLock()
	seq, latest := h.seq, h.latest
	h.mu.RUnlock()

	if lastSeq > 0 && lastSeq < seq {
		missed := h.Missed(lastSeq+1, seq)
		if int64(len(missed)) == seq-lastSeq {
			for _, env := range missed {
				c.enqueue(env)
			}
			return
		}
	}
	if latest != nil && lastSeq < seq {
		c.enqueue(latest)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg.data)
			sent := []time.Time{msg.at}

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next.data)
				sent = append(sent, next.at)
			}

			if err := w.Close(); err != nil {
				return
			}
			for _, at := range sent {
				c.hub.Latency.Since(at)
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.releasePanes()
		c.hub.RemoveClient(c)
		c.conn.Close()
		slog.Info("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg InboundMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message: " + err.Error())
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg InboundMsg) {
	eng := c.hub.eng
	switch msg.Type {
	case MsgBind:
		c.bindPanes()

	case MsgRange, MsgCrosshair, MsgLayout, MsgDestroy:
		p := c.pane(msg.Pane)
		if p == nil {
			c.sendError("unknown or unbound pane " + msg.Pane)
			return
		}
		c.dispatch(p, msg)

	case MsgSelect:
		inst, err := config.ParseInstrument(msg.Instrument)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		if err := eng.Select(inst); err != nil {
			c.sendError(err.Error())
		}

	case MsgLive:
		eng.JumpToLive()

	case MsgTheme:
		if msg.Theme == nil || msg.Theme.UpColor == "" || msg.Theme.DownColor == "" {
			c.sendError("theme requires up_color and down_color")
			return
		}
		eng.SetTheme(*msg.Theme)

	default:
		if msg.Ping > 0 {
			c.sendJSON(PongMsg{Type: MsgPong, Ping: msg.Ping, ServerTS: time.Now().UnixMilli()})
			return
		}
		c.sendError("unknown message type " + msg.Type)
	}
}

// dispatch replays a pane event on the engine loop.
func (c *Client) dispatch(p *RemotePane, msg InboundMsg) {
	eng := c.hub.eng
	switch msg.Type {
	case MsgRange:
		if msg.Window == nil {
			c.sendError("range requires window")
			return
		}
		w := *msg.Window
		eng.Post(func() { p.rangeChanged(w) })
	case MsgCrosshair:
		ch := panesync.Crosshair{Time: msg.Time, Price: msg.Price, HasPrice: msg.HasPrice}
		inside := msg.Inside
		eng.Post(func() { p.crosshairMoved(ch, inside) })
	case MsgLayout:
		width := msg.Width
		eng.Post(func() { p.layoutChanged(width) })
	case MsgDestroy:
		eng.Post(p.destroy)
	}
}

func (c *Client) pane(name string) *RemotePane {
	switch name {
	case PanePrice:
		return c.price
	case PaneIndicator:
		return c.indicator
	}
	return nil
}

// bindPanes creates a fresh pane pair for this client and attaches it to
// the engine, destroying any pair bound earlier.
func (c *Client) bindPanes() {
	c.releasePanes()
	c.price = NewRemotePane(PanePrice, c.sendJSON)
	c.indicator = NewRemotePane(PaneIndicator, c.sendJSON)
	c.hub.eng.BindPanes(c.price, c.indicator)
}

func (c *Client) releasePanes() {
	for _, p := range []*RemotePane{c.price, c.indicator} {
		if p != nil {
			c.hub.eng.Post(p.destroy)
		}
	}
	c.price, c.indicator = nil, nil
}
