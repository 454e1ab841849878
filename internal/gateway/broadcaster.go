package gateway

import (
	"strconv"
	"time"
)

// Broadcaster builds sequenced envelopes and sends them to every client.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast wraps data as {"type":typ,"data":...,"ts":"...","seq":N},
// records it for replay and queues it on every client. data must be valid
// JSON.
func (b *Broadcaster) Broadcast(typ string, data []byte) {
	now := time.Now().UTC()

	b.hub.mu.Lock()
	b.hub.seq++
	seq := b.hub.seq
	buf := buildEnvelope(typ, data, now, seq)
	b.hub.latest = buf
	b.hub.mu.Unlock()

	b.hub.replay.Push(seq, buf)

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for client := range b.hub.clients {
		client.enqueue(buf)
	}
}

// buildEnvelope hand-crafts the envelope JSON; data is embedded verbatim.
func buildEnvelope(typ string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(typ)+len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
