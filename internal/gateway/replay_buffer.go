package gateway

import (
	"sort"
	"sync"
)

// replayEntry is one broadcast envelope.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the most recent broadcast envelopes so a reconnecting
// client can catch up from its last seen seq. Entries are pushed in
// increasing seq order. Safe for concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer holding capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push records an envelope, evicting the oldest when full. data is not
// copied; envelopes are immutable once built.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.buf[rb.pos] = replayEntry{Seq: seq, Data: data}
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
}

// Range returns the entries with seq in [fromSeq, toSeq] in seq order.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.len()
	lo := sort.Search(n, func(i int) bool { return rb.at(i).Seq >= fromSeq })
	var out []replayEntry
	for i := lo; i < n; i++ {
		e := rb.at(i)
		if e.Seq > toSeq {
			break
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of entries held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// at returns the i-th oldest entry.
func (rb *ReplayBuffer) at(i int) replayEntry {
	if rb.full {
		return rb.buf[(rb.pos+i)%len(rb.buf)]
	}
	return rb.buf[i]
}
