// Package bus broadcasts values from one producer to many consumers over
// buffered channels.
package bus

import (
	"log/slog"
	"sync"
)

// FanOut broadcasts values to N output channels. If an output channel is
// full the value is dropped for that consumer so a slow consumer never
// blocks the producer.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []chan T
	bufSize int
	closed  bool

	// OnDrop is called when a value is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{bufSize: outputBufferSize}
}

// Subscribe creates and returns a new output channel. Subscribing after
// Close returns an already closed channel.
func (f *FanOut[T]) Subscribe() <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.outputs = append(f.outputs, ch)
	return ch
}

// Unsubscribe removes and closes ch.
func (f *FanOut[T]) Unsubscribe(ch <-chan T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, out := range f.outputs {
		if out == ch {
			f.outputs = append(f.outputs[:i:i], f.outputs[i+1:]...)
			close(out)
			return
		}
	}
}

// Publish delivers v to every subscriber without blocking.
func (f *FanOut[T]) Publish(v T) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, ch := range f.outputs {
		select {
		case ch <- v:
		default:
			if f.OnDrop != nil {
				f.OnDrop(i)
			} else {
				slog.Warn("bus output channel full, dropping value", "subscriber", i)
			}
		}
	}
}

// Close closes every subscriber channel. It is idempotent.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.outputs {
		close(ch)
	}
	f.outputs = nil
}

// ChannelStat is the saturation of one subscriber channel.
type ChannelStat struct {
	Len int `json:"len"`
	Cap int `json:"cap"`
}

// ChannelStats returns (length, capacity) for each subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
