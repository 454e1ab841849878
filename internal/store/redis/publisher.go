package redis

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

type pubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// Publisher publishes feed envelopes on a pub/sub channel through the
// circuit breaker.
type Publisher struct {
	client  pubClient
	channel string
	cb      *CircuitBreaker

	// OnDrop is called when a message is dropped while the breaker is open.
	OnDrop func()
}

// NewPublisher creates a publisher for channel.
func NewPublisher(client pubClient, channel string, cb *CircuitBreaker) *Publisher {
	if cb == nil {
		cb = NewCircuitBreaker(5, 10*time.Second)
	}
	return &Publisher{client: client, channel: channel, cb: cb}
}

// Publish sends payload. Messages are dropped, not queued, while Redis is
// unavailable: realtime ticks are superseded by the next one anyway.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	err := p.cb.Execute(func() error {
		return p.client.Publish(ctx, p.channel, payload).Err()
	})
	if err == ErrCircuitOpen {
		if p.OnDrop != nil {
			p.OnDrop()
		}
		return nil
	}
	if err != nil {
		slog.Warn("redis publish failed", "channel", p.channel, "error", err)
	}
	return err
}
