// Package redisfeed reads feed envelopes from a Redis PubSub channel.
package redisfeed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/go-redis/redis/v8"

	"marketchart/internal/marketdata/feed"
)

// DefaultChannel is the channel cmd/tickserver publishes on.
const DefaultChannel = "pub:chart:ticks"

var errChannelClosed = errors.New("redisfeed: channel closed")

// Feed implements feed.Source and feed.Subscriber. Redis has no server side
// filter for a single channel, so Subscribe narrows delivery locally.
type Feed struct {
	client  goredis.UniversalClient
	channel string

	filter feed.CodeFilter

	OnReconnect func()
}

// New creates a Feed reading channel (DefaultChannel when empty).
func New(client goredis.UniversalClient, channel string) *Feed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Feed{client: client, channel: channel}
}

// Subscribe restricts delivery to codes. No codes means everything.
func (f *Feed) Subscribe(codes ...string) {
	f.filter.Set(codes...)
}

// Run subscribes and streams into sink until ctx is cancelled.
func (f *Feed) Run(ctx context.Context, sink feed.Sink) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	filtered := f.filter.Wrap(sink)
	for ctx.Err() == nil {
		connected, err := f.runOnce(ctx, filtered)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if connected {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		slog.Warn("redisfeed subscription lost", "channel", f.channel, "error", err, "delay", delay)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
	return nil
}

func (f *Feed) runOnce(ctx context.Context, sink feed.Sink) (bool, error) {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	// Receive blocks until the subscription is confirmed or fails.
	if _, err := pubsub.Receive(ctx); err != nil {
		return false, err
	}
	slog.Info("redisfeed subscribed", "channel", f.channel)
	sink.Connected(true)
	defer sink.Connected(false)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-ch:
			if !ok {
				return true, errChannelClosed
			}
			if err := sink.Dispatch([]byte(msg.Payload)); err != nil {
				slog.Debug("redisfeed parse error", "error", err)
			}
		}
	}
}
