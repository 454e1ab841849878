// Package kafkafeed reads feed envelopes from a Kafka topic and writes them
// for cmd/tickserver. Messages are keyed by instrument code so one code
// stays on one partition and keeps its order.
package kafkafeed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"marketchart/internal/marketdata/feed"
)

// DefaultTopic is the topic used when none is configured.
const DefaultTopic = "chart.ticks"

// ErrNoBrokers is returned when no broker address is configured.
var ErrNoBrokers = errors.New("kafkafeed: no brokers configured")

// messageReader is the part of *kafka.Reader the feed needs.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Feed implements feed.Source and feed.Subscriber.
type Feed struct {
	reader messageReader
	topic  string
	filter feed.CodeFilter
}

// New creates a Feed consuming topic with its own consumer group.
func New(brokers []string, topic, groupID string) (*Feed, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		topic = DefaultTopic
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     250 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	return &Feed{reader: r, topic: topic}, nil
}

// Subscribe restricts delivery to codes. No codes means everything.
func (f *Feed) Subscribe(codes ...string) {
	f.filter.Set(codes...)
}

// Run reads until ctx is cancelled. kafka-go reconnects internally, so read
// errors are logged and retried after a short pause.
func (f *Feed) Run(ctx context.Context, sink feed.Sink) error {
	defer f.reader.Close()
	sink = f.filter.Wrap(sink)

	sink.Connected(true)
	defer sink.Connected(false)
	slog.Info("kafkafeed consuming", "topic", f.topic)

	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("kafkafeed read failed", "topic", f.topic, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if err := sink.Dispatch(msg.Value); err != nil {
			slog.Debug("kafkafeed parse error", "error", err, "offset", msg.Offset)
		}
	}
}

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer publishes encoded envelopes to a topic.
type Writer struct {
	w messageWriter
}

// NewWriter creates a Writer for topic.
func NewWriter(brokers []string, topic string) (*Writer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Writer{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}, nil
}

// Publish writes one envelope keyed by code.
func (w *Writer) Publish(ctx context.Context, code string, payload []byte) error {
	return w.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(code),
		Value: payload,
		Time:  time.Now(),
	})
}

// Close flushes pending writes.
func (w *Writer) Close() error {
	return w.w.Close()
}
