package kafkafeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"marketchart/internal/marketdata/feed"
	"marketchart/internal/model"
)

type fakeReader struct {
	msgs   chan kafka.Message
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(nil, "", "g")
	require.ErrorIs(t, err, ErrNoBrokers)
	_, err = NewWriter(nil, "")
	require.ErrorIs(t, err, ErrNoBrokers)
}

func TestFeed_DispatchesFilteredTicks(t *testing.T) {
	r := &fakeReader{msgs: make(chan kafka.Message, 4)}
	f := &Feed{reader: r, topic: DefaultTopic}
	f.Subscribe("005930")

	for _, code := range []string{"000660", "005930"} {
		raw, err := feed.EncodeTick(model.Tick{Code: code, Price: 100})
		require.NoError(t, err)
		r.msgs <- kafka.Message{Key: []byte(code), Value: raw}
	}

	ticks := make(chan model.Tick, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, feed.Sink{Tick: func(tk model.Tick) { ticks <- tk }})
	}()

	select {
	case tk := <-ticks:
		require.Equal(t, "005930", tk.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	cancel()
	require.NoError(t, <-done)
	require.True(t, r.closed)
	require.Empty(t, ticks)
}

func TestWriter_KeysByCode(t *testing.T) {
	fw := &fakeWriter{}
	w := &Writer{w: fw}
	require.NoError(t, w.Publish(context.Background(), "005930", []byte(`{}`)))
	require.Len(t, fw.msgs, 1)
	require.Equal(t, "005930", string(fw.msgs[0].Key))
}
