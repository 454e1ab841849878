// Package feed defines the realtime wire envelope shared by every tick
// transport and the sink the transports deliver into.
//
// On the wire every message is
//
//	{"type":"trade","data":{"code":"005930","price":71200,...}}
//
// "trade" carries a model.Tick, "quote" a model.QuoteSnapshot and
// "subscribe" a Subscription sent from client to server. Other tags are
// ignored.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"marketchart/internal/model"
)

// TypeSubscribe is the client-to-server subscription message tag.
const TypeSubscribe = "subscribe"

// ErrMalformed is wrapped for envelopes that cannot be decoded.
var ErrMalformed = errors.New("feed: malformed message")

// Envelope is the tagged wire message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Subscription asks a server to stream the given instrument codes.
type Subscription struct {
	Codes []string `json:"codes"`
}

// Message is a decoded envelope. Exactly one of Tick, Quote or Sub is set
// for a known tag; all are nil for an unknown one.
type Message struct {
	Type  string
	Tick  *model.Tick
	Quote *model.QuoteSnapshot
	Sub   *Subscription
}

// Known reports whether the tag was recognised.
func (m Message) Known() bool {
	return m.Tick != nil || m.Quote != nil || m.Sub != nil
}

// Decode parses one wire message.
func Decode(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg := Message{Type: env.Type}
	switch env.Type {
	case model.TickTypeTrade:
		var t model.Tick
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return msg, fmt.Errorf("%w: trade: %v", ErrMalformed, err)
		}
		t.Type = env.Type
		msg.Tick = &t
	case model.TickTypeQuote:
		var q model.QuoteSnapshot
		if err := json.Unmarshal(env.Data, &q); err != nil {
			return msg, fmt.Errorf("%w: quote: %v", ErrMalformed, err)
		}
		msg.Quote = &q
	case TypeSubscribe:
		var s Subscription
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return msg, fmt.Errorf("%w: subscribe: %v", ErrMalformed, err)
		}
		msg.Sub = &s
	}
	return msg, nil
}

// Encode wraps data in an envelope tagged typ.
func Encode(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: raw})
}

// EncodeTick encodes t as a trade envelope.
func EncodeTick(t model.Tick) ([]byte, error) {
	t.Type = ""
	return Encode(model.TickTypeTrade, t)
}

// EncodeQuote encodes q as a quote envelope.
func EncodeQuote(q model.QuoteSnapshot) ([]byte, error) {
	return Encode(model.TickTypeQuote, q)
}

// Sink receives decoded messages from a transport. Every callback is
// optional and is called on the transport's goroutine.
type Sink struct {
	Tick  func(model.Tick)
	Quote func(model.QuoteSnapshot)

	// OnMessage sees every decoded tag, known or not.
	OnMessage func(tag string)
	// OnConnect is called with true after (re)connecting and false on loss.
	OnConnect func(connected bool)
}

// Dispatch decodes raw and hands it to the matching callback.
func (s Sink) Dispatch(raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		return err
	}
	if s.OnMessage != nil {
		s.OnMessage(msg.Type)
	}
	switch {
	case msg.Tick != nil && s.Tick != nil:
		s.Tick(*msg.Tick)
	case msg.Quote != nil && s.Quote != nil:
		s.Quote(*msg.Quote)
	}
	return nil
}

// Connected reports a connection state change to the sink.
func (s Sink) Connected(v bool) {
	if s.OnConnect != nil {
		s.OnConnect(v)
	}
}

// Source is a realtime transport. Run blocks until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// Subscriber is implemented by sources that can narrow the stream to the
// instruments currently shown.
type Subscriber interface {
	Subscribe(codes ...string)
}

// CodeFilter narrows a sink to a set of instrument codes for transports
// that cannot filter server side. The zero value passes everything.
type CodeFilter struct {
	mu    sync.RWMutex
	codes map[string]struct{}
}

// Set replaces the allowed codes. No codes means everything.
func (f *CodeFilter) Set(codes ...string) {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	f.mu.Lock()
	f.codes = set
	f.mu.Unlock()
}

// Allows reports whether code passes the filter.
func (f *CodeFilter) Allows(code string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.codes) == 0 {
		return true
	}
	_, ok := f.codes[code]
	return ok
}

// Wrap returns a copy of sink whose Tick and Quote callbacks only see
// allowed codes.
func (f *CodeFilter) Wrap(sink Sink) Sink {
	out := sink
	if sink.Tick != nil {
		out.Tick = func(t model.Tick) {
			if f.Allows(t.Code) {
				sink.Tick(t)
			}
		}
	}
	if sink.Quote != nil {
		out.Quote = func(q model.QuoteSnapshot) {
			if f.Allows(q.Code) {
				sink.Quote(q)
			}
		}
	}
	return out
}
