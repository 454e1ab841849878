package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"marketchart/internal/history"
	"marketchart/internal/model"
)

const cacheKeyPrefix = "chart:history:"

// kv is the subset of Redis the cache uses.
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// errMiss reports a key that is not cached.
var errMiss = errors.New("redis: cache miss")

type clientKV struct {
	c goredis.Cmdable
}

func (k clientKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := k.c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, errMiss
	}
	return b, err
}

func (k clientKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return k.c.Set(ctx, key, value, ttl).Err()
}

// CachedSource serves history pages from Redis and falls through to the
// wrapped source on a miss. Redis failures never fail a fetch: the breaker
// trips and the cache is bypassed until Redis recovers.
type CachedSource struct {
	store kv
	next  history.Source
	ttl   time.Duration
	cb    *CircuitBreaker

	// Optional metrics hooks.
	OnHit  func()
	OnMiss func()
}

// NewCachedSource wraps next with a Redis cache of the given TTL.
func NewCachedSource(client goredis.Cmdable, next history.Source, ttl time.Duration, cb *CircuitBreaker) *CachedSource {
	return newCachedSource(clientKV{c: client}, next, ttl, cb)
}

func newCachedSource(store kv, next history.Source, ttl time.Duration, cb *CircuitBreaker) *CachedSource {
	if cb == nil {
		cb = NewCircuitBreaker(5, 10*time.Second)
	}
	return &CachedSource{store: store, next: next, ttl: ttl, cb: cb}
}

// Fetch implements history.Source.
func (s *CachedSource) Fetch(ctx context.Context, req history.Request) ([]model.Candle, error) {
	key := cacheKeyPrefix + req.Key()

	var cached []byte
	err := s.cb.Execute(func() error {
		b, err := s.store.Get(ctx, key)
		if errors.Is(err, errMiss) {
			return nil
		}
		cached = b
		return err
	})
	if err == nil && cached != nil {
		var page []model.Candle
		if jerr := json.Unmarshal(cached, &page); jerr == nil {
			if s.OnHit != nil {
				s.OnHit()
			}
			return page, nil
		}
		slog.Warn("history cache entry corrupt", "key", key)
	} else if err != nil && !errors.Is(err, ErrCircuitOpen) {
		slog.Warn("history cache read failed", "key", key, "error", err)
	}

	if s.OnMiss != nil {
		s.OnMiss()
	}
	page, err := s.next.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(page)
	if err != nil {
		return page, nil
	}
	werr := s.cb.Execute(func() error { return s.store.Set(ctx, key, data, s.ttl) })
	if werr != nil && !errors.Is(werr, ErrCircuitOpen) {
		slog.Warn("history cache write failed", "key", key, "error", werr)
	}
	return page, nil
}
