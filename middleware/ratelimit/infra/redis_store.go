package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"n8n-relay/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStore é a janela fixa compartilhada entre réplicas do relay.
//
// Cada Hit é um INCR + EXPIRE NX + PTTL numa transação; a janela começa no
// primeiro INCR da chave e o Redis cuida do despejo. EXPIRE NX exige Redis >= 7.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	window time.Duration
}

type RedisStoreOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb *redis.Client, windowSize time.Duration, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "ratelimit:window",
		window: windowSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k domain.Key) string { return s.prefix + ":" + string(k) }

// Hit implementa domain.WindowStore.
func (s *RedisStore) Hit(ctx context.Context, key domain.Key, now time.Time) (domain.WindowState, error) {
	k := s.key(key)

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, s.window)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.WindowState{}, fmt.Errorf("redis window %q: %w", k, err)
	}

	start := now
	if ttl := pttl.Val(); ttl > 0 && ttl <= s.window {
		start = now.Add(ttl - s.window)
	}
	return domain.WindowState{Count: int(incr.Val()), Start: start}, nil
}
