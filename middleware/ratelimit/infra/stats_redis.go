package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"n8n-relay/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore conta as decisões do rate limit por motivo (allowed,
// client_window, global, fail_open):
//
//	<prefix>:total                  hash motivo -> n, não expira
//	<prefix>:minute:<yyyymmddhhmm>  hash motivo -> n (bucket=minute), expira em ttl
//	<prefix>:denied:<yyyymmdd>      zset cliente -> recusas pela própria janela
//	                                (só com trackKeys), expira em ttl
//
// O zset diário responde "quem está batendo no limite do formulário" sem
// guardar nada dos clientes que passaram.
type RedisStatsStore struct {
	rdb *redis.Client

	prefix    string
	ttl       time.Duration
	bucket    string // "minute" (padrão) ou "none"
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "relay:ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	reason := string(ev.Reason)
	if reason == "" {
		reason = string(domain.ReasonAllowed)
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", reason, 1)

	if s.bucket == "minute" {
		s.incrExpiring(ctx, pipe, fmt.Sprintf("%s:minute:%s", s.prefix, at.Format("200601021504")), reason)
	}

	if k := strings.TrimSpace(string(ev.Key)); s.trackKeys && k != "" && ev.Reason == domain.ReasonClientWindow {
		deniedKey := s.DeniedKey(at)
		pipe.ZIncrBy(ctx, deniedKey, 1, k)
		if s.ttl > 0 {
			pipe.Expire(ctx, deniedKey, s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis stats: %w", err)
	}
	return nil
}

// DeniedKey é o zset de clientes recusados no dia (UTC) de at.
func (s *RedisStatsStore) DeniedKey(at time.Time) string {
	return s.prefix + ":denied:" + at.UTC().Format("20060102")
}

func (s *RedisStatsStore) incrExpiring(ctx context.Context, pipe redis.Pipeliner, key, field string) {
	pipe.HIncrBy(ctx, key, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}
