// Package tokens implements the credential token stores: a namespaced
// key-value contract with per-key TTL backed by Redis, generic opaque-token
// repositories built on top of it, and the emailhash-keyed password-reset
// store with its fixed-window attempt counter.
package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/commune-chat/commune/pkg/observability"
)

// Store is the key-value contract every token repository runs on.
// Implementations must make Incr atomic; TTL expiry is enforced by the
// store, never by a sweep.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetKeepTTL overwrites an existing value without touching its
	// remaining TTL. If the key is absent the write is dropped, so an
	// expired or revoked entry is never brought back without a TTL.
	SetKeepTTL(ctx context.Context, key, value string) error
	// Get returns (value, true, nil) on hit and ("", false, nil) on miss.
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Set-valued keys back the per-user session index.
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// RedisStore implements Store on a Redis connection.
type RedisStore struct {
	client  *redis.Client
	metrics *observability.Metrics
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// WithMetrics enables per-operation counters on the store.
func (s *RedisStore) WithMetrics(m *observability.Metrics) *RedisStore {
	s.metrics = m
	return s
}

func (s *RedisStore) observe(op string) {
	if s.metrics != nil {
		s.metrics.TokenOperationsTotal.WithLabelValues(op).Inc()
	}
}

// Client exposes the underlying connection for collaborators that share
// it (rate limiter, realtime publisher).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Ping checks Redis connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.observe("set")
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetKeepTTL(ctx context.Context, key, value string) error {
	s.observe("set")
	return s.client.SetXX(ctx, key, value, redis.KeepTTL).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.observe("get")
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return val, true, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	s.observe("del")
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	s.observe("incr")
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string) error {
	return s.client.SAdd(ctx, key, member).Err()
}

func (s *RedisStore) SRem(ctx context.Context, key, member string) error {
	return s.client.SRem(ctx, key, member).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}
