package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "review-cache:"

// RedisClient is the subset of the go-redis API used by Redis.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// Redis keeps JSON encoded entries under a key prefix. The Redis TTL only
// bounds storage; freshness is judged from StoredAt like Memory.
type Redis[T any] struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

type RedisConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

func NewRedis[T any](client RedisClient, cfg RedisConfig, logger *slog.Logger) *Redis[T] {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Redis[T]{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		now:    time.Now,
		logger: logger.With("component", "redis_cache"),
	}
}

func (r *Redis[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry Entry[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		r.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return zero, false, nil
	}

	if !entry.fresh(r.now(), r.ttl) {
		return zero, false, nil
	}

	return entry.Value, true, nil
}

func (r *Redis[T]) Put(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(Entry[T]{Value: value, StoredAt: r.now()})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	if err := r.client.SAdd(ctx, r.indexKey(), key).Err(); err != nil {
		return fmt.Errorf("failed to index cache entry: %w", err)
	}

	return nil
}

func (r *Redis[T]) Clear(ctx context.Context, key string) error {
	if key != "" {
		if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
			return fmt.Errorf("failed to delete cache entry: %w", err)
		}
		if err := r.client.SRem(ctx, r.indexKey(), key).Err(); err != nil {
			return fmt.Errorf("failed to unindex cache entry: %w", err)
		}
		return nil
	}

	keys, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}

	toDelete := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		toDelete = append(toDelete, r.prefix+k)
	}
	toDelete = append(toDelete, r.indexKey())

	if err := r.client.Del(ctx, toDelete...).Err(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	r.logger.Info("cache cleared", "entries", len(keys))
	return nil
}

func (r *Redis[T]) indexKey() string {
	return r.prefix + "index"
}
