package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces every key the Redis backend writes.
const DefaultRedisKeyPrefix = "cachestorage"

// RedisBackend stores generations in Redis.
//
// Layout:
//
//	<prefix>:names        sorted set of store names scored by creation sequence
//	<prefix>:seq          creation sequence counter
//	<prefix>:store:<name> hash of entry key -> JSON entry
type RedisBackend struct {
	redis     *redis.Client
	keyPrefix string
}

// NewRedisBackend creates a backend on redisClient.
func NewRedisBackend(redisClient *redis.Client, keyPrefix string) *RedisBackend {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisBackend{
		redis:     redisClient,
		keyPrefix: keyPrefix,
	}
}

func (b *RedisBackend) namesKey() string { return b.keyPrefix + ":names" }

func (b *RedisBackend) seqKey() string { return b.keyPrefix + ":seq" }

func (b *RedisBackend) storeKey(name string) string { return b.keyPrefix + ":store:" + name }

func (b *RedisBackend) Open(ctx context.Context, name string) error {
	ok, err := b.Has(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	seq, err := b.redis.Incr(ctx, b.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis incr: %w", mapRedisError(err))
	}
	// NX keeps the first creation sequence when two instances race.
	if err := b.redis.ZAddNX(ctx, b.namesKey(), redis.Z{Score: float64(seq), Member: name}).Err(); err != nil {
		return fmt.Errorf("redis zadd: %w", mapRedisError(err))
	}
	return nil
}

func (b *RedisBackend) Has(ctx context.Context, name string) (bool, error) {
	err := b.redis.ZScore(ctx, b.namesKey(), name).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis zscore: %w", err)
	}
	return true, nil
}

func (b *RedisBackend) Names(ctx context.Context) ([]string, error) {
	names, err := b.redis.ZRange(ctx, b.namesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return names, nil
}

func (b *RedisBackend) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := b.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.storeKey(name))
		removed = pipe.ZRem(ctx, b.namesKey(), name)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete store: %w", err)
	}
	return removed.Val() > 0, nil
}

func (b *RedisBackend) Get(ctx context.Context, name, key string) ([]byte, error) {
	data, err := b.redis.HGet(ctx, b.storeKey(name), key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return data, nil
}

func (b *RedisBackend) Put(ctx context.Context, name, key string, data []byte) error {
	if err := b.Open(ctx, name); err != nil {
		return err
	}
	if err := b.redis.HSet(ctx, b.storeKey(name), key, data).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", mapRedisError(err))
	}
	return nil
}

func (b *RedisBackend) Keys(ctx context.Context, name string) ([]string, error) {
	keys, err := b.redis.HKeys(ctx, b.storeKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	return keys, nil
}

// Close is a no-op; the redis client is owned by the caller.
func (b *RedisBackend) Close() error { return nil }

// mapRedisError turns Redis maxmemory rejections into ErrQuotaExceeded.
func mapRedisError(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "OOM") {
		return errors.Join(ErrQuotaExceeded, err)
	}
	return err
}
