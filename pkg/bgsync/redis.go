package bgsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hashGetter is satisfied by *redis.Client and *redis.Tx.
type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// RedisStore keeps registrations in a Redis hash so pending syncs are shared
// by every worker process of the application.
type RedisStore struct {
	redis     *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed store. An empty keyPrefix uses
// DefaultRedisKeyPrefix.
func NewRedisStore(redisClient *redis.Client, keyPrefix string) *RedisStore {
	if redisClient == nil {
		panic("bgsync: redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{redis: redisClient, keyPrefix: keyPrefix}
}

func (s *RedisStore) pendingKey() string { return s.keyPrefix + ":pending" }

func (s *RedisStore) Register(ctx context.Context, tag string) (Registration, error) {
	reg := Registration{Tag: tag, RegisteredAt: time.Now()}
	data, err := json.Marshal(reg)
	if err != nil {
		return Registration{}, fmt.Errorf("marshal registration: %w", err)
	}

	added, err := s.redis.HSetNX(ctx, s.pendingKey(), tag, data).Result()
	if err != nil {
		return Registration{}, fmt.Errorf("register sync tag in redis: %w", err)
	}
	if added {
		return reg, nil
	}
	return s.get(ctx, s.redis, tag)
}

func (s *RedisStore) Pending(ctx context.Context) ([]Registration, error) {
	values, err := s.redis.HGetAll(ctx, s.pendingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending syncs: %w", err)
	}

	out := make([]Registration, 0, len(values))
	for tag, raw := range values {
		var reg Registration
		if err := json.Unmarshal([]byte(raw), &reg); err != nil {
			return nil, fmt.Errorf("parse registration %q: %w", tag, err)
		}
		out = append(out, reg)
	}
	sortRegistrations(out)
	return out, nil
}

// RecordFailure updates the registration under WATCH so concurrent replays
// never lose an attempt.
func (s *RedisStore) RecordFailure(ctx context.Context, tag string, cause error) (Registration, error) {
	var reg Registration
	txf := func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, tag)
		if err != nil {
			return err
		}
		current.recordFailure(cause, time.Now())

		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("marshal registration: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.pendingKey(), tag, data)
			return nil
		})
		if err != nil {
			return err
		}
		reg = current
		return nil
	}

	for i := 0; i < 3; i++ {
		err := s.redis.Watch(ctx, txf, s.pendingKey())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Registration{}, err
		}
		return reg, nil
	}
	return Registration{}, fmt.Errorf("record sync failure for %q: %w", tag, redis.TxFailedErr)
}

func (s *RedisStore) Remove(ctx context.Context, tag string) error {
	if err := s.redis.HDel(ctx, s.pendingKey(), tag).Err(); err != nil {
		return fmt.Errorf("remove sync tag from redis: %w", err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, cmd hashGetter, tag string) (Registration, error) {
	raw, err := cmd.HGet(ctx, s.pendingKey(), tag).Result()
	if err == redis.Nil {
		return Registration{}, ErrNotRegistered
	}
	if err != nil {
		return Registration{}, fmt.Errorf("get registration %q: %w", tag, err)
	}

	var reg Registration
	if err := json.Unmarshal([]byte(raw), &reg); err != nil {
		return Registration{}, fmt.Errorf("parse registration %q: %w", tag, err)
	}
	return reg, nil
}
