package xref

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/logistics-bridge/common/database"
)

const redisHashKey = "xref"

// RedisStore keeps mappings in one Redis hash; HSETNX gives the atomic
// create-if-absent.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, source, target string) (string, bool, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	created, err := s.client.HSetNX(ctx, redisHashKey, source, target).Result()
	if err != nil {
		return "", false, fmt.Errorf("hsetnx %s: %w", source, err)
	}
	if created {
		return target, true, nil
	}
	existing, err := s.client.HGet(ctx, redisHashKey, source).Result()
	if errors.Is(err, redis.Nil) {
		// Deleted between the two calls; the caller may retry.
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s: %w", source, err)
	}
	return existing, false, nil
}

func (s *RedisStore) Get(ctx context.Context, source string) (string, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	target, err := s.client.HGet(ctx, redisHashKey, source).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("hget %s: %w", source, err)
	}
	return target, nil
}

func (s *RedisStore) Set(ctx context.Context, source, target string) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if err := s.client.HSet(ctx, redisHashKey, source, target).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", source, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, source string) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if err := s.client.HDel(ctx, redisHashKey, source).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", source, err)
	}
	return nil
}
