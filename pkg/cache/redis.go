package cache

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"strings"
	"time"
)

type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	scanCount int64
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store that prefixes every key with namespace, so that ClearPattern never touches keys
// owned by other applications sharing the database.
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{
		client:    client,
		namespace: namespace,
		scanCount: 100,
	}
}

func (s *RedisStore) key(key string) string {
	return s.namespace + key
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}

	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("redis get error: %w", err)
	}

	return value, true, nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}

	return nil
}

func (s *RedisStore) ClearPattern(ctx context.Context, prefix string) error {
	match := escapeGlob(s.key(prefix)) + "*"

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, s.scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan error: %w", err)
		}

		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del error: %w", err)
			}
		}

		if next == 0 {
			return nil
		}

		cursor = next
	}
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
