package cache

import (
	"context"
	"encoding/json"
	"go.uber.org/zap"
	"time"
)

// Typed stores values of type T as JSON. Backend and decoding errors are logged and reported as misses.
type Typed[T any] struct {
	store  Store
	logger *zap.Logger
	ttl    time.Duration
}

func NewTyped[T any](store Store, logger *zap.Logger, ttl time.Duration) *Typed[T] {
	return &Typed[T]{
		store:  store,
		logger: logger,
		ttl:    ttl,
	}
}

func (t *Typed[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T

	data, ok, err := t.store.Get(ctx, key)
	if err != nil {
		t.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return zero, false
	}

	if !ok {
		return zero, false
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		t.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = t.store.Remove(ctx, key)
		return zero, false
	}

	return value, true
}

func (t *Typed[T]) Set(ctx context.Context, key string, value T) {
	data, err := json.Marshal(value)
	if err != nil {
		t.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}

	if err := t.store.Set(ctx, key, data, t.ttl); err != nil {
		t.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (t *Typed[T]) Remove(ctx context.Context, key string) {
	if err := t.store.Remove(ctx, key); err != nil {
		t.logger.Warn("Cache remove failed", zap.String("key", key), zap.Error(err))
	}
}

func (t *Typed[T]) ClearPattern(ctx context.Context, prefix string) {
	if err := t.store.ClearPattern(ctx, prefix); err != nil {
		t.logger.Warn("Cache clear failed", zap.String("prefix", prefix), zap.Error(err))
	}
}
