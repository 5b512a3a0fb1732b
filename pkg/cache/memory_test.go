package cache

import (
	"context"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"sync"
	"testing"
	"time"
)

func newTestStore() (*MemoryStore, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	return store, &now
}

func TestExpiredEntriesAreDeletedOnRead(t *testing.T) {
	ctx := context.Background()
	store, now := newTestStore()

	require.NoError(t, store.Set(ctx, "credential:1", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "credential:2", []byte("b"), 0))

	*now = now.Add(time.Minute)

	_, ok, err := store.Get(ctx, "credential:1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, store.Len())

	value, ok, err := store.Get(ctx, "credential:2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), value)
}

func TestValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	original := []byte("value")
	require.NoError(t, store.Set(ctx, "k", original, time.Minute))
	original[0] = 'X'

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("value"), value)

	value[0] = 'Y'
	again, _, _ := store.Get(ctx, "k")
	require.Equal(t, []byte("value"), again)
}

func TestClearPattern(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	for _, key := range []string{"product:A:search", "product:A:count", "product:B:search", "credential:1"} {
		require.NoError(t, store.Set(ctx, key, []byte("x"), time.Minute))
	}

	require.NoError(t, store.ClearPattern(ctx, "product:A:"))

	for key, expected := range map[string]bool{
		"product:A:search": false,
		"product:A:count":  false,
		"product:B:search": true,
		"credential:1":     true,
	} {
		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, expected, ok, key)
	}

	require.NoError(t, store.Remove(ctx, "credential:1"))
	_, ok, _ := store.Get(ctx, "credential:1")
	require.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			key := fmt.Sprintf("key:%d", i%4)
			for j := 0; j < 100; j++ {
				_ = store.Set(ctx, key, []byte(key), time.Minute)
				if value, ok, _ := store.Get(ctx, key); ok {
					assert.Equal(t, key, string(value))
				}

				if j%10 == 0 {
					_ = store.ClearPattern(ctx, "key:")
				}
			}
		}(i)
	}

	wg.Wait()
}

type document struct {
	Name  string   `json:"name"`
	Rules []string `json:"rules"`
}

type failingStore struct {
	Store
}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("connection refused")
}

func TestTypedCopiesAndTreatsErrorsAsMisses(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()
	typed := NewTyped[document](store, zap.NewNop(), time.Minute)

	doc := document{Name: "cred", Rules: []string{"ISO-9001"}}
	typed.Set(ctx, "credential:1", doc)
	doc.Rules[0] = "mutated"

	cached, ok := typed.Get(ctx, "credential:1")
	require.True(t, ok)
	require.Equal(t, []string{"ISO-9001"}, cached.Rules)

	require.NoError(t, store.Set(ctx, "credential:2", []byte("{not json"), time.Minute))
	_, ok = typed.Get(ctx, "credential:2")
	require.False(t, ok)

	// The undecodable entry is discarded
	_, ok, _ = store.Get(ctx, "credential:2")
	require.False(t, ok)

	broken := NewTyped[document](failingStore{Store: store}, zap.NewNop(), time.Minute)
	_, ok = broken.Get(ctx, "credential:1")
	require.False(t, ok)
}
