package xref

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), Key(KindMaterialRequest, "missing"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put if absent claims once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := Key(KindMaterialRequest, "req-1")

		got, created, err := s.PutIfAbsent(ctx, key, "task-a")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "task-a", got)

		got, created, err = s.PutIfAbsent(ctx, key, "task-b")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "task-a", got)

		target, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "task-a", target)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := Key(KindMaterialRequest, "req-race")

		const workers = 16
		var wg sync.WaitGroup
		results := make([]string, workers)
		createdCount := make([]bool, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got, created, err := s.PutIfAbsent(ctx, key, fmt.Sprintf("task-%d", i))
				assert.NoError(t, err)
				results[i] = got
				createdCount[i] = created
			}(i)
		}
		wg.Wait()

		winners := 0
		for i := range results {
			assert.Equal(t, results[0], results[i])
			if createdCount[i] {
				winners++
			}
		}
		assert.Equal(t, 1, winners)
	})

	t.Run("set is last write wins and delete removes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := Key(KindLogisticsTask, "task-1")

		require.NoError(t, s.Set(ctx, key, "req-1"))
		require.NoError(t, s.Set(ctx, key, "req-2"))
		target, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "req-2", target)

		require.NoError(t, s.Delete(ctx, key))
		require.NoError(t, s.Delete(ctx, key))
		_, err = s.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisStore(client)
	})
}

func TestKey(t *testing.T) {
	assert.Equal(t, "materials-request:abc", Key(KindMaterialRequest, "abc"))
	assert.NotEqual(t, Key(KindMaterialRequest, "1"), Key(KindLogisticsTask, "1"))
}
