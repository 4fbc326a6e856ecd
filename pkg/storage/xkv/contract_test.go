package xkv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runMapContract 对任意 Store 实现执行同一组行为检查。
func runMapContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		m := store.Map("contract-missing")
		_, err := m.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutGetOverwrite", func(t *testing.T) {
		m := store.Map("contract-put")
		require.NoError(t, m.Put(ctx, "k", []byte("v1")))
		require.NoError(t, m.Put(ctx, "k", []byte("v2")))
		v, err := m.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		m := store.Map("contract-empty")
		assert.ErrorIs(t, m.Put(ctx, "", []byte("v")), ErrEmptyKey)
		_, err := m.PutIfAbsent(ctx, "", []byte("v"))
		assert.ErrorIs(t, err, ErrEmptyKey)
	})

	t.Run("PutIfAbsent", func(t *testing.T) {
		m := store.Map("contract-pia")
		ok, err := m.PutIfAbsent(ctx, "k", []byte("first"))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = m.PutIfAbsent(ctx, "k", []byte("second"))
		require.NoError(t, err)
		assert.False(t, ok)

		v, err := m.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), v)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		m := store.Map("contract-del")
		require.NoError(t, m.Put(ctx, "k", []byte("v")))
		ok, err := m.Delete(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = m.Delete(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ScanByPrefix", func(t *testing.T) {
		m := store.Map("contract-scan")
		for _, k := range []string{"g1/a", "g1/b", "g10/a", "g2/a"} {
			require.NoError(t, m.Put(ctx, k, []byte(k)))
		}

		got, err := m.Scan(ctx, "g1/")
		require.NoError(t, err)
		assert.Equal(t, map[string][]byte{"g1/a": []byte("g1/a"), "g1/b": []byte("g1/b")}, got)

		keys, err := m.Keys(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, []string{"g1/a", "g1/b", "g10/a"}, keys)

		all, err := m.Keys(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		everything, err := m.Scan(ctx, "")
		require.NoError(t, err)
		assert.Len(t, everything, 4)

		n, err := m.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("MapsAreIsolated", func(t *testing.T) {
		a := store.Map("contract-iso-a")
		b := store.Map("contract-iso-b")
		require.NoError(t, a.Put(ctx, "k", []byte("a")))
		_, err := b.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SameNameSharesData", func(t *testing.T) {
		require.NoError(t, store.Map("contract-shared").Put(ctx, "k", []byte("v")))
		v, err := store.Map("contract-shared").Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
	})

	t.Run("Clear", func(t *testing.T) {
		m := store.Map("contract-clear")
		require.NoError(t, m.Put(ctx, "a", []byte("1")))
		require.NoError(t, m.Put(ctx, "b", []byte("2")))
		require.NoError(t, m.Clear(ctx))
		n, err := m.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ConcurrentPutIfAbsentSingleWinner", func(t *testing.T) {
		m := store.Map("contract-race")
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := m.PutIfAbsent(ctx, "only", []byte(fmt.Sprint(i)))
				if err == nil && ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("Health", func(t *testing.T) {
		assert.NoError(t, store.Health(ctx))
	})
}
