// Package kvtest runs the kv.Store contract against an implementation.
package kvtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dvloznov/sheets-wallet/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises every kv.Store operation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		v, ok, err := s.Get(context.Background(), "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("SetThenGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "a", "1"))
		require.NoError(t, s.Set(ctx, "a", "2"))

		v, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "2", v)
	})

	t.Run("SetMany", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetMany(ctx, map[string]string{"x": "1", "y": "2"}))

		for k, want := range map[string]string{"x": "1", "y": "2"} {
			v, ok, err := s.Get(ctx, k)
			require.NoError(t, err)
			assert.True(t, ok, k)
			assert.Equal(t, want, v)
		}
	})

	t.Run("RemoveIgnoresMissing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))
		require.NoError(t, s.Remove(ctx, "a", "missing"))

		_, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.Get(ctx, "b")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetMany(ctx, map[string]string{
			"app_b":   "1",
			"app_a":   "2",
			"other_a": "3",
			"app%_c":  "4",
		}))

		keys, err := s.Keys(ctx, "app_")
		require.NoError(t, err)
		assert.Equal(t, []string{"app_a", "app_b"}, keys)

		all, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("ReplacePrefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetMany(ctx, map[string]string{
			"app_keep":  "old",
			"app_stale": "1",
			"other_a":   "2",
		}))
		require.NoError(t, s.ReplacePrefix(ctx, "app_", map[string]string{
			"app_keep": "new",
			"app_add":  "3",
		}))

		keys, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"app_add", "app_keep", "other_a"}, keys)

		v, _, err := s.Get(ctx, "app_keep")
		require.NoError(t, err)
		assert.Equal(t, "new", v)

		require.NoError(t, s.ReplacePrefix(ctx, "app_", nil))
		keys, err = s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"other_a"}, keys)
	})

	t.Run("ReplacePrefixCanceledLeavesData", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SetMany(context.Background(), map[string]string{"app_a": "1"}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, s.ReplacePrefix(ctx, "app_", map[string]string{"app_b": "2"}))

		keys, err := s.Keys(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, []string{"app_a"}, keys)
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				own := fmt.Sprintf("own_%02d", i)
				assert.NoError(t, s.SetMany(ctx, map[string]string{"shared": fmt.Sprint(i), own: "x"}))
			}(i)
		}
		wg.Wait()

		keys, err := s.Keys(ctx, "own_")
		require.NoError(t, err)
		assert.Len(t, keys, 20)

		_, ok, err := s.Get(ctx, "shared")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.Error(t, s.Set(ctx, "a", "1"))
	})
}
