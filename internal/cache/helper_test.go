package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() {
		Close()
		mr.Close()
	})
	return mr
}

func TestAside_FetchesOnceThenServesCache(t *testing.T) {
	withMiniredis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *[]string) func() error {
		return func() error {
			calls++
			*dest = []string{"a", "b"}
			return nil
		}
	}

	var first []string
	require.NoError(t, Aside(ctx, ItemsListKey, &first, time.Minute, fetch(&first)))
	var second []string
	require.NoError(t, Aside(ctx, ItemsListKey, &second, time.Minute, fetch(&second)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"a", "b"}, second)
}

func TestAside_InvalidateForcesRefetch(t *testing.T) {
	mr := withMiniredis(t)
	ctx := context.Background()

	var out []int
	require.NoError(t, Aside(ctx, ItemsListKey, &out, time.Minute, func() error { out = []int{1}; return nil }))
	assert.True(t, mr.Exists(ItemsListKey))

	require.NoError(t, InvalidateItemsList(ctx))
	assert.False(t, mr.Exists(ItemsListKey))
}

func TestAside_InvalidatedDuringFetchIsNotStored(t *testing.T) {
	mr := withMiniredis(t)
	ctx := context.Background()

	// A writer commits and invalidates after the reader loaded its rows.
	var out []int
	require.NoError(t, Aside(ctx, ItemsListKey, &out, time.Minute, func() error {
		out = []int{1, 2}
		return InvalidateItemsList(ctx)
	}))
	assert.Equal(t, []int{1, 2}, out, "the reader still gets what it loaded")
	assert.False(t, mr.Exists(ItemsListKey), "but it must not be cached")

	var next []int
	require.NoError(t, Aside(ctx, ItemsListKey, &next, time.Minute, func() error { next = []int{2}; return nil }))
	assert.Equal(t, []int{2}, next)
	assert.True(t, mr.Exists(ItemsListKey))
}

func TestInvalidate_FailureBypassesCacheUntilItLands(t *testing.T) {
	mr := withMiniredis(t)
	ctx := context.Background()

	var out []int
	require.NoError(t, Aside(ctx, ItemsListKey, &out, time.Minute, func() error { out = []int{1}; return nil }))

	mr.SetError("LOADING redis is loading")
	assert.Error(t, InvalidateItemsList(ctx))

	calls := 0
	fetch := func(dest *[]int) func() error {
		return func() error { calls++; *dest = []int{9}; return nil }
	}
	var during []int
	require.NoError(t, Aside(ctx, ItemsListKey, &during, time.Minute, fetch(&during)))
	assert.Equal(t, []int{9}, during)

	// Redis is back but still holds the old list; it must not be served.
	mr.SetError("")
	var after []int
	require.NoError(t, Aside(ctx, ItemsListKey, &after, time.Minute, fetch(&after)))
	assert.Equal(t, []int{9}, after)
	assert.Equal(t, 2, calls)

	got, err := mr.Get(ItemsListKey)
	require.NoError(t, err)
	assert.JSONEq(t, "[9]", got)
}

func TestAside_BrokenCacheFallsThrough(t *testing.T) {
	mr := withMiniredis(t)
	mr.Close()

	var out []int
	err := Aside(context.Background(), ItemsListKey, &out, time.Minute, func() error { out = []int{7}; return nil })
	require.NoError(t, err)
	assert.Equal(t, []int{7}, out)
}

func TestAside_CorruptEntryIsReplaced(t *testing.T) {
	mr := withMiniredis(t)
	require.NoError(t, mr.Set(ItemsListKey, "{not json"))

	var out []int
	require.NoError(t, Aside(context.Background(), ItemsListKey, &out, time.Minute, func() error { out = []int{4}; return nil }))
	assert.Equal(t, []int{4}, out)
	got, err := mr.Get(ItemsListKey)
	require.NoError(t, err)
	assert.JSONEq(t, "[4]", got)
}

func TestAside_FetchErrorPropagates(t *testing.T) {
	withMiniredis(t)
	boom := errors.New("db down")
	var out []int
	err := Aside(context.Background(), ItemsListKey, &out, time.Minute, func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestAside_NoClient(t *testing.T) {
	SetClient(nil)
	var out []int
	require.NoError(t, Aside(context.Background(), ItemsListKey, &out, time.Minute, func() error { out = []int{3}; return nil }))
	assert.Equal(t, []int{3}, out)
}

func TestConnect(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	assert.Equal(t, mr.Addr(), c.Options().Addr)
	_ = c.Close()

	_, err = Connect(context.Background(), "   ")
	assert.Error(t, err)

	mr.Close()
	_, err = Connect(context.Background(), mr.Addr())
	assert.ErrorContains(t, err, "redis ping")
}

func TestInitRedis_UnreachableLeavesClientNil(t *testing.T) {
	InitRedis("127.0.0.1:1")
	assert.Nil(t, GetClient())
	Close()
}
