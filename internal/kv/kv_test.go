package kv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store   Store
	advance func(time.Duration)
}

func newMemoryHarness(t *testing.T) harness {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := NewMemory(WithClock(clk.Now))
	t.Cleanup(m.Close)
	return harness{store: m, advance: clk.Advance}
}

func newRedisHarness(t *testing.T) harness {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return harness{store: NewRedis(client), advance: mr.FastForward}
}

func forEachStore(t *testing.T, fn func(t *testing.T, h harness)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryHarness(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisHarness(t)) })
}

func TestStore_SetGetExpire(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.SetWithTTL(ctx, "a", "1", time.Minute))

		v, err := h.store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "1", v)

		h.advance(61 * time.Second)
		_, err = h.store.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = h.store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.SetWithTTL(ctx, "a", "1", time.Hour))
		require.NoError(t, h.store.SetWithTTL(ctx, "b", "2", time.Hour))

		n, err := h.store.Delete(ctx, "a", "b", "c")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		n, err = h.store.Delete(ctx, "a")
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		n, err = h.store.Delete(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)
	})
}

func TestStore_IncrAndExpire(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		for want := int64(1); want <= 3; want++ {
			got, err := h.store.Incr(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		require.NoError(t, h.store.Expire(ctx, "counter", 15*time.Minute))

		h.advance(14 * time.Minute)
		v, err := h.store.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, "3", v)

		h.advance(2 * time.Minute)
		got, err := h.store.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.EqualValues(t, 1, got, "counter restarts after its TTL")
	})
}

func TestStore_KeysByPrefix(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		for _, k := range []string{"refresh_token:u1:b", "refresh_token:u1:a", "refresh_token:u2:a", "login_attempts:u1"} {
			require.NoError(t, h.store.SetWithTTL(ctx, k, "x", time.Hour))
		}
		require.NoError(t, h.store.SetWithTTL(ctx, "refresh_token:u1:short", "x", time.Second))
		h.advance(2 * time.Second)

		keys, err := h.store.KeysByPrefix(ctx, "refresh_token:u1:")
		require.NoError(t, err)
		assert.Equal(t, []string{"refresh_token:u1:a", "refresh_token:u1:b"}, keys)

		keys, err = h.store.KeysByPrefix(ctx, "nothing:")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestStore_KeysByPrefixEscapesGlob(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.SetWithTTL(ctx, "p:*:x", "1", time.Hour))
		require.NoError(t, h.store.SetWithTTL(ctx, "p:abc:x", "1", time.Hour))

		keys, err := h.store.KeysByPrefix(ctx, "p:*")
		require.NoError(t, err)
		assert.Equal(t, []string{"p:*:x"}, keys)
	})
}

func TestStore_DeleteSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		require.NoError(t, h.store.SetWithTTL(ctx, "once", "1", time.Hour))

		var winners int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := h.store.Delete(ctx, "once")
				if err == nil && n == 1 {
					atomic.AddInt32(&winners, 1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, winners)
	})
}

func TestMemory_Janitor(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	m := NewMemory(WithClock(clk.Now))
	defer m.Close()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.SetWithTTL(context.Background(), fmt.Sprintf("k%d", i), "v", time.Second))
	}
	clk.Advance(time.Minute)
	m.sweep()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.m)
}
