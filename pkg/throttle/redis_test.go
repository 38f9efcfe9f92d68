package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisStore_SetsTTL(t *testing.T) {
	ctx := context.Background()
	client, mr := newMiniredisClient(t)
	th, _ := newTestThrottle(t, NewRedisStore(client), NamespaceResetEmail)

	_, err := th.RecordFailure(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, mr.TTL("throttle:reset-email:ada@example.com"))

	_, err = th.RecordFailure(ctx, "ada@example.com")
	require.NoError(t, err)
	_, err = th.RecordFailure(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, mr.TTL("throttle:reset-email:ada@example.com"))
}

func TestRedisStore_KeyExpires(t *testing.T) {
	ctx := context.Background()
	client, mr := newMiniredisClient(t)
	th, _ := newTestThrottle(t, NewRedisStore(client), NamespaceLogin)

	_, err := th.RecordFailure(ctx, "ada@example.com")
	require.NoError(t, err)

	mr.FastForward(16 * time.Minute)

	state, err := th.Check(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, state.Attempts)
}

func TestRedisStore_ConcurrentIncrementsAreCounted(t *testing.T) {
	ctx := context.Background()
	client, _ := newMiniredisClient(t)
	store := NewRedisStore(client)
	policy := Policy{Threshold: 1000, Lockout: time.Minute, Probation: time.Minute}
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Increment(ctx, "k", policy, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, ok, err := store.Get(ctx, "k", now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20, state.Attempts)
}

func TestRedisStore_CorruptState(t *testing.T) {
	ctx := context.Background()
	client, mr := newMiniredisClient(t)
	mr.HSet("bad", "attempts", "many")

	_, _, err := NewRedisStore(client).Get(ctx, "bad", time.Now())
	assert.Error(t, err)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	ctx := context.Background()
	client, mr := newMiniredisClient(t)
	mr.Close()

	store := NewRedisStore(client)
	_, _, err := store.Get(ctx, "k", time.Now())
	assert.Error(t, err)
	_, err = store.Increment(ctx, "k", DefaultPolicy(), time.Now())
	assert.Error(t, err)
}
