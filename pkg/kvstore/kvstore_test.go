package kvstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(client), mr
}

func TestAcquireLock_SingleHolder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.AcquireLock(ctx, "podcast:space:s1", "podcast-a", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "first acquire should succeed")

	ok, err = store.AcquireLock(ctx, "podcast:space:s1", "podcast-b", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire should fail while lock is held")

	holder, err := store.LockHolder(ctx, "podcast:space:s1")
	require.NoError(t, err)
	assert.Equal(t, "podcast-a", holder)
}

func TestReleaseLock_OnlyHolderReleases(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.AcquireLock(ctx, "k", "owner", time.Minute)
	require.NoError(t, err)

	// A stale holder must not free someone else's lock.
	require.NoError(t, store.ReleaseLock(ctx, "k", "intruder"))
	holder, _ := store.LockHolder(ctx, "k")
	assert.Equal(t, "owner", holder, "lock freed by non-holder")

	require.NoError(t, store.ReleaseLock(ctx, "k", "owner"))
	holder, _ = store.LockHolder(ctx, "k")
	assert.Empty(t, holder, "lock still held after release")
}

func TestLock_TTLExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, err := store.AcquireLock(ctx, "k", "a", 30*time.Minute)
	require.NoError(t, err)

	mr.FastForward(31 * time.Minute)

	ok, err := store.AcquireLock(ctx, "k", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be acquirable after TTL expiry")
}

func TestAcquireLock_ConcurrentSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	wins := make(chan string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.AcquireLock(ctx, "podcast:space:s1", "caller", 30*time.Minute)
			if err != nil {
				t.Errorf("AcquireLock: %v", err)
				return
			}
			if ok {
				wins <- "won"
			}
		}()
	}

	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one caller should win the lock")
}

func TestLockHolder_FreeLock(t *testing.T) {
	store, _ := newTestStore(t)
	holder, err := store.LockHolder(context.Background(), "never-held")
	require.NoError(t, err)
	assert.Empty(t, holder)
}
