package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
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

func increment(current Record, _ bool) Record {
	current.Count++
	return current
}

func TestMemoryStoreUpdateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	var sawFound []bool
	for i := 0; i < 3; i++ {
		_, err := store.Update(ctx, "k", 0, func(current Record, found bool) Record {
			sawFound = append(sawFound, found)
			current.Count++
			return current
		})
		require.NoError(t, err)
	}

	rec, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, rec.Count)
	assert.Equal(t, []bool{false, true, true}, sawFound)

	require.NoError(t, store.Delete(ctx, "k"))
	_, found, _ = store.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	_, err := store.Update(ctx, "k", time.Minute, increment)
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, found, _ := store.Get(ctx, "k")
	assert.True(t, found)

	clock.Advance(time.Second)
	_, found, _ = store.Get(ctx, "k")
	assert.False(t, found)

	rec, err := store.Update(ctx, "k", time.Minute, increment)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count, "expired record must restart from zero")
}

func TestMemoryStoreConcurrentUpdatesDoNotLoseIncrements(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const workers = 50
	const perWorker = 40

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _ = store.Update(ctx, "shared", 0, increment)
			}
		}()
	}
	wg.Wait()

	rec, found, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, workers*perWorker, rec.Count)
}

func TestMemoryStoreDeleteExpiredAndPrune(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now), WithMaxShardEntries(1))

	_, _ = store.Update(ctx, "a", time.Second, increment)
	_, _ = store.Update(ctx, "b", time.Second, increment)
	_, _ = store.Update(ctx, "keep", 0, increment)

	clock.Advance(2 * time.Second)

	deleted, err := store.DeleteExpired(ctx, clock.Now(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, 1, store.Len())

	_, found, _ := store.Get(ctx, "keep")
	assert.True(t, found)
}
