package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"epg_aggregator/internal/cache"
	"epg_aggregator/internal/models"

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(t *testing.T, capacity int) (*cache.Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.New(capacity)
	c.SetClock(clock.Now)
	return c, clock
}

func xmlKey(ttl time.Duration) cache.Key {
	return cache.Key{Format: models.FormatXML, TTL: ttl}
}

func TestCache_GetPut(t *testing.T) {
	c, clock := newCache(t, 4)
	key := xmlKey(time.Hour)

	_, ok := c.Get(key)
	require.False(t, ok)

	c.Put(key, &cache.Entry{Data: []byte("payload"), ContentType: models.ContentTypeXML})

	e, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, "payload", string(e.Data))
	require.Equal(t, clock.Now(), e.CreatedAt)

	clock.Advance(59 * time.Minute)
	_, ok = c.Get(key)
	require.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = c.Get(key)
	require.False(t, ok, "entry as old as its ttl is stale")
	require.Equal(t, 0, c.Len())
}

func TestCache_TTLIsPartOfKey(t *testing.T) {
	c, clock := newCache(t, 4)

	c.Put(xmlKey(time.Hour), &cache.Entry{Data: []byte("hour")})
	_, ok := c.Get(xmlKey(time.Minute))
	require.False(t, ok)

	c.Put(xmlKey(time.Minute), &cache.Entry{Data: []byte("minute")})
	clock.Advance(2 * time.Minute)

	_, ok = c.Get(xmlKey(time.Minute))
	require.False(t, ok)
	e, ok := c.Get(xmlKey(time.Hour))
	require.True(t, ok)
	require.Equal(t, "hour", string(e.Data))

	_, ok = c.Get(cache.Key{Format: models.FormatGzip, TTL: time.Hour})
	require.False(t, ok)
}

func TestCache_EvictsOldest(t *testing.T) {
	c, clock := newCache(t, 2)

	c.Put(xmlKey(1*time.Hour), &cache.Entry{Data: []byte("1")})
	clock.Advance(time.Second)
	c.Put(xmlKey(2*time.Hour), &cache.Entry{Data: []byte("2")})
	clock.Advance(time.Second)
	c.Put(xmlKey(3*time.Hour), &cache.Entry{Data: []byte("3")})

	require.Equal(t, 2, c.Len())
	_, ok := c.Get(xmlKey(1 * time.Hour))
	require.False(t, ok)
	_, ok = c.Get(xmlKey(2 * time.Hour))
	require.True(t, ok)
	_, ok = c.Get(xmlKey(3 * time.Hour))
	require.True(t, ok)
}

func TestCache_EvictsStaleBeforeOldest(t *testing.T) {
	c, clock := newCache(t, 2)

	c.Put(xmlKey(time.Hour), &cache.Entry{Data: []byte("old but fresh")})
	clock.Advance(time.Second)
	c.Put(xmlKey(time.Second), &cache.Entry{Data: []byte("short")})
	clock.Advance(2 * time.Second)
	c.Put(xmlKey(2*time.Hour), &cache.Entry{Data: []byte("new")})

	_, ok := c.Get(xmlKey(time.Hour))
	require.True(t, ok)
	_, ok = c.Get(xmlKey(2 * time.Hour))
	require.True(t, ok)
}

func TestCache_GetOrLoadCoalesces(t *testing.T) {
	c := cache.New(4)
	key := xmlKey(time.Hour)

	var calls int32
	release := make(chan struct{})
	load := func(ctx context.Context) (*cache.Entry, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &cache.Entry{Data: []byte("merged")}, nil
	}

	const waiters = 10
	var wg sync.WaitGroup
	results := make([]*cache.Entry, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrLoad(context.Background(), key, load)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i, e := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "merged", string(e.Data))
	}

	e, hit, err := c.GetOrLoad(context.Background(), key, load)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "merged", string(e.Data))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCache_GetOrLoadErrorNotCached(t *testing.T) {
	c := cache.New(4)
	key := xmlKey(time.Hour)
	boom := errors.New("merge failed")

	var calls int32
	load := func(ctx context.Context) (*cache.Entry, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, boom
		}
		return &cache.Entry{Data: []byte("ok")}, nil
	}

	_, _, err := c.GetOrLoad(context.Background(), key, load)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, c.Len())

	e, hit, err := c.GetOrLoad(context.Background(), key, load)
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, "ok", string(e.Data))
}

func TestCache_GetOrLoadWaiterCancelled(t *testing.T) {
	c := cache.New(4)
	key := xmlKey(time.Hour)

	release := make(chan struct{})
	defer close(release)
	load := func(ctx context.Context) (*cache.Entry, error) {
		<-release
		return &cache.Entry{Data: []byte("late")}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := c.GetOrLoad(ctx, key, load)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyString(t *testing.T) {
	require.Equal(t, "merged-epg-v1-gz-86400", cache.Key{Format: models.FormatGzip, TTL: 24 * time.Hour}.String())
	require.Equal(t, "merged-epg-v1-xml-3600", xmlKey(time.Hour).String())
}
