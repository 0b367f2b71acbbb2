package cache

import (
	"context"
	"driver-cost-service/internal/adapters/repositories"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/platform/db"
	"driver-cost-service/internal/ports"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNow is a settable time source shared by a cache under test.
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type cacheFactory func(t *testing.T, clock *fakeNow) ports.DistanceCache

func factories() map[string]cacheFactory {
	return map[string]cacheFactory{
		"memory": func(t *testing.T, clock *fakeNow) ports.DistanceCache {
			return NewMemoryDistanceCache().WithClock(clock.Now)
		},
		"sqlite": func(t *testing.T, clock *fakeNow) ports.DistanceCache {
			conn, err := db.OpenSqlite(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = conn.Close() })
			require.NoError(t, repositories.InitSchema(context.Background(), conn))
			return NewSqliteDistanceCache(conn, nil).WithClock(clock.Now)
		},
	}
}

func sampleResult(source domain.Source) domain.DistanceResult {
	secs := 600.5
	return domain.DistanceResult{
		DistanceMeters:  12345.6,
		DurationSeconds: &secs,
		Source:          source,
		RunID:           "run-1",
		ResolvedAt:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestDistanceCache_GetPut(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newCache(t, &fakeNow{t: time.Unix(1_700_000_000, 0)})

			_, ok, err := c.Get(ctx, "S1|S2")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Put(ctx, "S1|S2", sampleResult(domain.SourceProvider)))

			got, ok, err := c.Get(ctx, "S1|S2")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 12345.6, got.DistanceMeters)
			require.NotNil(t, got.DurationSeconds)
			assert.Equal(t, 600.5, *got.DurationSeconds)
			assert.Equal(t, domain.SourceProvider, got.Source)
			assert.Equal(t, "run-1", got.RunID)
			assert.True(t, got.ResolvedAt.Equal(sampleResult("").ResolvedAt))
		})
	}
}

func TestDistanceCache_StoresProvenanceOfCachedResults(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := newCache(t, &fakeNow{t: time.Unix(1_700_000_000, 0)})

			r := sampleResult(domain.SourceFallback)
			r.DurationSeconds = nil
			require.NoError(t, c.Put(ctx, "k", r.AsCached()))

			got, ok, err := c.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, domain.SourceFallback, got.Source)
			assert.Nil(t, got.DurationSeconds)
		})
	}
}

func TestDistanceCache_LeaseLifecycle(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
			c := newCache(t, clock)

			first, err := c.TryBeginResolution(ctx, "k", 10*time.Second)
			require.NoError(t, err)
			require.True(t, first.Granted)
			require.NotEmpty(t, first.Token)

			second, err := c.TryBeginResolution(ctx, "k", 10*time.Second)
			require.NoError(t, err)
			assert.False(t, second.Granted)
			assert.WithinDuration(t, first.ExpiresAt, second.ExpiresAt, time.Millisecond)

			// A different key is independent.
			other, err := c.TryBeginResolution(ctx, "other", 10*time.Second)
			require.NoError(t, err)
			assert.True(t, other.Granted)

			// Releasing with a stale token is a no-op.
			require.NoError(t, c.ReleaseLease(ctx, "k", "not-the-token"))
			again, err := c.TryBeginResolution(ctx, "k", 10*time.Second)
			require.NoError(t, err)
			assert.False(t, again.Granted)

			require.NoError(t, c.ReleaseLease(ctx, "k", first.Token))
			after, err := c.TryBeginResolution(ctx, "k", 10*time.Second)
			require.NoError(t, err)
			assert.True(t, after.Granted)
			assert.NotEqual(t, first.Token, after.Token)
		})
	}
}

func TestDistanceCache_ExpiredLeaseIsTakenOver(t *testing.T) {
	for name, newCache := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
			c := newCache(t, clock)

			stale, err := c.TryBeginResolution(ctx, "k", time.Second)
			require.NoError(t, err)
			require.True(t, stale.Granted)

			clock.Advance(2 * time.Second)

			fresh, err := c.TryBeginResolution(ctx, "k", time.Second)
			require.NoError(t, err)
			require.True(t, fresh.Granted)

			// The old holder can no longer release the new lease.
			require.NoError(t, c.ReleaseLease(ctx, "k", stale.Token))
			blocked, err := c.TryBeginResolution(ctx, "k", time.Second)
			require.NoError(t, err)
			assert.False(t, blocked.Granted)
		})
	}
}

func TestMemoryDistanceCache_DoneClosesOnRelease(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryDistanceCache()

	held, err := c.TryBeginResolution(ctx, "k", time.Minute)
	require.NoError(t, err)
	waiter, err := c.TryBeginResolution(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, waiter.Done)

	select {
	case <-waiter.Done:
		t.Fatal("done closed before release")
	default:
	}

	require.NoError(t, c.ReleaseLease(ctx, "k", held.Token))
	select {
	case <-waiter.Done:
	case <-time.After(time.Second):
		t.Fatal("done not closed after release")
	}
}

func TestMemoryDistanceCache_ConcurrentLeaseSingleWinner(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryDistanceCache()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := c.TryBeginResolution(ctx, "k", time.Minute)
			if err == nil && l.Granted {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, granted)
}

func newRedisCache(t *testing.T) (*RedisDistanceCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisDistanceCache(client, nil), mr
}

func TestRedisDistanceCache_GetPut(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	_, ok, err := c.Get(ctx, "S1|S2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "S1|S2", sampleResult(domain.SourceProvider).AsCached()))
	assert.True(t, mr.Exists("distance:S1|S2"))

	got, ok, err := c.Get(ctx, "S1|S2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12345.6, got.DistanceMeters)
	assert.Equal(t, domain.SourceProvider, got.Source)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, 600.5, *got.DurationSeconds)
}

func TestRedisDistanceCache_Leases(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	first, err := c.TryBeginResolution(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	require.True(t, first.Granted)
	assert.True(t, mr.Exists("lease:k"))

	second, err := c.TryBeginResolution(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, second.Granted)
	assert.Nil(t, second.Done)

	require.NoError(t, c.ReleaseLease(ctx, "k", "stale"))
	assert.True(t, mr.Exists("lease:k"))

	require.NoError(t, c.ReleaseLease(ctx, "k", first.Token))
	assert.False(t, mr.Exists("lease:k"))

	third, err := c.TryBeginResolution(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	require.True(t, third.Granted)

	mr.FastForward(6 * time.Second)

	fourth, err := c.TryBeginResolution(ctx, "k", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, fourth.Granted)
}

func TestRedisDistanceCache_ErrorsWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	mr.Close()

	_, _, err := c.Get(ctx, "k")
	require.Error(t, err)
	_, err = c.TryBeginResolution(ctx, "k", time.Second)
	require.Error(t, err)
}
