package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
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

type clockedStore interface {
	Store
	Purger
	SetClock(now func() time.Time)
}

func backends(t *testing.T) map[string]func(t *testing.T) (clockedStore, *fakeClock) {
	t.Helper()
	return map[string]func(t *testing.T) (clockedStore, *fakeClock){
		"memory": func(t *testing.T) (clockedStore, *fakeClock) {
			clock := &fakeClock{now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
			s := NewMemoryStore()
			s.SetClock(clock.Now)
			return s, clock
		},
		"sqlite": func(t *testing.T) (clockedStore, *fakeClock) {
			clock := &fakeClock{now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "store.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			s.SetClock(clock.Now)
			return s, clock
		},
	}
}

func TestStore_IncrWithTTL(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, clock := open(t)

			for want := int64(1); want <= 3; want++ {
				n, err := s.Incr(ctx, "ratelimit:node-a:fee_update", time.Hour)
				require.NoError(t, err)
				assert.Equal(t, want, n)
			}

			got, err := s.Get(ctx, "ratelimit:node-a:fee_update")
			require.NoError(t, err)
			assert.Equal(t, "3", got)

			// TTL не продлевается последующими инкрементами
			clock.Advance(59 * time.Minute)
			n, err := s.Incr(ctx, "ratelimit:node-a:fee_update", time.Hour)
			require.NoError(t, err)
			assert.Equal(t, int64(4), n)

			clock.Advance(2 * time.Minute)
			n, err = s.Incr(ctx, "ratelimit:node-a:fee_update", time.Hour)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n, "expired window starts over")
		})
	}
}

func TestStore_IncrConcurrent(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := open(t)

			const workers = 20
			var wg sync.WaitGroup
			seen := make(chan int64, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					n, err := s.Incr(ctx, "shared", time.Hour)
					assert.NoError(t, err)
					seen <- n
				}()
			}
			wg.Wait()
			close(seen)

			unique := make(map[int64]bool)
			for n := range seen {
				unique[n] = true
			}
			assert.Len(t, unique, workers, "every increment observes a distinct value")
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s, _ := open(t)
			_, err := s.Get(context.Background(), "absent")
			assert.True(t, errors.Is(err, domain.ErrNotFound))
		})
	}
}

func TestStore_SetGetExpire(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, clock := open(t)

			require.NoError(t, s.Set(ctx, "k", "v1", 0))
			require.NoError(t, s.Set(ctx, "k", "v2", 0))
			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v2", got)

			require.NoError(t, s.Expire(ctx, "k", time.Minute))
			clock.Advance(time.Minute)
			_, err = s.Get(ctx, "k")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestStore_AppendOnlyList(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, clock := open(t)

			for i := 0; i < 3; i++ {
				require.NoError(t, s.Append(ctx, "audit:a1", fmt.Sprintf("entry-%d", i), 24*time.Hour))
			}
			require.NoError(t, s.Append(ctx, "audit:a2", "other", time.Hour))

			values, err := s.List(ctx, "audit:a1")
			require.NoError(t, err)
			assert.Equal(t, []string{"entry-0", "entry-1", "entry-2"}, values)

			clock.Advance(2 * time.Hour)
			other, err := s.List(ctx, "audit:a2")
			require.NoError(t, err)
			assert.Empty(t, other)

			removed, err := s.Purge(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)

			values, err = s.List(ctx, "audit:a1")
			require.NoError(t, err)
			assert.Len(t, values, 3)
		})
	}
}

func TestMemoryStore_IncrOnNonCounter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", "text", 0))

	_, err := s.Incr(ctx, "k", 0)
	assert.Error(t, err)
}

func TestMemoryStore_ClosedIsUnavailable(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Incr(context.Background(), "k", time.Hour)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestSQLStore_ClosedIsUnavailable(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Incr(context.Background(), "k", time.Hour)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, config.StoreConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, mem)

	lite, err := Open(ctx, config.StoreConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "a.db")})
	require.NoError(t, err)
	defer lite.Close()
	assert.IsType(t, &SQLStore{}, lite)

	_, err = Open(ctx, config.StoreConfig{Driver: "redis"})
	assert.Error(t, err)
}
