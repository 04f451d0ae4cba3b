package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ompay/ompay/internal/logging"
	"github.com/ompay/ompay/internal/money"
)

type countingSource struct {
	balances map[string]money.Amount
	calls    int
}

func (s *countingSource) ComputeBalance(_ context.Context, id string) (money.Amount, error) {
	s.calls++
	b, ok := s.balances[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return b, nil
}

func (s *countingSource) ActiveAccountIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.balances))
	for id := range s.balances {
		ids = append(ids, id)
	}
	return ids, nil
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}
func (brokenStore) Version(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}
func (brokenStore) SetIfVersion(context.Context, string, string, int64, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}
func (brokenStore) Invalidate(context.Context, ...string) error { return errors.New("connection refused") }

// pausingSource reads the balance, then waits on resume before returning it
// when pause is set, leaving room for a posting to land in between.
type pausingSource struct {
	mu       sync.Mutex
	balance  money.Amount
	pause    bool
	computed chan struct{}
	resume   chan struct{}
}

func newPausingSource(balance money.Amount) *pausingSource {
	return &pausingSource{balance: balance, pause: true, computed: make(chan struct{}), resume: make(chan struct{})}
}

func (s *pausingSource) set(balance money.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
}

func (s *pausingSource) ComputeBalance(context.Context, string) (money.Amount, error) {
	s.mu.Lock()
	b, pause := s.balance, s.pause
	s.pause = false
	s.mu.Unlock()
	if pause {
		s.computed <- struct{}{}
		<-s.resume
	}
	return b, nil
}

func (s *pausingSource) ActiveAccountIDs(context.Context) ([]string, error) {
	return []string{"a"}, nil
}

func TestBalanceCacheServesFromCacheUntilExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryCacheStore(func() time.Time { return now })
	src := &countingSource{balances: map[string]money.Amount{"a": 12_345}}
	cache := NewBalanceCache(store, src, 5*time.Minute, logging.Discard())

	for i := 0; i < 3; i++ {
		b, err := cache.Balance(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "123.45", b.String())
	}
	assert.Equal(t, 1, src.calls)

	now = now.Add(5 * time.Minute)
	_, err := cache.Balance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	cache.Invalidate(ctx, "a")
	_, err = cache.Balance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestBalanceCacheDegradesWhenStoreFails(t *testing.T) {
	src := &countingSource{balances: map[string]money.Amount{"a": 100}}
	cache := NewBalanceCache(brokenStore{}, src, time.Minute, logging.Discard())

	b, err := cache.Balance(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(100), b)

	cache.InvalidateMany(context.Background(), "a", "b")

	_, err = cache.Balance(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestBalanceCacheWarmup(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{balances: map[string]money.Amount{"a": 1, "b": 2, "c": 3}}
	cache := NewBalanceCache(NewMemoryCacheStore(nil), src, 0, logging.Discard())

	primed, err := cache.Warmup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, primed)
	assert.Equal(t, 3, src.calls)

	_, err = cache.Balance(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestRedisCacheStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	src := &countingSource{balances: map[string]money.Amount{"acct-1": 50_000}}
	cache := NewBalanceCache(NewRedisCacheStore(client), src, DefaultBalanceTTL, logging.Discard())

	b, err := cache.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "500.00", b.String())

	raw, err := mr.Get("balance:acct-1")
	require.NoError(t, err)
	assert.Equal(t, "50000", raw)
	assert.Equal(t, DefaultBalanceTTL, mr.TTL("balance:acct-1"))

	_, err = cache.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	cache.Invalidate(ctx, "acct-1")
	assert.False(t, mr.Exists("balance:acct-1"))

	mr.FastForward(DefaultBalanceTTL)
	require.NoError(t, mr.Set("balance:acct-1", "not-a-number"))
	b, err = cache.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "500.00", b.String())
}

func TestBalanceCacheDropsValueComputedBeforeInvalidation(t *testing.T) {
	stores := map[string]func(t *testing.T) CacheStore{
		"memory": func(*testing.T) CacheStore { return NewMemoryCacheStore(nil) },
		"redis": func(t *testing.T) CacheStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisCacheStore(client)
		},
	}
	for name, build := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			src := newPausingSource(money.MustParse("1000"))
			cache := NewBalanceCache(build(t), src, time.Hour, logging.Discard())

			read := make(chan money.Amount, 1)
			go func() {
				b, err := cache.Balance(ctx, "a")
				assert.NoError(t, err)
				read <- b
			}()

			<-src.computed
			// A withdrawal of 600 commits and invalidates while the read is in flight.
			src.set(money.MustParse("400"))
			cache.Invalidate(ctx, "a")
			close(src.resume)

			assert.Equal(t, "1000.00", (<-read).String())

			after, err := cache.Balance(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "400.00", after.String())

			again, err := cache.Balance(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "400.00", again.String())
		})
	}
}

func TestRedisCacheStoreVersions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisCacheStore(client)
	ctx := context.Background()

	v, err := store.Version(ctx, "balance:x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	ok, err := store.SetIfVersion(ctx, "balance:x", "10", v, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Invalidate(ctx, "balance:x"))
	assert.False(t, mr.Exists("balance:x"))

	ok, err = store.SetIfVersion(ctx, "balance:x", "10", v, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err = store.Version(ctx, "balance:x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	ok, err = store.SetIfVersion(ctx, "balance:x", "20", v, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	raw, err := mr.Get("balance:x")
	require.NoError(t, err)
	assert.Equal(t, "20", raw)
}
