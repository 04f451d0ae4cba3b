package ledger

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ompay/ompay/internal/money"
)

// DefaultBalanceTTL is how long a cached balance stays fresh.
const DefaultBalanceTTL = 5 * time.Minute

const balanceKeyPrefix = "balance:"

// CacheStore is a string store with expiry and per-key versions. Invalidate
// drops the values and bumps their versions, so a value computed before the
// bump can no longer be stored by SetIfVersion.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Version(ctx context.Context, key string) (int64, error)
	SetIfVersion(ctx context.Context, key, value string, version int64, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, keys ...string) error
}

// BalanceSource computes balances from the entry log.
type BalanceSource interface {
	ComputeBalance(ctx context.Context, accountID string) (money.Amount, error)
	ActiveAccountIDs(ctx context.Context) ([]string, error)
}

// BalanceCache is a cache-aside wrapper around a BalanceSource. Store failures
// are logged and the balance is computed instead.
type BalanceCache struct {
	store  CacheStore
	source BalanceSource
	ttl    time.Duration
	logger *slog.Logger
}

// NewBalanceCache builds a cache. A non-positive ttl selects DefaultBalanceTTL.
func NewBalanceCache(store CacheStore, source BalanceSource, ttl time.Duration, logger *slog.Logger) *BalanceCache {
	if ttl <= 0 {
		ttl = DefaultBalanceTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceCache{store: store, source: source, ttl: ttl, logger: logger.With("component", "balance_cache")}
}

func balanceKey(accountID string) string {
	return balanceKeyPrefix + accountID
}

// Balance returns the cached balance or computes and stores it.
func (c *BalanceCache) Balance(ctx context.Context, accountID string) (money.Amount, error) {
	raw, ok, err := c.store.Get(ctx, balanceKey(accountID))
	if err != nil {
		c.logger.Warn("balance cache read failed", "account_id", accountID, "error", err)
	} else if ok {
		minor, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr == nil {
			return money.FromMinor(minor), nil
		}
		c.logger.Warn("discarding malformed cached balance", "account_id", accountID, "value", raw)
	}
	return c.refresh(ctx, accountID)
}

// refresh computes the balance and stores it unless the key was invalidated
// while the computation ran.
func (c *BalanceCache) refresh(ctx context.Context, accountID string) (money.Amount, error) {
	key := balanceKey(accountID)
	version, verErr := c.store.Version(ctx, key)
	if verErr != nil {
		c.logger.Warn("balance cache version read failed", "account_id", accountID, "error", verErr)
	}

	balance, err := c.source.ComputeBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if verErr != nil {
		return balance, nil
	}

	stored, err := c.store.SetIfVersion(ctx, key, strconv.FormatInt(balance.Minor(), 10), version, c.ttl)
	switch {
	case err != nil:
		c.logger.Warn("balance cache write failed", "account_id", accountID, "error", err)
	case !stored:
		c.logger.Debug("balance invalidated during computation; not cached", "account_id", accountID)
	}
	return balance, nil
}

// Invalidate drops the cached balance of one account.
func (c *BalanceCache) Invalidate(ctx context.Context, accountID string) {
	c.InvalidateMany(ctx, accountID)
}

// InvalidateMany drops the cached balances of several accounts.
func (c *BalanceCache) InvalidateMany(ctx context.Context, accountIDs ...string) {
	if len(accountIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, balanceKey(id))
	}
	if err := c.store.Invalidate(ctx, keys...); err != nil {
		c.logger.Error("balance cache invalidation failed", "account_ids", accountIDs, "error", err)
	}
}

// Warmup recomputes and stores the balance of every active account. It
// returns the number of accounts primed.
func (c *BalanceCache) Warmup(ctx context.Context) (int, error) {
	ids, err := c.source.ActiveAccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	primed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return primed, err
		}
		if _, err := c.refresh(ctx, id); err != nil {
			c.logger.Warn("warmup skipped account", "account_id", id, "error", err)
			continue
		}
		primed++
	}
	c.logger.Info("balance cache warmed", "accounts", primed)
	return primed, nil
}

type memoryCacheItem struct {
	value     string
	expiresAt time.Time
}

// MemoryCacheStore is an in-process CacheStore for tests and single-node runs.
type MemoryCacheStore struct {
	mu       sync.Mutex
	now      func() time.Time
	items    map[string]memoryCacheItem
	versions map[string]int64
}

// NewMemoryCacheStore builds an empty store; now defaults to time.Now.
func NewMemoryCacheStore(now func() time.Time) *MemoryCacheStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryCacheStore{now: now, items: make(map[string]memoryCacheItem), versions: make(map[string]int64)}
}

func (s *MemoryCacheStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return "", false, nil
	}
	if !s.now().Before(item.expiresAt) {
		delete(s.items, key)
		return "", false, nil
	}
	return item.value, true, nil
}

func (s *MemoryCacheStore) Version(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[key], nil
}

func (s *MemoryCacheStore) SetIfVersion(_ context.Context, key, value string, version int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versions[key] != version {
		return false, nil
	}
	s.items[key] = memoryCacheItem{value: value, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryCacheStore) Invalidate(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.items, key)
		s.versions[key]++
	}
	return nil
}
