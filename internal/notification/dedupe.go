package notification

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "notify:event:"

// Deduper remembers which events were already notified. Claim reports false
// when the event was seen before.
type Deduper interface {
	Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// RedisDeduper shares the seen-set between consumer replicas.
type RedisDeduper struct {
	client *redis.Client
}

// NewRedisDeduper builds a Redis-backed deduper.
func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, dedupeKeyPrefix+eventID, 1, ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, dedupeKeyPrefix+eventID).Err()
}

// MemoryDeduper is the single-process fallback.
type MemoryDeduper struct {
	mu   sync.Mutex
	now  func() time.Time
	seen map[string]time.Time
}

// NewMemoryDeduper builds an in-process deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{now: time.Now, seen: make(map[string]time.Time)}
}

func (d *MemoryDeduper) Claim(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if expires, ok := d.seen[eventID]; ok && now.Before(expires) {
		return false, nil
	}
	d.seen[eventID] = now.Add(ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
}
