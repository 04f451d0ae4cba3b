package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// versionTTL bounds how long an untouched version counter survives. It only
// needs to outlive the slowest in-flight balance computation.
const versionTTL = 24 * time.Hour

// setIfVersion stores ARGV[2] under KEYS[1] for ARGV[3] milliseconds when the
// counter in KEYS[2] still equals ARGV[1]. A missing counter reads as 0.
var setIfVersion = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if (current or '0') ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCacheStore keeps cached values in Redis next to a version counter per key.
type RedisCacheStore struct {
	client *redis.Client
}

// NewRedisCacheStore wraps an existing client.
func NewRedisCacheStore(client *redis.Client) *RedisCacheStore {
	return &RedisCacheStore{client: client}
}

func versionKey(key string) string {
	return "ver:" + key
}

func (s *RedisCacheStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisCacheStore) Version(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (s *RedisCacheStore) SetIfVersion(ctx context.Context, key, value string, version int64, ttl time.Duration) (bool, error) {
	stored, err := setIfVersion.Run(ctx, s.client,
		[]string{key, versionKey(key)},
		strconv.FormatInt(version, 10), value, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// Invalidate deletes the values and bumps their versions in one MULTI block.
func (s *RedisCacheStore) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		for _, key := range keys {
			pipe.Incr(ctx, versionKey(key))
			pipe.Expire(ctx, versionKey(key), versionTTL)
		}
		return nil
	})
	return err
}
