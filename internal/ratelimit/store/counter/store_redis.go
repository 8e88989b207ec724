package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"idproof/internal/ratelimit/models"
	"idproof/pkg/platform/sentinel"
)

// incrementScript consumes one attempt unless the counter is at max. The TTL
// is set only on the first attempt so the window opens there and Redis
// expires the key when it closes.
//
// KEYS[1] counter key; ARGV[1] max attempts; ARGV[2] window in milliseconds.
// Returns {allowed, count, pttl}.
var incrementScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if cur >= max then
	return {0, cur, redis.call('PTTL', KEYS[1])}
end
cur = redis.call('INCR', KEYS[1])
if cur == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, cur, redis.call('PTTL', KEYS[1])}
`)

// RedisCounterStore implements CounterStore on Redis so every replica shares
// one counter per (user, action).
type RedisCounterStore struct {
	client redis.Cmdable
}

func NewRedisCounterStore(client redis.Cmdable) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Increment(ctx context.Context, key string, max int, window time.Duration, now time.Time) (models.Counter, bool, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{key}, max, window.Milliseconds()).Int64Slice()
	if err != nil {
		return models.Counter{}, false, fmt.Errorf("increment %s: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	if len(res) != 3 {
		return models.Counter{}, false, fmt.Errorf("increment %s: unexpected script reply %v", key, res)
	}
	return counterFromTTL(int(res[1]), res[2], window, now), res[0] == 1, nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key string, window time.Duration, now time.Time) (models.Counter, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return models.Counter{}, fmt.Errorf("get %s: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	count, err := getCmd.Int()
	if errors.Is(err, redis.Nil) {
		return models.Counter{}, nil
	}
	if err != nil {
		return models.Counter{}, fmt.Errorf("get %s: %w", key, err)
	}
	// PTTL reports -1/-2 as raw negative durations, not milliseconds.
	pttl := int64(-1)
	if d := ttlCmd.Val(); d >= 0 {
		pttl = d.Milliseconds()
	}
	return counterFromTTL(count, pttl, window, now), nil
}

func (s *RedisCounterStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	return nil
}

// counterFromTTL reconstructs the window start from the remaining TTL.
// A key without TTL is treated as a window that just opened.
func counterFromTTL(count int, pttlMillis int64, window time.Duration, now time.Time) models.Counter {
	if count <= 0 {
		return models.Counter{}
	}
	remaining := time.Duration(pttlMillis) * time.Millisecond
	if pttlMillis < 0 {
		remaining = window
	}
	return models.Counter{Count: count, WindowStart: now.Add(remaining - window)}
}
