package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps one sorted set per key and window, scored by request time.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// allowScript prunes every window, rejects if any is full, and only then
// records the request. KEYS are window keys; ARGV is now, member, then a
// (window start, limit, ttl ms) triple per key.
var allowScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	local base = 2 + (i - 1) * 3
	redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[base + 1])
	if redis.call('ZCARD', key) >= tonumber(ARGV[base + 2]) then
		return 0
	end
end
for i, key in ipairs(KEYS) do
	local base = 2 + (i - 1) * 3
	redis.call('ZADD', key, ARGV[1], ARGV[2])
	redis.call('PEXPIRE', key, ARGV[base + 3])
end
return 1
`)

func (l *RedisLimiter) Allow(ctx context.Context, key string, cfg Config) (bool, error) {
	now := time.Now().UnixMicro()
	keys := []string{}
	args := []any{now, strconv.FormatInt(now, 10) + "-" + uuid.NewString()[:8]}
	for _, w := range cfg.windows() {
		if w.limit <= 0 {
			continue
		}
		keys = append(keys, windowKey(key, w.duration))
		args = append(args, now-w.duration.Microseconds(), w.limit, (w.duration + time.Minute).Milliseconds())
	}
	if len(keys) == 0 {
		return true, nil
	}

	res, err := allowScript.Run(ctx, l.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("run rate limit script: %w", err)
	}
	return res == 1, nil
}

func (l *RedisLimiter) Count(ctx context.Context, key string, d time.Duration) (int64, error) {
	redisKey := windowKey(key, d)
	windowStart := time.Now().Add(-d).UnixMicro()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(windowStart, 10))
	zcard := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count window: %w", err)
	}
	return zcard.Val(), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	iter := l.client.Scan(ctx, 0, fmt.Sprintf("ratelimit:%s:*", key), 0).Iterator()
	for iter.Next(ctx) {
		if err := l.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan keys: %w", err)
	}
	return nil
}
