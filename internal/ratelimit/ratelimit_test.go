package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	client.FlushDB(ctx)

	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return client
}

func exercise(t *testing.T, limiter Limiter) {
	ctx := context.Background()
	cfg := Config{PerMinute: 5}
	key := "user:42"

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, key, cfg)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}
	allowed, err := limiter.Allow(ctx, key, cfg)
	require.NoError(t, err)
	assert.False(t, allowed, "6th request should be denied")

	count, err := limiter.Count(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	other, err := limiter.Allow(ctx, "user:43", cfg)
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, limiter.Reset(ctx, key))
	allowed, err = limiter.Allow(ctx, key, cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiter(t *testing.T) {
	exercise(t, NewRedisLimiter(setupTestRedis(t)))
}

func TestMemoryLimiter(t *testing.T) {
	exercise(t, NewMemoryLimiter())
}

func TestMemoryLimiterSlidesWindow(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }
	cfg := Config{PerMinute: 2, PerHour: 3}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _ := l.Allow(ctx, "ip:1", cfg)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "ip:1", cfg)
	assert.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow(ctx, "ip:1", cfg)
	assert.True(t, ok, "minute window has slid")

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow(ctx, "ip:1", cfg)
	assert.False(t, ok, "hourly window is exhausted")

	count, err := l.Count(ctx, "ip:1", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count, "rejected requests are not counted")
}

func TestMemoryLimiterRetriesDoNotExtendBlock(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }
	cfg := Config{PerMinute: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _ := l.Allow(ctx, "ip:2", cfg)
		require.True(t, ok)
	}
	now = now.Add(30 * time.Second)
	for i := 0; i < 5; i++ {
		ok, _ := l.Allow(ctx, "ip:2", cfg)
		assert.False(t, ok)
	}

	now = now.Add(31 * time.Second)
	ok, _ := l.Allow(ctx, "ip:2", cfg)
	assert.True(t, ok)
}

func TestZeroLimitsAreUnlimited(t *testing.T) {
	l := NewMemoryLimiter()
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(context.Background(), "k", Config{})
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
