// Package ratelimit implements sliding-window request limits keyed by user or client IP.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

type Config struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

type Limiter interface {
	Allow(ctx context.Context, key string, cfg Config) (bool, error)
	// Count reports how many allowed requests fall inside the window.
	Count(ctx context.Context, key string, window time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
}

type window struct {
	duration time.Duration
	limit    int
}

func (c Config) windows() []window {
	return []window{
		{time.Minute, c.PerMinute},
		{time.Hour, c.PerHour},
		{24 * time.Hour, c.PerDay},
	}
}

func windowKey(key string, d time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%s", key, d.String())
}
