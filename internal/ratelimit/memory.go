package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryLimiter is the in-process counterpart of RedisLimiter.
type MemoryLimiter struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	nowFn func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{hits: make(map[string][]time.Time), nowFn: time.Now}
}

// Allow records the request in every window only when none of them is full.
func (l *MemoryLimiter) Allow(_ context.Context, key string, cfg Config) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	var keys []string
	for _, w := range cfg.windows() {
		if w.limit <= 0 {
			continue
		}
		k := windowKey(key, w.duration)
		hits := prune(l.hits[k], now.Add(-w.duration))
		l.hits[k] = hits
		if len(hits) >= w.limit {
			return false, nil
		}
		keys = append(keys, k)
	}
	for _, k := range keys {
		l.hits[k] = append(l.hits[k], now)
	}
	return true, nil
}

func (l *MemoryLimiter) Count(_ context.Context, key string, d time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := windowKey(key, d)
	hits := prune(l.hits[k], l.nowFn().Add(-d))
	l.hits[k] = hits
	return int64(len(hits)), nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prefix := "ratelimit:" + key + ":"
	for k := range l.hits {
		if strings.HasPrefix(k, prefix) {
			delete(l.hits, k)
		}
	}
	return nil
}

// prune drops hits at or before cutoff; hits are kept in time order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
