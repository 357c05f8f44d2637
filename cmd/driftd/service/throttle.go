package service

import (
	"context"
	"sync"
	"time"

	"github.com/flowops/driftd/common/redis"
)

// Throttle bounds how often a keyed operation runs. Allow returns true
// when the caller may proceed and false when the key fired within the
// window. This is a debounce, not a lock: concurrent calls for the same
// key are throttled, not mutually excluded.
type Throttle interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// RedisThrottle shares the debounce across worker processes via SETNX
// with expiry, so horizontal scale-out keeps a single throttle window
// per key.
type RedisThrottle struct {
	redis *redis.Client
}

// NewRedisThrottle creates a redis-backed throttle
func NewRedisThrottle(redisClient *redis.Client) *RedisThrottle {
	return &RedisThrottle{redis: redisClient}
}

// Allow attempts to claim the key for one window
func (t *RedisThrottle) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	wasSet, err := t.redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), window)
	if err != nil {
		// A broken throttle should not block reconciliation; fail open.
		return true, err
	}
	return wasSet, nil
}

// MemoryThrottle is the process-local fallback when redis is not
// configured. Only valid in single-process deployments.
type MemoryThrottle struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewMemoryThrottle creates an in-memory throttle
func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow claims the key when it has not fired within the window
func (t *MemoryThrottle) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastSeen[key]; ok && now.Sub(last) < window {
		return false, nil
	}
	t.lastSeen[key] = now

	// Opportunistic cleanup of expired entries to bound memory
	for k, v := range t.lastSeen {
		if now.Sub(v) >= window {
			delete(t.lastSeen, k)
		}
	}
	return true, nil
}
