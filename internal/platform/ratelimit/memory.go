package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// MemoryLimiter is a per-process token bucket for single instance deployments.
type MemoryLimiter struct {
	store *sync.Map // map[string]*bucket
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
	mu         sync.Mutex
}

func NewMemoryLimiter() *MemoryLimiter {
	l := &MemoryLimiter{
		store: &sync.Map{},
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	go l.cleanupLoop(10 * time.Minute)

	return l
}

func (l *MemoryLimiter) cleanupLoop(idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle(idle)
		}
	}
}

func (l *MemoryLimiter) evictIdle(idle time.Duration) {
	now := l.now()
	l.store.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if now.Sub(b.lastAccess) > idle {
			l.store.Delete(key)
		}
		b.mu.Unlock()
		return true
	})
}

func (l *MemoryLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := l.now()

	val, _ := l.store.LoadOrStore(key, &bucket{
		tokens:     float64(limit),
		lastRefill: now,
		lastAccess: now,
	})

	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastAccess = now

	capacity := float64(limit)
	// refillTime is how long the bucket takes to regain tokens.
	refillTime := func(tokens float64) time.Duration {
		return time.Duration(tokens * window.Seconds() / capacity * float64(time.Second))
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*capacity/window.Seconds())
		b.lastRefill = now
	}

	res := &Result{Limit: limit}
	if b.tokens >= 1 {
		b.tokens--
		res.Allowed = true
	} else {
		res.RetryAfter = refillTime(1 - b.tokens)
	}

	res.Remaining = int(math.Floor(b.tokens))
	res.ResetAt = now.Add(refillTime(capacity - b.tokens))
	return res, nil
}
