package throttle

import (
	"context"
	"sync"
	"time"
)

const sweepThreshold = 1024

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter counts requests per key in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	clock   func() time.Time
	windows map[string]window
}

func NewMemoryLimiter(limit int, period time.Duration, clock func() time.Time) *MemoryLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{
		limit:   limit,
		period:  period,
		clock:   clock,
		windows: make(map[string]window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) >= sweepThreshold {
		l.sweep(now)
	}
	current, ok := l.windows[key]
	if !ok || !now.Before(current.resetAt) {
		current = window{resetAt: now.Add(l.period)}
	}
	current.count++
	l.windows[key] = current
	return current.count <= l.limit, nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for key, current := range l.windows {
		if !now.Before(current.resetAt) {
			delete(l.windows, key)
		}
	}
}
