package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter admits or refuses a request for a key. When it refuses, it reports how long until
// the key is admitted again.
type rateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// windowLimiter counts requests per session in fixed windows.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

type window struct {
	count int
	reset time.Time
}

func newWindowLimiter(limit int, per time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || per <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  per,
		clock:   clock,
		windows: make(map[string]window),
	}
}

func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.reset) {
		l.windows[key] = window{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true, 0
	}
	if current.count >= l.limit {
		return false, current.reset.Sub(now)
	}
	current.count++
	l.windows[key] = current
	return true, 0
}

func (l *windowLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}
