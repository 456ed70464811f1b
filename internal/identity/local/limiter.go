package local

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// codeLimiter throttles an action per key: code issuance per email and
// purpose, or failed code submissions per account and purpose.
type codeLimiter struct {
	mu       sync.Mutex
	every    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newCodeLimiter(interval time.Duration, burst int) *codeLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst < 1 {
		burst = 1
	}
	return &codeLimiter{
		every:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *codeLimiter) allowAt(key string, now time.Time) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.every, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// forget drops the state kept for key, restoring its full burst.
func (l *codeLimiter) forget(key string) {
	l.mu.Lock()
	delete(l.limiters, key)
	l.mu.Unlock()
}
