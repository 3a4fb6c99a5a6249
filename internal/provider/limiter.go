package provider

import (
	"context"
	"sync"
	"time"
)

// Limiter allows at most max calls per window, process-wide. The
// engine only sees the call's context deadline.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	tokens  int
	resetAt time.Time
}

func NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{max: max, window: window}
}

// Allow consumes a token if one is available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.resetAt) {
		l.tokens = l.max
		l.resetAt = now.Add(l.window)
	}
	if l.tokens > 0 {
		l.tokens--
		return true
	}
	return false
}

// RetryAfter reports how long until the window reopens.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := time.Until(l.resetAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Wait blocks until a token is available or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		wait := l.RetryAfter()
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
