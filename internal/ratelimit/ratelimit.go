package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

// Limiter caps the number of requests accepted per rolling window.
type Limiter struct {
	mu        sync.Mutex
	window    time.Duration
	max       int
	count     int
	resetTime time.Time
}

func New(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:    window,
		max:       max,
		resetTime: time.Now().Add(window),
	}
}

// Allow reports whether one more request fits in the current window.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.checkReset()

	if l.max > 0 && l.count >= l.max {
		return false
	}

	l.count++
	return true
}

func (l *Limiter) checkReset() {
	if time.Now().After(l.resetTime) {
		l.count = 0
		l.resetTime = time.Now().Add(l.window)
	}
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
