package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket. Each relay connection owns one, sized for
// the message rate a drawing client legitimately produces.
type Limiter struct {
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
	mu     sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Allow consumes one token, reporting false when the bucket is empty.
func (l *Limiter) Allow() bool {
	return l.take(1)
}

// AllowN consumes n tokens at once, all or nothing.
func (l *Limiter) AllowN(n int) bool {
	return l.take(float64(n))
}

func (l *Limiter) take(n float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	l.last = now
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens < n {
		return false
	}
	l.tokens -= n
	return true
}
