package safety

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter implements token bucket rate limiting for venue calls
type Limiter struct {
	name     string
	capacity float64
	rate     float64 // tokens added per second

	mutex  sync.Mutex
	tokens float64
	last   time.Time
}

// NewLimiter creates a rate limiter that starts with a full bucket
func NewLimiter(name string, capacity, perSecond int) *Limiter {
	return &Limiter{
		name:     name,
		capacity: float64(capacity),
		rate:     float64(perSecond),
		tokens:   float64(capacity),
		last:     time.Now(),
	}
}

// Allow checks if one operation is allowed under the rate limit
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN checks if N operations are allowed under the rate limit
func (l *Limiter) AllowN(n int) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.refill(time.Now())

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}

	return false
}

// Wait blocks until one operation is allowed or the context ends
func (l *Limiter) Wait(ctx context.Context) error {
	return l.WaitN(ctx, 1)
}

// WaitN blocks until N operations are allowed or the context ends
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	for {
		if l.AllowN(n) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.waitTime(n)):
			// Check again
		}
	}
}

// refill adds tokens for the elapsed time, caller holds the lock
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}

	l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.rate)
	l.last = now
}

// waitTime estimates how long until N tokens are available
func (l *Limiter) waitTime(n int) time.Duration {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.refill(time.Now())

	deficit := float64(n) - l.tokens
	if deficit <= 0 {
		return 0
	}

	// Small pad covers timer slack
	return time.Duration(deficit/l.rate*float64(time.Second)) + 5*time.Millisecond
}

// Stats returns current statistics about the limiter
func (l *Limiter) Stats() LimiterStats {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.refill(time.Now())

	return LimiterStats{
		Name:      l.name,
		Capacity:  int(l.capacity),
		Tokens:    l.tokens,
		PerSecond: int(l.rate),
	}
}

// LimiterStats holds statistics about a rate limiter
type LimiterStats struct {
	Name      string
	Capacity  int
	Tokens    float64
	PerSecond int
}

// LimiterManager manages the named rate limiters
type LimiterManager struct {
	limiters map[string]*Limiter
	mutex    sync.RWMutex
}

// NewLimiterManager creates an empty limiter manager
func NewLimiterManager() *LimiterManager {
	return &LimiterManager{
		limiters: make(map[string]*Limiter),
	}
}

// GetOrCreate gets an existing limiter or creates a new one
func (lm *LimiterManager) GetOrCreate(name string, capacity, perSecond int) *Limiter {
	lm.mutex.RLock()
	if l, exists := lm.limiters[name]; exists {
		lm.mutex.RUnlock()
		return l
	}
	lm.mutex.RUnlock()

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	// Double-check after acquiring write lock
	if l, exists := lm.limiters[name]; exists {
		return l
	}

	l := NewLimiter(name, capacity, perSecond)
	lm.limiters[name] = l
	return l
}

// Get gets an existing limiter
func (lm *LimiterManager) Get(name string) (*Limiter, bool) {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	l, exists := lm.limiters[name]
	return l, exists
}

// Stats returns statistics for all limiters
func (lm *LimiterManager) Stats() []LimiterStats {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	stats := make([]LimiterStats, 0, len(lm.limiters))
	for _, l := range lm.limiters {
		stats = append(stats, l.Stats())
	}
	return stats
}
