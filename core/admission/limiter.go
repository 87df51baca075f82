package admission

import (
	"sync"
	"time"
)

// bucket is one subject's continuous-refill token bucket. Each bucket has its
// own mutex so subjects never contend on each other's refill math.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func (b *bucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.lastRefill = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Limiter admits one unit of work per call under a per-subject token bucket.
// Buckets are created lazily on first use with the parameters passed for that
// subject and live for the process lifetime.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLimiter constructs an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow refills the subject's bucket from wall-clock elapsed time and takes
// one token if available. A full bucket after a long idle period holds
// exactly burst tokens, never more.
func (l *Limiter) Allow(subject string, ratePerSecond float64, burst int) bool {
	return l.lookup(subject, ratePerSecond, burst).take(l.now())
}

func (l *Limiter) lookup(subject string, ratePerSecond float64, burst int) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[subject]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[subject]; ok {
		return b
	}
	b = &bucket{
		tokens:     float64(burst),
		capacity:   float64(burst),
		refillRate: ratePerSecond,
		lastRefill: l.now(),
	}
	l.buckets[subject] = b
	return b
}
