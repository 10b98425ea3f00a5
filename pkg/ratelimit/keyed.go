package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key (caller id or IP) and drops
// buckets that have been idle for longer than idleTTL.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewKeyedLimiter creates a limiter allowing perMinute events per key with the given burst
func NewKeyedLimiter(perMinute float64, burst int, idleTTL time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(perMinute / 60.0),
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Allow consumes one token from key's bucket
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	e, ok := k.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = e
	}
	now := k.now()
	e.lastSeen = now
	k.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// StartCleanup evicts idle buckets every interval until Stop is called
func (k *KeyedLimiter) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				k.evictIdle()
			case <-k.stopChan:
				return
			}
		}
	}()
}

// Stop ends the cleanup loop
func (k *KeyedLimiter) Stop() {
	k.stopOnce.Do(func() { close(k.stopChan) })
}

// Len returns the number of tracked keys
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

func (k *KeyedLimiter) evictIdle() {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := k.now().Add(-k.idleTTL)
	for key, e := range k.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(k.limiters, key)
		}
	}
}
