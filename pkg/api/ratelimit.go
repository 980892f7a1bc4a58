package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// identityLimiter enforces a per-identity token bucket on intent
// submission. Buckets for identities idle longer than the eviction
// window are dropped by the cleanup loop.
type identityLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rps      rate.Limit
	burst    int
	eviction time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIdentityLimiter(rps float64, burst int) *identityLimiter {
	return &identityLimiter{
		buckets:  make(map[string]*bucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		eviction: 5 * time.Minute,
	}
}

// Allow reports whether a submission from the identity may proceed.
func (l *identityLimiter) Allow(identityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[identityID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[identityID] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

// cleanup evicts buckets for identities that have gone quiet.
func (l *identityLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.eviction)
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}

func (l *identityLimiter) runCleanup(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-stop:
			return
		}
	}
}
