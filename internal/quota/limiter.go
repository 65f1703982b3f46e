// Package quota implements per-client admission control with token buckets.
package quota

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of one admission check. A denial is normal data,
// not an error; callers surface it to the client as a rate-limit message.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Config holds limiter configuration.
type Config struct {
	RequestsPerMinute int
	Burst             int
}

// Limiter manages one token bucket per client identity.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	perSecond rate.Limit
	limit     int
	burst     int
}

// New creates a Limiter from config.
func New(cfg Config) *Limiter {
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets:   make(map[string]*rate.Limiter),
		perSecond: rate.Limit(float64(perMinute) / 60.0),
		limit:     perMinute,
		burst:     burst,
	}
}

// Check consumes one token for identity if available and reports counters.
// Allow and Tokens are read under the limiter lock so the snapshot is
// internally consistent for concurrent checks on one identity.
func (l *Limiter) Check(identity string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket := l.bucketLocked(identity)
	allowed := bucket.Allow()
	tokens := bucket.Tokens()
	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}
	var retryAfter time.Duration
	if !allowed {
		deficit := 1 - tokens
		if deficit > 0 {
			retryAfter = time.Duration(deficit / float64(l.perSecond) * float64(time.Second))
		}
	}
	return Decision{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}
}

// Precharge consumes up to n tokens for identity, ignoring denials. Used to
// bill the generative cleanup step against the same client budget.
func (l *Limiter) Precharge(identity string, n int) {
	l.mu.Lock()
	bucket := l.bucketLocked(identity)
	l.mu.Unlock()
	for i := 0; i < n; i++ {
		bucket.Allow()
	}
}

func (l *Limiter) bucketLocked(identity string) *rate.Limiter {
	bucket, ok := l.buckets[identity]
	if !ok {
		bucket = rate.NewLimiter(l.perSecond, l.burst)
		l.buckets[identity] = bucket
	}
	return bucket
}
