// Package ratelimit rejects chat requests over the burst or daily limits
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"golang.org/x/time/rate"
)

// Limiter admits or rejects one request for key
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// IPLimiter is an in-process token bucket per client key
type IPLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPLimiter creates a limiter allowing rps requests per second with burst
func NewIPLimiter(rps float64, burst int) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPLimiter{
		limiters: make(map[string]*entry),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		lastGC:   time.Now(),
	}
}

// Allow consumes one token for key
func (l *IPLimiter) Allow(ctx context.Context, key string) error {
	now := time.Now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	if now.Sub(l.lastGC) > l.idleTTL {
		l.evictIdle(now)
	}
	l.mu.Unlock()

	if e.limiter.AllowN(now, 1) {
		return nil
	}

	retry := time.Second
	if l.rps > 0 {
		retry = time.Duration(float64(time.Second) / float64(l.rps))
	}
	return &domain.RateLimitError{Reason: "too many requests, slow down", RetryAfter: retry}
}

func (l *IPLimiter) evictIdle(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.limiters, key)
		}
	}
	l.lastGC = now
}

// Chain applies limiters in order and returns the first rejection
type Chain []Limiter

// Allow implements Limiter
func (c Chain) Allow(ctx context.Context, key string) error {
	for _, l := range c {
		if err := l.Allow(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
