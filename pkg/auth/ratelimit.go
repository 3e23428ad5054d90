package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an identity may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, id *Identity) error
}

// TierLimiter applies a requests-per-minute budget per subject and tier.
// Each subject gets a token bucket holding one minute's worth of requests.
// Buckets idle for longer than the sweep interval are dropped.
type TierLimiter struct {
	tiers      map[string]int
	defaultRPM int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

const sweepInterval = 10 * time.Minute

// NewTierLimiter creates a limiter. tiers maps tier names to requests per
// minute; other tiers get defaultRPM. A budget of zero or less is
// unlimited.
func NewTierLimiter(tiers map[string]int, defaultRPM int) *TierLimiter {
	return &TierLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
}

// Allow reports ErrTooManyRequests when the identity's budget is spent.
func (l *TierLimiter) Allow(_ context.Context, id *Identity) error {
	tier := id.Tier
	if tier == "" {
		tier = DefaultTier
	}
	rpm, ok := l.tiers[tier]
	if !ok {
		rpm = l.defaultRPM
	}
	if rpm <= 0 {
		return nil
	}

	key := tier + "/" + id.Subject
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > sweepInterval {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > sweepInterval {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)}
		l.buckets[key] = b
	}
	b.seen = now
	if !b.limiter.AllowN(now, 1) {
		return ErrTooManyRequests
	}
	return nil
}
