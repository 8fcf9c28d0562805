package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepInterval is how often idle limiters are looked for.
const sweepInterval = time.Minute

// MemoryGuard keeps token buckets in process memory. Limits are per
// instance, so it only suits single-instance and development setups.
type MemoryGuard struct {
	mu        sync.Mutex
	limiters  map[string]*memoryLimiter
	lastSweep time.Time
	now       func() time.Time
}

type memoryLimiter struct {
	limit    int
	window   time.Duration
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewMemoryGuard creates an empty in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{limiters: make(map[string]*memoryLimiter), now: time.Now}
}

func (g *MemoryGuard) CheckRateLimits(ctx context.Context, userID, orgID string, buckets []Bucket) (Decision, error) {
	active := limited(buckets)
	if len(active) == 0 {
		return Decision{Allowed: true}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) >= sweepInterval {
		g.sweep(now)
	}

	reservations := make([]*rate.Reservation, 0, len(active))
	cancelAll := func() {
		for _, r := range reservations {
			r.CancelAt(now)
		}
	}

	for _, b := range active {
		r := g.limiterFor(b, userID, orgID, now).ReserveN(now, 1)
		if !r.OK() {
			cancelAll()
			return exceeded(b, b.Window), nil
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			cancelAll()
			return exceeded(b, delay), nil
		}
		reservations = append(reservations, r)
	}
	return Decision{Allowed: true}, nil
}

// limiterFor returns the limiter for b, replacing it when the bucket's
// ceiling changed.
func (g *MemoryGuard) limiterFor(b Bucket, userID, orgID string, now time.Time) *rate.Limiter {
	key := bucketKey(b, userID, orgID)
	if l, ok := g.limiters[key]; ok && l.limit == b.Limit && l.window == b.Window {
		l.lastUsed = now
		return l.limiter
	}
	l := &memoryLimiter{
		limit:    b.Limit,
		window:   b.Window,
		limiter:  rate.NewLimiter(rate.Every(b.Window/time.Duration(b.Limit)), b.Limit),
		lastUsed: now,
	}
	g.limiters[key] = l
	return l.limiter
}

// sweep drops limiters idle for a whole window. Such a bucket has refilled
// completely, so a fresh limiter behaves the same.
func (g *MemoryGuard) sweep(now time.Time) {
	for key, l := range g.limiters {
		if now.Sub(l.lastUsed) >= l.window {
			delete(g.limiters, key)
		}
	}
	g.lastSweep = now
}
