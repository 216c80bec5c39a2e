// Package ratelimit provides a keyed token bucket limiter, used to throttle
// failed login attempts per username.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// Keyed gives each key its own token bucket. Buckets idle for longer than
// the idle timeout are forgotten.
type Keyed struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time
}

// New returns a limiter allowing rps events per second per key with bursts of
// burst. rps <= 0 disables limiting.
func New(rps float64, burst int) *Keyed {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Keyed{
		limit:   limit,
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Allow reports whether key has a token left. It does not use one up, see
// Charge.
func (k *Keyed) Allow(key string) bool {
	if k.limit == rate.Inf {
		return true
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	return k.get(key, now).limiter.TokensAt(now) >= 1
}

// Charge uses up one of key's tokens (if it has one).
func (k *Keyed) Charge(key string) {
	if k.limit == rate.Inf {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	k.get(key, now).limiter.AllowN(now, 1)
}

// get returns the bucket of key, creating it if need be. k.mu must be held.
func (k *Keyed) get(key string, now time.Time) *entry {
	if now.Sub(k.lastSweep) > k.idle {
		k.sweep(now)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.seen = now
	return e
}

// Len returns the number of keys being tracked.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *Keyed) sweep(now time.Time) {
	for key, e := range k.entries {
		if now.Sub(e.seen) > k.idle {
			delete(k.entries, key)
		}
	}
	k.lastSweep = now
}
