// Package ratelimit keeps one token-bucket limiter per caller identity.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter estimates when the next request would be admitted. Zero when
	// Allowed.
	RetryAfter time.Duration
}

// Registry lazily creates a limiter the first time an identity is seen and
// keeps it for the life of the process. Identities are bounded by the token
// directory plus the default identity, so nothing is evicted.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	window   time.Duration
	now      func() time.Time
}

// NewRegistry returns a Registry whose limiters refill quota tokens per
// window.
func NewRegistry(window time.Duration) *Registry {
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		window:   window,
		now:      time.Now,
	}
}

// Admit consumes one token from identity's bucket if one is available. The
// bucket starts full. quota is only read when the limiter is created.
func (r *Registry) Admit(identity string, quota int) Decision {
	lim := r.limiter(identity, quota)
	now := r.now()
	if lim.AllowN(now, 1) {
		return Decision{Allowed: true}
	}
	return Decision{RetryAfter: retryAfter(lim, now)}
}

// Len returns the number of limiters created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

func (r *Registry) limiter(identity string, quota int) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[identity]
	if !ok {
		every := rate.Limit(float64(quota) / r.window.Seconds())
		lim = rate.NewLimiter(every, quota)
		r.limiters[identity] = lim
	}
	return lim
}

func retryAfter(lim *rate.Limiter, now time.Time) time.Duration {
	missing := 1 - lim.TokensAt(now)
	if missing <= 0 || lim.Limit() <= 0 {
		return 0
	}
	secs := missing / float64(lim.Limit())
	return time.Duration(secs * float64(time.Second)).Round(time.Millisecond)
}
