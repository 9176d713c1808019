package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/damnfork/cases/pkg/resilience"
)

// guarded short-circuits backend calls while the backend keeps failing, so a
// dead Redis costs searches nothing beyond a miss.
type guarded struct {
	backend Backend
	breaker *resilience.Breaker
}

// Guard wraps backend with breaker.
func Guard(backend Backend, breaker *resilience.Breaker) Backend {
	return &guarded{backend: backend, breaker: breaker}
}

func (g *guarded) Get(ctx context.Context, key string) (data []byte, found bool, err error) {
	err = g.breaker.Do(func() error {
		var e error
		data, found, e = g.backend.Get(ctx, key)
		return callerErr(ctx, e)
	})
	return data, found, err
}

func (g *guarded) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.breaker.Do(func() error {
		return callerErr(ctx, g.backend.Set(ctx, key, value, ttl))
	})
}

func (g *guarded) FlushByPattern(ctx context.Context, pattern string) (n int64, err error) {
	err = g.breaker.Do(func() error {
		var e error
		n, e = g.backend.FlushByPattern(ctx, pattern)
		return callerErr(ctx, e)
	})
	return n, err
}

func (g *guarded) CountByPattern(ctx context.Context, pattern string) (n int64, err error) {
	err = g.breaker.Do(func() error {
		var e error
		n, e = g.backend.CountByPattern(ctx, pattern)
		return callerErr(ctx, e)
	})
	return n, err
}

// callerErr tags err with the request's own cancellation, if any. The client
// may surface an expired deadline as a plain network timeout, and the breaker
// must not count it against the backend.
func callerErr(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	return fmt.Errorf("%w: %w", ctx.Err(), err)
}
