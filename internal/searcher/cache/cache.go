// Package cache memoises search pages (total plus ranked identifiers) in an
// external key-value backend. Records are never cached: hydration always
// reads the store, so a cached page cannot serve a deleted or changed case.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/damnfork/cases/internal/searcher/executor"
	"github.com/damnfork/cases/pkg/resilience"
)

const keyPrefix = "cases:search:"

// Backend is the storage the cache writes through to. pkg/redis.Client
// satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
	CountByPattern(ctx context.Context, pattern string) (int64, error)
}

type entry struct {
	Total   uint64   `json:"total"`
	IDs     []uint32 `json:"ids"`
	Dropped []string `json:"dropped,omitempty"`
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(backend Backend, ttl time.Duration) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached page. Backend failures count as misses.
func (c *QueryCache) Get(ctx context.Context, query string, offset, limit int) (*executor.Result, bool) {
	key := buildKey(query, offset, limit)
	data, found, err := c.backend.Get(ctx, key)
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn("cache get failed", "key", key, "error", err)
	}
	if err != nil || !found {
		c.misses.Add(1)
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("cache entry unreadable", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	if e.IDs == nil {
		e.IDs = []uint32{}
	}
	return &executor.Result{Total: e.Total, IDs: e.IDs, Dropped: e.Dropped}, true
}

func (c *QueryCache) Set(ctx context.Context, query string, offset, limit int, result *executor.Result) {
	key := buildKey(query, offset, limit)
	data, err := json.Marshal(entry{Total: result.Total, IDs: result.IDs, Dropped: result.Dropped})
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute serves the page from cache or runs compute once for all
// concurrent callers asking for the same page. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	offset, limit int,
	compute func() (*executor.Result, error),
) (*executor.Result, bool, error) {
	if result, ok := c.Get(ctx, query, offset, limit); ok {
		return result, true, nil
	}
	key := buildKey(query, offset, limit)
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, query, offset, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.Result), false, nil
}

// Invalidate drops every cached page, for use after the index is rebuilt.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

type Stats struct {
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Total   int64  `json:"total"`
	HitRate string `json:"hit_rate"`
	Keys    *int64 `json:"keys,omitempty"`
}

// Stats reports counters since start. Keys is left nil when the backend
// cannot be scanned.
func (c *QueryCache) Stats(ctx context.Context) Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	s.Total = s.Hits + s.Misses
	var rate float64
	if s.Total > 0 {
		rate = float64(s.Hits) / float64(s.Total) * 100
	}
	s.HitRate = fmt.Sprintf("%.1f%%", rate)
	if n, err := c.backend.CountByPattern(ctx, keyPrefix+"*"); err == nil {
		s.Keys = &n
	}
	return s
}

func buildKey(query string, offset, limit int) string {
	raw := fmt.Sprintf("%s|offset=%d|limit=%d", normalizeQuery(query), offset, limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// normalizeQuery folds inputs the parser treats identically onto one key.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(query)), " ")
}
