// Package service runs the case search pipeline: query execution, optional
// page caching, hydration from the store and response assembly. It also
// serves single-case lookups and store statistics.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/damnfork/cases/internal/analytics"
	"github.com/damnfork/cases/internal/auth/apikey"
	"github.com/damnfork/cases/internal/cases"
	"github.com/damnfork/cases/internal/searcher/cache"
	"github.com/damnfork/cases/internal/searcher/executor"
	"github.com/damnfork/cases/internal/searcher/hydrator"
	"github.com/damnfork/cases/pkg/config"
	apperrors "github.com/damnfork/cases/pkg/errors"
	"github.com/damnfork/cases/pkg/logger"
	"github.com/damnfork/cases/pkg/metrics"
	"github.com/damnfork/cases/pkg/tracing"
)

// CaseStore is the read side of the case store.
type CaseStore interface {
	hydrator.Getter
	Count(ctx context.Context) (int, error)
}

// Tracker receives analytics events. *analytics.Collector satisfies it.
type Tracker interface {
	Track(key string, event any)
}

type Query struct {
	Text   string
	Offset int
	Limit  int
}

// Response is the search envelope. Warnings is only filled when diagnostics
// are enabled.
type Response struct {
	Total    uint64        `json:"total"`
	Offset   int           `json:"offset"`
	Limit    int           `json:"limit"`
	Results  []*cases.Case `json:"results"`
	Warnings []string      `json:"warnings,omitempty"`
}

type StatsResponse struct {
	TotalCases int    `json:"total_cases"`
	Status     string `json:"status"`
}

type Option func(*Service)

// WithCache enables the query page cache.
func WithCache(c *cache.QueryCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithTracker(t Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	exec         *executor.Executor
	hydrator     *hydrator.Hydrator
	store        CaseStore
	cache        *cache.QueryCache
	tracker      Tracker
	metrics      *metrics.Metrics
	workers      *semaphore.Weighted
	defaultLimit int
	diagnostics  bool
	slowQuery    time.Duration
	logger       *slog.Logger
}

func New(cfg config.SearchConfig, exec *executor.Executor, store CaseStore, opts ...Option) *Service {
	s := &Service{
		exec:         exec,
		hydrator:     hydrator.New(store),
		store:        store,
		workers:      semaphore.NewWeighted(int64(cfg.MaxConcurrentQueries)),
		defaultLimit: cfg.DefaultLimit,
		diagnostics:  cfg.Diagnostics,
		slowQuery:    cfg.SlowQueryThreshold,
		logger:       slog.Default().With("component", "search-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultLimit is the page size used when the caller gives none.
func (s *Service) DefaultLimit() int {
	return s.defaultLimit
}

// Search answers one page. total is the full match count whatever the page
// bounds; the echoed limit is the clamped one. Any failure, a deadline
// included, discards the partial page.
func (s *Service) Search(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "search")
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.Limit = s.exec.ClampLimit(q.Limit)

	queued := span.Stage("queue")
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return nil, s.fail(apperrors.FromContext(err), start)
	}
	queued()
	defer s.workers.Release(1)

	executed := span.Stage("execute")
	res, cacheHit, err := s.execute(ctx, q)
	if err != nil {
		return nil, s.fail(err, start)
	}
	executed()

	hydrated := span.Stage("hydrate")
	page, err := s.hydrator.Hydrate(ctx, res.IDs)
	if err != nil {
		return nil, s.fail(err, start)
	}
	hydrated()

	resp := &Response{
		Total:   res.Total,
		Offset:  q.Offset,
		Limit:   q.Limit,
		Results: page.Cases,
	}
	if s.diagnostics {
		resp.Warnings = warnings(res.Dropped, page.Missing)
	}

	span.SetAttr("cache_hit", cacheHit)
	elapsed := span.End()
	s.observe(q, res, page, cacheHit, elapsed)
	s.track(ctx, q, res, page, cacheHit, elapsed)
	s.logTrace(ctx, q, span, elapsed)
	return resp, nil
}

// logTrace reports stage timings: at warn level for searches slower than the
// configured threshold, at debug otherwise.
func (s *Service) logTrace(ctx context.Context, q Query, span *tracing.Span, elapsed time.Duration) {
	log := logger.FromContext(ctx)
	if s.slowQuery > 0 && elapsed >= s.slowQuery {
		log.Warn("slow search", "query", q.Text, "trace", span)
		return
	}
	log.Debug("search trace", "query", q.Text, "trace", span)
}

func (s *Service) execute(ctx context.Context, q Query) (*executor.Result, bool, error) {
	run := func() (*executor.Result, error) {
		return s.exec.Search(ctx, q.Text, q.Offset, q.Limit)
	}
	if s.cache == nil || strings.TrimSpace(q.Text) == "" {
		res, err := run()
		return res, false, err
	}
	res, hit, err := s.cache.GetOrCompute(ctx, q.Text, q.Offset, q.Limit, run)
	if s.metrics != nil {
		if hit {
			s.metrics.CacheHitsTotal.Inc()
		} else {
			s.metrics.CacheMissesTotal.Inc()
		}
	}
	return res, hit, err
}

// Case returns one stored case by identifier without consulting the index.
func (s *Service) Case(ctx context.Context, id uint32) (*cases.Case, error) {
	start := time.Now()
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return nil, apperrors.FromContext(err)
	}
	defer s.workers.Release(1)

	c, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrStoreCorruption) && s.metrics != nil {
			s.metrics.StoreCorruptionTotal.Inc()
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			s.trackCase(ctx, analytics.EventCaseMiss, id, time.Since(start))
		}
		return nil, err
	}
	s.trackCase(ctx, analytics.EventCaseView, id, time.Since(start))
	return c, nil
}

// Stats reports the stored case count. A store error reports zero rather than
// failing, so the endpoint stays usable as a liveness signal.
func (s *Service) Stats(ctx context.Context) StatsResponse {
	n, err := s.store.Count(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("counting cases failed", "error", err)
		n = 0
	}
	return StatsResponse{TotalCases: n, Status: "ok"}
}

// CacheStats reports page cache counters; ok is false when caching is off.
func (s *Service) CacheStats(ctx context.Context) (cache.Stats, bool) {
	if s.cache == nil {
		return cache.Stats{}, false
	}
	return s.cache.Stats(ctx), true
}

func (s *Service) InvalidateCache(ctx context.Context) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Invalidate(ctx)
}

func (s *Service) fail(err error, start time.Time) error {
	if s.metrics != nil {
		label := "error"
		if errors.Is(err, apperrors.ErrTimeout) {
			label = "timeout"
		}
		s.metrics.SearchQueriesTotal.WithLabelValues(label).Inc()
		if errors.Is(err, apperrors.ErrStoreCorruption) {
			s.metrics.StoreCorruptionTotal.Inc()
		}
		s.metrics.SearchLatency.WithLabelValues("error").Observe(time.Since(start).Seconds())
	}
	return err
}

func (s *Service) observe(q Query, res *executor.Result, h *hydrator.Result, cacheHit bool, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	label := "hit"
	switch {
	case strings.TrimSpace(q.Text) == "":
		label = "empty_query"
	case res.Total == 0:
		label = "zero_result"
	}
	cacheLabel := "miss"
	if cacheHit {
		cacheLabel = "hit"
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(label).Inc()
	s.metrics.SearchLatency.WithLabelValues(cacheLabel).Observe(elapsed.Seconds())
	s.metrics.SearchResultsCount.Observe(float64(len(h.Cases)))
	s.metrics.DroppedFragmentsTotal.Add(float64(len(res.Dropped)))
	s.metrics.HydrationMissesTotal.Add(float64(len(h.Missing)))
}

func (s *Service) track(ctx context.Context, q Query, res *executor.Result, h *hydrator.Result, cacheHit bool, elapsed time.Duration) {
	if s.tracker == nil {
		return
	}
	typ := analytics.EventSearch
	if res.Total == 0 {
		typ = analytics.EventZeroResult
	}
	ev := analytics.SearchEvent{
		Type:      typ,
		Query:     q.Text,
		Offset:    q.Offset,
		Limit:     q.Limit,
		Total:     res.Total,
		Returned:  len(h.Cases),
		Missing:   len(h.Missing),
		Dropped:   res.Dropped,
		CacheHit:  cacheHit,
		LatencyMs: elapsed.Milliseconds(),
		RequestID: logger.RequestID(ctx),
		Timestamp: time.Now().UTC(),
	}
	if id, ok := apikey.IdentityFromContext(ctx); ok {
		ev.Identity = id.Name
	}
	s.tracker.Track(q.Text, ev)
}

func (s *Service) trackCase(ctx context.Context, typ analytics.EventType, id uint32, elapsed time.Duration) {
	if s.tracker == nil {
		return
	}
	ev := analytics.CaseEvent{
		Type:      typ,
		CaseID:    id,
		LatencyMs: elapsed.Milliseconds(),
		RequestID: logger.RequestID(ctx),
		Timestamp: time.Now().UTC(),
	}
	if ident, ok := apikey.IdentityFromContext(ctx); ok {
		ev.Identity = ident.Name
	}
	s.tracker.Track(strconv.FormatUint(uint64(id), 10), ev)
}

func warnings(dropped []string, missing []uint32) []string {
	var out []string
	for _, f := range dropped {
		out = append(out, fmt.Sprintf("dropped unparseable fragment %q", f))
	}
	for _, id := range missing {
		out = append(out, fmt.Sprintf("case %d is indexed but not stored", id))
	}
	return out
}
