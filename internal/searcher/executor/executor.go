// Package executor runs a parsed query against the full-text index and
// returns the exact match count together with one ranked page of record
// identifiers.
package executor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/damnfork/cases/internal/searcher/index"
	"github.com/damnfork/cases/internal/searcher/parser"
	apperrors "github.com/damnfork/cases/pkg/errors"
)

// Searcher is the part of the index the executor needs. Implementations must
// be safe for concurrent use.
type Searcher interface {
	Count(ctx context.Context, q query.Query) (uint64, error)
	TopDocs(ctx context.Context, q query.Query, offset, limit int) ([]index.Hit, error)
}

type Result struct {
	// Total counts every match, independent of offset and limit.
	Total uint64
	// IDs is the requested page in rank order with duplicates removed.
	IDs []uint32
	// Dropped lists query fragments ignored by lenient parsing.
	Dropped []string
}

type Executor struct {
	searcher Searcher
	parser   *parser.Parser
	maxLimit int
	logger   *slog.Logger
}

func New(searcher Searcher, p *parser.Parser, maxLimit int) *Executor {
	return &Executor{
		searcher: searcher,
		parser:   p,
		maxLimit: maxLimit,
		logger:   slog.Default().With("component", "query-executor"),
	}
}

// ClampLimit bounds limit to [0, maxLimit].
func (e *Executor) ClampLimit(limit int) int {
	if limit < 0 {
		return 0
	}
	if limit > e.maxLimit {
		return e.maxLimit
	}
	return limit
}

// Search executes queryText. Blank input, or input whose every fragment is
// unparseable, returns an empty result without touching the index. The count
// and the page come from two separate index passes.
func (e *Executor) Search(ctx context.Context, queryText string, offset, limit int) (*Result, error) {
	plan := e.parser.Parse(queryText)
	if plan.Empty() {
		return &Result{IDs: []uint32{}, Dropped: plan.Dropped}, nil
	}
	if offset < 0 {
		offset = 0
	}
	limit = e.ClampLimit(limit)

	total, err := e.searcher.Count(ctx, plan.Query)
	if err != nil {
		return nil, e.indexError(plan, err)
	}

	var hits []index.Hit
	if limit > 0 {
		hits, err = e.searcher.TopDocs(ctx, plan.Query, offset, limit)
		if err != nil {
			return nil, e.indexError(plan, err)
		}
	}

	ids := Dedup(hits)
	e.logger.Debug("query executed",
		"query", plan.Normalized,
		"offset", offset,
		"limit", limit,
		"total", total,
		"hits", len(hits),
		"unique", len(ids),
	)
	return &Result{Total: total, IDs: ids, Dropped: plan.Dropped}, nil
}

// Dedup returns the hit identifiers in order, keeping only the first
// occurrence of each.
func Dedup(hits []index.Hit) []uint32 {
	seen := roaring.New()
	ids := make([]uint32, 0, len(hits))
	for _, h := range hits {
		if seen.CheckedAdd(h.ID) {
			ids = append(ids, h.ID)
		}
	}
	return ids
}

func (e *Executor) indexError(plan *parser.Plan, err error) error {
	err = apperrors.FromContext(err)
	if errors.Is(err, apperrors.ErrTimeout) {
		return err
	}
	e.logger.Error("index query failed", "query", plan.Normalized, "error", err)
	return &apperrors.IndexQueryError{Query: plan.Normalized, Err: err}
}
