package executor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damnfork/cases/internal/cases"
	"github.com/damnfork/cases/internal/searcher/index"
	"github.com/damnfork/cases/internal/searcher/parser"
	"github.com/damnfork/cases/pkg/config"
	apperrors "github.com/damnfork/cases/pkg/errors"
)

// fakeSearcher returns a fixed ranked hit list for every query and counts
// calls.
type fakeSearcher struct {
	mu       sync.Mutex
	hits     []index.Hit
	total    uint64
	err      error
	counts   int
	topDocs  int
	lastPage [2]int
}

func (f *fakeSearcher) Count(ctx context.Context, q query.Query) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts++
	return f.total, f.err
}

func (f *fakeSearcher) TopDocs(ctx context.Context, q query.Query, offset, limit int) ([]index.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topDocs++
	f.lastPage = [2]int{offset, limit}
	if f.err != nil {
		return nil, f.err
	}
	if offset >= len(f.hits) {
		return nil, nil
	}
	end := min(offset+limit, len(f.hits))
	return f.hits[offset:end], nil
}

func (f *fakeSearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts + f.topDocs
}

func newExecutor(t *testing.T, s Searcher) *Executor {
	t.Helper()
	p, err := parser.New(16, index.Fields("id"))
	require.NoError(t, err)
	return New(s, p, 100)
}

func TestSearch_BlankQuerySkipsIndex(t *testing.T) {
	f := &fakeSearcher{total: 9, hits: []index.Hit{{Score: 1, ID: 1}}}
	e := newExecutor(t, f)

	for _, q := range []string{"", "   ", "\t"} {
		res, err := e.Search(context.Background(), q, 0, 20)
		require.NoError(t, err)
		assert.Zero(t, res.Total)
		assert.Empty(t, res.IDs)
	}
	assert.Zero(t, f.calls())
}

func TestSearch_AllFragmentsDroppedSkipsIndex(t *testing.T) {
	f := &fakeSearcher{total: 9}
	e := newExecutor(t, f)

	res, err := e.Search(context.Background(), "court:", 0, 20)
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Equal(t, []string{"court:"}, res.Dropped)
	assert.Zero(t, f.calls())
}

func TestSearch_DedupKeepsFirstOccurrence(t *testing.T) {
	f := &fakeSearcher{
		total: 3,
		hits:  []index.Hit{{Score: 9, ID: 3}, {Score: 7, ID: 1}, {Score: 5, ID: 2}, {Score: 4, ID: 1}},
	}
	e := newExecutor(t, f)

	res, err := e.Search(context.Background(), "foo", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Total)
	assert.Equal(t, []uint32{3, 1, 2}, res.IDs)
}

func TestSearch_LimitClamped(t *testing.T) {
	f := &fakeSearcher{total: 500}
	e := newExecutor(t, f)

	_, err := e.Search(context.Background(), "foo", 10, 1000)
	require.NoError(t, err)
	assert.Equal(t, [2]int{10, 100}, f.lastPage)
}

func TestSearch_LimitZeroStillCounts(t *testing.T) {
	f := &fakeSearcher{total: 42, hits: []index.Hit{{ID: 1}}}
	e := newExecutor(t, f)

	res, err := e.Search(context.Background(), "foo", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.Total)
	assert.Empty(t, res.IDs)
	assert.Equal(t, 1, f.counts)
	assert.Zero(t, f.topDocs)
}

func TestSearch_IndexFailure(t *testing.T) {
	f := &fakeSearcher{err: errors.New("segment unreadable")}
	e := newExecutor(t, f)

	_, err := e.Search(context.Background(), "foo bar", 0, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrIndexQuery)

	var qe *apperrors.IndexQueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "foo bar", qe.Query)
}

func TestSearch_IndexDeadline(t *testing.T) {
	f := &fakeSearcher{err: context.DeadlineExceeded}
	e := newExecutor(t, f)

	_, err := e.Search(context.Background(), "foo", 0, 10)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.NotErrorIs(t, err, apperrors.ErrIndexQuery)
}

func TestClampLimit(t *testing.T) {
	e := newExecutor(t, &fakeSearcher{})
	assert.Equal(t, 0, e.ClampLimit(-5))
	assert.Equal(t, 0, e.ClampLimit(0))
	assert.Equal(t, 20, e.ClampLimit(20))
	assert.Equal(t, 100, e.ClampLimit(100))
	assert.Equal(t, 100, e.ClampLimit(101))
}

func TestDedup(t *testing.T) {
	assert.Equal(t, []uint32{}, Dedup(nil))
	assert.Equal(t, []uint32{5, 4, 1}, Dedup([]index.Hit{{ID: 5}, {ID: 5}, {ID: 4}, {ID: 1}, {ID: 4}}))
}

// Exercises the real index: total is unaffected by paging, pages are ranked
// and contain no duplicates.
func TestSearch_AgainstIndex(t *testing.T) {
	idx, err := index.NewMemOnly(config.IndexConfig{IDField: "id"})
	require.NoError(t, err)
	defer idx.Close()

	var corpus []*cases.Case
	for i := uint32(1); i <= 30; i++ {
		text := "judgment"
		for j := uint32(0); j < i%7; j++ {
			text += " contract"
		}
		corpus = append(corpus, &cases.Case{ID: i, FullText: text})
	}
	require.NoError(t, idx.Add(corpus...))
	// A second posting for case 6 under another document key.
	require.NoError(t, idx.AddAs("6#appendix", corpus[5]))

	e := newExecutor(t, idx)
	ctx := context.Background()

	full, err := e.Search(ctx, "contract", 0, 100)
	require.NoError(t, err)

	seen := make(map[uint32]bool)
	for _, id := range full.IDs {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}

	for _, page := range [][2]int{{0, 5}, {5, 5}, {10, 0}, {200, 10}} {
		res, err := e.Search(ctx, "contract", page[0], page[1])
		require.NoError(t, err)
		assert.Equal(t, full.Total, res.Total, "offset=%d limit=%d", page[0], page[1])
	}

	// Denser matches rank no later than sparser ones.
	density := func(id uint32) int { return int(id % 7) }
	ranks := append([]uint32(nil), full.IDs...)
	assert.True(t, sort.SliceIsSorted(ranks, func(a, b int) bool {
		return density(ranks[a]) > density(ranks[b])
	}) || len(ranks) < 2)
}

// Query text the grammar accepts but the index cannot build a searcher for
// loses only the broken part; the remaining words still match.
func TestSearch_UnbuildableFragmentsDropped(t *testing.T) {
	idx, err := index.NewMemOnly(config.IndexConfig{IDField: "id"})
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Add(
		&cases.Case{ID: 1, CaseName: "foo", FullText: "foo judgment"},
		&cases.Case{ID: 2, CaseName: "bar", FullText: "foo contract"},
		&cases.Case{ID: 3, CaseName: "baz", FullText: "unrelated"},
	))

	e := newExecutor(t, idx)
	for _, q := range []string{"foo /[/", "foo~5", `"foo`, "foo case_name:/(/"} {
		res, err := e.Search(context.Background(), q, 0, 10)
		require.NoError(t, err, q)
		assert.NotEmpty(t, res.Dropped, q)
		assert.Equal(t, uint64(2), res.Total, q)
		assert.ElementsMatch(t, []uint32{1, 2}, res.IDs, q)
	}
}
