// Package index wraps a bleve full-text index of case documents. Each indexed
// document carries the record identifier in a stored numeric field so ranked
// hits can be resolved against the case store.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/damnfork/cases/internal/cases"
	"github.com/damnfork/cases/pkg/config"
	apperrors "github.com/damnfork/cases/pkg/errors"
)

// Hit is one ranked match.
type Hit struct {
	Score float64
	ID    uint32
}

// Index is safe for concurrent searches. bleve serves each search from a
// point-in-time snapshot, so readers never lock each other.
type Index struct {
	idx     bleve.Index
	idField string
	logger  *slog.Logger
}

// Open opens an existing on-disk index.
func Open(cfg config.IndexConfig) (*Index, error) {
	idx, err := bleve.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", cfg.Path, err)
	}
	return wrap(idx, cfg), nil
}

// NewMemOnly creates an empty in-memory index with the case mapping.
func NewMemOnly(cfg config.IndexConfig) (*Index, error) {
	idx, err := bleve.NewMemOnly(NewMapping(cfg.IDField))
	if err != nil {
		return nil, fmt.Errorf("creating in-memory index: %w", err)
	}
	return wrap(idx, cfg), nil
}

func wrap(idx bleve.Index, cfg config.IndexConfig) *Index {
	return &Index{
		idx:     idx,
		idField: cfg.IDField,
		logger:  slog.Default().With("component", "index"),
	}
}

// textFields are the case fields searched by unqualified terms.
var textFields = []string{
	"case_name", "court", "case_type", "procedure", "parties", "cause", "legal_basis", "full_text",
}

// keywordFields are matched exactly and only through field-qualified terms.
var keywordFields = []string{"doc_id", "case_id", "judgment_date", "public_date"}

// Fields lists every searchable field name, the identifier field included.
func Fields(idField string) []string {
	out := make([]string, 0, len(textFields)+len(keywordFields)+1)
	out = append(out, textFields...)
	out = append(out, keywordFields...)
	return append(out, idField)
}

// NewMapping returns the case document mapping: CJK-analysed text fields, exact
// keyword fields and a stored numeric identifier.
func NewMapping(idField string) mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = cjk.AnalyzerName
	text.Store = false

	keyword := bleve.NewKeywordFieldMapping()
	keyword.Store = false
	keyword.IncludeInAll = false

	id := bleve.NewNumericFieldMapping()
	id.Store = true
	id.IncludeInAll = false

	doc := bleve.NewDocumentStaticMapping()
	for _, f := range textFields {
		doc.AddFieldMappingsAt(f, text)
	}
	for _, f := range keywordFields {
		doc.AddFieldMappingsAt(f, keyword)
	}
	doc.AddFieldMappingsAt(idField, id)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = cjk.AnalyzerName
	return m
}

// Count returns the exact number of documents matching q.
func (i *Index) Count(ctx context.Context, q query.Query) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.FromContext(err)
	}
	req := bleve.NewSearchRequestOptions(q, 0, 0, false)
	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return 0, apperrors.FromContext(err)
	}
	return res.Total, nil
}

// TopDocs returns up to limit hits ranked by descending score, skipping the
// first offset. Documents without a usable identifier are skipped.
func (i *Index) TopDocs(ctx context.Context, q query.Query, offset, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.FromContext(err)
	}
	if limit <= 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(q, limit, offset, false)
	req.Fields = []string{i.idField}
	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, apperrors.FromContext(err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		raw, ok := h.Fields[i.idField].(float64)
		if !ok || raw < 0 || raw > float64(^uint32(0)) {
			i.logger.Warn("document without identifier", "doc", h.ID, "value", h.Fields[i.idField])
			continue
		}
		hits = append(hits, Hit{Score: h.Score, ID: uint32(raw)})
	}
	return hits, nil
}

// DocCount returns the number of indexed documents.
func (i *Index) DocCount() (uint64, error) {
	return i.idx.DocCount()
}

// Ping verifies the index answers.
func (i *Index) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := i.idx.DocCount()
	return err
}

// Add indexes each case under its own identifier as document key.
func (i *Index) Add(cs ...*cases.Case) error {
	b := i.idx.NewBatch()
	for _, c := range cs {
		if err := b.Index(strconv.FormatUint(uint64(c.ID), 10), i.document(c)); err != nil {
			return fmt.Errorf("indexing case %d: %w", c.ID, err)
		}
	}
	return i.idx.Batch(b)
}

// AddAs indexes c under an arbitrary document key. Several keys may address
// the same case, as happens when long judgments are indexed in sections.
func (i *Index) AddAs(docKey string, c *cases.Case) error {
	return i.idx.Index(docKey, i.document(c))
}

func (i *Index) document(c *cases.Case) map[string]any {
	return map[string]any{
		i.idField:       float64(c.ID),
		"doc_id":        c.DocID,
		"case_id":       c.CaseID,
		"case_name":     c.CaseName,
		"court":         c.Court,
		"case_type":     c.CaseType,
		"procedure":     c.Procedure,
		"judgment_date": c.JudgmentDate,
		"public_date":   c.PublicDate,
		"parties":       c.Parties,
		"cause":         c.Cause,
		"legal_basis":   c.LegalBasis,
		"full_text":     c.FullText,
	}
}

func (i *Index) Close() error {
	return i.idx.Close()
}
