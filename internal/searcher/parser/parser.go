// Package parser turns free-text search input into an index query. Parsing is
// lenient: fragments the query grammar rejects are dropped and the rest runs.
package parser

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2/search/query"
	vregexp "github.com/blevesearch/vellum/regexp"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"
)

// Plan is the parsed form of one query string. Plans are cached and shared
// between requests, so they must not be modified after Parse returns them.
type Plan struct {
	Raw        string
	Normalized string
	Query      query.Query
	// Dropped holds the fragments that could not be parsed, in input order.
	Dropped []string
}

// Empty reports whether there is nothing to send to the index, either because
// the input was blank or because every fragment was dropped.
func (p *Plan) Empty() bool {
	return p.Query == nil
}

// maxFuzziness is the largest edit distance the index accepts.
const maxFuzziness = 2

type parseFunc func(string) (query.Query, error)

// parseQueryString parses s and rejects queries the grammar accepts but the
// index would refuse when building its searcher.
func parseQueryString(s string) (query.Query, error) {
	q, err := query.NewQueryStringQuery(s).Parse()
	if err != nil {
		return nil, err
	}
	if err := checkQuery(q); err != nil {
		return nil, err
	}
	return q, nil
}

func checkQuery(q query.Query) error {
	switch q := q.(type) {
	case *query.BooleanQuery:
		if q == nil {
			return nil
		}
		for _, child := range []query.Query{q.Must, q.Should, q.MustNot, q.Filter} {
			if child == nil {
				continue
			}
			if err := checkQuery(child); err != nil {
				return err
			}
		}
	case *query.ConjunctionQuery:
		if q == nil {
			return nil
		}
		return checkAll(q.Conjuncts)
	case *query.DisjunctionQuery:
		if q == nil {
			return nil
		}
		return checkAll(q.Disjuncts)
	case *query.RegexpQuery:
		if q == nil {
			return nil
		}
		// Same automaton the on-disk index compiles the pattern into.
		if _, err := vregexp.New(strings.TrimPrefix(q.Regexp, "^")); err != nil {
			return fmt.Errorf("regexp /%s/: %w", q.Regexp, err)
		}
	case *query.FuzzyQuery:
		if q != nil {
			return checkFuzziness(q.Fuzziness)
		}
	case *query.MatchQuery:
		if q != nil {
			return checkFuzziness(q.Fuzziness)
		}
	case *query.MatchPhraseQuery:
		if q != nil {
			return checkFuzziness(q.Fuzziness)
		}
	}
	return nil
}

func checkAll(qs []query.Query) error {
	for _, q := range qs {
		if err := checkQuery(q); err != nil {
			return err
		}
	}
	return nil
}

func checkFuzziness(f int) error {
	if f > maxFuzziness {
		return fmt.Errorf("fuzziness %d exceeds max (%d)", f, maxFuzziness)
	}
	return nil
}

type Parser struct {
	parse  parseFunc
	fields map[string]struct{}
	cache  *lru.Cache[string, *Plan]
	logger *slog.Logger
}

// New returns a Parser that recognises the given field names in field:term
// syntax and caches up to cacheSize plans. A cacheSize of zero disables
// caching.
func New(cacheSize int, fields []string) (*Parser, error) {
	p := &Parser{
		parse:  parseQueryString,
		fields: make(map[string]struct{}, len(fields)),
		logger: slog.Default().With("component", "query-parser"),
	}
	for _, f := range fields {
		p.fields[f] = struct{}{}
	}
	if cacheSize > 0 {
		c, err := lru.New[string, *Plan](cacheSize)
		if err != nil {
			return nil, err
		}
		p.cache = c
	}
	return p, nil
}

// Parse never fails. Input is NFKC-normalised first so full-width letters and
// digits match their indexed forms.
func (p *Parser) Parse(raw string) *Plan {
	normalized := strings.TrimSpace(norm.NFKC.String(raw))
	if normalized == "" {
		return &Plan{Raw: raw}
	}
	if p.cache != nil {
		if cached, ok := p.cache.Get(normalized); ok {
			return &Plan{Raw: raw, Normalized: cached.Normalized, Query: cached.Query, Dropped: cached.Dropped}
		}
	}

	plan := p.build(normalized)
	plan.Raw = raw
	if len(plan.Dropped) > 0 {
		p.logger.Debug("dropped query fragments", "query", normalized, "dropped", plan.Dropped)
	}
	if p.cache != nil {
		p.cache.Add(normalized, plan)
	}
	return plan
}

func (p *Parser) build(normalized string) *Plan {
	fragments := splitFragments(normalized)
	for i, f := range fragments {
		fragments[i] = p.literalizeUnknownField(f)
	}

	plan := &Plan{Normalized: normalized}
	joined := strings.Join(fragments, " ")
	if q, err := p.parse(joined); err == nil {
		plan.Query = q
		return plan
	}

	kept := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if _, err := p.parse(f); err == nil {
			kept = append(kept, f)
			continue
		}
		if fixed, lost, ok := repair(f); ok {
			if _, err := p.parse(fixed); err == nil {
				kept = append(kept, fixed)
				plan.Dropped = append(plan.Dropped, lost...)
				continue
			}
		}
		plan.Dropped = append(plan.Dropped, f)
	}
	if len(kept) == 0 {
		return plan
	}

	joined = strings.Join(kept, " ")
	q, err := p.parse(joined)
	if err != nil {
		// Fragments that parse alone can still clash when joined; fall back
		// to plain term matching over the survivors.
		q = query.NewMatchQuery(joined)
	}
	plan.Query = q
	return plan
}

// repair strips the syntax most often left broken in typed queries, a
// dangling double quote and an edit distance above maxFuzziness, so the words
// around it can still be searched. lost lists what was removed.
func repair(fragment string) (fixed string, lost []string, ok bool) {
	fixed = fragment
	if i := danglingQuote(fixed); i >= 0 {
		fixed = fixed[:i] + fixed[i+1:]
		lost = append(lost, `"`)
	}
	var cut []string
	fixed, cut = stripFuzziness(fixed)
	lost = append(lost, cut...)
	if len(lost) == 0 || strings.TrimSpace(fixed) == "" {
		return "", nil, false
	}
	return strings.TrimSpace(fixed), lost, true
}

// danglingQuote returns the index of the last unescaped double quote when
// the quotes in s are unbalanced, or -1.
func danglingQuote(s string) int {
	last, count := -1, 0
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '"':
			last = i
			count++
		}
	}
	if count%2 == 0 {
		return -1
	}
	return last
}

// stripFuzziness removes unescaped "~N" suffixes whose N exceeds
// maxFuzziness.
func stripFuzziness(s string) (string, []string) {
	var (
		b   strings.Builder
		cut []string
	)
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped || c != '~' {
			escaped = !escaped && c == '\\'
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if n, err := strconv.Atoi(s[i+1 : j]); err == nil && n > maxFuzziness {
			cut = append(cut, s[i:j])
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), cut
}

// literalizeUnknownField rewrites "name:value" into "name value" when name is
// not an indexed field, so text like "原告：张三" (a full-width colon after
// NFKC) searches both words instead of a field that does not exist.
func (p *Parser) literalizeUnknownField(fragment string) string {
	colon := strings.IndexByte(fragment, ':')
	if colon <= 0 {
		return fragment
	}
	name := strings.TrimLeft(fragment[:colon], "+-")
	if strings.HasPrefix(name, `"`) {
		return fragment
	}
	if _, ok := p.fields[name]; ok {
		return fragment
	}
	return strings.ReplaceAll(fragment, ":", " ")
}

// splitFragments splits on whitespace outside double quotes. An unterminated
// quote runs to the end of the input and becomes one fragment.
func splitFragments(s string) []string {
	var (
		out     []string
		b       strings.Builder
		inQuote bool
		escaped bool
	)
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
			continue
		}
		b.WriteRune(r)
	}
	flush()
	return out
}
