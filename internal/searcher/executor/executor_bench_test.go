package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/damnfork/cases/internal/cases"
	"github.com/damnfork/cases/internal/searcher/index"
	"github.com/damnfork/cases/internal/searcher/parser"
	"github.com/damnfork/cases/pkg/config"
)

var benchCourts = []string{"District Court", "Intermediate Court", "High Court", "Supreme Court"}

func benchExecutor(b *testing.B, docs int) *Executor {
	b.Helper()
	idx, err := index.NewMemOnly(config.IndexConfig{IDField: "id"})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { idx.Close() })

	batch := make([]*cases.Case, 0, docs)
	for i := 1; i <= docs; i++ {
		batch = append(batch, &cases.Case{
			ID:       uint32(i),
			CaseName: fmt.Sprintf("case %d contract dispute", i),
			Court:    benchCourts[i%len(benchCourts)],
			FullText: "the parties entered a sales contract and the defendant failed to pay the price",
		})
	}
	if err := idx.Add(batch...); err != nil {
		b.Fatal(err)
	}

	// A zero-size parse cache keeps parsing on the measured path.
	p, err := parser.New(0, index.Fields("id"))
	if err != nil {
		b.Fatal(err)
	}
	return New(idx, p, 100)
}

func BenchmarkSearch(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"term", "contract"},
		{"field", "court:supreme contract"},
		{"phrase", `"sales contract"`},
		{"lenient", "contract court: price"},
	}
	for _, docs := range []int{1000, 10000} {
		e := benchExecutor(b, docs)
		for _, q := range queries {
			b.Run(fmt.Sprintf("docs_%d/%s", docs, q.name), func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := e.Search(context.Background(), q.query, 0, 20); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	e := benchExecutor(b, 5000)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := e.Search(context.Background(), "contract price", 20, 20); err != nil {
				b.Fatal(err)
			}
		}
	})
}
