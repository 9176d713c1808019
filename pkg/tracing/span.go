// Package tracing records per-request stage timings. A Span travels on the
// context, stages are appended as they finish, and the span renders as one
// structured slog attribute.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

type Stage struct {
	Name     string
	Duration time.Duration
}

type Span struct {
	Name  string
	start time.Time
	end   time.Time

	mu     sync.Mutex
	stages []Stage
	attrs  []slog.Attr
}

// Start begins a span and stores it on the returned context.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, start: time.Now()}
	return context.WithValue(ctx, contextKey{}, s), s
}

// FromContext returns the span on ctx, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

// Stage starts timing a named stage; call the returned func when it ends.
// It is safe on a nil span.
func (s *Span) Stage(name string) func() {
	if s == nil {
		return func() {}
	}
	begin := time.Now()
	return func() {
		d := time.Since(begin)
		s.mu.Lock()
		s.stages = append(s.stages, Stage{Name: name, Duration: d})
		s.mu.Unlock()
	}
}

func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// End fixes the span's duration and returns it.
func (s *Span) End() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
	return s.end.Sub(s.start)
}

func (s *Span) Stages() []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Stage(nil), s.stages...)
}

// LogValue renders the span as a group: name, total_ms, one <stage>_ms per
// stage and any attributes.
func (s *Span) LogValue() slog.Value {
	total := s.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	attrs := make([]slog.Attr, 0, len(s.stages)+len(s.attrs)+2)
	attrs = append(attrs,
		slog.String("name", s.Name),
		slog.Float64("total_ms", ms(total)),
	)
	for _, st := range s.stages {
		attrs = append(attrs, slog.Float64(st.Name+"_ms", ms(st.Duration)))
	}
	attrs = append(attrs, s.attrs...)
	return slog.GroupValue(attrs...)
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
