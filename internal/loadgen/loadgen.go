// Package loadgen drives concurrent search traffic against a running case
// API and summarises latency and status codes, rate-limit rejections
// included.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultQueries is a mix of plain terms, field queries and phrases typical
// of judgment search.
var DefaultQueries = []string{
	"合同纠纷",
	"民间借贷",
	"劳动争议",
	"离婚纠纷",
	"交通事故",
	"房屋租赁",
	"court:最高人民法院",
	"case_type:民事案件 借款",
	`"不当得利"`,
	"知识产权 侵权",
	"买卖合同 违约金",
	"工伤 赔偿",
}

type Config struct {
	BaseURL     string
	Token       string
	Concurrency int
	Duration    time.Duration
	Limit       int
	Queries     []string
	Client      *http.Client
}

type Report struct {
	Elapsed     time.Duration
	Requests    int64
	Succeeded   int64
	Limited     int64
	Failed      int64
	StatusCodes map[int]int64
	Latency     Latency
}

type Latency struct {
	Min, Avg, P50, P90, P99, Max time.Duration
}

type recorder struct {
	mu        sync.Mutex
	codes     map[int]int64
	latencies []time.Duration
	errors    int64
}

func (r *recorder) record(code int, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errors++
		return
	}
	r.codes[code]++
	r.latencies = append(r.latencies, d)
}

// Run sends searches from cfg.Concurrency workers until cfg.Duration passes
// or ctx ends. Transport errors are counted, not returned.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if len(cfg.Queries) == 0 {
		cfg.Queries = DefaultQueries
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: cfg.Concurrency * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	rec := &recorder{codes: make(map[int]int64)}
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				target := searchURL(base, cfg.Queries[i%len(cfg.Queries)], cfg.Limit)
				code, d, err := do(ctx, client, target, cfg.Token)
				if ctx.Err() != nil {
					return nil
				}
				rec.record(code, d, err)
			}
			return nil
		})
	}
	g.Wait()

	return rec.report(time.Since(start)), nil
}

func searchURL(base *url.URL, query string, limit int) string {
	u := base.JoinPath("/api/search")
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	u.RawQuery = params.Encode()
	return u.String()
}

func do(ctx context.Context, client *http.Client, target, token string) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	begin := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	_, err = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, time.Since(begin), err
}

func (r *recorder) report(elapsed time.Duration) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := &Report{Elapsed: elapsed, StatusCodes: r.codes, Failed: r.errors}
	for code, n := range r.codes {
		rep.Requests += n
		switch {
		case code == http.StatusTooManyRequests:
			rep.Limited += n
		case code >= 200 && code < 300:
			rep.Succeeded += n
		default:
			rep.Failed += n
		}
	}
	rep.Requests += r.errors
	rep.Latency = summarize(r.latencies)
	return rep
}

func summarize(latencies []time.Duration) Latency {
	if len(latencies) == 0 {
		return Latency{}
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return Latency{
		Min: sorted[0],
		Avg: sum / time.Duration(len(sorted)),
		P50: percentile(sorted, 50),
		P90: percentile(sorted, 90),
		P99: percentile(sorted, 99),
		Max: sorted[len(sorted)-1],
	}
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}

// Print writes a human-readable summary.
func (r *Report) Print(w io.Writer) error {
	if r.Requests == 0 {
		return errors.New("no requests completed; is the service running?")
	}
	fmt.Fprintf(w, "requests      %d (%.1f/s)\n", r.Requests, float64(r.Requests)/r.Elapsed.Seconds())
	fmt.Fprintf(w, "succeeded     %d\n", r.Succeeded)
	fmt.Fprintf(w, "rate limited  %d\n", r.Limited)
	fmt.Fprintf(w, "failed        %d\n", r.Failed)
	fmt.Fprintf(w, "latency       min %s  avg %s  p50 %s  p90 %s  p99 %s  max %s\n",
		r.Latency.Min, r.Latency.Avg, r.Latency.P50, r.Latency.P90, r.Latency.P99, r.Latency.Max)

	codes := make([]int, 0, len(r.StatusCodes))
	for code := range r.StatusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "status %d    %d\n", code, r.StatusCodes[code])
	}
	return nil
}
