package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damnfork/cases/internal/searcher/executor"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (m *memBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, false, errors.New("connection refused")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("connection refused")
	}
	m.data[key] = value
	return nil
}

func (m *memBackend) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memBackend) CountByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("connection refused")
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func TestGetOrCompute_MissThenHit(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	ctx := context.Background()
	var computed int
	compute := func() (*executor.Result, error) {
		computed++
		return &executor.Result{Total: 3, IDs: []uint32{3, 1}}, nil
	}

	res, hit, err := c.GetOrCompute(ctx, "foo", 0, 2, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []uint32{3, 1}, res.IDs)

	res, hit, err = c.GetOrCompute(ctx, " foo  ", 0, 2, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, uint64(3), res.Total)
	assert.Equal(t, []uint32{3, 1}, res.IDs)
	assert.Equal(t, 1, computed)

	s := c.Stats(ctx)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, "50.0%", s.HitRate)
	require.NotNil(t, s.Keys)
	assert.Equal(t, int64(1), *s.Keys)
}

func TestGetOrCompute_PagesAreDistinct(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	ctx := context.Background()

	_, _, err := c.GetOrCompute(ctx, "foo", 0, 2, func() (*executor.Result, error) {
		return &executor.Result{Total: 3, IDs: []uint32{3, 1}}, nil
	})
	require.NoError(t, err)

	res, hit, err := c.GetOrCompute(ctx, "foo", 2, 2, func() (*executor.Result, error) {
		return &executor.Result{Total: 3, IDs: []uint32{2}}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []uint32{2}, res.IDs)
}

func TestGetOrCompute_ErrorNotCached(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	ctx := context.Background()
	boom := errors.New("index down")

	_, _, err := c.GetOrCompute(ctx, "foo", 0, 2, func() (*executor.Result, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, hit := c.Get(ctx, "foo", 0, 2)
	assert.False(t, hit)
}

func TestGetOrCompute_BackendDownStillServes(t *testing.T) {
	b := newMemBackend()
	b.fail = true
	c := New(b, time.Minute)

	res, hit, err := c.GetOrCompute(context.Background(), "foo", 0, 2, func() (*executor.Result, error) {
		return &executor.Result{Total: 1, IDs: []uint32{1}}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []uint32{1}, res.IDs)
	assert.Nil(t, c.Stats(context.Background()).Keys)
}

func TestGetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	release := make(chan struct{})
	var computed atomic.Int32

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), "slow", 0, 10, func() (*executor.Result, error) {
				computed.Add(1)
				<-release
				return &executor.Result{Total: 1, IDs: []uint32{1}}, nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), computed.Load())
}

func TestInvalidate(t *testing.T) {
	b := newMemBackend()
	c := New(b, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "a", 0, 10, &executor.Result{Total: 1, IDs: []uint32{1}})
	c.Set(ctx, "b", 0, 10, &executor.Result{Total: 1, IDs: []uint32{2}})
	b.data["unrelated"] = []byte("x")

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Contains(t, b.data, "unrelated")
}

func TestBuildKey(t *testing.T) {
	assert.Equal(t, buildKey("合同  纠纷", 0, 20), buildKey(" 合同 纠纷 ", 0, 20))
	assert.Equal(t, buildKey("ＡＢＣ", 0, 20), buildKey("ABC", 0, 20))
	assert.NotEqual(t, buildKey("a", 0, 20), buildKey("a", 20, 20))
	assert.NotEqual(t, buildKey("a", 0, 20), buildKey("a", 0, 10))
	assert.True(t, strings.HasPrefix(buildKey("a", 0, 1), keyPrefix))
}
