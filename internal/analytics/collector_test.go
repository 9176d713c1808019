package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damnfork/cases/pkg/kafka"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (p *recordingPublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := append([]kafka.Event(nil), events...)
	p.batches = append(p.batches, cp)
	return p.err
}

func (p *recordingPublisher) events() []kafka.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []kafka.Event
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestCollector_FlushesOnClose(t *testing.T) {
	p := &recordingPublisher{}
	c := NewCollector(p, 10)
	c.flushInterval = time.Hour
	c.Start()

	c.Track("q1", SearchEvent{Type: EventSearch, Query: "a"})
	c.Track("q2", SearchEvent{Type: EventZeroResult, Query: "b"})
	c.Close()

	events := p.events()
	require.Len(t, events, 2)
	assert.Equal(t, "q1", events[0].Key)
	assert.Equal(t, "b", events[1].Value.(SearchEvent).Query)
}

func TestCollector_FlushesFullBatch(t *testing.T) {
	p := &recordingPublisher{}
	c := NewCollector(p, 10)
	c.batchSize = 2
	c.flushInterval = time.Hour
	c.Start()
	defer c.Close()

	c.Track("a", CaseEvent{CaseID: 1})
	c.Track("b", CaseEvent{CaseID: 2})

	assert.Eventually(t, func() bool { return len(p.events()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestCollector_FlushesOnInterval(t *testing.T) {
	p := &recordingPublisher{}
	c := NewCollector(p, 10)
	c.flushInterval = 10 * time.Millisecond
	c.Start()
	defer c.Close()

	c.Track("a", CaseEvent{CaseID: 1})
	assert.Eventually(t, func() bool { return len(p.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCollector_DropsWhenFull(t *testing.T) {
	p := &recordingPublisher{}
	c := NewCollector(p, 1)

	// Not started, so the buffer never drains.
	c.Track("a", 1)
	c.Track("b", 2)
	assert.Equal(t, int64(1), c.dropped.Load())
}

func TestCollector_TrackAfterCloseIsIgnored(t *testing.T) {
	p := &recordingPublisher{err: errors.New("broker down")}
	c := NewCollector(p, 4)
	c.Start()
	c.Close()

	assert.NotPanics(t, func() { c.Track("late", 1) })
	assert.NotPanics(t, c.Close)
}
