package retry

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedotovmax/payflow/internal/event"
	"github.com/fedotovmax/payflow/pkg/logger"
)

type fakePublisher struct {
	mu      sync.Mutex
	fail    bool
	batches [][]event.Message
}

func (f *fakePublisher) PublishBatchAtomically(_ context.Context, msgs []event.Message, _ time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.batches = append(f.batches, msgs)
	return true
}

func (f *fakePublisher) sizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func TestTick_PublishesDueItemsAndClearsInflight(t *testing.T) {
	s, mr, clock := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.ScheduleRetry(ctx, retryRequest("po-1"), 2*time.Second, "PSP_TIMEOUT", ""))

	pub := &fakePublisher{}
	d := NewDispatcher(logger.Discard(), s, pub, Config{})

	published, failed := d.Tick(ctx)
	assert.Zero(t, published)
	assert.Zero(t, failed)

	clock.Advance(2 * time.Second)

	published, failed = d.Tick(ctx)
	assert.Equal(t, 1, published)
	assert.Zero(t, failed)
	assert.False(t, mr.Exists(InflightKey))
	assert.False(t, mr.Exists(DueKey))

	require.Len(t, pub.batches, 1)
	msg := pub.batches[0][0]
	assert.Equal(t, event.PaymentOrderRetryRequestedEvent.Topic, msg.Topic)
	assert.Equal(t, "po-1", msg.Key)
}

func TestTick_ChunksLargePolls(t *testing.T) {
	s, _, clock := newTestScheduler(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, s.ScheduleRetry(ctx, retryRequest("po-"+strconv.Itoa(i)), 0, "PSP_TIMEOUT", ""))
	}
	clock.Advance(time.Millisecond)

	pub := &fakePublisher{}
	d := NewDispatcher(logger.Discard(), s, pub, Config{PollBatch: 10, ChunkSize: 3, Workers: 2})

	published, failed := d.Tick(ctx)

	assert.Equal(t, 7, published)
	assert.Zero(t, failed)
	assert.ElementsMatch(t, []int{3, 3, 1}, pub.sizes())
}

func TestTick_FailedChunkStaysInflightUntilReclaimed(t *testing.T) {
	s, mr, clock := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.ScheduleRetry(ctx, retryRequest("po-1"), 0, "PSP_TIMEOUT", ""))

	pub := &fakePublisher{fail: true}
	d := NewDispatcher(logger.Discard(), s, pub, Config{})

	published, failed := d.Tick(ctx)
	assert.Zero(t, published)
	assert.Equal(t, 1, failed)

	inflight, err := mr.ZMembers(InflightKey)
	require.NoError(t, err)
	require.Len(t, inflight, 1)

	// nothing due until the reclaimer runs
	published, failed = d.Tick(ctx)
	assert.Zero(t, published)
	assert.Zero(t, failed)

	clock.Advance(61 * time.Second)
	n, err := s.ReclaimInflight(ctx, 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pub.mu.Lock()
	pub.fail = false
	pub.mu.Unlock()

	published, failed = d.Tick(ctx)
	assert.Equal(t, 1, published)
	assert.Zero(t, failed)
	assert.False(t, mr.Exists(InflightKey))

	env, err := event.PaymentOrderRetryRequestedEvent.Decode(pub.batches[0][0].Value)
	require.NoError(t, err)
	stale, err := event.PaymentOrderRetryRequestedEvent.Decode([]byte(inflight[0]))
	require.NoError(t, err)
	assert.Equal(t, stale.EventID, env.EventID)
	assert.Equal(t, "po-1", env.AggregateID)
}

func TestTick_SingleFlight(t *testing.T) {
	s, _, clock := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.ScheduleRetry(ctx, retryRequest("po-1"), 0, "PSP_TIMEOUT", ""))
	clock.Advance(time.Millisecond)

	pub := &fakePublisher{}
	d := NewDispatcher(logger.Discard(), s, pub, Config{})

	d.inProcess = 1
	published, _ := d.Tick(ctx)
	assert.Zero(t, published)
	assert.Empty(t, pub.batches)

	d.inProcess = 0
	published, _ = d.Tick(ctx)
	assert.Equal(t, 1, published)
}

func TestDispatcher_StartStop(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	d := NewDispatcher(logger.Discard(), s, &fakePublisher{}, Config{})
	d.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, d.Stop(ctx))
}

func TestChunk(t *testing.T) {
	t.Parallel()

	items := make([]Item, 5)

	assert.Len(t, chunk(items, 2), 3)
	assert.Len(t, chunk(items, 5), 1)
	assert.Len(t, chunk(items, 10), 1)
	assert.Empty(t, chunk(nil, 3))
}
