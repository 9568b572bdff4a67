package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedotovmax/payflow/internal/event"
	"github.com/fedotovmax/payflow/pkg/logger"
)

type fakeTxnProducer struct {
	mu sync.Mutex

	sendErr   error
	commitErr error
	block     chan struct{}

	begun     int
	committed [][]*sarama.ProducerMessage
	aborted   int
	pending   []*sarama.ProducerMessage
}

func (f *fakeTxnProducer) BeginTxn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun++
	f.pending = nil
	return nil
}

func (f *fakeTxnProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.pending = append(f.pending, msgs...)
	return nil
}

func (f *fakeTxnProducer) CommitTxn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, f.pending)
	f.pending = nil
	return nil
}

func (f *fakeTxnProducer) AbortTxn() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
	f.pending = nil
	return nil
}

func (f *fakeTxnProducer) Close() error { return nil }

func (f *fakeTxnProducer) snapshot() (begun int, committed int, aborted int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begun, len(f.committed), f.aborted
}

func testMessages(n int) []event.Message {
	msgs := make([]event.Message, n)
	for i := range msgs {
		msgs[i] = event.Message{
			Topic:         "payment_order_retry_request_topic",
			Key:           "po-1",
			Value:         []byte(`{}`),
			EventID:       "ev-" + string(rune('a'+i)),
			EventType:     "payment_order_retry_requested",
			TraceID:       "trace-1",
			ParentEventID: "parent-1",
		}
	}
	return msgs
}

func TestPublishBatchAtomically_Commits(t *testing.T) {
	p := &fakeTxnProducer{}
	k := New(logger.Discard(), []TxnProducer{p}, nil)

	ok := k.PublishBatchAtomically(context.Background(), testMessages(3), time.Second)

	require.True(t, ok)
	require.Len(t, p.committed, 1)
	assert.Len(t, p.committed[0], 3)
	assert.Zero(t, p.aborted)
}

func TestPublishBatchAtomically_SendFailureAborts(t *testing.T) {
	p := &fakeTxnProducer{sendErr: errors.New("broker unreachable")}
	k := New(logger.Discard(), []TxnProducer{p}, nil)

	ok := k.PublishBatchAtomically(context.Background(), testMessages(3), time.Second)

	assert.False(t, ok)
	assert.Empty(t, p.committed)
	assert.Equal(t, 1, p.aborted)
}

func TestPublishBatchAtomically_CommitFailureAborts(t *testing.T) {
	p := &fakeTxnProducer{commitErr: errors.New("fenced")}
	k := New(logger.Discard(), []TxnProducer{p}, nil)

	ok := k.PublishBatchAtomically(context.Background(), testMessages(2), time.Second)

	assert.False(t, ok)
	assert.Equal(t, 1, p.aborted)
}

func TestPublishBatchAtomically_EmptyBatch(t *testing.T) {
	p := &fakeTxnProducer{}
	k := New(logger.Discard(), []TxnProducer{p}, nil)

	assert.False(t, k.PublishBatchAtomically(context.Background(), nil, time.Second))
	begun, _, _ := p.snapshot()
	assert.Zero(t, begun)
}

func TestPublishBatchAtomically_TimeoutReleasesProducerAfterSettle(t *testing.T) {
	p := &fakeTxnProducer{block: make(chan struct{})}
	k := New(logger.Discard(), []TxnProducer{p}, nil)

	ok := k.PublishBatchAtomically(context.Background(), testMessages(1), 20*time.Millisecond)
	assert.False(t, ok)

	// the single producer is still inside its transaction
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err := k.pool.acquire(ctx)
	cancel()
	assert.ErrorIs(t, err, ErrNoProducer)

	close(p.block)

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := k.pool.acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPublishBatchAtomically_RecoversPanic(t *testing.T) {
	k := New(logger.Discard(), []TxnProducer{panicProducer{&fakeTxnProducer{}}}, nil)

	assert.False(t, k.PublishBatchAtomically(context.Background(), testMessages(1), time.Second))
}

type panicProducer struct{ *fakeTxnProducer }

func (panicProducer) BeginTxn() error { panic("boom") }

func TestPublishSync_Timeout(t *testing.T) {
	p := &fakeTxnProducer{block: make(chan struct{})}
	defer close(p.block)
	k := New(logger.Discard(), []TxnProducer{p}, nil)

	_, err := k.PublishSync(context.Background(), testMessages(1)[0], 20*time.Millisecond)

	assert.ErrorIs(t, err, ErrPublishTimeout)
}

func TestPublishSync_ReturnsMessage(t *testing.T) {
	p := &fakeTxnProducer{}
	k := New(logger.Discard(), []TxnProducer{p}, nil)

	msg := testMessages(1)[0]
	got, err := k.PublishSync(context.Background(), msg, time.Second)

	require.NoError(t, err)
	assert.Equal(t, msg, got)
	_, committed, _ := p.snapshot()
	assert.Equal(t, 1, committed)
}

func TestToProducerMessage_Headers(t *testing.T) {
	t.Parallel()

	pm := toProducerMessage(testMessages(1)[0])

	headers := map[string]string{}
	for _, h := range pm.Headers {
		headers[string(h.Key)] = string(h.Value)
	}

	assert.Equal(t, map[string]string{
		"traceId":       "trace-1",
		"eventId":       "ev-a",
		"eventType":     "payment_order_retry_requested",
		"parentEventId": "parent-1",
	}, headers)

	key, err := pm.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "po-1", string(key))
	assert.Equal(t, "payment_order_retry_request_topic", pm.Topic)
}

func TestToProducerMessage_OmitsEmptyParent(t *testing.T) {
	t.Parallel()

	msg := testMessages(1)[0]
	msg.ParentEventID = ""

	pm := toProducerMessage(msg)

	assert.Len(t, pm.Headers, 3)
}

type fakeAsyncProducer struct {
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:     make(chan *sarama.ProducerMessage, 1),
		successes: make(chan *sarama.ProducerMessage),
		errors:    make(chan *sarama.ProducerError),
	}
}

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage     { return f.input }
func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return f.successes }
func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError      { return f.errors }

func TestPublish_FireAndForget(t *testing.T) {
	async := newFakeAsyncProducer()
	k := New(logger.Discard(), nil, async)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k.Monitor(ctx)

	require.NoError(t, k.Publish(ctx, testMessages(1)[0]))

	pm := <-async.input
	assert.Equal(t, "payment_order_retry_request_topic", pm.Topic)

	// both result channels are drained by the monitor
	async.successes <- pm
	async.errors <- &sarama.ProducerError{Msg: pm, Err: errors.New("nope")}
}

func TestPublish_BlockedInputHonoursContext(t *testing.T) {
	async := newFakeAsyncProducer()
	async.input = make(chan *sarama.ProducerMessage)
	k := New(logger.Discard(), nil, async)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := k.Publish(ctx, testMessages(1)[0])
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublish_WithoutAsyncProducer(t *testing.T) {
	k := New(logger.Discard(), nil, nil)

	assert.ErrorIs(t, k.Publish(context.Background(), testMessages(1)[0]), ErrNoProducer)
}
