package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/fedotovmax/payflow/internal/event"
)

// TxnProducer is the transactional part of sarama.SyncProducer.
type TxnProducer interface {
	SendMessages(msgs []*sarama.ProducerMessage) error
	BeginTxn() error
	CommitTxn() error
	AbortTxn() error
	Close() error
}

// AsyncProducer is the channel part of sarama.AsyncProducer.
type AsyncProducer interface {
	Input() chan<- *sarama.ProducerMessage
	Successes() <-chan *sarama.ProducerMessage
	Errors() <-chan *sarama.ProducerError
}

type messageMetadata struct {
	EventID   string
	EventType string
}

type Kafka struct {
	log   *slog.Logger
	pool  *producerPool
	async AsyncProducer
	m     *metrics

	onceMonitor sync.Once
}

// New builds a publisher over a set of transactional producers and an
// optional async producer for fire-and-forget sends. async may be nil.
func New(l *slog.Logger, producers []TxnProducer, async AsyncProducer) *Kafka {
	return &Kafka{
		log:   l,
		pool:  newProducerPool(producers),
		async: async,
		m:     getMetrics(),
	}
}

// PublishBatchAtomically sends msgs in one broker transaction and reports
// whether it committed. It never returns an error: false means nothing of the
// batch can be assumed delivered.
func (k *Kafka) PublishBatchAtomically(ctx context.Context, msgs []event.Message, timeout time.Duration) bool {
	const op = "publisher.kafka.PublishBatchAtomically"

	log := k.log.With(slog.String("op", op), slog.Int("batch_size", len(msgs)))

	err := k.transact(ctx, msgs, timeout)
	if err != nil {
		k.m.failed.WithLabelValues("batch").Inc()
		log.WarnContext(ctx, "batch transaction not committed", slog.String("error", err.Error()))
		return false
	}

	k.m.published.WithLabelValues("batch").Add(float64(len(msgs)))
	return true
}

// PublishSync sends one message as its own transaction. On ErrPublishTimeout
// the message may still be committed later.
func (k *Kafka) PublishSync(ctx context.Context, msg event.Message, timeout time.Duration) (event.Message, error) {
	const op = "publisher.kafka.PublishSync"

	if err := k.transact(ctx, []event.Message{msg}, timeout); err != nil {
		k.m.failed.WithLabelValues("sync").Inc()
		return event.Message{}, fmt.Errorf("%s: event_id: %s: %w", op, msg.EventID, err)
	}

	k.m.published.WithLabelValues("sync").Inc()
	return msg, nil
}

// Publish hands msg to the async producer without waiting for the broker.
func (k *Kafka) Publish(ctx context.Context, msg event.Message) error {
	const op = "publisher.kafka.Publish"

	if k.async == nil {
		return fmt.Errorf("%s: %w", op, ErrNoProducer)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: event_id: %s: %w", op, msg.EventID, ctx.Err())
	case k.async.Input() <- toProducerMessage(msg):
		return nil
	}
}

func (k *Kafka) transact(ctx context.Context, msgs []event.Message, timeout time.Duration) error {
	if len(msgs) == 0 {
		return ErrEmptyBatch
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := k.pool.acquire(waitCtx)
	if err != nil {
		return err
	}

	records := make([]*sarama.ProducerMessage, len(msgs))
	for i := range msgs {
		records[i] = toProducerMessage(msgs[i])
	}

	done := make(chan error, 1)
	go func() {
		done <- runTxn(p, records)
	}()

	select {
	case err := <-done:
		k.pool.release(p)
		return err
	case <-waitCtx.Done():
		// the producer goes back only once its transaction has settled
		go func() {
			<-done
			k.pool.release(p)
		}()
		return ErrPublishTimeout
	}
}

func runTxn(p TxnProducer, records []*sarama.ProducerMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrPublishFailed, r)
		}
	}()

	if err := p.BeginTxn(); err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPublishFailed, err)
	}

	if err := p.SendMessages(records); err != nil {
		return abort(p, fmt.Errorf("%w: send: %v", ErrPublishFailed, err))
	}

	if err := p.CommitTxn(); err != nil {
		return abort(p, fmt.Errorf("%w: commit: %v", ErrPublishFailed, err))
	}

	return nil
}

func abort(p TxnProducer, cause error) error {
	if err := p.AbortTxn(); err != nil {
		return errors.Join(cause, fmt.Errorf("abort: %w", err))
	}
	return cause
}

func toProducerMessage(msg event.Message) *sarama.ProducerMessage {
	headers := []sarama.RecordHeader{
		{
			Key:   []byte(event.HeaderTraceID),
			Value: []byte(msg.TraceID),
		},
		{
			Key:   []byte(event.HeaderEventID),
			Value: []byte(msg.EventID),
		},
		{
			Key:   []byte(event.HeaderEventType),
			Value: []byte(msg.EventType),
		},
	}

	if msg.ParentEventID != "" {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(event.HeaderParentEventID),
			Value: []byte(msg.ParentEventID),
		})
	}

	return &sarama.ProducerMessage{
		Topic:   msg.Topic,
		Key:     sarama.StringEncoder(msg.Key),
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: headers,
		Metadata: &messageMetadata{
			EventID:   msg.EventID,
			EventType: msg.EventType,
		},
	}
}

// Monitor drains the async producer's result channels until ctx is done.
// Sarama blocks the async producer when they are not read.
func (k *Kafka) Monitor(ctx context.Context) {
	if k.async == nil {
		return
	}
	k.onceMonitor.Do(func() {
		go k.watchSuccesses(ctx)
		go k.watchErrors(ctx)
	})
}

func (k *Kafka) watchSuccesses(ctx context.Context) {
	const op = "publisher.kafka.watchSuccesses"

	log := k.log.With(slog.String("op", op))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-k.async.Successes():
			if !ok {
				return
			}
			m, ok := msg.Metadata.(*messageMetadata)
			if !ok {
				continue
			}
			k.m.published.WithLabelValues("async").Inc()
			log.Debug("async event delivered",
				slog.String("event_id", m.EventID),
				slog.String("event_type", m.EventType))
		}
	}
}

func (k *Kafka) watchErrors(ctx context.Context) {
	const op = "publisher.kafka.watchErrors"

	log := k.log.With(slog.String("op", op))

	for {
		select {
		case <-ctx.Done():
			return
		case produceErr, ok := <-k.async.Errors():
			if !ok {
				return
			}
			k.m.failed.WithLabelValues("async").Inc()
			attrs := []any{slog.String("error", produceErr.Err.Error())}
			if m, ok := produceErr.Msg.Metadata.(*messageMetadata); ok {
				attrs = append(attrs,
					slog.String("event_id", m.EventID),
					slog.String("event_type", m.EventType))
			}
			log.Error("async event not delivered", attrs...)
		}
	}
}

func (k *Kafka) Close() error {
	const op = "publisher.kafka.Close"

	if err := k.pool.close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
