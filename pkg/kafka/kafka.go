package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
)

const (
	_defaultConnTimeout = 30 * time.Second
	_defaultVersion     = "3.6.0"
)

type Options struct {
	Brokers  []string
	ClientID string
	// Kafka protocol version, e.g. "3.6.0"
	Version string
	// Upper bound for establishing the first connection
	ConnTimeout time.Duration
}

func (o Options) version() (sarama.KafkaVersion, error) {
	v := o.Version
	if v == "" {
		v = _defaultVersion
	}
	return sarama.ParseKafkaVersion(v)
}

func (o Options) connTimeout() time.Duration {
	if o.ConnTimeout <= 0 {
		return _defaultConnTimeout
	}
	return o.ConnTimeout
}

func baseConfig(o Options) (*sarama.Config, error) {
	v, err := o.version()
	if err != nil {
		return nil, err
	}

	cfg := sarama.NewConfig()
	cfg.Version = v
	if o.ClientID != "" {
		cfg.ClientID = o.ClientID
	}
	return cfg, nil
}

// TransactionalConfig is an idempotent producer config bound to transactionalID.
func TransactionalConfig(o Options, transactionalID string) (*sarama.Config, error) {
	const op = "kafka.TransactionalConfig"

	cfg, err := baseConfig(o)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Transaction.ID = transactionalID
	cfg.Net.MaxOpenRequests = 1

	return cfg, nil
}

func AsyncConfig(o Options) (*sarama.Config, error) {
	const op = "kafka.AsyncConfig"

	cfg, err := baseConfig(o)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	return cfg, nil
}

// ConsumerConfig reads committed records only, so aborted outbox batches are
// never seen downstream.
func ConsumerConfig(o Options) (*sarama.Config, error) {
	const op = "kafka.ConsumerConfig"

	cfg, err := baseConfig(o)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Consumer.IsolationLevel = sarama.ReadCommitted
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}

	return cfg, nil
}

// NewTransactionalProducers opens n producers with transactional ids
// prefix-0..prefix-(n-1). Ids must be stable across restarts of the same
// instance so the broker fences zombie producers.
func NewTransactionalProducers(ctx context.Context, o Options, prefix string, n int) ([]sarama.SyncProducer, error) {
	const op = "kafka.NewTransactionalProducers"

	producers := make([]sarama.SyncProducer, 0, n)

	for i := 0; i < n; i++ {
		cfg, err := TransactionalConfig(o, prefix+"-"+strconv.Itoa(i))
		if err != nil {
			closeAll(producers)
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		p, err := connect(ctx, o, func() (sarama.SyncProducer, error) {
			return sarama.NewSyncProducer(o.Brokers, cfg)
		})
		if err != nil {
			closeAll(producers)
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		producers = append(producers, p)
	}

	return producers, nil
}

func NewAsyncProducer(ctx context.Context, o Options) (sarama.AsyncProducer, error) {
	const op = "kafka.NewAsyncProducer"

	cfg, err := AsyncConfig(o)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p, err := connect(ctx, o, func() (sarama.AsyncProducer, error) {
		return sarama.NewAsyncProducer(o.Brokers, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

func NewConsumerGroup(ctx context.Context, o Options, groupID string) (sarama.ConsumerGroup, error) {
	const op = "kafka.NewConsumerGroup"

	cfg, err := ConsumerConfig(o)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	g, err := connect(ctx, o, func() (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroup(o.Brokers, groupID, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return g, nil
}

// connect retries open with exponential backoff until it succeeds, ctx is done
// or the connection timeout elapses.
func connect[T any](ctx context.Context, o Options, open func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = o.connTimeout()

	var client T

	err := backoff.Retry(func() error {
		var err error
		client, err = open()
		return err
	}, backoff.WithContext(b, ctx))

	return client, err
}

func closeAll(producers []sarama.SyncProducer) {
	for _, p := range producers {
		_ = p.Close()
	}
}
