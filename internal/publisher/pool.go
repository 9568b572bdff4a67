package publisher

import (
	"context"
	"fmt"
)

// producerPool hands out transactional producers one at a time. A sarama
// transactional producer runs a single transaction, so a producer is never
// shared between two in-flight publishes.
type producerPool struct {
	ch  chan TxnProducer
	all []TxnProducer
}

func newProducerPool(producers []TxnProducer) *producerPool {
	p := &producerPool{
		ch:  make(chan TxnProducer, len(producers)),
		all: producers,
	}
	for _, pr := range producers {
		p.ch <- pr
	}
	return p
}

func (p *producerPool) acquire(ctx context.Context) (TxnProducer, error) {
	const op = "publisher.pool.acquire"

	if len(p.all) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoProducer)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %v", op, ErrNoProducer, ctx.Err())
	case pr := <-p.ch:
		return pr, nil
	}
}

func (p *producerPool) release(pr TxnProducer) {
	p.ch <- pr
}

func (p *producerPool) close() error {
	var firstErr error
	for _, pr := range p.all {
		if err := pr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
