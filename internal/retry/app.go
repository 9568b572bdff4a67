package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fedotovmax/workerpool"

	"github.com/fedotovmax/payflow/internal/event"
)

type BatchPublisher interface {
	PublishBatchAtomically(ctx context.Context, msgs []event.Message, timeout time.Duration) bool
}

// Queue is the part of Scheduler the dispatcher drives.
type Queue interface {
	PollDueToInflight(ctx context.Context, max int) ([]Item, error)
	RemoveFromInflight(ctx context.Context, items ...Item) error
	ReclaimInflight(ctx context.Context, olderThan time.Duration) (int, error)
	DeadLetter(ctx context.Context, item Item) error
}

// Dispatcher publishes due retry requests. Items leave the inflight set only
// after the chunk carrying them has committed on the broker.
type Dispatcher struct {
	queue     Queue
	publisher BatchPublisher
	log       *slog.Logger
	cfg       Config
	m         *metrics

	inProcess int32
	ctx       context.Context
	stop      context.CancelFunc
	isStopped chan struct{}
}

func NewDispatcher(l *slog.Logger, q Queue, p BatchPublisher, cfg Config) *Dispatcher {

	ctx, cancel := context.WithCancel(context.Background())

	validateConfig(&cfg)

	return &Dispatcher{
		queue:     q,
		publisher: p,
		log:       l,
		cfg:       cfg,
		m:         getMetrics(),
		ctx:       ctx,
		stop:      cancel,
		isStopped: make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {

	wg := &sync.WaitGroup{}

	d.dispatching(wg)
	d.reclaiming(wg)

	go func() {
		wg.Wait()
		close(d.isStopped)
	}()
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	const op = "retry.app.Stop"
	log := d.log.With(slog.String("op", op))
	d.stop()
	select {
	case <-d.isStopped:
		log.Info("Retry dispatcher stopped successfully")
		return nil
	case <-ctx.Done():
		log.Warn("Retry dispatcher stopped by context")
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (d *Dispatcher) dispatching(wg *sync.WaitGroup) {
	const op = "retry.app.dispatching"

	log := d.log.With(slog.String("op", op))

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.ctx.Done():
				log.Info("retry dispatching stopped")
				return
			case <-ticker.C:
				d.Tick(d.ctx)
			}
		}
	}()
}

// Tick runs one poll-publish-remove round. An overlapping call returns
// immediately with zero counts.
func (d *Dispatcher) Tick(ctx context.Context) (published int, failed int) {
	const op = "retry.app.Tick"

	log := d.log.With(slog.String("op", op))

	if !atomic.CompareAndSwapInt32(&d.inProcess, 0, 1) {
		return 0, 0
	}
	defer atomic.StoreInt32(&d.inProcess, 0)

	items, err := d.queue.PollDueToInflight(ctx, d.cfg.PollBatch)
	if err != nil {
		log.Error("error when polling due retries", slog.String("error", err.Error()))
		return 0, 0
	}

	if len(items) == 0 {
		return 0, 0
	}

	chunks := chunk(items, d.cfg.ChunkSize)

	chunksCh := make(chan []Item, len(chunks))
	for i := 0; i < len(chunks); i++ {
		chunksCh <- chunks[i]
	}
	close(chunksCh)

	var publishedCount, failedCount int64

	workerPoolCtx, workerPoolCtxCancel := context.WithCancel(ctx)
	defer workerPoolCtxCancel()

	results := workerpool.Workerpool(workerPoolCtx, chunksCh, d.cfg.Workers,
		func(c []Item) error {
			n, err := d.publishChunk(workerPoolCtx, c)
			atomic.AddInt64(&publishedCount, int64(n))
			if err != nil {
				atomic.AddInt64(&failedCount, int64(len(c)-n))
			}
			return err
		})

	for err := range results {
		if err != nil {
			log.Warn("retry chunk left inflight", slog.String("error", err.Error()))
		}
	}

	published = int(atomic.LoadInt64(&publishedCount))
	failed = int(atomic.LoadInt64(&failedCount))

	d.m.published.Add(float64(published))
	d.m.failed.Add(float64(failed))

	return published, failed
}

// publishChunk returns how many items of c were published.
func (d *Dispatcher) publishChunk(ctx context.Context, c []Item) (int, error) {
	const op = "retry.app.publishChunk"

	msgs := make([]event.Message, 0, len(c))
	sendable := make([]Item, 0, len(c))

	for _, it := range c {
		msg, err := event.PaymentOrderRetryRequestedEvent.Message(it.Envelope)
		if err != nil {
			d.log.Error("retry item has no message, moving to dead set",
				slog.String("op", op),
				slog.String("event_id", it.Envelope.EventID),
				slog.String("error", err.Error()))
			if err := d.queue.DeadLetter(ctx, it); err != nil {
				d.log.Error("dead letter failed", slog.String("op", op), slog.String("error", err.Error()))
			}
			continue
		}
		msgs = append(msgs, msg)
		sendable = append(sendable, it)
	}

	if len(msgs) == 0 {
		return 0, nil
	}

	if !d.publisher.PublishBatchAtomically(ctx, msgs, d.cfg.PublishTimeout) {
		return 0, fmt.Errorf("%s: %w: %d items", op, ErrChunkNotPublished, len(msgs))
	}

	if err := d.queue.RemoveFromInflight(ctx, sendable...); err != nil {
		// published; the reclaimer will redeliver and consumers dedup by event id
		return len(msgs), fmt.Errorf("%s: %w", op, err)
	}

	return len(msgs), nil
}

func (d *Dispatcher) reclaiming(wg *sync.WaitGroup) {
	const op = "retry.app.reclaiming"

	log := d.log.With(slog.String("op", op))

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.cfg.ReclaimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				n, err := d.queue.ReclaimInflight(d.ctx, d.cfg.InflightMaxAge)
				if err != nil {
					log.Error("error when reclaiming inflight retries", slog.String("error", err.Error()))
					continue
				}
				if n > 0 {
					d.m.reclaimed.Add(float64(n))
					log.Warn("stale inflight retries reclaimed", slog.Int("count", n))
				}
			}
		}
	}()
}

func chunk(items []Item, size int) [][]Item {
	chunks := make([][]Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
