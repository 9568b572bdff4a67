package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fedotovmax/pgxtx"

	"github.com/fedotovmax/payflow/internal/event"
)

// BatchPublisher publishes messages as one broker transaction.
type BatchPublisher interface {
	PublishBatchAtomically(ctx context.Context, msgs []event.Message, timeout time.Duration) bool
}

type Outbox struct {
	publisher BatchPublisher
	registry  *event.Registry
	usecase   *eventUsecase
	log       *slog.Logger
	cfg       Config
	m         *metrics
	tracer    trace.Tracer

	ctx       context.Context
	stop      context.CancelFunc
	isStopped chan struct{}
}

func New(l *slog.Logger, p BatchPublisher, reg *event.Registry, txm pgxtx.Manager, ex pgxtx.Extractor, cfg Config) *Outbox {

	ctx, cancel := context.WithCancel(context.Background())

	validateConfig(&cfg)

	store := newOutboxPostgres(ex)

	usecase := newEventUsecase(store, txm)

	return &Outbox{
		publisher: p,
		registry:  reg,
		log:       l,
		usecase:   usecase,
		cfg:       cfg,
		m:         getMetrics(),
		tracer:    otel.Tracer("payflow/outbox"),
		ctx:       ctx,
		stop:      cancel,
		isStopped: make(chan struct{}),
	}
}

func (a *Outbox) Start() {

	wg := &sync.WaitGroup{}

	for i := 0; i < a.cfg.Workers; i++ {
		a.processingNewEvents(wg, a.cfg.InstanceID+"-"+strconv.Itoa(i))
	}

	a.reaping(wg)
	a.backlogMonitoring(wg)

	if a.cfg.Retention > 0 {
		a.cleaning(wg)
	}

	go func() {
		wg.Wait()
		close(a.isStopped)
	}()
}

func (a *Outbox) Stop(ctx context.Context) error {
	const op = "outbox.app.Stop"
	log := a.log.With(slog.String("op", op))
	a.stop()
	select {
	case <-a.isStopped:
		log.Info("Outbox dispatcher stopped successfully")
		return nil
	case <-ctx.Done():
		log.Warn("Outbox dispatcher stopped by context")
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// SaveAll appends records on the transaction in ctx.
func (a *Outbox) SaveAll(ctx context.Context, records ...*Record) error {
	return a.usecase.SaveAll(ctx, records...)
}

func (a *Outbox) CountByStatus(ctx context.Context, status Status) (int64, error) {
	return a.usecase.CountByStatus(ctx, status)
}

func (a *Outbox) FindByStatus(ctx context.Context, status Status, limit int) ([]*Record, error) {
	return a.usecase.FindByStatus(ctx, status, limit)
}

// ReclaimExpired returns PROCESSING records whose lease is over to NEW.
func (a *Outbox) ReclaimExpired(ctx context.Context) (int64, error) {
	n, err := a.usecase.RemoveExpiredReserve(ctx, a.cfg.LeaseTTL)
	if err != nil {
		return 0, err
	}
	a.m.reclaimed.Add(float64(n))
	return n, nil
}

func (a *Outbox) processingNewEvents(wg *sync.WaitGroup, owner string) {
	const op = "outbox.app.processingNewEvents"

	log := a.log.With(slog.String("op", op), slog.String("owner", owner))

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(a.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				log.Info("event processing stopped")
				return
			case <-ticker.C:
				a.DispatchOnce(a.ctx, owner)
			}
		}
	}()
}

// DispatchOnce claims one batch for owner and publishes it as a single broker
// transaction. Either every publishable record of the batch becomes SENT or
// none does; records left PROCESSING are re-queued by the reaper once their
// lease expires.
func (a *Outbox) DispatchOnce(ctx context.Context, owner string) (succeeded int, failed int) {

	const op = "outbox.app.DispatchOnce"

	log := a.log.With(slog.String("op", op), slog.String("owner", owner))

	queriesCtx, cancelQueriesCtx := context.WithTimeout(ctx, a.cfg.ProcessTimeout)
	records, err := a.usecase.ReserveNewEvents(queriesCtx, a.cfg.Limit, owner)
	cancelQueriesCtx()

	if err != nil {
		if errors.Is(err, ErrNoNewEvents) {
			log.Debug("skip processing, no new events")
			return 0, 0
		}
		log.Error("error when claiming batch", slog.String("error", err.Error()))
		return 0, 0
	}

	msgs := make([]event.Message, 0, len(records))
	ids := make([]int64, 0, len(records))
	var poison []int64

	for _, r := range records {
		msg, err := a.registry.Message(r.EventType, r.Payload)
		if err != nil {
			log.Error("outbox record can not be published",
				slog.Int64("outbox_id", r.ID),
				slog.String("event_type", r.EventType),
				slog.String("aggregate_id", r.AggregateID),
				slog.String("error", err.Error()))
			poison = append(poison, r.ID)
			continue
		}
		msgs = append(msgs, msg)
		ids = append(ids, r.ID)
	}

	if len(poison) > 0 {
		failed += len(poison)
		a.m.failed.WithLabelValues("malformed").Add(float64(len(poison)))
		if err := a.confirm(ctx, owner, poison, StatusFailed); err != nil {
			log.Error("error when isolating malformed records", slog.String("error", err.Error()))
		}
	}

	if len(msgs) == 0 {
		return succeeded, failed
	}

	spanCtx, span := a.tracer.Start(ctx, "outbox.dispatch", trace.WithAttributes(
		attribute.String("outbox.owner", owner),
		attribute.Int("outbox.batch_size", len(msgs)),
	))
	defer span.End()

	if !a.publisher.PublishBatchAtomically(spanCtx, msgs, a.cfg.PublishTimeout) {
		failed += len(msgs)
		a.m.failed.WithLabelValues("publish").Add(float64(len(msgs)))
		span.SetStatus(codes.Error, "batch publish failed")
		log.Warn("batch publish failed, records stay claimed until lease expiry",
			slog.Int("batch_size", len(msgs)))
		return succeeded, failed
	}

	succeeded = len(msgs)
	a.m.dispatched.Add(float64(succeeded))

	if err := a.confirm(ctx, owner, ids, StatusSent); err != nil {
		// published already; the lease expiry redelivers and consumers skip
		// events for attempts the order has moved past
		span.RecordError(err)
		log.Error("error when confirm batch, but batch is sent", slog.String("error", err.Error()))
	}

	return succeeded, failed
}

func (a *Outbox) confirm(ctx context.Context, owner string, ids []int64, status Status) error {
	const op = "outbox.app.confirm"

	queriesCtx, cancelQueriesCtx := context.WithTimeout(ctx, a.cfg.ProcessTimeout)
	defer cancelQueriesCtx()

	var (
		n   int64
		err error
	)
	if status == StatusSent {
		n, err = a.usecase.ConfirmSent(queriesCtx, ids, owner)
	} else {
		n, err = a.usecase.ConfirmFailed(queriesCtx, ids, owner)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if lost := int64(len(ids)) - n; lost > 0 {
		a.m.leaseLost.Add(float64(lost))
		a.log.Warn("records were reclaimed by another owner before confirm",
			slog.String("op", op),
			slog.String("owner", owner),
			slog.String("status", status.String()),
			slog.Int64("count", lost))
	}

	return nil
}

func (a *Outbox) reaping(wg *sync.WaitGroup) {
	const op = "outbox.app.reaping"

	log := a.log.With(slog.String("op", op))

	a.every(wg, a.cfg.ReaperInterval, func() {
		queriesCtx, cancel := context.WithTimeout(a.ctx, a.cfg.ProcessTimeout)
		defer cancel()
		n, err := a.ReclaimExpired(queriesCtx)
		if err != nil {
			log.Error("error when reclaiming expired leases", slog.String("error", err.Error()))
			return
		}
		if n > 0 {
			log.Warn("expired leases reclaimed", slog.Int64("count", n))
		}
	})
}

func (a *Outbox) backlogMonitoring(wg *sync.WaitGroup) {
	const op = "outbox.app.backlogMonitoring"

	log := a.log.With(slog.String("op", op))

	a.every(wg, a.cfg.BacklogInterval, func() {
		queriesCtx, cancel := context.WithTimeout(a.ctx, a.cfg.ProcessTimeout)
		defer cancel()
		n, err := a.usecase.CountByStatus(queriesCtx, StatusNew)
		if err != nil {
			log.Error("error when counting backlog", slog.String("error", err.Error()))
			return
		}
		a.m.backlog.Set(float64(n))
	})
}

func (a *Outbox) cleaning(wg *sync.WaitGroup) {
	const op = "outbox.app.cleaning"

	log := a.log.With(slog.String("op", op))

	a.every(wg, a.cfg.CleanupInterval, func() {
		queriesCtx, cancel := context.WithTimeout(a.ctx, a.cfg.ProcessTimeout)
		defer cancel()
		n, err := a.usecase.Cleanup(queriesCtx, a.cfg.Retention)
		if err != nil {
			log.Error("error when cleaning outbox", slog.String("error", err.Error()))
			return
		}
		a.m.cleaned.Add(float64(n))
	})
}

func (a *Outbox) every(wg *sync.WaitGroup, interval time.Duration, task func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				task()
			}
		}
	}()
}
