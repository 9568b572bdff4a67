package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/fedotovmax/pgxtx"
	"github.com/go-playground/validator/v10"

	"github.com/fedotovmax/payflow/internal/event"
	"github.com/fedotovmax/payflow/internal/idgen"
	"github.com/fedotovmax/payflow/internal/outbox"
	"github.com/fedotovmax/payflow/internal/psp"
)

type CreateCommand struct {
	CheckoutOrderID string `validate:"required,max=64"`
	BuyerID         string `validate:"required,max=64"`
	SellerID        string `validate:"required,max=64"`
	Amount          int64  `validate:"gt=0"`
	Currency        string `validate:"required,len=3"`
}

type Deps struct {
	IDs       outbox.IDAllocator
	Orders    OrderRepository
	Outbox    OutboxEventPort
	Retries   RetryQueuePort
	Ledger    LedgerRecordingPort
	Publisher EventPublisherPort
	Gateway   psp.Gateway
	TxManager pgxtx.Manager
}

type Service struct {
	log      *slog.Logger
	deps     Deps
	cfg      Config
	caller   *psp.BoundedCaller
	validate *validator.Validate
	m        *metrics
	now      func() time.Time
}

func NewService(l *slog.Logger, deps Deps, cfg Config) *Service {
	validateConfig(&cfg)

	s := &Service{
		log:      l,
		deps:     deps,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		m:        getMetrics(),
		now:      time.Now,
	}
	s.caller = psp.NewBoundedCaller(l, cfg.Caller, s)

	return s
}

// CreatePaymentOrder stores a new order and its created event in one
// transaction.
func (s *Service) CreatePaymentOrder(ctx context.Context, cmd CreateCommand) (*PaymentOrder, error) {
	const op = "payment.service.CreatePaymentOrder"

	if err := s.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidCommand, err)
	}

	if money.GetCurrency(cmd.Currency) == nil {
		return nil, fmt.Errorf("%s: %w: unknown currency %q", op, ErrInvalidCommand, cmd.Currency)
	}

	shard := idgen.PaymentShard(cmd.BuyerID, cmd.CheckoutOrderID)

	paymentID, err := s.deps.IDs.NextID(shard)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	paymentOrderID, err := s.deps.IDs.NextID(shard)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()

	order := &PaymentOrder{
		PaymentOrderID:       paymentOrderID,
		PublicPaymentOrderID: PublicID(paymentOrderID),
		PaymentID:            paymentID,
		SellerID:             cmd.SellerID,
		BuyerID:              cmd.BuyerID,
		Amount:               event.Amount{Value: cmd.Amount, Currency: cmd.Currency},
		Status:               StatusInitiated,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	created := event.PaymentOrderCreated{
		PaymentOrderID:       order.PaymentOrderID,
		PublicPaymentOrderID: order.PublicPaymentOrderID,
		PaymentID:            order.PaymentID,
		SellerID:             order.SellerID,
		BuyerID:              order.BuyerID,
		Amount:               order.Amount,
		CreatedAt:            now,
	}

	err = s.deps.TxManager.Wrap(ctx, func(txCtx context.Context) error {
		if err := s.deps.Orders.Save(txCtx, order); err != nil {
			return err
		}
		return appendEvent(txCtx, s.deps, order, event.PaymentOrderCreatedEvent, created)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return order, nil
}

func (s *Service) ProcessCreated(ctx context.Context, env event.Envelope[event.PaymentOrderCreated]) error {
	const op = "payment.service.ProcessCreated"

	ctx = event.WithCorrelation(ctx, env.Correlation())

	order, skip, err := s.load(ctx, env.Data.PublicPaymentOrderID, StatusInitiated, 0)
	if err != nil || skip {
		return wrap(op, err)
	}

	res := s.caller.Call(ctx, order.PublicPaymentOrderID, func(callCtx context.Context) (psp.Status, error) {
		return s.deps.Gateway.Charge(callCtx, chargeRequest(order))
	})

	return wrap(op, s.apply(ctx, order, res))
}

func (s *Service) ProcessRetry(ctx context.Context, env event.Envelope[event.PaymentOrderRetryRequested]) error {
	const op = "payment.service.ProcessRetry"

	ctx = event.WithCorrelation(ctx, env.Correlation())

	order, skip, err := s.load(ctx, env.Data.PublicPaymentOrderID, StatusFailed, env.Data.RetryCount)
	if err != nil || skip {
		return wrap(op, err)
	}

	res := s.caller.Call(ctx, order.PublicPaymentOrderID, func(callCtx context.Context) (psp.Status, error) {
		return s.deps.Gateway.ChargeRetry(callCtx, chargeRequest(order))
	})

	return wrap(op, s.apply(ctx, order, res))
}

func (s *Service) ProcessStatusCheck(ctx context.Context, env event.Envelope[event.PaymentOrderStatusCheckRequested]) error {
	const op = "payment.service.ProcessStatusCheck"

	ctx = event.WithCorrelation(ctx, env.Correlation())

	order, skip, err := s.load(ctx, env.Data.PublicPaymentOrderID, StatusPending, env.Data.RetryCount)
	if err != nil || skip {
		return wrap(op, err)
	}

	res := s.caller.Call(ctx, order.PublicPaymentOrderID, func(callCtx context.Context) (psp.Status, error) {
		return s.deps.Gateway.CheckStatus(callCtx, order.PublicPaymentOrderID)
	})

	return wrap(op, s.apply(ctx, order, res))
}

func (s *Service) GetPaymentOrder(ctx context.Context, publicPaymentOrderID string) (*PaymentOrder, error) {
	const op = "payment.service.GetPaymentOrder"

	o, err := s.deps.Orders.FindByID(ctx, publicPaymentOrderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return o, nil
}

// DeclinePaymentOrder finalizes a non-terminal order as DECLINED without
// asking the PSP.
func (s *Service) DeclinePaymentOrder(ctx context.Context, publicPaymentOrderID, reason string) (*PaymentOrder, error) {
	const op = "payment.service.DeclinePaymentOrder"

	order, err := s.deps.Orders.FindByID(ctx, publicPaymentOrderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := order.MarkDeclined(reason, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.finalizeFailure(ctx, order, string(StatusDeclined), reason); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return order, nil
}

// load fetches the order and reports whether handling should stop. Every
// attempt moves the order to a new status or retry count, so an event is
// handled only while the order still sits at the status and attempt the event
// was emitted for. Redelivered and stale events are skipped.
func (s *Service) load(ctx context.Context, publicPaymentOrderID string, want Status, attempt int) (*PaymentOrder, bool, error) {
	const op = "payment.service.load"

	log := s.log.With(slog.String("op", op), slog.String("payment_order_id", publicPaymentOrderID))

	order, err := s.deps.Orders.FindByID(ctx, publicPaymentOrderID)
	if err != nil {
		return nil, false, err
	}

	if order.IsTerminal() {
		log.InfoContext(ctx, "payment order already finalized, skipping", slog.String("status", order.Status.String()))
		return nil, true, nil
	}

	if order.Status != want || order.RetryCount != attempt {
		s.m.skipped.Inc()
		log.InfoContext(ctx, "event does not match current attempt, skipping",
			slog.String("status", order.Status.String()),
			slog.String("event_status", want.String()),
			slog.Int("event_retry_count", attempt),
			slog.Int("order_retry_count", order.RetryCount))
		return nil, true, nil
	}

	return order, false, nil
}

func (s *Service) apply(ctx context.Context, order *PaymentOrder, res psp.Result) error {
	const op = "payment.service.apply"

	decision := psp.Classify(res.Status, order.RetryCount, s.cfg.MaxRetry)

	s.m.decisions.WithLabelValues(decision.String()).Inc()

	s.log.InfoContext(ctx, "psp result classified",
		slog.String("op", op),
		slog.String("payment_order_id", order.PublicPaymentOrderID),
		slog.String("psp_status", res.Status.String()),
		slog.String("decision", decision.String()),
		slog.Int("retry_count", order.RetryCount))

	lastErr := ""
	if res.Err != nil {
		lastErr = res.Err.Error()
	}

	var err error

	switch decision {
	case psp.Retry:
		err = s.retry(ctx, order, res.Status.String(), lastErr)
	case psp.ScheduleStatusCheck:
		err = s.scheduleStatusCheck(ctx, order, res.Status)
	case psp.FinalizeSuccess:
		err = s.finalizeSuccess(ctx, order, res.Status)
	default:
		reason := res.Status.String()
		if !res.Status.IsFinalFailure() {
			reason = "MAX_RETRIES_EXCEEDED"
		}
		if err = order.MarkFinalizedFailed(reason, lastErr, s.now().UTC()); err == nil {
			err = s.finalizeFailure(ctx, order, res.Status.String(), reason)
		}
	}

	if errors.Is(err, ErrStaleTransition) {
		s.log.InfoContext(ctx, "payment order changed concurrently, result dropped",
			slog.String("op", op),
			slog.String("payment_order_id", order.PublicPaymentOrderID))
		return nil
	}

	return err
}

// retry stores the failed attempt and schedules the next one in the same
// transaction. A queue error rolls the order update back.
func (s *Service) retry(ctx context.Context, order *PaymentOrder, reason, lastErr string) error {
	if err := order.MarkForRetry(reason, lastErr, s.now().UTC()); err != nil {
		return err
	}

	req := event.PaymentOrderRetryRequested{
		PaymentOrderID:       order.PaymentOrderID,
		PublicPaymentOrderID: order.PublicPaymentOrderID,
		PaymentID:            order.PaymentID,
		SellerID:             order.SellerID,
		Amount:               order.Amount,
		RetryCount:           order.RetryCount,
	}

	return s.deps.TxManager.Wrap(ctx, func(txCtx context.Context) error {
		if _, err := s.deps.Orders.UpdateReturningIdempotent(txCtx, order); err != nil {
			return err
		}
		return s.deps.Retries.ScheduleRetry(txCtx, req, s.cfg.Backoff.Delay(order.RetryCount), reason, lastErr)
	})
}

func (s *Service) scheduleStatusCheck(ctx context.Context, order *PaymentOrder, pspStatus psp.Status) error {
	if err := order.MarkPendingCheck(pspStatus.String(), s.now().UTC()); err != nil {
		return err
	}

	check := event.PaymentOrderStatusCheckRequested{
		PaymentOrderID:       order.PaymentOrderID,
		PublicPaymentOrderID: order.PublicPaymentOrderID,
		SellerID:             order.SellerID,
		RetryCount:           order.RetryCount,
		PspStatus:            pspStatus.String(),
	}

	return s.deps.TxManager.Wrap(ctx, func(txCtx context.Context) error {
		if _, err := s.deps.Orders.UpdateReturningIdempotent(txCtx, order); err != nil {
			return err
		}
		env, err := event.New(txCtx, event.PaymentOrderStatusCheckRequestedEvent, order.PublicPaymentOrderID, check)
		if err != nil {
			return err
		}
		return appendEnvelope(txCtx, s.deps, order, env, outbox.AvailableAfter(s.cfg.Backoff.Delay(order.RetryCount)))
	})
}

func (s *Service) finalizeSuccess(ctx context.Context, order *PaymentOrder, pspStatus psp.Status) error {
	now := s.now().UTC()

	if err := order.MarkSucceeded(now); err != nil {
		return err
	}

	succeeded := event.PaymentOrderSucceeded{
		PaymentOrderID:       order.PaymentOrderID,
		PublicPaymentOrderID: order.PublicPaymentOrderID,
		PaymentID:            order.PaymentID,
		SellerID:             order.SellerID,
		BuyerID:              order.BuyerID,
		Amount:               order.Amount,
		PspStatus:            pspStatus.String(),
		FinalizedAt:          now,
	}

	err := s.deps.TxManager.Wrap(ctx, func(txCtx context.Context) error {
		if _, err := s.deps.Orders.UpdateReturningIdempotent(txCtx, order); err != nil {
			return err
		}

		env, err := event.New(txCtx, event.PaymentOrderSucceededEvent, order.PublicPaymentOrderID, succeeded, event.Deterministic())
		if err != nil {
			return err
		}

		if err := appendEnvelope(txCtx, s.deps, order, env); err != nil {
			return err
		}

		return s.deps.Ledger.RecordLedgerEntries(txCtx, env)
	})
	if err != nil {
		return err
	}

	s.resetRetryCounter(ctx, order)
	return nil
}

func (s *Service) finalizeFailure(ctx context.Context, order *PaymentOrder, pspStatus, reason string) error {
	failed := event.PaymentOrderFailed{
		PaymentOrderID:       order.PaymentOrderID,
		PublicPaymentOrderID: order.PublicPaymentOrderID,
		PaymentID:            order.PaymentID,
		SellerID:             order.SellerID,
		Amount:               order.Amount,
		PspStatus:            pspStatus,
		RetryCount:           order.RetryCount,
		Reason:               reason,
		FinalizedAt:          order.UpdatedAt,
	}

	err := s.deps.TxManager.Wrap(ctx, func(txCtx context.Context) error {
		if _, err := s.deps.Orders.UpdateReturningIdempotent(txCtx, order); err != nil {
			return err
		}
		return appendEvent(txCtx, s.deps, order, event.PaymentOrderFailedEvent, failed, event.Deterministic())
	})
	if err != nil {
		return err
	}

	s.resetRetryCounter(ctx, order)
	return nil
}

// resetRetryCounter runs after commit; a stale counter only affects metrics
// so failures are logged.
func (s *Service) resetRetryCounter(ctx context.Context, order *PaymentOrder) {
	const op = "payment.service.resetRetryCounter"

	if err := s.deps.Retries.ResetRetryCounter(ctx, order.PublicPaymentOrderID); err != nil {
		s.log.WarnContext(ctx, "retry counter not reset",
			slog.String("op", op),
			slog.String("payment_order_id", order.PublicPaymentOrderID),
			slog.String("error", err.Error()))
	}
}

// HandleLateResult reports a PSP answer that came after the caller gave up.
// The order is left alone: the timeout already routed it to a retry.
func (s *Service) HandleLateResult(ctx context.Context, orderID string, res psp.Result) {
	const op = "payment.service.HandleLateResult"

	log := s.log.With(slog.String("op", op), slog.String("payment_order_id", orderID))

	s.m.lateResults.WithLabelValues(res.Status.String()).Inc()

	late := event.PaymentOrderPspResultLate{
		PublicPaymentOrderID: orderID,
		PspStatus:            res.Status.String(),
		ObservedAt:           s.now().UTC().Truncate(time.Second),
	}
	if res.Err != nil {
		late.Error = res.Err.Error()
	}
	if id, ok := ParsePublicID(orderID); ok {
		late.PaymentOrderID = id
	}

	log.WarnContext(ctx, "late psp result", slog.String("psp_status", late.PspStatus))

	if s.deps.Publisher == nil {
		return
	}

	env, err := event.New(ctx, event.PaymentOrderPspResultLateEvent, orderID, late, event.Deterministic())
	if err != nil {
		log.ErrorContext(ctx, "late result envelope", slog.String("error", err.Error()))
		return
	}

	msg, err := event.PaymentOrderPspResultLateEvent.Message(env)
	if err != nil {
		log.ErrorContext(ctx, "late result message", slog.String("error", err.Error()))
		return
	}

	if err := s.deps.Publisher.Publish(ctx, msg); err != nil {
		log.ErrorContext(ctx, "late result not published", slog.String("error", err.Error()))
	}
}

func chargeRequest(o *PaymentOrder) psp.ChargeRequest {
	return psp.ChargeRequest{
		PaymentOrderID:       o.PaymentOrderID,
		PublicPaymentOrderID: o.PublicPaymentOrderID,
		SellerID:             o.SellerID,
		AmountValue:          o.Amount.Value,
		Currency:             o.Amount.Currency,
		Attempt:              o.RetryCount,
	}
}

func appendEvent[T any](ctx context.Context, deps Deps, order *PaymentOrder, m event.Metadata[T], data T, opts ...event.Option) error {
	env, err := event.New(ctx, m, order.PublicPaymentOrderID, data, opts...)
	if err != nil {
		return err
	}
	return appendEnvelope(ctx, deps, order, env)
}

func appendEnvelope[T any](ctx context.Context, deps Deps, order *PaymentOrder, env event.Envelope[T], opts ...outbox.RecordOption) error {
	id, err := deps.IDs.NextID(idgen.ExtractShard(order.PaymentOrderID))
	if err != nil {
		return err
	}

	rec, err := outbox.NewRecord(id, env, opts...)
	if err != nil {
		return err
	}

	return deps.Outbox.SaveAll(ctx, rec)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
