package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fedotovmax/pgxtx"
)

type eventUsecase struct {
	ea  *outboxPostgres
	txm pgxtx.Manager
	now func() time.Time
}

func newEventUsecase(ea *outboxPostgres, txm pgxtx.Manager) *eventUsecase {
	return &eventUsecase{
		ea:  ea,
		txm: txm,
		now: time.Now,
	}
}

// SaveAll joins the caller's transaction.
func (e *eventUsecase) SaveAll(ctx context.Context, records ...*Record) error {
	return e.ea.Append(ctx, records...)
}

// ConfirmSent marks owner's claimed records SENT and returns how many were
// still owned.
func (e *eventUsecase) ConfirmSent(ctx context.Context, ids []int64, owner string) (int64, error) {
	const op = "outbox.usecase.ConfirmSent"

	var n int64

	err := e.txm.Wrap(ctx, func(txCtx context.Context) error {
		var err error
		n, err = e.ea.ChangeStatus(txCtx, ids, StatusSent, owner)
		return err
	})

	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (e *eventUsecase) ConfirmFailed(ctx context.Context, ids []int64, owner string) (int64, error) {
	const op = "outbox.usecase.ConfirmFailed"

	var n int64

	err := e.txm.Wrap(ctx, func(txCtx context.Context) error {
		var err error
		n, err = e.ea.ChangeStatus(txCtx, ids, StatusFailed, owner)
		return err
	})

	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// ReserveNewEvents claims up to limit NEW records for owner. Concurrent
// callers get disjoint sets: the select skips rows locked by another claim.
func (e *eventUsecase) ReserveNewEvents(ctx context.Context, limit int, owner string) ([]*Record, error) {

	const op = "outbox.usecase.ReserveNewEvents"

	var records []*Record

	err := e.txm.Wrap(ctx, func(txCtx context.Context) error {
		var err error
		claimedAt := e.now().UTC()

		records, err = e.ea.FindNewForUpdate(txCtx, limit, claimedAt)

		if err != nil {
			return err
		}

		err = e.ea.SetProcessingByIDs(txCtx, recordIDs(records), owner, claimedAt)

		if err != nil {
			return err
		}

		for _, r := range records {
			r.Status = StatusProcessing
			r.ClaimedAt = &claimedAt
			r.ClaimedBy = &owner
		}

		return nil
	})

	if err != nil {
		if errors.Is(err, ErrNoNewEvents) {
			return nil, fmt.Errorf("%s: %w", op, ErrNoNewEvents)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return records, nil
}

func (e *eventUsecase) RemoveExpiredReserve(ctx context.Context, leaseTTL time.Duration) (int64, error) {
	const op = "outbox.usecase.RemoveExpiredReserve"

	n, err := e.ea.RemoveExpiredReserve(ctx, e.now().UTC().Add(-leaseTTL))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (e *eventUsecase) CountByStatus(ctx context.Context, status Status) (int64, error) {
	return e.ea.CountByStatus(ctx, status)
}

func (e *eventUsecase) FindByStatus(ctx context.Context, status Status, limit int) ([]*Record, error) {
	return e.ea.FindByStatus(ctx, status, limit)
}

func (e *eventUsecase) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	const op = "outbox.usecase.Cleanup"

	n, err := e.ea.DeleteFinishedBefore(ctx, e.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}
