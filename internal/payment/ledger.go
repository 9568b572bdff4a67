package payment

import (
	"context"
	"fmt"

	"github.com/fedotovmax/payflow/internal/event"
	"github.com/fedotovmax/payflow/internal/idgen"
	"github.com/fedotovmax/payflow/internal/outbox"
)

// OutboxLedgerRecorder requests ledger postings through the outbox, keyed by
// seller shard so one seller's postings stay ordered.
type OutboxLedgerRecorder struct {
	ids    outbox.IDAllocator
	outbox OutboxEventPort
}

func NewOutboxLedgerRecorder(ids outbox.IDAllocator, o OutboxEventPort) *OutboxLedgerRecorder {
	return &OutboxLedgerRecorder{
		ids:    ids,
		outbox: o,
	}
}

func (r *OutboxLedgerRecorder) RecordLedgerEntries(ctx context.Context, succeeded event.Envelope[event.PaymentOrderSucceeded]) error {
	const op = "payment.ledger.RecordLedgerEntries"

	d := succeeded.Data

	req := event.LedgerRecordRequested{
		PaymentOrderID:       d.PaymentOrderID,
		PublicPaymentOrderID: d.PublicPaymentOrderID,
		PaymentID:            d.PaymentID,
		SellerID:             d.SellerID,
		BuyerID:              d.BuyerID,
		Amount:               d.Amount,
		Status:               string(StatusSuccessful),
		FinalizedAt:          d.FinalizedAt,
	}

	env, err := event.New(ctx, event.LedgerRecordRequestedEvent, d.PublicPaymentOrderID, req,
		event.Deterministic(),
		event.WithParent(succeeded.EventID),
		event.WithTraceID(succeeded.TraceID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	id, err := r.ids.NextID(idgen.SellerShard(d.SellerID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rec, err := outbox.NewRecord(id, env)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.outbox.SaveAll(ctx, rec); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
