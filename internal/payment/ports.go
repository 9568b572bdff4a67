package payment

import (
	"context"
	"time"

	"github.com/fedotovmax/payflow/internal/event"
	"github.com/fedotovmax/payflow/internal/outbox"
)

type OrderRepository interface {
	Save(ctx context.Context, o *PaymentOrder) error
	// UpdateReturningIdempotent stores o unless the row is terminal or at a
	// higher retry count already; then it returns ErrStaleTransition.
	UpdateReturningIdempotent(ctx context.Context, o *PaymentOrder) (*PaymentOrder, error)
	FindByID(ctx context.Context, publicPaymentOrderID string) (*PaymentOrder, error)
}

type RetryQueuePort interface {
	ScheduleRetry(ctx context.Context, req event.PaymentOrderRetryRequested, backoff time.Duration, reason, lastErr string) error
	RetryCount(ctx context.Context, aggregateID string) (int, error)
	ResetRetryCounter(ctx context.Context, aggregateID string) error
}

// OutboxEventPort appends records on the transaction in ctx.
type OutboxEventPort interface {
	SaveAll(ctx context.Context, records ...*outbox.Record) error
}

type EventPublisherPort interface {
	Publish(ctx context.Context, msg event.Message) error
}

// LedgerRecordingPort hands a finalized payment order to the ledger. It runs
// inside the finalizing transaction.
type LedgerRecordingPort interface {
	RecordLedgerEntries(ctx context.Context, succeeded event.Envelope[event.PaymentOrderSucceeded]) error
}
