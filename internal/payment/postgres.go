package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/fedotovmax/pgxtx"
	"github.com/jackc/pgx/v5"
)

const (
	ordersTable = "payment_orders"

	paymentOrderIDColumn   = "payment_order_id"
	publicIDColumn         = "public_payment_order_id"
	paymentIDColumn        = "payment_id"
	sellerIDColumn         = "seller_id"
	buyerIDColumn          = "buyer_id"
	amountColumn           = "amount"
	currencyColumn         = "currency"
	statusColumn           = "status"
	retryCountColumn       = "retry_count"
	retryReasonColumn      = "retry_reason"
	lastErrorMessageColumn = "last_error_message"
	createdAtColumn        = "created_at"
	updatedAtColumn        = "updated_at"
)

var orderColumns = []string{
	paymentOrderIDColumn,
	publicIDColumn,
	paymentIDColumn,
	sellerIDColumn,
	buyerIDColumn,
	amountColumn,
	currencyColumn,
	statusColumn,
	retryCountColumn,
	retryReasonColumn,
	lastErrorMessageColumn,
	createdAtColumn,
	updatedAtColumn,
}

type PostgresRepository struct {
	ex      pgxtx.Extractor
	builder squirrel.StatementBuilderType
}

func NewPostgresRepository(ex pgxtx.Extractor) *PostgresRepository {
	return &PostgresRepository{
		ex:      ex,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *PostgresRepository) Save(ctx context.Context, o *PaymentOrder) error {
	const op = "payment.postgres.Save"

	sql, args, err := r.builder.
		Insert(ordersTable).
		Columns(orderColumns...).
		Values(
			o.PaymentOrderID,
			o.PublicPaymentOrderID,
			o.PaymentID,
			o.SellerID,
			o.BuyerID,
			o.Amount.Value,
			o.Amount.Currency,
			o.Status.String(),
			o.RetryCount,
			o.RetryReason,
			o.LastErrorMessage,
			o.CreatedAt,
			o.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	if _, err := r.ex.ExtractTx(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	return nil
}

// UpdateReturningIdempotent writes the mutable fields of o. The row must
// still be non-terminal and must not have advanced past o.RetryCount.
func (r *PostgresRepository) UpdateReturningIdempotent(ctx context.Context, o *PaymentOrder) (*PaymentOrder, error) {
	const op = "payment.postgres.UpdateReturningIdempotent"

	sql, args, err := r.builder.
		Update(ordersTable).
		Set(statusColumn, o.Status.String()).
		Set(retryCountColumn, o.RetryCount).
		Set(retryReasonColumn, o.RetryReason).
		Set(lastErrorMessageColumn, o.LastErrorMessage).
		Set(updatedAtColumn, o.UpdatedAt).
		Where(squirrel.Eq{publicIDColumn: o.PublicPaymentOrderID}).
		Where(squirrel.NotEq{statusColumn: terminalStatusNames()}).
		Where(squirrel.LtOrEq{retryCountColumn: o.RetryCount}).
		Suffix("RETURNING " + strings.Join(orderColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	stored, err := scanOrder(r.ex.ExtractTx(ctx).QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrStaleTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	return stored, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, publicPaymentOrderID string) (*PaymentOrder, error) {
	const op = "payment.postgres.FindByID"

	sql, args, err := r.builder.
		Select(orderColumns...).
		From(ordersTable).
		Where(squirrel.Eq{publicIDColumn: publicPaymentOrderID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	o, err := scanOrder(r.ex.ExtractTx(ctx).QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %s: %w", op, publicPaymentOrderID, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	return o, nil
}

func scanOrder(row pgx.Row) (*PaymentOrder, error) {
	o := &PaymentOrder{}

	var status string

	err := row.Scan(
		&o.PaymentOrderID,
		&o.PublicPaymentOrderID,
		&o.PaymentID,
		&o.SellerID,
		&o.BuyerID,
		&o.Amount.Value,
		&o.Amount.Currency,
		&status,
		&o.RetryCount,
		&o.RetryReason,
		&o.LastErrorMessage,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)

	return o, nil
}

func terminalStatusNames() []string {
	names := make([]string, 0, len(terminalStatuses))
	for _, s := range terminalStatuses {
		names = append(names, s.String())
	}
	return names
}
