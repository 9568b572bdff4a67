package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/fedotovmax/pgxtx"
)

const (
	outboxTable = "payment_outbox"

	idColumn          = "id"
	eventTypeColumn   = "event_type"
	aggregateIDColumn = "aggregate_id"
	payloadColumn     = "payload"
	statusColumn      = "status"
	createdAtColumn   = "created_at"
	availableAtColumn = "available_at"
	claimedAtColumn   = "claimed_at"
	claimedByColumn   = "claimed_by"
)

var recordColumns = []string{
	idColumn,
	eventTypeColumn,
	aggregateIDColumn,
	payloadColumn,
	statusColumn,
	createdAtColumn,
	availableAtColumn,
	claimedAtColumn,
	claimedByColumn,
}

type outboxPostgres struct {
	ex      pgxtx.Extractor
	builder squirrel.StatementBuilderType
}

func newOutboxPostgres(ex pgxtx.Extractor) *outboxPostgres {
	return &outboxPostgres{
		ex:      ex,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append inserts NEW records on the executor carried by ctx. Callers append
// inside the transaction of the state change the records describe.
func (p *outboxPostgres) Append(ctx context.Context, records ...*Record) error {
	const op = "outbox.postgres.Append"

	if len(records) == 0 {
		return nil
	}

	q := p.builder.
		Insert(outboxTable).
		Columns(idColumn, eventTypeColumn, aggregateIDColumn, payloadColumn, statusColumn, createdAtColumn, availableAtColumn)

	for _, r := range records {
		availableAt := r.AvailableAt
		if availableAt.IsZero() {
			availableAt = r.CreatedAt
		}
		q = q.Values(r.ID, r.EventType, r.AggregateID, []byte(r.Payload), StatusNew, r.CreatedAt, availableAt)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	result, err := p.ex.ExtractTx(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	if result.RowsAffected() != int64(len(records)) {
		return fmt.Errorf("%s: %w", op, ErrMissUpdate)
	}

	return nil
}

// FindNewForUpdate locks up to limit NEW rows available at now, skipping
// rows another worker holds. Must run inside a transaction.
func (p *outboxPostgres) FindNewForUpdate(ctx context.Context, limit int, now time.Time) ([]*Record, error) {
	const op = "outbox.postgres.FindNewForUpdate"

	sql, args, err := p.builder.
		Select(recordColumns...).
		From(outboxTable).
		Where(squirrel.Eq{statusColumn: StatusNew}).
		Where(squirrel.LtOrEq{availableAtColumn: now}).
		OrderBy(idColumn + " ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	records, err := p.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoNewEvents)
	}

	return records, nil
}

func (p *outboxPostgres) SetProcessingByIDs(ctx context.Context, ids []int64, owner string, claimedAt time.Time) error {
	const op = "outbox.postgres.SetProcessingByIDs"

	sql, args, err := p.builder.
		Update(outboxTable).
		Set(statusColumn, StatusProcessing).
		Set(claimedAtColumn, claimedAt).
		Set(claimedByColumn, owner).
		Where(squirrel.Eq{idColumn: ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	res, err := p.ex.ExtractTx(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	if res.RowsAffected() != int64(len(ids)) {
		return fmt.Errorf("%s: %w", op, ErrMissUpdate)
	}

	return nil
}

// ChangeStatus moves PROCESSING rows claimed by owner to status and reports
// how many it moved. Rows reaped and claimed by another worker meanwhile are
// left to their new owner.
func (p *outboxPostgres) ChangeStatus(ctx context.Context, ids []int64, status Status, owner string) (int64, error) {
	const op = "outbox.postgres.ChangeStatus"

	sql, args, err := p.builder.
		Update(outboxTable).
		Set(statusColumn, status).
		Where(squirrel.Eq{idColumn: ids}).
		Where(squirrel.Eq{statusColumn: StatusProcessing}).
		Where(squirrel.Eq{claimedByColumn: owner}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	res, err := p.ex.ExtractTx(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	return res.RowsAffected(), nil
}

// RemoveExpiredReserve hands PROCESSING rows claimed before cutoff back to NEW.
func (p *outboxPostgres) RemoveExpiredReserve(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "outbox.postgres.RemoveExpiredReserve"

	sql, args, err := p.builder.
		Update(outboxTable).
		Set(statusColumn, StatusNew).
		Set(claimedAtColumn, nil).
		Set(claimedByColumn, nil).
		Where(squirrel.Eq{statusColumn: StatusProcessing}).
		Where(squirrel.Lt{claimedAtColumn: cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	res, err := p.ex.ExtractTx(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	return res.RowsAffected(), nil
}

func (p *outboxPostgres) CountByStatus(ctx context.Context, status Status) (int64, error) {
	const op = "outbox.postgres.CountByStatus"

	sql, args, err := p.builder.
		Select("count(*)").
		From(outboxTable).
		Where(squirrel.Eq{statusColumn: status}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	var count int64

	if err := p.ex.ExtractTx(ctx).QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	return count, nil
}

func (p *outboxPostgres) FindByStatus(ctx context.Context, status Status, limit int) ([]*Record, error) {
	const op = "outbox.postgres.FindByStatus"

	sql, args, err := p.builder.
		Select(recordColumns...).
		From(outboxTable).
		Where(squirrel.Eq{statusColumn: status}).
		OrderBy(idColumn + " ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	records, err := p.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return records, nil
}

func (p *outboxPostgres) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "outbox.postgres.DeleteFinishedBefore"

	sql, args, err := p.builder.
		Delete(outboxTable).
		Where(squirrel.Eq{statusColumn: []Status{StatusSent, StatusFailed}}).
		Where(squirrel.Lt{createdAtColumn: cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	res, err := p.ex.ExtractTx(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ErrInternal, err)
	}

	return res.RowsAffected(), nil
}

func (p *outboxPostgres) query(ctx context.Context, sql string, args ...any) ([]*Record, error) {
	rows, err := p.ex.ExtractTx(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	defer rows.Close()

	var records []*Record

	for rows.Next() {

		r := &Record{}

		var payload []byte

		err := rows.Scan(&r.ID, &r.EventType, &r.AggregateID, &payload,
			&r.Status, &r.CreatedAt, &r.AvailableAt, &r.ClaimedAt, &r.ClaimedBy)

		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}

		r.Payload = payload

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	return records, nil
}
