// Package postgrestest runs repositories against pgxmock through the same
// pgxtx interfaces the pool-backed manager implements.
package postgrestest

import (
	"context"
	"testing"

	"github.com/fedotovmax/pgxtx"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

type txKey struct{}

var (
	_ pgxtx.Manager   = (*Tx)(nil)
	_ pgxtx.Extractor = (*Tx)(nil)
)

// Tx is a pgxtx.Manager and pgxtx.Extractor over a mock pool. Wrap begins,
// commits and rolls back on the mock so expectations cover the transaction
// boundaries; a nested Wrap joins the outer transaction.
type Tx struct {
	Mock pgxmock.PgxPoolIface
}

func New(t testing.TB) *Tx {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	return &Tx{Mock: mock}
}

func (m *Tx) Wrap(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.Mock.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

func (m *Tx) ExtractTx(ctx context.Context) pgxtx.Executor {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return m.Mock
}
