package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fedotovmax/pgxtx"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	_defaultMaxPoolSize  = 10
	_defaultConnAttempts = 10
	_defaultConnTimeout  = time.Second
)

// Postgres owns the pool. Transactions go through pgxtx: Manager.Wrap puts
// the transaction in the context and Extractor.ExtractTx gives repositories
// the executor bound to it.
type Postgres struct {
	maxPoolSize  int
	connAttempts int
	connTimeout  time.Duration

	Pool      *pgxpool.Pool
	Manager   pgxtx.Manager
	Extractor pgxtx.Extractor
}

type Option func(*Postgres)

func MaxPoolSize(size int) Option {
	return func(p *Postgres) {
		p.maxPoolSize = size
	}
}

func ConnAttempts(attempts int) Option {
	return func(p *Postgres) {
		p.connAttempts = attempts
	}
}

func ConnTimeout(timeout time.Duration) Option {
	return func(p *Postgres) {
		p.connTimeout = timeout
	}
}

func New(ctx context.Context, url string, opts ...Option) (*Postgres, error) {
	const op = "postgres.New"

	pg := &Postgres{
		maxPoolSize:  _defaultMaxPoolSize,
		connAttempts: _defaultConnAttempts,
		connTimeout:  _defaultConnTimeout,
	}

	for _, opt := range opts {
		opt(pg)
	}

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("%s: pgxpool.ParseConfig: %w", op, err)
	}

	poolConfig.MaxConns = int32(pg.maxPoolSize)

	var pool *pgxpool.Pool
	for pg.connAttempts > 0 {
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				break
			}
			pool.Close()
		}

		pg.connAttempts--

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(pg.connTimeout):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%s: connAttempts == 0: %w", op, err)
	}

	txm := pgxtx.New(pool)

	pg.Pool = pool
	pg.Manager = txm
	pg.Extractor = txm

	return pg, nil
}

func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}
