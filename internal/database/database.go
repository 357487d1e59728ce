package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
)

// Config controls the connection pool.
type Config struct {
	URL           string
	MaxConns      int32
	MinConns      int32
	ConnectWindow time.Duration
}

// DB wraps a pgx pool and exposes the narrow query surface the repositories use.
type DB struct {
	pool *pgxpool.Pool
}

// New connects to the database, retrying with exponential backoff until the
// connect window elapses. The first successful ping wins.
func New(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInvalidInput, "invalid database url")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to create connection pool")
	}

	window := cfg.ConnectWindow
	if window == 0 {
		window = 30 * time.Second
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = window

	ping := func() error { return pool.Ping(ctx) }
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, apperr.Wrap(err, apperr.CodeInternal, "database unreachable")
	}

	return &DB{pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() { db.pool.Close() }

// Ping verifies connectivity.
func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

// querier is the statement surface shared by the pool and an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txKey struct{}

func txFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// conn routes a statement to the transaction carried in the context, when one
// is, and to the pool otherwise.
func (db *DB) conn(ctx context.Context) querier {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return db.pool
}

func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.conn(ctx).Query(ctx, sql, args...)
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.conn(ctx).QueryRow(ctx, sql, args...)
}

func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.conn(ctx).Exec(ctx, sql, args...)
}

// WithTransaction runs fn with a transaction carried in the returned context;
// every statement issued through this DB with that context joins it. A context
// already inside a transaction joins the outer one, so the outermost caller
// owns commit and rollback.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// InTransaction runs fn against a dedicated transaction handle, committing on
// nil and rolling back on error or panic. Joins the context's transaction when
// the caller is already inside one.
func (db *DB) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if tx, ok := txFrom(ctx); ok {
		return fn(tx)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
