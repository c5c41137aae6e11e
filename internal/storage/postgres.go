package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hourglasshq/hourglass/internal/apperr"
)

// NewPool creates a bounded connection pool to PostgreSQL.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}

// DB routes every statement through the pool and separates two failures that
// otherwise look identical: a deadline that fired while all connections were
// busy is the server out of capacity (RESOURCE_EXHAUSTED), a deadline with
// connections to spare is the statement itself running long
// (DEADLINE_EXCEEDED). All stores issue their SQL through this type.
type DB struct {
	pool *pgxpool.Pool
}

func NewDB(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// poolStat is the slice of pgxpool.Stat the translation consults.
type poolStat interface {
	AcquiredConns() int32
	MaxConns() int32
}

// translateAcquire rewrites a context deadline expiry under a saturated pool
// as RESOURCE_EXHAUSTED. Every other error passes through untouched.
func translateAcquire(err error, stat poolStat) error {
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if stat.AcquiredConns() < stat.MaxConns() {
		return err
	}
	return apperr.Wrap(apperr.ResourceExhausted, "server is over capacity, try again later", err)
}

func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := db.pool.Exec(ctx, sql, args...)
	return tag, translateAcquire(err, db.pool.Stat())
}

func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
	return rows, translateAcquire(err, db.pool.Stat())
}

// QueryRow defers errors to Scan, so the row is wrapped to translate there.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return dbRow{inner: db.pool.QueryRow(ctx, sql, args...), db: db}
}

func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := db.pool.Begin(ctx)
	return tx, translateAcquire(err, db.pool.Stat())
}

type dbRow struct {
	inner pgx.Row
	db    *DB
}

func (r dbRow) Scan(dest ...any) error {
	return translateAcquire(r.inner.Scan(dest...), r.db.pool.Stat())
}
