package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// LeaseStore implements leader election for scheduled jobs across replicas.
// Each job has a singleton row; SELECT ... FOR UPDATE SKIP LOCKED means at
// most one replica holds the lease while its job runs, and losers skip the
// fire instead of waiting.
type LeaseStore struct {
	db *DB
}

func NewLeaseStore(db *DB) *LeaseStore {
	return &LeaseStore{db: db}
}

// WithLease runs fn while holding the named lease. Returns acquired=false
// without running fn when another replica holds it. The lease is held for
// the duration of fn via the open transaction.
func (s *LeaseStore) WithLease(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var got string
	err = tx.QueryRow(ctx, `
		SELECT name FROM scheduler_leases
		WHERE name = $1
		FOR UPDATE SKIP LOCKED
	`, name).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row locked by another replica, or lease row missing.
			return false, nil
		}
		return false, err
	}

	if err := fn(ctx); err != nil {
		return true, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE scheduler_leases SET last_fired_at = now() WHERE name = $1
	`, name)
	if err != nil {
		return true, err
	}

	return true, tx.Commit(ctx)
}
