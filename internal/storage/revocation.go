package storage

import (
	"context"
	"time"
)

// RevocationLedger is the persistent set of revoked token identifiers.
// It is consulted on every authenticated request and garbage-collected by
// the scheduler once rows pass their natural expiry.
type RevocationLedger struct {
	db *DB
}

func NewRevocationLedger(db *DB) *RevocationLedger {
	return &RevocationLedger{db: db}
}

// Revoke inserts a jti with the token's natural expiry. Idempotent: revoking
// the same jti twice leaves exactly one row, which makes logout safe to
// repeat.
func (l *RevocationLedger) Revoke(ctx context.Context, jti, username string, expiresAt time.Time) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO revoked_tokens (jti, username, revoked_at, expires_at)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (jti) DO NOTHING
	`, jti, username, expiresAt.UTC())
	return err
}

// IsRevoked reports ledger membership for a jti.
func (l *RevocationLedger) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := l.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)
	`, jti).Scan(&revoked)
	return revoked, err
}

// DeleteExpired removes rows whose tokens have passed their natural expiry.
// Safe to run concurrently with verification: a disappearing row only ever
// covers a token that is already expired.
func (l *RevocationLedger) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := l.db.Exec(ctx, `
		DELETE FROM revoked_tokens WHERE expires_at < $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
