package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const userColumns = `
	u.id, u.username, u.email, u.first_name, u.last_name, u.company,
	u.password_hash, u.role_id, r.name, u.enabled, u.locked,
	u.failed_login_count, u.password_last_changed, u.password_expires_at,
	u.force_password_change, u.tokens_invalid_before`

// UserStore is the credential store: users, password hashes, history,
// lockout counters and expiration timestamps.
type UserStore struct {
	db *DB
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Company,
		&u.PasswordHash, &u.RoleID, &u.RoleName, &u.Enabled, &u.Locked,
		&u.FailedLoginCount, &u.PasswordLastChanged, &u.PasswordExpiresAt,
		&u.ForcePasswordChange, &u.TokensInvalidBefore,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindByUsername loads a user with its role name.
func (s *UserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE u.username = $1
	`, username)
	return scanUser(row)
}

// CreateUserParams carries the fields an administrator (or bootstrap) sets.
type CreateUserParams struct {
	Username            string
	Email               *string
	FirstName           *string
	LastName            *string
	Company             *string
	PasswordHash        string
	RoleName            string
	ForcePasswordChange bool
}

// Create inserts a user. The password is already hashed; expiry is derived
// from the creation time.
func (s *UserStore) Create(ctx context.Context, p CreateUserParams) (*User, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (
			username, email, first_name, last_name, company, password_hash,
			role_id, enabled, locked, failed_login_count,
			password_last_changed, password_expires_at,
			force_password_change, tokens_invalid_before
		)
		SELECT $1, $2, $3, $4, $5, $6, r.id, true, false, 0, $7, $8, $9, $10
		FROM roles r WHERE r.name = $11
		RETURNING id
	`, p.Username, p.Email, p.FirstName, p.LastName, p.Company, p.PasswordHash,
		now, now.Add(PasswordMaxAge), p.ForcePasswordChange, time.Unix(0, 0).UTC(), p.RoleName)

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("unknown role %q", p.RoleName)
		}
		return nil, err
	}
	return s.FindByUsername(ctx, p.Username)
}

// UpdateProfile changes the mutable profile fields only.
func (s *UserStore) UpdateProfile(ctx context.Context, username string, firstName, lastName, company *string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET first_name = $2, last_name = $3, company = $4
		WHERE username = $1
	`, username, firstName, lastName, company)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ChangePassword atomically swaps the hash, resets the expiry window,
// clears force_password_change, stamps tokens_invalid_before, appends the
// new hash to the history and prunes it to historyDepth rows. All under the
// user's row lock so concurrent changes serialize.
func (s *UserStore) ChangePassword(ctx context.Context, username, newHash string, historyDepth int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var userID int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM users WHERE username = $1 FOR UPDATE
	`, username).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE users SET
			password_hash = $2,
			password_last_changed = $3,
			password_expires_at = $4,
			force_password_change = false,
			tokens_invalid_before = $3
		WHERE id = $1
	`, userID, newHash, now, now.Add(PasswordMaxAge))
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO password_history (user_id, password_hash, changed_at)
		VALUES ($1, $2, $3)
	`, userID, newHash, now)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM password_history
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM password_history
			WHERE user_id = $1
			ORDER BY changed_at DESC, id DESC
			LIMIT $2
		)
	`, userID, historyDepth)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// PasswordHistory returns the user's most recent password hashes, newest
// first, capped at limit.
func (s *UserStore) PasswordHistory(ctx context.Context, username string, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT h.password_hash
		FROM password_history h
		JOIN users u ON u.id = h.user_id
		WHERE u.username = $1
		ORDER BY h.changed_at DESC, h.id DESC
		LIMIT $2
	`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// RecordFailedLogin increments the failure counter and locks the account on
// the fifth consecutive failure. Returns whether the account is now locked.
func (s *UserStore) RecordFailedLogin(ctx context.Context, username string) (bool, error) {
	var locked bool
	err := s.db.QueryRow(ctx, `
		UPDATE users SET
			failed_login_count = failed_login_count + 1,
			locked = locked OR (failed_login_count + 1 >= $2)
		WHERE username = $1
		RETURNING locked
	`, username, LockoutThreshold).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return locked, nil
}

// ResetFailedLogins zeroes the counter after a successful authentication.
func (s *UserStore) ResetFailedLogins(ctx context.Context, username string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET failed_login_count = 0 WHERE username = $1
	`, username)
	return err
}

// Unlock clears the lock and the counter. Admin-initiated only; there is no
// time-based self-unlock.
func (s *UserStore) Unlock(ctx context.Context, username string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET locked = false, failed_login_count = 0 WHERE username = $1
	`, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnabled enables or disables an account.
func (s *UserStore) SetEnabled(ctx context.Context, username string, enabled bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET enabled = $2 WHERE username = $1
	`, username, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InvalidateTokens marks every token issued to the user before the given
// instant as revoked. Consulted by the request gate on every request.
func (s *UserStore) InvalidateTokens(ctx context.Context, username string, before time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET tokens_invalid_before = $2 WHERE username = $1
	`, username, before.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EmailForUser returns the notification address, with ok=false when the user
// has none configured.
func (s *UserStore) EmailForUser(ctx context.Context, username string) (string, bool, error) {
	var email *string
	err := s.db.QueryRow(ctx, `
		SELECT email FROM users WHERE username = $1
	`, username).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, ErrNotFound
		}
		return "", false, err
	}
	if email == nil || *email == "" {
		return "", false, nil
	}
	return *email, true, nil
}

// UsersExpiringBetween lists enabled non-GUEST users whose password expiry
// falls in [from, to). GUEST accounts never receive expiry warnings.
func (s *UserStore) UsersExpiringBetween(ctx context.Context, from, to time.Time) ([]User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE u.enabled = true
		  AND r.name <> $1
		  AND u.password_expires_at >= $2
		  AND u.password_expires_at < $3
		ORDER BY u.username
	`, RoleGuest, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// CountByRole returns the number of users holding the named role.
func (s *UserStore) CountByRole(ctx context.Context, roleName string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM users u JOIN roles r ON r.id = u.role_id
		WHERE r.name = $1
	`, roleName).Scan(&n)
	return n, err
}
