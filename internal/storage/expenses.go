package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const expenseColumns = `
	id, owner_username, expense_date, amount, client, project, expense_type,
	payment_method, vendor, description, receipt_ref, status, submitted_at,
	approved_by, approved_at, rejection_reason, reimbursed_at,
	resubmitted_count, created_at, updated_at`

// ExpenseStore owns the expenses table. Workflow transitions go through
// Mutate, which holds the row lock for the whole unit of work so two
// concurrent transitions on the same expense serialize.
type ExpenseStore struct {
	db *DB
}

func NewExpenseStore(db *DB) *ExpenseStore {
	return &ExpenseStore{db: db}
}

func scanExpense(row pgx.Row) (*Expense, error) {
	var e Expense
	err := row.Scan(
		&e.ID, &e.OwnerUsername, &e.ExpenseDate, &e.Amount, &e.Client,
		&e.Project, &e.ExpenseType, &e.PaymentMethod, &e.Vendor,
		&e.Description, &e.ReceiptRef, &e.Status, &e.SubmittedAt,
		&e.ApprovedBy, &e.ApprovedAt, &e.RejectionReason, &e.ReimbursedAt,
		&e.ResubmittedCnt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Create inserts a new expense. The caller has already set owner and the
// initial status.
func (s *ExpenseStore) Create(ctx context.Context, e *Expense) (*Expense, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO expenses (
			owner_username, expense_date, amount, client, project,
			expense_type, payment_method, vendor, description, receipt_ref,
			status, resubmitted_count, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, now(), now())
		RETURNING `+expenseColumns+`
	`, e.OwnerUsername, e.ExpenseDate, e.Amount, e.Client, e.Project,
		e.ExpenseType, e.PaymentMethod, e.Vendor, e.Description, e.ReceiptRef,
		e.Status)
	return scanExpense(row)
}

// GetByID loads a single expense.
func (s *ExpenseStore) GetByID(ctx context.Context, id int64) (*Expense, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+expenseColumns+` FROM expenses WHERE id = $1
	`, id)
	return scanExpense(row)
}

// ListForOwner returns the owner's expenses, newest first.
func (s *ExpenseStore) ListForOwner(ctx context.Context, owner string) ([]Expense, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE owner_username = $1
		ORDER BY created_at DESC, id DESC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExpenses(rows)
}

// ListAll returns every expense, newest first. Admin surface only.
func (s *ExpenseStore) ListAll(ctx context.Context) ([]Expense, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExpenses(rows)
}

func collectExpenses(rows pgx.Rows) ([]Expense, error) {
	var out []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Mutate runs fn against the row loaded under SELECT ... FOR UPDATE and
// writes the (possibly mutated) row back in the same transaction. If fn
// returns an error the transaction rolls back and the row is unchanged.
// This is the serialisable unit of work behind every workflow transition.
func (s *ExpenseStore) Mutate(ctx context.Context, id int64, fn func(e *Expense) error) (*Expense, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+expenseColumns+` FROM expenses WHERE id = $1 FOR UPDATE
	`, id)
	e, err := scanExpense(row)
	if err != nil {
		return nil, err
	}

	if err := fn(e); err != nil {
		return nil, err
	}

	e.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE expenses SET
			expense_date = $2, amount = $3, client = $4, project = $5,
			expense_type = $6, payment_method = $7, vendor = $8,
			description = $9, receipt_ref = $10, status = $11,
			submitted_at = $12, approved_by = $13, approved_at = $14,
			rejection_reason = $15, reimbursed_at = $16,
			resubmitted_count = $17, updated_at = $18
		WHERE id = $1
	`, e.ID, e.ExpenseDate, e.Amount, e.Client, e.Project, e.ExpenseType,
		e.PaymentMethod, e.Vendor, e.Description, e.ReceiptRef, e.Status,
		e.SubmittedAt, e.ApprovedBy, e.ApprovedAt, e.RejectionReason,
		e.ReimbursedAt, e.ResubmittedCnt, e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes the row. Only Draft expenses are deletable; the service
// enforces that before calling.
func (s *ExpenseStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
