package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when no row matches. Callers translate
// it to the taxonomy (NOT_FOUND or a generic UNAUTHENTICATED for login).
var ErrNotFound = errors.New("record not found")

// Role names seeded by the reference-data manifest.
const (
	RoleGuest          = "GUEST"
	RoleUser           = "USER"
	RoleAdmin          = "ADMIN"
	RoleExpenseAdmin   = "EXPENSE_ADMIN"
	RoleJenkinsService = "JENKINS_SERVICE"
)

// LockoutThreshold is the number of consecutive failed logins that locks an
// account. Only an administrator clears the lock.
const LockoutThreshold = 5

// PasswordMaxAge is the interval after which a password expires.
const PasswordMaxAge = 90 * 24 * time.Hour

// User is a row of the users table joined with its role name.
type User struct {
	ID                  int64
	Username            string
	Email               *string
	FirstName           *string
	LastName            *string
	Company             *string
	PasswordHash        string
	RoleID              int64
	RoleName            string
	Enabled             bool
	Locked              bool
	FailedLoginCount    int
	PasswordLastChanged time.Time
	PasswordExpiresAt   time.Time
	ForcePasswordChange bool
	TokensInvalidBefore time.Time
}

// CanAuthenticate reports whether the account state permits login at all.
// Password and expiry checks are the authentication service's concern.
func (u *User) CanAuthenticate() bool {
	return u.Enabled && !u.Locked
}

// RevokedToken is a row of the revocation ledger.
type RevokedToken struct {
	ID        int64
	JTI       string
	Username  string
	RevokedAt time.Time
	ExpiresAt time.Time
}

// Expense is a row of the expenses table.
type Expense struct {
	ID              int64
	OwnerUsername   string
	ExpenseDate     time.Time
	Amount          float64
	Client          string
	Project         string
	ExpenseType     string
	PaymentMethod   string
	Vendor          string
	Description     string
	ReceiptRef      *string
	Status          string
	SubmittedAt     *time.Time
	ApprovedBy      *string
	ApprovedAt      *time.Time
	RejectionReason *string
	ReimbursedAt    *time.Time
	ResubmittedCnt  int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
