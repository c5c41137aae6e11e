package expense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/authz"
	"github.com/hourglasshq/hourglass/internal/notify"
	"github.com/hourglasshq/hourglass/internal/receipts"
	"github.com/hourglasshq/hourglass/internal/storage"
)

var (
	errInvalidTransition = apperr.New(apperr.InvalidTransition, "event is not legal in the expense's current state")
	errFourEyes          = apperr.New(apperr.Forbidden, "an expense cannot be approved by its owner")
	errNotFound          = apperr.New(apperr.NotFound, "expense not found")
)

// Store is the slice of the expense store the service needs. Mutate must
// hold the row lock for the duration of fn.
type Store interface {
	Create(ctx context.Context, e *storage.Expense) (*storage.Expense, error)
	GetByID(ctx context.Context, id int64) (*storage.Expense, error)
	ListForOwner(ctx context.Context, owner string) ([]storage.Expense, error)
	ListAll(ctx context.Context) ([]storage.Expense, error)
	Mutate(ctx context.Context, id int64, fn func(e *storage.Expense) error) (*storage.Expense, error)
	Delete(ctx context.Context, id int64) error
}

// Notifier emits workflow events. Delivery failures never surface here.
type Notifier interface {
	Emit(ctx context.Context, ev notify.Event)
}

// Service validates and executes expense operations: CRUD on drafts and the
// six-state approval workflow.
type Service struct {
	store    Store
	eval     *authz.Evaluator
	notifier Notifier
	receipts receipts.Store
	log      *slog.Logger
}

func NewService(store Store, eval *authz.Evaluator, notifier Notifier, blobs receipts.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, eval: eval, notifier: notifier, receipts: blobs, log: log}
}

// Input carries the caller-editable fields. Approval fields (approved_by,
// approved_at, reimbursed_at, rejection_reason) are never writable here;
// they change only as transition side effects.
type Input struct {
	ExpenseDate   time.Time `json:"expenseDate"`
	Amount        float64   `json:"amount"`
	Client        string    `json:"client"`
	Project       string    `json:"project"`
	ExpenseType   string    `json:"expenseType"`
	PaymentMethod string    `json:"paymentMethod"`
	Vendor        string    `json:"vendor"`
	Description   string    `json:"description"`
}

func (in Input) validate() error {
	if in.Amount <= 0 {
		return apperr.New(apperr.InvalidInput, "amount must be greater than zero")
	}
	if in.ExpenseDate.IsZero() {
		return apperr.New(apperr.InvalidInput, "expense date is required")
	}
	return nil
}

// Create inserts a new Draft owned by the actor.
func (s *Service) Create(ctx context.Context, actor authz.Principal, in Input) (*storage.Expense, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	e := &storage.Expense{
		OwnerUsername: actor.Username,
		ExpenseDate:   in.ExpenseDate,
		Amount:        in.Amount,
		Client:        in.Client,
		Project:       in.Project,
		ExpenseType:   in.ExpenseType,
		PaymentMethod: in.PaymentMethod,
		Vendor:        in.Vendor,
		Description:   in.Description,
		Status:        string(StatusDraft),
	}
	created, err := s.store.Create(ctx, e)
	if err != nil {
		return nil, err
	}

	s.log.Info("expense_created", "expense_id", created.ID, "owner", actor.Username)
	return created, nil
}

// Get loads an expense under the owner-or-admin rule. A record hidden by
// ownership is reported as NOT_FOUND, never FORBIDDEN, so callers cannot
// probe for existence.
func (s *Service) Get(ctx context.Context, actor authz.Principal, id int64) (*storage.Expense, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errNotFound
		}
		return nil, err
	}

	visible, err := s.visibleTo(ctx, actor, e)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, errNotFound
	}
	return e, nil
}

// visibleTo extends owner-or-admin with the approver's view: holders of
// EXPENSE:APPROVE see every expense that has left Draft, because they act
// on submissions they do not own.
func (s *Service) visibleTo(ctx context.Context, actor authz.Principal, e *storage.Expense) (bool, error) {
	ok, err := s.eval.OwnerOrAdmin(ctx, actor, e.OwnerUsername, authz.ResourceExpense)
	if err != nil || ok {
		return ok, err
	}
	if Status(e.Status) == StatusDraft {
		return false, nil
	}
	return s.eval.Has(ctx, actor, authz.Perm(authz.ResourceExpense, authz.ActionApprove))
}

// List returns every expense visible to the actor: all rows for holders of
// EXPENSE:ADMIN, the actor's own rows otherwise.
func (s *Service) List(ctx context.Context, actor authz.Principal) ([]storage.Expense, error) {
	admin, err := s.eval.Has(ctx, actor, authz.Perm(authz.ResourceExpense, authz.ActionAdmin))
	if err != nil {
		return nil, err
	}
	if admin {
		return s.store.ListAll(ctx)
	}
	return s.store.ListForOwner(ctx, actor.Username)
}

// Update edits a Draft's non-approval fields. Only Drafts are editable.
func (s *Service) Update(ctx context.Context, actor authz.Principal, id int64, in Input) (*storage.Expense, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	return s.mutateVisible(ctx, actor, id, func(e *storage.Expense) error {
		ok, err := s.eval.OwnerOrAdmin(ctx, actor, e.OwnerUsername, authz.ResourceExpense)
		if err != nil {
			return err
		}
		if !ok {
			return errNotFound
		}
		if Status(e.Status) != StatusDraft {
			return errInvalidTransition
		}
		e.ExpenseDate = in.ExpenseDate
		e.Amount = in.Amount
		e.Client = in.Client
		e.Project = in.Project
		e.ExpenseType = in.ExpenseType
		e.PaymentMethod = in.PaymentMethod
		e.Vendor = in.Vendor
		e.Description = in.Description
		return nil
	})
}

// Delete removes a Draft, releasing its receipt handle best-effort: a failed
// blob delete is logged but does not resurrect the row.
func (s *Service) Delete(ctx context.Context, actor authz.Principal, id int64) error {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errNotFound
		}
		return err
	}

	ok, err := s.eval.OwnerOrAdmin(ctx, actor, e.OwnerUsername, authz.ResourceExpense)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound
	}
	if Status(e.Status) != StatusDraft {
		return errInvalidTransition
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	if e.ReceiptRef != nil && *e.ReceiptRef != "" {
		if err := s.receipts.Delete(ctx, *e.ReceiptRef); err != nil {
			s.log.Error("receipt_delete_failed", "expense_id", id, "handle", *e.ReceiptRef, "error", err)
		}
	}

	s.log.Info("expense_deleted", "expense_id", id, "actor", actor.Username)
	return nil
}

// Submit moves Draft → Submitted. Only the owner may fire it, and every
// required field must be populated.
func (s *Service) Submit(ctx context.Context, actor authz.Principal, id int64) (*storage.Expense, error) {
	result, err := s.mutateVisible(ctx, actor, id, func(e *storage.Expense) error {
		if e.OwnerUsername != actor.Username {
			return errNotFound
		}
		if _, ok := NextStatus(Status(e.Status), EventSubmit); !ok {
			return errInvalidTransition
		}
		if err := requireSubmittable(e); err != nil {
			return err
		}
		now := time.Now().UTC()
		e.Status = string(StatusSubmitted)
		e.SubmittedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, s.workflowEvent(notify.ExpenseSubmitted, result, nil))
	return result, nil
}

// Approve moves Submitted/Resubmitted → Approved. Requires EXPENSE:APPROVE
// (checked at the route) and the four-eyes rule: the owner may never approve
// their own expense, even holding the permission.
func (s *Service) Approve(ctx context.Context, actor authz.Principal, id int64) (*storage.Expense, error) {
	result, err := s.mutateVisible(ctx, actor, id, func(e *storage.Expense) error {
		if e.OwnerUsername == actor.Username {
			return errFourEyes
		}
		if _, ok := NextStatus(Status(e.Status), EventApprove); !ok {
			return errInvalidTransition
		}
		now := time.Now().UTC()
		e.Status = string(StatusApproved)
		e.ApprovedBy = &actor.Username
		e.ApprovedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, s.workflowEvent(notify.ExpenseApproved, result, map[string]string{
		"approved_by": actor.Username,
	}))
	return result, nil
}

// Reject moves Submitted/Resubmitted → Rejected with a mandatory reason.
// Same permission and four-eyes rules as Approve.
func (s *Service) Reject(ctx context.Context, actor authz.Principal, id int64, reason string) (*storage.Expense, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.New(apperr.InvalidInput, "rejection reason is required")
	}

	result, err := s.mutateVisible(ctx, actor, id, func(e *storage.Expense) error {
		if e.OwnerUsername == actor.Username {
			return errFourEyes
		}
		if _, ok := NextStatus(Status(e.Status), EventReject); !ok {
			return errInvalidTransition
		}
		e.Status = string(StatusRejected)
		e.RejectionReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, s.workflowEvent(notify.ExpenseRejected, result, map[string]string{
		"reason": reason,
	}))
	return result, nil
}

// Resubmit moves Rejected → Resubmitted and bumps the counter. Owner only.
// Rejected expenses are not editable through Update, so any field changes
// ride along with the resubmission itself.
func (s *Service) Resubmit(ctx context.Context, actor authz.Principal, id int64, in *Input) (*storage.Expense, error) {
	if in != nil {
		if err := in.validate(); err != nil {
			return nil, err
		}
	}

	result, err := s.mutateVisible(ctx, actor, id, func(e *storage.Expense) error {
		if e.OwnerUsername != actor.Username {
			return errNotFound
		}
		if _, ok := NextStatus(Status(e.Status), EventResubmit); !ok {
			return errInvalidTransition
		}
		if in != nil {
			e.ExpenseDate = in.ExpenseDate
			e.Amount = in.Amount
			e.Client = in.Client
			e.Project = in.Project
			e.ExpenseType = in.ExpenseType
			e.PaymentMethod = in.PaymentMethod
			e.Vendor = in.Vendor
			e.Description = in.Description
		}
		e.Status = string(StatusResubmitted)
		e.ResubmittedCnt++
		e.RejectionReason = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, s.workflowEvent(notify.ExpenseSubmitted, result, nil))
	return result, nil
}

// Reimburse moves Approved → Reimbursed, the terminal state. Requires
// EXPENSE:APPROVE and four-eyes.
func (s *Service) Reimburse(ctx context.Context, actor authz.Principal, id int64) (*storage.Expense, error) {
	result, err := s.mutateVisible(ctx, actor, id, func(e *storage.Expense) error {
		if e.OwnerUsername == actor.Username {
			return errFourEyes
		}
		if _, ok := NextStatus(Status(e.Status), EventReimburse); !ok {
			return errInvalidTransition
		}
		now := time.Now().UTC()
		e.Status = string(StatusReimbursed)
		e.ReimbursedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, s.workflowEvent(notify.ExpenseReimbursed, result, nil))
	return result, nil
}

// mutateVisible wraps Store.Mutate, translating a missing row to NOT_FOUND.
// Ownership and state checks run inside fn, under the row lock, so a
// concurrent transition cannot slip between check and write.
func (s *Service) mutateVisible(ctx context.Context, actor authz.Principal, id int64, fn func(e *storage.Expense) error) (*storage.Expense, error) {
	result, err := s.store.Mutate(ctx, id, fn)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errNotFound
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) workflowEvent(kind notify.EventKind, e *storage.Expense, extra map[string]string) notify.Event {
	data := map[string]string{
		"expense_id": fmt.Sprintf("%d", e.ID),
		"amount":     fmt.Sprintf("%.2f", e.Amount),
	}
	for k, v := range extra {
		data[k] = v
	}
	return notify.Event{
		Kind:          kind,
		OwnerUsername: e.OwnerUsername,
		Data:          data,
	}
}

func requireSubmittable(e *storage.Expense) error {
	var missing []string
	if e.Amount <= 0 {
		missing = append(missing, "amount")
	}
	if e.ExpenseDate.IsZero() {
		missing = append(missing, "expense_date")
	}
	if strings.TrimSpace(e.ExpenseType) == "" {
		missing = append(missing, "expense_type")
	}
	if strings.TrimSpace(e.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return apperr.New(apperr.InvalidInput, "expense is missing required fields").
			WithDetails(missing...)
	}
	return nil
}
