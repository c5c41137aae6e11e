package expense_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/authz"
	"github.com/hourglasshq/hourglass/internal/expense"
	"github.com/hourglasshq/hourglass/internal/notify"
	"github.com/hourglasshq/hourglass/internal/receipts"
	"github.com/hourglasshq/hourglass/internal/storage"
)

type memExpenseStore struct {
	nextID   int64
	expenses map[int64]*storage.Expense
}

func newMemExpenseStore() *memExpenseStore {
	return &memExpenseStore{nextID: 1, expenses: make(map[int64]*storage.Expense)}
}

func (m *memExpenseStore) Create(ctx context.Context, e *storage.Expense) (*storage.Expense, error) {
	copied := *e
	copied.ID = m.nextID
	copied.CreatedAt = time.Now().UTC()
	copied.UpdatedAt = copied.CreatedAt
	m.nextID++
	m.expenses[copied.ID] = &copied
	out := copied
	return &out, nil
}

func (m *memExpenseStore) GetByID(ctx context.Context, id int64) (*storage.Expense, error) {
	e, ok := m.expenses[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (m *memExpenseStore) ListForOwner(ctx context.Context, owner string) ([]storage.Expense, error) {
	var out []storage.Expense
	for _, e := range m.expenses {
		if e.OwnerUsername == owner {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memExpenseStore) ListAll(ctx context.Context) ([]storage.Expense, error) {
	var out []storage.Expense
	for _, e := range m.expenses {
		out = append(out, *e)
	}
	return out, nil
}

func (m *memExpenseStore) Mutate(ctx context.Context, id int64, fn func(e *storage.Expense) error) (*storage.Expense, error) {
	e, ok := m.expenses[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	work := *e
	if err := fn(&work); err != nil {
		return nil, err
	}
	work.UpdatedAt = time.Now().UTC()
	m.expenses[id] = &work
	out := work
	return &out, nil
}

func (m *memExpenseStore) Delete(ctx context.Context, id int64) error {
	if _, ok := m.expenses[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.expenses, id)
	return nil
}

type captureNotifier struct {
	events []notify.Event
}

func (c *captureNotifier) Emit(ctx context.Context, ev notify.Event) {
	c.events = append(c.events, ev)
}

type staticPerms map[string][]string

func (s staticPerms) PermissionsForRole(ctx context.Context, roleName string) ([]string, error) {
	return s[roleName], nil
}

var testPerms = staticPerms{
	"USER": {
		"EXPENSE:CREATE", "EXPENSE:READ", "EXPENSE:UPDATE", "EXPENSE:DELETE",
	},
	"EXPENSE_ADMIN": {
		"EXPENSE:CREATE", "EXPENSE:READ", "EXPENSE:UPDATE", "EXPENSE:DELETE",
		"EXPENSE:APPROVE", "EXPENSE:ADMIN",
	},
	// Approval without the admin view, to exercise the approver visibility
	// rule in isolation.
	"REVIEWER": {
		"EXPENSE:READ", "EXPENSE:APPROVE",
	},
}

var (
	owner    = authz.Principal{Username: "alice", Role: "USER"}
	other    = authz.Principal{Username: "bob", Role: "USER"}
	approver = authz.Principal{Username: "carol", Role: "EXPENSE_ADMIN"}
	reviewer = authz.Principal{Username: "dave", Role: "REVIEWER"}
)

type expenseFixture struct {
	service  *expense.Service
	store    *memExpenseStore
	notifier *captureNotifier
}

func newExpenseFixture(t *testing.T) *expenseFixture {
	t.Helper()
	eval, err := authz.NewEvaluator(testPerms)
	require.NoError(t, err)
	store := newMemExpenseStore()
	notifier := &captureNotifier{}
	return &expenseFixture{
		service:  expense.NewService(store, eval, notifier, &receipts.NoopStore{}, nil),
		store:    store,
		notifier: notifier,
	}
}

func validInput() expense.Input {
	return expense.Input{
		ExpenseDate: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		Amount:      42.50,
		ExpenseType: "TRAVEL",
		Description: "train to client site",
	}
}

func (fx *expenseFixture) createSubmitted(t *testing.T) *storage.Expense {
	t.Helper()
	e, err := fx.service.Create(context.Background(), owner, validInput())
	require.NoError(t, err)
	e, err = fx.service.Submit(context.Background(), owner, e.ID)
	require.NoError(t, err)
	return e
}

func TestCreate_StartsAsDraftOwnedByActor(t *testing.T) {
	fx := newExpenseFixture(t)

	e, err := fx.service.Create(context.Background(), owner, validInput())
	require.NoError(t, err)
	assert.Equal(t, string(expense.StatusDraft), e.Status)
	assert.Equal(t, "alice", e.OwnerUsername)
	assert.Empty(t, fx.notifier.events)
}

func TestCreate_RejectsNonPositiveAmount(t *testing.T) {
	fx := newExpenseFixture(t)

	in := validInput()
	in.Amount = 0
	_, err := fx.service.Create(context.Background(), owner, in)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

func TestGet_HiddenRecordIsNotFound(t *testing.T) {
	fx := newExpenseFixture(t)
	e, err := fx.service.Create(context.Background(), owner, validInput())
	require.NoError(t, err)

	// A draft of someone else reads as missing, not as forbidden.
	_, err = fx.service.Get(context.Background(), other, e.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestGet_ApproverSeesSubmittedButNotDrafts(t *testing.T) {
	fx := newExpenseFixture(t)
	draft, err := fx.service.Create(context.Background(), owner, validInput())
	require.NoError(t, err)
	submitted := fx.createSubmitted(t)

	_, err = fx.service.Get(context.Background(), reviewer, submitted.ID)
	assert.NoError(t, err)

	// A draft has not entered the queue yet; approval rights grant no view
	// into it.
	_, err = fx.service.Get(context.Background(), reviewer, draft.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	// The admin view covers every record, drafts included.
	_, err = fx.service.Get(context.Background(), approver, draft.ID)
	assert.NoError(t, err)
}

func TestList_AdminSeesAll_OthersSeeOwn(t *testing.T) {
	fx := newExpenseFixture(t)
	_, err := fx.service.Create(context.Background(), owner, validInput())
	require.NoError(t, err)
	_, err = fx.service.Create(context.Background(), other, validInput())
	require.NoError(t, err)

	all, err := fx.service.List(context.Background(), approver)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := fx.service.List(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "alice", own[0].OwnerUsername)
}

func TestUpdate_DraftOnly(t *testing.T) {
	fx := newExpenseFixture(t)
	submitted := fx.createSubmitted(t)

	in := validInput()
	in.Amount = 99
	_, err := fx.service.Update(context.Background(), owner, submitted.ID, in)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidTransition, apperr.KindOf(err))
}

func TestDelete_DraftOnly(t *testing.T) {
	fx := newExpenseFixture(t)
	draft, err := fx.service.Create(context.Background(), owner, validInput())
	require.NoError(t, err)
	submitted := fx.createSubmitted(t)

	require.NoError(t, fx.service.Delete(context.Background(), owner, draft.ID))

	err = fx.service.Delete(context.Background(), owner, submitted.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidTransition, apperr.KindOf(err))
}

func TestSubmit_RequiresCompleteFields(t *testing.T) {
	fx := newExpenseFixture(t)

	in := validInput()
	in.Description = ""
	e, err := fx.service.Create(context.Background(), owner, in)
	require.NoError(t, err)

	_, err = fx.service.Submit(context.Background(), owner, e.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Details, "description")
}

func TestSubmit_OwnerOnly_EmitsEvent(t *testing.T) {
	fx := newExpenseFixture(t)
	e, err := fx.service.Create(context.Background(), owner, validInput())
	require.NoError(t, err)

	_, err = fx.service.Submit(context.Background(), approver, e.ID)
	require.Error(t, err)

	submitted, err := fx.service.Submit(context.Background(), owner, e.ID)
	require.NoError(t, err)
	assert.Equal(t, string(expense.StatusSubmitted), submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)

	require.Len(t, fx.notifier.events, 1)
	assert.Equal(t, notify.ExpenseSubmitted, fx.notifier.events[0].Kind)
}

func TestApprove_FourEyes(t *testing.T) {
	fx := newExpenseFixture(t)

	// carol owns and holds EXPENSE:APPROVE; she still cannot approve hers.
	e, err := fx.service.Create(context.Background(), approver, validInput())
	require.NoError(t, err)
	_, err = fx.service.Submit(context.Background(), approver, e.ID)
	require.NoError(t, err)

	_, err = fx.service.Approve(context.Background(), approver, e.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))
}

func TestApprove_SetsMetadataAndNotifiesOwner(t *testing.T) {
	fx := newExpenseFixture(t)
	submitted := fx.createSubmitted(t)

	approved, err := fx.service.Approve(context.Background(), approver, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, string(expense.StatusApproved), approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "carol", *approved.ApprovedBy)
	assert.NotNil(t, approved.ApprovedAt)

	last := fx.notifier.events[len(fx.notifier.events)-1]
	assert.Equal(t, notify.ExpenseApproved, last.Kind)
	assert.Equal(t, "alice", last.OwnerUsername)
	assert.Equal(t, "carol", last.Data["approved_by"])
}

func TestReject_RequiresReason(t *testing.T) {
	fx := newExpenseFixture(t)
	submitted := fx.createSubmitted(t)

	_, err := fx.service.Reject(context.Background(), approver, submitted.ID, "  ")
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidInput, apperr.KindOf(err))

	rejected, err := fx.service.Reject(context.Background(), approver, submitted.ID, "missing receipt")
	require.NoError(t, err)
	assert.Equal(t, string(expense.StatusRejected), rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "missing receipt", *rejected.RejectionReason)
}

func TestResubmit_BumpsCounterAndClearsReason(t *testing.T) {
	fx := newExpenseFixture(t)
	submitted := fx.createSubmitted(t)

	_, err := fx.service.Reject(context.Background(), approver, submitted.ID, "missing receipt")
	require.NoError(t, err)

	in := validInput()
	in.Amount = 50
	resubmitted, err := fx.service.Resubmit(context.Background(), owner, submitted.ID, &in)
	require.NoError(t, err)
	assert.Equal(t, string(expense.StatusResubmitted), resubmitted.Status)
	assert.Equal(t, 1, resubmitted.ResubmittedCnt)
	assert.Nil(t, resubmitted.RejectionReason)
	assert.Equal(t, 50.0, resubmitted.Amount)
}

func TestResubmit_OwnerOnly(t *testing.T) {
	fx := newExpenseFixture(t)
	submitted := fx.createSubmitted(t)
	_, err := fx.service.Reject(context.Background(), approver, submitted.ID, "no")
	require.NoError(t, err)

	_, err = fx.service.Resubmit(context.Background(), other, submitted.ID, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestReimburse_TerminalState(t *testing.T) {
	fx := newExpenseFixture(t)
	submitted := fx.createSubmitted(t)

	_, err := fx.service.Approve(context.Background(), approver, submitted.ID)
	require.NoError(t, err)

	reimbursed, err := fx.service.Reimburse(context.Background(), approver, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, string(expense.StatusReimbursed), reimbursed.Status)
	assert.NotNil(t, reimbursed.ReimbursedAt)

	// No edge leaves REIMBURSED.
	_, err = fx.service.Reimburse(context.Background(), approver, submitted.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidTransition, apperr.KindOf(err))
}

func TestApprove_FromDraftIsInvalidTransition(t *testing.T) {
	fx := newExpenseFixture(t)
	draft, err := fx.service.Create(context.Background(), owner, validInput())
	require.NoError(t, err)

	_, err = fx.service.Approve(context.Background(), approver, draft.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidTransition, apperr.KindOf(err))
}

func TestTransition_UnknownIDIsNotFound(t *testing.T) {
	fx := newExpenseFixture(t)
	_, err := fx.service.Submit(context.Background(), owner, 404)
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}
