package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hourglasshq/hourglass/internal/api/helpers"
	"github.com/hourglasshq/hourglass/internal/api/middleware"
	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/authz"
	"github.com/hourglasshq/hourglass/internal/expense"
	"github.com/hourglasshq/hourglass/internal/storage"
)

// ExpenseHandler exposes expense CRUD and the approval workflow over HTTP.
type ExpenseHandler struct {
	service *expense.Service
}

func NewExpenseHandler(service *expense.Service) *ExpenseHandler {
	return &ExpenseHandler{service: service}
}

// ExpenseResponse is the wire shape of an expense. Approval metadata is
// present only once the corresponding transition has fired.
type ExpenseResponse struct {
	ID              int64      `json:"id"`
	Owner           string     `json:"owner"`
	ExpenseDate     time.Time  `json:"expenseDate"`
	Amount          float64    `json:"amount"`
	Client          string     `json:"client,omitempty"`
	Project         string     `json:"project,omitempty"`
	ExpenseType     string     `json:"expenseType"`
	PaymentMethod   string     `json:"paymentMethod,omitempty"`
	Vendor          string     `json:"vendor,omitempty"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
	ApprovedBy      *string    `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	RejectionReason *string    `json:"rejectionReason,omitempty"`
	ReimbursedAt    *time.Time `json:"reimbursedAt,omitempty"`
	ResubmittedCnt  int        `json:"resubmittedCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toExpenseResponse(e *storage.Expense) ExpenseResponse {
	return ExpenseResponse{
		ID:              e.ID,
		Owner:           e.OwnerUsername,
		ExpenseDate:     e.ExpenseDate,
		Amount:          e.Amount,
		Client:          e.Client,
		Project:         e.Project,
		ExpenseType:     e.ExpenseType,
		PaymentMethod:   e.PaymentMethod,
		Vendor:          e.Vendor,
		Description:     e.Description,
		Status:          e.Status,
		SubmittedAt:     e.SubmittedAt,
		ApprovedBy:      e.ApprovedBy,
		ApprovedAt:      e.ApprovedAt,
		RejectionReason: e.RejectionReason,
		ReimbursedAt:    e.ReimbursedAt,
		ResubmittedCnt:  e.ResubmittedCnt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func expenseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.InvalidInput, "invalid expense id")
	}
	return id, nil
}

func (h *ExpenseHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := middleware.GetPrincipal(r.Context())
	if err != nil {
		helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
		return
	}

	expenses, err := h.service.List(r.Context(), p)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	out := make([]ExpenseResponse, 0, len(expenses))
	for i := range expenses {
		out = append(out, toExpenseResponse(&expenses[i]))
	}
	helpers.RespondJSON(w, http.StatusOK, out)
}

func (h *ExpenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := middleware.GetPrincipal(r.Context())
	if err != nil {
		helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
		return
	}

	var in expense.Input
	if err := helpers.DecodeJSON(r, &in); err != nil {
		slog.Warn("CreateExpense: Invalid Request Body", "username", p.Username, "error", err)
		helpers.RespondKind(w, apperr.InvalidInput, "invalid request body")
		return
	}

	created, err := h.service.Create(r.Context(), p, in)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, toExpenseResponse(created))
}

func (h *ExpenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := middleware.GetPrincipal(r.Context())
	if err != nil {
		helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
		return
	}

	id, err := expenseID(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	e, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, toExpenseResponse(e))
}

func (h *ExpenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, err := middleware.GetPrincipal(r.Context())
	if err != nil {
		helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
		return
	}

	id, err := expenseID(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	var in expense.Input
	if err := helpers.DecodeJSON(r, &in); err != nil {
		slog.Warn("UpdateExpense: Invalid Request Body", "username", p.Username, "error", err)
		helpers.RespondKind(w, apperr.InvalidInput, "invalid request body")
		return
	}

	updated, err := h.service.Update(r.Context(), p, id, in)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, toExpenseResponse(updated))
}

func (h *ExpenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := middleware.GetPrincipal(r.Context())
	if err != nil {
		helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
		return
	}

	id, err := expenseID(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	if err := h.service.Delete(r.Context(), p, id); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ExpenseHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Submit)
}

func (h *ExpenseHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

func (h *ExpenseHandler) Reimburse(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reimburse)
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason"`
}

func (h *ExpenseHandler) Reject(w http.ResponseWriter, r *http.Request) {
	p, err := middleware.GetPrincipal(r.Context())
	if err != nil {
		helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
		return
	}

	id, err := expenseID(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	var req RejectRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondKind(w, apperr.InvalidInput, "invalid request body")
		return
	}

	e, err := h.service.Reject(r.Context(), p, id, req.Reason)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, toExpenseResponse(e))
}

// Resubmit accepts an optional body: an empty body resubmits as-is, a full
// Input replaces the editable fields before the expense re-enters the queue.
func (h *ExpenseHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	p, err := middleware.GetPrincipal(r.Context())
	if err != nil {
		helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
		return
	}

	id, err := expenseID(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	var in *expense.Input
	if r.ContentLength > 0 {
		var body expense.Input
		if err := helpers.DecodeJSON(r, &body); err != nil {
			helpers.RespondKind(w, apperr.InvalidInput, "invalid request body")
			return
		}
		in = &body
	}

	e, err := h.service.Resubmit(r.Context(), p, id, in)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, toExpenseResponse(e))
}

func (h *ExpenseHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor authz.Principal, id int64) (*storage.Expense, error)) {
	p, err := middleware.GetPrincipal(r.Context())
	if err != nil {
		helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
		return
	}

	id, err := expenseID(r)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	e, err := fn(r.Context(), p, id)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, toExpenseResponse(e))
}
