package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hourglasshq/hourglass/internal/api/helpers"
	"github.com/hourglasshq/hourglass/internal/api/middleware"
	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/auth"
	"github.com/hourglasshq/hourglass/internal/storage"
)

// AdminUserStore is the slice of the credential store the admin surface
// needs.
type AdminUserStore interface {
	Create(ctx context.Context, p storage.CreateUserParams) (*storage.User, error)
	Unlock(ctx context.Context, username string) error
	InvalidateTokens(ctx context.Context, username string, before time.Time) error
}

// JobRunner triggers scheduled jobs on demand.
type JobRunner interface {
	PasswordScan(ctx context.Context, now time.Time) error
}

// AdminHandler exposes user administration: account creation, unlocking,
// forced token invalidation, service token minting and manual job runs.
type AdminHandler struct {
	users  AdminUserStore
	auth   *auth.Service
	hasher auth.PasswordHasher
	policy *auth.Policy
	jobs   JobRunner
}

func NewAdminHandler(users AdminUserStore, authService *auth.Service, hasher auth.PasswordHasher, policy *auth.Policy, jobs JobRunner) *AdminHandler {
	return &AdminHandler{users: users, auth: authService, hasher: hasher, policy: policy, jobs: jobs}
}

var validRoles = map[string]bool{
	storage.RoleGuest:          true,
	storage.RoleUser:           true,
	storage.RoleAdmin:          true,
	storage.RoleExpenseAdmin:   true,
	storage.RoleJenkinsService: true,
}

// CreateUserRequest defines the body for administrative account creation.
type CreateUserRequest struct {
	Username            string `json:"username"`
	Password            string `json:"password"`
	Email               string `json:"email,omitempty"`
	FirstName           string `json:"firstName,omitempty"`
	LastName            string `json:"lastName,omitempty"`
	Company             string `json:"company,omitempty"`
	Role                string `json:"role"`
	ForcePasswordChange bool   `json:"forcePasswordChange"`
}

func (req *CreateUserRequest) Validate() error {
	if req.Username == "" {
		return fmt.Errorf("username required")
	}
	if len(req.Username) > 64 {
		return fmt.Errorf("username too long (max 64 chars)")
	}
	if req.Password == "" {
		return fmt.Errorf("password required")
	}
	if !validRoles[req.Role] {
		return fmt.Errorf("unknown role")
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return fmt.Errorf("invalid email format")
		}
	}
	return nil
}

// UserResponse is the wire shape of an account. The hash never leaves the
// store layer.
type UserResponse struct {
	ID                  int64     `json:"id"`
	Username            string    `json:"username"`
	Email               *string   `json:"email,omitempty"`
	Role                string    `json:"role"`
	Enabled             bool      `json:"enabled"`
	Locked              bool      `json:"locked"`
	PasswordExpiresAt   time.Time `json:"passwordExpiresAt"`
	ForcePasswordChange bool      `json:"forcePasswordChange"`
}

func toUserResponse(u *storage.User) UserResponse {
	return UserResponse{
		ID:                  u.ID,
		Username:            u.Username,
		Email:               u.Email,
		Role:                u.RoleName,
		Enabled:             u.Enabled,
		Locked:              u.Locked,
		PasswordExpiresAt:   u.PasswordExpiresAt,
		ForcePasswordChange: u.ForcePasswordChange,
	}
}

func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		slog.Warn("CreateUser: Invalid Request Body", "error", err)
		helpers.RespondKind(w, apperr.InvalidInput, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		helpers.RespondKind(w, apperr.InvalidInput, err.Error())
		return
	}

	// Administrator-set initial passwords obey the same rules as
	// self-service ones; there is no history yet for a fresh account.
	if violations := h.policy.Validate(req.Password, req.Username, nil); len(violations) > 0 {
		helpers.RespondError(w, r, apperr.New(apperr.InvalidInput, "password does not meet policy").
			WithDetails(auth.ViolationStrings(violations)...))
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	params := storage.CreateUserParams{
		Username:            req.Username,
		PasswordHash:        hash,
		RoleName:            req.Role,
		ForcePasswordChange: req.ForcePasswordChange,
	}
	if req.Email != "" {
		params.Email = &req.Email
	}
	if req.FirstName != "" {
		params.FirstName = &req.FirstName
	}
	if req.LastName != "" {
		params.LastName = &req.LastName
	}
	if req.Company != "" {
		params.Company = &req.Company
	}

	user, err := h.users.Create(r.Context(), params)
	if err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	actor, _ := middleware.GetPrincipal(r.Context())
	slog.Info("user_created", "username", user.Username, "role", user.RoleName, "actor", actor.Username)
	helpers.RespondJSON(w, http.StatusCreated, toUserResponse(user))
}

// Unlock clears an account lockout. Only an administrator does this; the
// counter never resets by itself.
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "name")
	if username == "" {
		helpers.RespondKind(w, apperr.InvalidInput, "username required")
		return
	}

	if err := h.users.Unlock(r.Context(), username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondKind(w, apperr.NotFound, "user not found")
			return
		}
		helpers.RespondError(w, r, err)
		return
	}

	actor, _ := middleware.GetPrincipal(r.Context())
	slog.Info("user_unlocked", "username", username, "actor", actor.Username)
	w.WriteHeader(http.StatusNoContent)
}

// RevokeTokens cuts every outstanding token for the user by moving the
// invalidation watermark to now. The gate compares it against each token's
// issue time.
func (h *AdminHandler) RevokeTokens(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "name")
	if username == "" {
		helpers.RespondKind(w, apperr.InvalidInput, "username required")
		return
	}

	if err := h.users.InvalidateTokens(r.Context(), username, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondKind(w, apperr.NotFound, "user not found")
			return
		}
		helpers.RespondError(w, r, err)
		return
	}

	actor, _ := middleware.GetPrincipal(r.Context())
	slog.Info("user_tokens_revoked", "username", username, "actor", actor.Username)
	w.WriteHeader(http.StatusNoContent)
}

// ServiceTokenRequest mints a long-lived token for a CI integration account.
type ServiceTokenRequest struct {
	Username string `json:"username"`
	TTLHours int    `json:"ttlHours,omitempty"`
}

func (req *ServiceTokenRequest) Validate() error {
	if req.Username == "" {
		return fmt.Errorf("username required")
	}
	if req.TTLHours < 0 || req.TTLHours > 24*365 {
		return fmt.Errorf("ttlHours out of range")
	}
	return nil
}

func (h *AdminHandler) MintServiceToken(w http.ResponseWriter, r *http.Request) {
	var req ServiceTokenRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondKind(w, apperr.InvalidInput, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		helpers.RespondKind(w, apperr.InvalidInput, err.Error())
		return
	}

	token, err := h.auth.MintServiceToken(r.Context(), req.Username, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			helpers.RespondKind(w, apperr.NotFound, "user not found")
			return
		}
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// RunPasswordScan triggers the expiry scan outside its schedule, for
// operators verifying notification delivery.
func (h *AdminHandler) RunPasswordScan(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.PasswordScan(r.Context(), time.Now().UTC()); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
