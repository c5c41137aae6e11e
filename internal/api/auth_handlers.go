package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hourglasshq/hourglass/internal/api/helpers"
	"github.com/hourglasshq/hourglass/internal/api/middleware"
	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/auth"
)

// AuthHandler exposes the authentication service over HTTP.
type AuthHandler struct {
	service *auth.Service
}

func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

// LoginRequest defines the expected JSON body for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (req *LoginRequest) Validate() error {
	if req.Username == "" || req.Password == "" {
		return fmt.Errorf("username and password required")
	}
	return nil
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		slog.Warn("Login: Invalid Request Body", "ip", helpers.GetRealIP(r), "error", err)
		helpers.RespondKind(w, apperr.InvalidInput, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		slog.Warn("Login: Validation Failed", "ip", helpers.GetRealIP(r), "error", err)
		helpers.RespondKind(w, apperr.InvalidInput, err.Error())
		return
	}

	pair, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		// The service already collapses every credential failure into a
		// generic UNAUTHENTICATED; the username is logged here, never echoed.
		slog.Warn("Login: Failed Attempt", "username", req.Username, "ip", helpers.GetRealIP(r))
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, pair)
}

// RefreshRequest carries the refresh token. It travels in the body, not in
// the Authorization header, so the request gate never sees it.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (req *RefreshRequest) Validate() error {
	if req.RefreshToken == "" {
		return fmt.Errorf("refresh token required")
	}
	return nil
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		slog.Warn("Refresh: Invalid Request Body", "ip", helpers.GetRealIP(r), "error", err)
		helpers.RespondKind(w, apperr.InvalidInput, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		helpers.RespondKind(w, apperr.InvalidInput, err.Error())
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		slog.Warn("Refresh: Failed", "ip", helpers.GetRealIP(r))
		helpers.RespondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, pair)
}

// LogoutRequest carries the refresh token to revoke.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout revokes the presented token. It is idempotent: garbage tokens,
// already-revoked tokens and expired tokens all produce the same 204.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		// Ledger write failed; this one is a real error, not a bad token.
		helpers.RespondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangePasswordRequest defines the body for the self-service password
// change. The new password is judged by the policy engine, not here.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (req *ChangePasswordRequest) Validate() error {
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return fmt.Errorf("current and new password required")
	}
	return nil
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, err := middleware.GetPrincipal(r.Context())
	if err != nil {
		helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		slog.Warn("ChangePassword: Invalid Request Body", "username", p.Username, "error", err)
		helpers.RespondKind(w, apperr.InvalidInput, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		helpers.RespondKind(w, apperr.InvalidInput, err.Error())
		return
	}

	if err := h.service.ChangePassword(r.Context(), p.Username, req.CurrentPassword, req.NewPassword); err != nil {
		helpers.RespondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
