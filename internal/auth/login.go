package auth

import (
	"context"
	"errors"
	"time"

	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/storage"
)

// The public login failure is always the same generic UNAUTHENTICATED; the
// specific cause goes to the server log only, so callers cannot probe for
// account existence, lockout or disablement.
var errLoginFailed = apperr.New(apperr.Unauthenticated, "invalid username or password")

// errGuestExpired is the one deliberate exception to the generic message:
// GUEST accounts have no self-service password change, so the user must be
// told to contact an administrator.
var errGuestExpired = apperr.New(apperr.Unauthenticated,
	"your password has expired; contact an administrator to reset it")

// Login verifies credentials and mints a fresh access/refresh pair.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("login_failed", "username", username, "cause", "unknown_user")
			return nil, errLoginFailed
		}
		return nil, err
	}

	if !user.Enabled {
		s.log.Warn("login_failed", "username", username, "cause", "disabled")
		return nil, errLoginFailed
	}
	if user.Locked {
		s.log.Warn("login_failed", "username", username, "cause", "locked")
		return nil, errLoginFailed
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		locked, recErr := s.users.RecordFailedLogin(ctx, username)
		if recErr != nil {
			s.log.Error("failed_login_record_error", "username", username, "error", recErr)
		}
		s.log.Warn("login_failed",
			"username", username,
			"cause", "bad_password",
			"now_locked", locked,
		)
		return nil, errLoginFailed
	}

	now := time.Now().UTC()
	expired := !user.PasswordExpiresAt.After(now)

	// Expired GUEST accounts are blocked outright: they have no
	// self-service change path. The failure counter stays untouched.
	if user.RoleName == storage.RoleGuest && expired {
		s.log.Warn("login_failed", "username", username, "cause", "guest_password_expired")
		return nil, errGuestExpired
	}

	if err := s.users.ResetFailedLogins(ctx, username); err != nil {
		s.log.Error("failed_login_reset_error", "username", username, "error", err)
	}

	pair, err := s.mintPair(user.Username, user.RoleName)
	if err != nil {
		return nil, err
	}
	// Advisory flag: the server keeps serving a must-change user, the
	// client routes them to the change-password screen. Change-password
	// itself clears force_password_change and resets the expiry window.
	pair.MustChangePassword = user.ForcePasswordChange || expired

	s.log.Info("login_success", "username", username, "role", user.RoleName)
	return pair, nil
}
