package auth

import (
	"context"
	"errors"

	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/storage"
)

// ChangePassword verifies the current password, validates the candidate
// against the policy, and swaps the hash. The store stamps
// tokens_invalid_before alongside the hash, so every token issued before
// this instant is rejected by the request gate from here on.
func (s *Service) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.Unauthenticated, "invalid session")
		}
		return err
	}

	// GUESTs have no self-service password change; an administrator resets
	// their password instead.
	if user.RoleName == storage.RoleGuest {
		return apperr.New(apperr.Forbidden, "password self-service is disabled for guest accounts")
	}

	if err := s.hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		s.log.Warn("password_change_failed", "username", username, "cause", "bad_current_password")
		return apperr.New(apperr.Unauthenticated, "current password is incorrect")
	}

	history, err := s.users.PasswordHistory(ctx, username, HistoryDepth)
	if err != nil {
		return err
	}

	if violations := s.policy.Validate(newPassword, username, history); len(violations) > 0 {
		return apperr.New(apperr.InvalidInput, "password does not meet policy requirements").
			WithDetails(ViolationStrings(violations)...)
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.users.ChangePassword(ctx, username, newHash, HistoryDepth); err != nil {
		return err
	}

	s.log.Info("password_changed", "username", username)
	return nil
}
