package auth

import (
	"context"
	"errors"

	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/storage"
)

var errRefreshFailed = apperr.New(apperr.Unauthenticated, "invalid refresh token")

// Refresh rotates a refresh token: the incoming token is verified, checked
// against the ledger and the user's invalidation timestamp, then revoked,
// and a brand-new access/refresh pair is minted.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.codec.Verify(refreshToken)
	if err != nil {
		s.log.Warn("refresh_failed", "cause", "verify", "error", err)
		return nil, errRefreshFailed
	}
	if claims.Type != TokenRefresh {
		s.log.Warn("refresh_failed", "username", claims.Subject, "cause", "wrong_token_type")
		return nil, errRefreshFailed
	}

	revoked, err := s.ledger.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		s.log.Warn("refresh_failed", "username", claims.Subject, "cause", "revoked")
		return nil, errRefreshFailed
	}

	user, err := s.users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errRefreshFailed
		}
		return nil, err
	}
	if !user.CanAuthenticate() {
		s.log.Warn("refresh_failed", "username", user.Username, "cause", "disabled_or_locked")
		return nil, errRefreshFailed
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.Before(user.TokensInvalidBefore) {
		s.log.Warn("refresh_failed", "username", user.Username, "cause", "invalidated")
		return nil, errRefreshFailed
	}

	// The old refresh token dies with the handshake. Its natural expiry
	// bounds the ledger row's lifetime.
	if err := s.ledger.Revoke(ctx, claims.ID, user.Username, claims.ExpiresAt.Time); err != nil {
		return nil, err
	}

	pair, err := s.mintPair(user.Username, user.RoleName)
	if err != nil {
		return nil, err
	}

	s.log.Info("refresh_success", "username", user.Username)
	return pair, nil
}
