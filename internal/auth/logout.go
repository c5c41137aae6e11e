package auth

import (
	"context"
	"errors"
)

// Logout inserts the token's jti into the revocation ledger with the token's
// natural expiry. Idempotent: repeating the call leaves one ledger row, and
// an unverifiable or already-expired token is simply nothing to revoke.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.codec.ParseExpired(token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			s.log.Info("logout_ignored", "cause", "unverifiable_token")
			return nil
		}
		return err
	}

	if claims.ExpiresAt == nil {
		return nil
	}

	if err := s.ledger.Revoke(ctx, claims.ID, claims.Subject, claims.ExpiresAt.Time); err != nil {
		return err
	}

	s.log.Info("logout", "username", claims.Subject, "jti", claims.ID)
	return nil
}
