package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hourglasshq/hourglass/internal/api/helpers"
	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/auth"
	"github.com/hourglasshq/hourglass/internal/authz"
	"github.com/hourglasshq/hourglass/internal/storage"
)

// TokenVerifier is the codec slice the gate needs.
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Claims, error)
}

// RevocationChecker answers ledger membership for a jti.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// PrincipalLoader loads the user behind a verified token.
type PrincipalLoader interface {
	FindByUsername(ctx context.Context, username string) (*storage.User, error)
}

// RequestGate authenticates every request on the application surface:
// bearer extraction, signature and expiry verification, revocation-ledger
// membership, the per-user invalidation timestamp, and the account state of
// the loaded principal. REFRESH tokens never pass; they are only good for
// the refresh handshake.
func RequestGate(codec TokenVerifier, ledger RevocationChecker, users PrincipalLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				helpers.RespondKind(w, apperr.Unauthenticated, "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				helpers.RespondKind(w, apperr.Unauthenticated, "invalid authorization format")
				return
			}

			claims, err := codec.Verify(parts[1])
			if err != nil {
				slog.Warn("request_rejected", "cause", "invalid_token", "error", err, "ip", r.RemoteAddr)
				helpers.RespondKind(w, apperr.Unauthenticated, "invalid or expired token")
				return
			}

			if claims.Type == auth.TokenRefresh {
				slog.Warn("request_rejected", "cause", "refresh_token_on_app_route", "username", claims.Subject)
				helpers.RespondKind(w, apperr.Unauthenticated, "invalid or expired token")
				return
			}

			revoked, err := ledger.IsRevoked(r.Context(), claims.ID)
			if err != nil {
				helpers.RespondError(w, r, err)
				return
			}
			if revoked {
				slog.Warn("request_rejected", "cause", "revoked_token", "username", claims.Subject, "jti", claims.ID)
				helpers.RespondKind(w, apperr.Unauthenticated, "invalid or expired token")
				return
			}

			user, err := users.FindByUsername(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					slog.Warn("request_rejected", "cause", "unknown_subject", "username", claims.Subject)
					helpers.RespondKind(w, apperr.Unauthenticated, "invalid or expired token")
					return
				}
				helpers.RespondError(w, r, err)
				return
			}
			if !user.CanAuthenticate() {
				slog.Warn("request_rejected", "cause", "disabled_or_locked", "username", user.Username)
				helpers.RespondKind(w, apperr.Unauthenticated, "invalid or expired token")
				return
			}
			if claims.IssuedAt != nil && claims.IssuedAt.Time.Before(user.TokensInvalidBefore) {
				slog.Warn("request_rejected", "cause", "token_invalidated", "username", user.Username)
				helpers.RespondKind(w, apperr.Unauthenticated, "invalid or expired token")
				return
			}

			ctx := WithPrincipal(r.Context(), authz.Principal{
				Username: user.Username,
				Role:     user.RoleName,
			})
			SetSentryUser(ctx, user.Username, user.RoleName, r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
