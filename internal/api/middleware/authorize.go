package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hourglasshq/hourglass/internal/api/helpers"
	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/authz"
)

// RequirePermission gates a route on a RESOURCE:ACTION permission. It runs
// after the request gate, which has already attached the principal. The
// thin route → permission table lives in the router; this is its enforcer.
func RequirePermission(eval *authz.Evaluator, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := GetPrincipal(r.Context())
			if err != nil {
				helpers.RespondKind(w, apperr.Unauthenticated, "authentication required")
				return
			}

			ok, err := eval.Has(r.Context(), p, permission)
			if err != nil {
				helpers.RespondError(w, r, err)
				return
			}
			if !ok {
				slog.Warn("permission_denied",
					"username", p.Username,
					"role", p.Role,
					"required", permission,
					"path", r.URL.Path,
				)
				helpers.RespondKind(w, apperr.Forbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
