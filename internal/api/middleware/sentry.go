package middleware

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// SetSentryUser tags the current Sentry scope with the authenticated
// principal so error reports carry who hit the failure.
func SetSentryUser(ctx context.Context, username, role, ip string) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetUser(sentry.User{Username: username, IPAddress: ip})
			scope.SetTag("role", role)
		})
	}
}
