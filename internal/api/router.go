package api

import (
	"log/slog"
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	customMiddleware "github.com/hourglasshq/hourglass/internal/api/middleware"
	"github.com/hourglasshq/hourglass/internal/auth"
	"github.com/hourglasshq/hourglass/internal/authz"
	"github.com/hourglasshq/hourglass/internal/expense"
)

// Deps carries everything the router wires together.
type Deps struct {
	Auth      *auth.Service
	Codec     *auth.Codec
	Hasher    auth.PasswordHasher
	Policy    *auth.Policy
	Evaluator *authz.Evaluator
	Expenses  *expense.Service
	Users     RouterUserStore
	Ledger    customMiddleware.RevocationChecker
	Notifier  Notifier
	Jobs      JobRunner
	DB        Pinger

	// Refill rate and burst shared by the per-IP and per-user limiters.
	RateLimitPerMin int
	RateLimitBurst  int
	RateLimit       bool
}

// RouterUserStore joins the gate's principal loading with the admin surface.
type RouterUserStore interface {
	customMiddleware.PrincipalLoader
	AdminUserStore
}

// Server owns the HTTP mux.
type Server struct {
	Router *chi.Mux
	Logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	r := chi.NewRouter()

	// Core middleware, then Sentry before recovery so panics get captured.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	sentryHandler := sentryhttp.New(sentryhttp.Options{
		Repanic: true,
	})
	r.Use(sentryHandler.Handle)

	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)

	limiter := customMiddleware.NewKeyedLimiter(deps.RateLimitPerMin, deps.RateLimitBurst, deps.RateLimit)
	gate := customMiddleware.RequestGate(deps.Codec, deps.Ledger, deps.Users)
	require := func(resource, action string) func(http.Handler) http.Handler {
		return customMiddleware.RequirePermission(deps.Evaluator, authz.Perm(resource, action))
	}

	authHandler := NewAuthHandler(deps.Auth)
	expenseHandler := NewExpenseHandler(deps.Expenses)
	adminHandler := NewAdminHandler(deps.Users, deps.Auth, deps.Hasher, deps.Policy, deps.Jobs)
	jenkinsHandler := NewJenkinsHandler(deps.Notifier)
	healthHandler := NewHealthHandler(deps.DB)

	r.Get("/health", healthHandler.Health)

	r.Route("/api", func(r chi.Router) {

		// Public routes: credentials or refresh tokens travel in the body,
		// so the gate does not apply. Per-IP limiting throttles guessing.
		r.Group(func(r chi.Router) {
			r.Use(limiter.ByIP)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)
			r.Post("/auth/logout", authHandler.Logout)
		})

		// Application surface: every route behind the gate.
		r.Group(func(r chi.Router) {
			r.Use(gate)

			r.With(limiter.ByUser).Post("/auth/change-password", authHandler.ChangePassword)

			r.Route("/expenses", func(r chi.Router) {
				r.With(require(authz.ResourceExpense, authz.ActionRead)).Get("/", expenseHandler.List)
				r.With(require(authz.ResourceExpense, authz.ActionCreate)).Post("/", expenseHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.With(require(authz.ResourceExpense, authz.ActionRead)).Get("/", expenseHandler.Get)
					r.With(require(authz.ResourceExpense, authz.ActionUpdate)).Put("/", expenseHandler.Update)
					r.With(require(authz.ResourceExpense, authz.ActionDelete)).Delete("/", expenseHandler.Delete)

					// Ownership and state rules live in the service, under
					// the row lock. Routes gate the coarse permission only.
					r.With(require(authz.ResourceExpense, authz.ActionUpdate)).Post("/submit", expenseHandler.Submit)
					r.With(require(authz.ResourceExpense, authz.ActionUpdate)).Post("/resubmit", expenseHandler.Resubmit)
					r.With(require(authz.ResourceExpense, authz.ActionApprove)).Post("/approve", expenseHandler.Approve)
					r.With(require(authz.ResourceExpense, authz.ActionApprove)).Post("/reject", expenseHandler.Reject)
					r.With(require(authz.ResourceExpense, authz.ActionApprove)).Post("/reimburse", expenseHandler.Reimburse)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.With(require(authz.ResourceUser, authz.ActionCreate)).Post("/users", adminHandler.CreateUser)
				r.With(require(authz.ResourceUser, authz.ActionUpdate)).Post("/users/{name}/unlock", adminHandler.Unlock)
				r.With(require(authz.ResourceUser, authz.ActionUpdate)).Post("/users/{name}/revoke", adminHandler.RevokeTokens)
				r.With(require(authz.ResourceUser, authz.ActionAdmin)).Post("/tokens/service", adminHandler.MintServiceToken)
				r.With(require(authz.ResourceUser, authz.ActionAdmin)).Post("/jobs/password-scan", adminHandler.RunPasswordScan)
			})

			r.With(require(authz.ResourceJenkins, authz.ActionNotify)).Post("/jenkins/notify", jenkinsHandler.Notify)
		})
	})

	return &Server{
		Router: r,
		Logger: slog.Default(),
	}
}
