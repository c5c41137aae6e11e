package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/hourglasshq/hourglass/internal/api"
	"github.com/hourglasshq/hourglass/internal/auth"
	"github.com/hourglasshq/hourglass/internal/authz"
	"github.com/hourglasshq/hourglass/internal/bootstrap"
	"github.com/hourglasshq/hourglass/internal/config"
	"github.com/hourglasshq/hourglass/internal/expense"
	"github.com/hourglasshq/hourglass/internal/mailer"
	"github.com/hourglasshq/hourglass/internal/notify"
	"github.com/hourglasshq/hourglass/internal/receipts"
	"github.com/hourglasshq/hourglass/internal/scheduler"
	"github.com/hourglasshq/hourglass/internal/storage"
	"github.com/hourglasshq/hourglass/pkg/logger"
)

func main() {
	// Local overrides first; in production the files are absent and the
	// process runs on system env vars alone.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Setup("development", "").Error("config_parse_failed", "error", err)
		os.Exit(2)
	}

	log := logger.Setup(cfg.Env, cfg.LogLevel)
	log.Info("application_startup", "env", cfg.Env)

	if err := cfg.Validate(); err != nil {
		log.Error("config_invariant_failed", "error", err)
		os.Exit(1)
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
			Environment:      cfg.Env,
		})
		if err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	} else {
		log.Warn("sentry_dsn_missing", "details", "skipping_init")
	}

	ctx := context.Background()

	pool, err := storage.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("database_connected")

	db := storage.NewDB(pool)
	userStore := storage.NewUserStore(db)
	roleStore := storage.NewRoleStore(db)
	ledger := storage.NewRevocationLedger(db)
	expenseStore := storage.NewExpenseStore(db)
	leaseStore := storage.NewLeaseStore(db)

	hasher := auth.NewBcryptHasher()
	policy := auth.NewPolicy(hasher)

	if err := bootstrap.Run(ctx, bootstrap.Stores{Roles: roleStore, Users: userStore}, hasher, cfg.BootstrapAdminPassword, log); err != nil {
		log.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}

	codec, err := auth.NewCodec([]byte(cfg.SigningSecret), auth.CodecConfig{
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
		ServiceTTL: cfg.ServiceTokenTTL,
	})
	if err != nil {
		log.Error("token_codec_init_failed", "error", err)
		os.Exit(1)
	}

	evaluator, err := authz.NewEvaluator(roleStore)
	if err != nil {
		log.Error("authz_init_failed", "error", err)
		os.Exit(1)
	}

	var sender notify.Sender
	if cfg.SMTP.Host != "" {
		sender, err = mailer.NewSMTPSender(cfg.SMTP, log)
		if err != nil {
			log.Error("smtp_init_failed", "error", err)
			os.Exit(1)
		}
		log.Info("smtp_configured", "host", cfg.SMTP.Host)
	} else {
		sender = &notify.DevMailer{Logger: log}
		log.Warn("smtp_host_missing", "details", "using_dev_mailer")
	}

	dispatcher := notify.NewDispatcher(sender, userStore, notify.Config{
		AdminRecipients:    cfg.AdminRecipients,
		ApproverRecipients: cfg.ApproverRecipients,
	}, log)

	authService := auth.NewService(userStore, ledger, hasher, codec, policy, log)
	expenseService := expense.NewService(expenseStore, evaluator, dispatcher, &receipts.NoopStore{Logger: log}, log)

	jobs := scheduler.NewJobs(userStore, ledger, leaseStore, dispatcher, scheduler.Config{
		ScanHourUTC: cfg.PasswordScanHour,
		GCInterval:  cfg.LedgerGCInterval,
	}, log)

	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	go jobs.Run(jobCtx)

	server := api.NewServer(api.Deps{
		Auth:            authService,
		Codec:           codec,
		Hasher:          hasher,
		Policy:          policy,
		Evaluator:       evaluator,
		Expenses:        expenseService,
		Users:           userStore,
		Ledger:          ledger,
		Notifier:        dispatcher,
		Jobs:            jobs,
		DB:              pool,
		RateLimitPerMin: cfg.RateLimitPerMin,
		RateLimitBurst:  cfg.RateLimitBurst,
		RateLimit:       cfg.RateLimitEnabled,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info("server_listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)

		stopJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server_force_close_failed", "error", err)
			}
		}

		pool.Close()
		log.Info("server_shutdown_complete")
	}
}
