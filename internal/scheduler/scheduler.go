// Package scheduler drives the two background integrity jobs: the daily
// password-expiration scan and the revocation-ledger garbage collection.
// Both jobs are idempotent and safe against missed fires; a replica that is
// down at firing time simply skips that run. A Postgres lease row keeps
// multi-replica deployments from firing the same job twice.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/hourglasshq/hourglass/internal/notify"
	"github.com/hourglasshq/hourglass/internal/storage"
)

// Lease names; each has a singleton row in scheduler_leases.
const (
	LeasePasswordScan = "password_scan"
	LeaseLedgerGC     = "revocation_gc"
)

// warnWindowDays is the inclusive number of days before expiry at which
// warning notifications start.
const warnWindowDays = 7

// UserSource lists users whose passwords expire inside a window.
type UserSource interface {
	UsersExpiringBetween(ctx context.Context, from, to time.Time) ([]storage.User, error)
}

// LedgerGC removes revocation rows past their natural expiry.
type LedgerGC interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// LeaseSource serialises a named job across replicas.
type LeaseSource interface {
	WithLease(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error)
}

// Notifier emits the password-expiry events.
type Notifier interface {
	Emit(ctx context.Context, ev notify.Event)
}

// Config sets the firing cadence.
type Config struct {
	ScanHourUTC int           // wall-clock hour for the daily expiry scan
	GCInterval  time.Duration // cadence of the ledger GC
}

// Jobs wires the two background jobs to their stores.
type Jobs struct {
	users    UserSource
	ledger   LedgerGC
	leases   LeaseSource
	notifier Notifier
	config   Config
	log      *slog.Logger
}

func NewJobs(users UserSource, ledger LedgerGC, leases LeaseSource, notifier Notifier, cfg Config, log *slog.Logger) *Jobs {
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Jobs{
		users:    users,
		ledger:   ledger,
		leases:   leases,
		notifier: notifier,
		config:   cfg,
		log:      log,
	}
}

// Run blocks until ctx is cancelled, firing both jobs on their cadence.
// Jobs are cancellable at job boundaries, not mid-iteration.
func (j *Jobs) Run(ctx context.Context) {
	gcTicker := time.NewTicker(j.config.GCInterval)
	defer gcTicker.Stop()

	scanTimer := time.NewTimer(time.Until(j.nextScanTime(time.Now().UTC())))
	defer scanTimer.Stop()

	j.log.Info("scheduler_started",
		"scan_hour_utc", j.config.ScanHourUTC,
		"gc_interval", j.config.GCInterval,
	)

	for {
		select {
		case <-ctx.Done():
			j.log.Info("scheduler_stopped")
			return

		case <-gcTicker.C:
			j.runLedgerGC(ctx)

		case <-scanTimer.C:
			j.runPasswordScan(ctx)
			scanTimer.Reset(time.Until(j.nextScanTime(time.Now().UTC())))
		}
	}
}

func (j *Jobs) nextScanTime(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), j.config.ScanHourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (j *Jobs) runLedgerGC(ctx context.Context) {
	acquired, err := j.leases.WithLease(ctx, LeaseLedgerGC, func(ctx context.Context) error {
		removed, err := j.ledger.DeleteExpired(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if removed > 0 {
			j.log.Info("revocation_gc_completed", "removed", removed)
		}
		return nil
	})
	if err != nil {
		j.log.Error("revocation_gc_failed", "error", err)
		return
	}
	if !acquired {
		j.log.Debug("revocation_gc_skipped", "cause", "lease_held_elsewhere")
	}
}

func (j *Jobs) runPasswordScan(ctx context.Context) {
	acquired, err := j.leases.WithLease(ctx, LeasePasswordScan, func(ctx context.Context) error {
		return j.PasswordScan(ctx, time.Now().UTC())
	})
	if err != nil {
		j.log.Error("password_scan_failed", "error", err)
		return
	}
	if !acquired {
		j.log.Debug("password_scan_skipped", "cause", "lease_held_elsewhere")
	}
}

// PasswordScan emits one PASSWORD_EXPIRING(daysLeft) per non-GUEST user whose
// password expires within the next 7 days (today inclusive), and one
// PASSWORD_EXPIRED per user whose password went stale since yesterday.
// Messaging is fire-and-forget; running the scan twice in a day duplicates
// emails but no state. Exposed for the manual admin trigger.
func (j *Jobs) PasswordScan(ctx context.Context, now time.Time) error {
	today := startOfDay(now)

	expiring, err := j.users.UsersExpiringBetween(ctx, today, today.AddDate(0, 0, warnWindowDays+1))
	if err != nil {
		return err
	}
	for _, u := range expiring {
		daysLeft := daysBetween(today, startOfDay(u.PasswordExpiresAt))
		j.notifier.Emit(ctx, notify.Event{
			Kind:          notify.PasswordExpiring,
			OwnerUsername: u.Username,
			DaysLeft:      daysLeft,
		})
	}

	// Users whose password expired yesterday get a final stale notice.
	expired, err := j.users.UsersExpiringBetween(ctx, today.AddDate(0, 0, -1), today)
	if err != nil {
		return err
	}
	for _, u := range expired {
		j.notifier.Emit(ctx, notify.Event{
			Kind:          notify.PasswordExpired,
			OwnerUsername: u.Username,
		})
	}

	j.log.Info("password_scan_completed",
		"expiring", len(expiring),
		"newly_expired", len(expired),
	)
	return nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}
