package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// EventKind enumerates every workflow and security event the core emits.
type EventKind string

const (
	ExpenseSubmitted  EventKind = "EXPENSE_SUBMITTED"
	ExpenseApproved   EventKind = "EXPENSE_APPROVED"
	ExpenseRejected   EventKind = "EXPENSE_REJECTED"
	ExpenseReimbursed EventKind = "EXPENSE_REIMBURSED"
	PasswordExpiring  EventKind = "PASSWORD_EXPIRING"
	PasswordExpired   EventKind = "PASSWORD_EXPIRED"
	JenkinsBuild      EventKind = "JENKINS_BUILD"
	JenkinsDeploy     EventKind = "JENKINS_DEPLOY"
)

// Event is a notification request. OwnerUsername addresses the expense
// owner / affected user; Data feeds the message body.
type Event struct {
	Kind          EventKind
	OwnerUsername string
	DaysLeft      int // PASSWORD_EXPIRING only
	Data          map[string]string
}

// EmailSource resolves a username to its notification address. ok=false
// means the user has no email configured and the message is dropped.
type EmailSource interface {
	EmailForUser(ctx context.Context, username string) (string, bool, error)
}

// Config carries the recipient lists that come from configuration rather
// than from user profiles. Both are opaque to the dispatcher.
type Config struct {
	AdminRecipients    []string
	ApproverRecipients []string
}

// Dispatcher renders templated messages for events and hands them to the
// mail sender. Emit is synchronous with respect to the caller's transition
// but delivery failures never propagate: they are logged and surface as an
// operational alert, not as a rolled-back transition.
type Dispatcher struct {
	sender Sender
	emails EmailSource
	config Config
	log    *slog.Logger
}

func NewDispatcher(sender Sender, emails EmailSource, config Config, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{sender: sender, emails: emails, config: config, log: log}
}

// Emit resolves recipients, renders the message and sends it. It never
// returns an error.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	subject, body := d.render(ev)

	for _, to := range d.recipients(ctx, ev) {
		if err := d.sender.Send(ctx, to, subject, body); err != nil {
			d.log.Error("notification_delivery_failed",
				"kind", ev.Kind,
				"to", to,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) recipients(ctx context.Context, ev Event) []string {
	switch ev.Kind {
	case JenkinsBuild, JenkinsDeploy:
		return d.config.AdminRecipients

	case ExpenseSubmitted:
		// Approvers learn about new submissions; the owner is not copied.
		return d.config.ApproverRecipients

	case ExpenseApproved, ExpenseRejected, ExpenseReimbursed, PasswordExpiring, PasswordExpired:
		email, ok, err := d.emails.EmailForUser(ctx, ev.OwnerUsername)
		if err != nil {
			d.log.Error("notification_recipient_lookup_failed",
				"kind", ev.Kind,
				"username", ev.OwnerUsername,
				"error", err,
			)
			return nil
		}
		if !ok {
			d.log.Info("notification_dropped_no_email",
				"kind", ev.Kind,
				"username", ev.OwnerUsername,
			)
			return nil
		}
		return []string{email}
	}

	d.log.Warn("notification_unknown_kind", "kind", ev.Kind)
	return nil
}

func (d *Dispatcher) render(ev Event) (subject, body string) {
	var b strings.Builder
	b.WriteString("Hello,\n\n")

	switch ev.Kind {
	case ExpenseSubmitted:
		subject = "Expense submitted for approval"
		fmt.Fprintf(&b, "Expense %s from %s is awaiting approval.\n", ev.Data["expense_id"], ev.OwnerUsername)
		if amount := ev.Data["amount"]; amount != "" {
			fmt.Fprintf(&b, "Amount: %s\n", amount)
		}

	case ExpenseApproved:
		subject = "Your expense was approved"
		fmt.Fprintf(&b, "Your expense %s was approved by %s.\n", ev.Data["expense_id"], ev.Data["approved_by"])

	case ExpenseRejected:
		subject = "Your expense was rejected"
		fmt.Fprintf(&b, "Your expense %s was rejected.\n", ev.Data["expense_id"])
		if reason := ev.Data["reason"]; reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", reason)
		}
		b.WriteString("You can edit and resubmit it.\n")

	case ExpenseReimbursed:
		subject = "Your expense was reimbursed"
		fmt.Fprintf(&b, "Your expense %s has been marked reimbursed.\n", ev.Data["expense_id"])

	case PasswordExpiring:
		subject = fmt.Sprintf("Your password expires in %d day(s)", ev.DaysLeft)
		fmt.Fprintf(&b, "Your password expires in %d day(s). Please change it before it expires.\n", ev.DaysLeft)

	case PasswordExpired:
		subject = "Your password has expired"
		b.WriteString("Your password has expired. Please change it at your next login.\n")

	case JenkinsBuild:
		subject = fmt.Sprintf("Build %s: %s", ev.Data["job"], ev.Data["result"])
		fmt.Fprintf(&b, "Build %s finished with result %s.\n", ev.Data["job"], ev.Data["result"])

	case JenkinsDeploy:
		subject = fmt.Sprintf("Deploy %s: %s", ev.Data["job"], ev.Data["result"])
		fmt.Fprintf(&b, "Deploy %s finished with result %s.\n", ev.Data["job"], ev.Data["result"])

	default:
		subject = "Notification"
		b.WriteString("This is a notification from the system.\n")
	}

	if detail := ev.Data["detail"]; detail != "" {
		fmt.Fprintf(&b, "\n%s\n", detail)
	}

	b.WriteString("\nThank you,\nHourglass")
	return subject, b.String()
}
