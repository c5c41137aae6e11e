package notify

import (
	"context"
	"log/slog"
)

// Sender is the single outbound mail operation the core depends on. Whether
// it is SMTP, an API, or a test double is invisible here.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// DevMailer logs messages instead of delivering them. Used in development
// and whenever no SMTP host is configured.
type DevMailer struct {
	Logger *slog.Logger
}

func (m *DevMailer) Send(ctx context.Context, to, subject, body string) error {
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("email_sent_dev",
		"to", to,
		"subject", subject,
		"body", body,
	)
	return nil
}
