// Package mailer delivers notifications over SMTP. It implements the
// notify.Sender contract; the dispatcher neither knows nor cares that the
// transport is SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/hourglasshq/hourglass/internal/config"
)

// SMTPSender sends mail over SMTP, supporting STARTTLS (port 587) and
// direct TLS (port 465). TLS 1.2 is the floor in both modes.
type SMTPSender struct {
	config config.SMTPConfig
	log    *slog.Logger
}

func NewSMTPSender(cfg config.SMTPConfig, log *slog.Logger) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if _, err := sanitizeAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid From address: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &SMTPSender{config: cfg, log: log}, nil
}

// Send delivers one message. Addresses are sanitized against CRLF header
// injection; the connection honours the caller's deadline via the dial
// timeout and is never retried here.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	toAddr, err := sanitizeAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	fromAddr, err := sanitizeAddress(s.config.From)
	if err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("subject contains line breaks")
	}

	message := buildMessage(fromAddr, toAddr, subject, body)
	serverAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	tlsConfig := &tls.Config{
		ServerName: s.config.Host,
		MinVersion: tls.VersionTLS12,
	}

	var conn net.Conn
	if s.config.TLSMode == "tls" {
		conn, err = tls.DialWithDialer(dialer, "tcp", serverAddr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", serverAddr)
	}
	if err != nil {
		return fmt.Errorf("smtp connection failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("smtp protocol error: %w", err)
	}
	defer client.Quit()

	if s.config.TLSMode != "tls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("smtp tls upgrade failed: %w", err)
		}
	}

	if s.config.User != "" {
		auth := smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp authentication failed: %w", err)
		}
	}

	if err := client.Mail(fromAddr); err != nil {
		return fmt.Errorf("smtp MAIL failed: %w", err)
	}
	if err := client.Rcpt(toAddr); err != nil {
		return fmt.Errorf("smtp RCPT failed: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize message: %w", err)
	}

	s.log.Info("email_sent", "to", toAddr, "subject", subject)
	return nil
}

// buildMessage constructs an RFC 5322 plain-text message.
func buildMessage(from, to, subject, body string) []byte {
	var msg strings.Builder
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

// sanitizeAddress validates an address and rejects CRLF injection in both
// the address and any display name. Fail-closed.
func sanitizeAddress(addr string) (string, error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(parsed.Address, "\r\n") || strings.ContainsAny(parsed.Name, "\r\n") {
		return "", fmt.Errorf("line breaks not allowed in address")
	}
	return parsed.Address, nil
}
