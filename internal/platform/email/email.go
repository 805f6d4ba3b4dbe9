package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"privacyd/internal/platform/config"
)

// Notifier is the delivery capability invoked after an export completes. The
// engine only decides to notify; transport belongs to this adapter.
type Notifier interface {
	NotifyExportReady(ctx context.Context, recipient, downloadLink string, expiresInHours int) error
}

type noopNotifier struct{}

func (noopNotifier) NotifyExportReady(context.Context, string, string, int) error {
	return nil
}

type smtpNotifier struct {
	cfg config.Config
}

func New(cfg config.Config) Notifier {
	if !cfg.EmailEnabled || cfg.SMTPHost == "" {
		return noopNotifier{}
	}
	return &smtpNotifier{cfg: cfg}
}

func (s *smtpNotifier) NotifyExportReady(ctx context.Context, recipient, downloadLink string, expiresInHours int) error {
	if strings.TrimSpace(recipient) == "" {
		return nil
	}
	subject := "Your data export is ready"
	body := fmt.Sprintf(
		"Your personal data export is ready for download.\r\n\r\n%s\r\n\r\nThe link expires in %d hours.",
		downloadLink, expiresInHours,
	)
	return s.send(ctx, s.cfg.EmailFrom, recipient, subject, body)
}

func (s *smtpNotifier) send(ctx context.Context, from, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	msg := buildMessage(from, to, subject, body)

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.cfg.SMTPUseTLS {
		tlsConfig := &tls.Config{ServerName: s.cfg.SMTPHost}
		if err := client.StartTLS(tlsConfig); err != nil {
			return err
		}
	}

	if s.cfg.SMTPUser != "" {
		auth := smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPassword, s.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMessage(from, to, subject, body string) []byte {
	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n" + body)
}
