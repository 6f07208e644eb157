package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
)

// Sender delivers a single email. Implementations own their own timeout and
// transport behavior; callers surface any failure without retrying.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

var _ Sender = (*SMTPSender)(nil)

// SMTPSender sends mail through an authenticated SMTP relay.
type SMTPSender struct {
	host     string
	port     int
	from     string
	password string
}

func NewSMTPSender(host string, port int, from, password string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		from:     from,
		password: password,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	message := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s", to, subject, body)
	auth := smtp.PlainAuth("", s.from, s.password, s.host)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := smtp.SendMail(addr, auth, s.from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

var _ Sender = (*LogSender)(nil)

// LogSender logs mail instead of delivering it. Used in development when no
// SMTP credentials are configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "Mail not sent (log sender)",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}
