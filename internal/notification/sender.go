package notification

import (
	"context"
	"fmt"

	"github.com/go-gomail/gomail"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-booking/internal/config"
)

// Sender delivers a single plain-text email.
type Sender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// NewSender returns an SMTP sender, or a log-only sender when no SMTP host
// is configured.
func NewSender(cfg config.SMTPConfig, log zerolog.Logger) Sender {
	if cfg.Host == "" {
		return &LogSender{log: log}
	}
	return NewSMTPSender(cfg)
}

type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	// gomail has no context support; give up waiting when ctx is done.
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error sending email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("error sending email: %w", ctx.Err())
	}
}

// LogSender writes the email to the log instead of sending it.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("email (smtp disabled)")
	return nil
}
