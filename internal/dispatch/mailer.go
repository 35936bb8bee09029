package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"

	"github.com/domodwyer/mailyak/v3"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Message is a rendered confirmation ready for delivery
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer returns an SMTP mailer, or a log-only mailer when no host is configured.
func NewMailer(cfg SMTPConfig) Mailer {
	if cfg.Host == "" {
		slog.Warn("SMTP host is not configured, confirmations will only be logged")
		return LogMailer{}
	}
	return &SMTPMailer{cfg: cfg}
}

type SMTPMailer struct {
	cfg SMTPConfig
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	mail := mailyak.New(m.cfg.Host+":"+strconv.Itoa(m.cfg.Port), auth)
	mail.From(m.cfg.From)
	mail.FromName("Box Office")
	mail.To(msg.To)
	mail.Subject(msg.Subject)
	mail.Plain().Set(msg.Text)
	if msg.HTML != "" {
		mail.HTML().Set(msg.HTML)
	}

	if err := mail.Send(); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// LogMailer writes confirmations to the log instead of sending them
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	slog.Info("Confirmation email", "to", msg.To, "subject", msg.Subject, "body", msg.Text)
	return nil
}
