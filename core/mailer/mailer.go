package mailer

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/logger"
	"log/slog"
)

// Mailer relays guest messages and callback requests to the owner inbox
// over plain SMTP with optional AUTH.
type Mailer struct {
	host     string
	port     string
	user     string
	password string
	from     string
	to       string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New builds a mailer from the configuration.
func New(smtpCfg config.SMTPConfig) *Mailer {
	return &Mailer{
		host:     smtpCfg.Host,
		port:     strconv.Itoa(smtpCfg.Port),
		user:     smtpCfg.User,
		password: smtpCfg.Password,
		from:     smtpCfg.From,
		to:       smtpCfg.To,
		send:     smtp.SendMail,
	}
}

// Send delivers one notification email with the given subject and body.
func (m *Mailer) Send(ctx context.Context, subject, body string) error {
	if m.host == "" || m.to == "" {
		return fmt.Errorf("mailer: not configured")
	}

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}

	msg := buildMessage(m.from, m.to, subject, body)
	addr := net.JoinHostPort(m.host, m.port)

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- m.send(addr, auth, m.from, []string{m.to}, msg) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		logger.MAIL.Error("mail send failed",
			slog.String("event", "mail.send"),
			slog.String("host", m.host),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("mail send: %w", err)
	}

	logger.MAIL.Info("mail sent",
		slog.String("event", "mail.send"),
		slog.String("host", m.host),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
