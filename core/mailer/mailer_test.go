package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/m3rciful/wabot/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMailer() (*Mailer, *struct {
	addr string
	from string
	to   []string
	msg  []byte
}) {
	captured := &struct {
		addr string
		from string
		to   []string
		msg  []byte
	}{}
	m := New(config.SMTPConfig{
		Host:     "mail.example.org",
		Port:     587,
		User:     "bot",
		Password: "pw",
		From:     "bot@example.org",
		To:       "owner@example.org",
	})
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		captured.msg = msg
		return nil
	}
	return m, captured
}

func TestSendBuildsMessage(t *testing.T) {
	m, captured := testMailer()
	require.NoError(t, m.Send(context.Background(), "New message", "hello\nworld"))

	assert.Equal(t, "mail.example.org:587", captured.addr)
	assert.Equal(t, "bot@example.org", captured.from)
	assert.Equal(t, []string{"owner@example.org"}, captured.to)
	body := string(captured.msg)
	assert.Contains(t, body, "Subject: New message")
	assert.Contains(t, body, "hello\nworld")
	assert.Contains(t, body, "Content-Type: text/plain; charset=utf-8")
}

func TestSendSurfacesError(t *testing.T) {
	m, _ := testMailer()
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	assert.Error(t, m.Send(context.Background(), "s", "b"))
}

func TestSendUnconfigured(t *testing.T) {
	m := New(config.SMTPConfig{})
	assert.Error(t, m.Send(context.Background(), "s", "b"))
}
