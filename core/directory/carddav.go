package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/logger"
	"log/slog"
)

// Client mirrors known contacts into a CardDAV addressbook. Each sender
// gets one vCard addressed by phone number, so uploads and removals are
// idempotent.
type Client struct {
	httpc       *http.Client
	baseURL     string
	user        string
	password    string
	addressbook string
	enabled     bool
}

// NewClient builds a CardDAV client. An empty URL disables the sync; every
// method becomes a no-op then.
func NewClient(cfg config.DirectoryConfig) *Client {
	return &Client{
		httpc:       &http.Client{Timeout: 15 * time.Second},
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		user:        cfg.User,
		password:    cfg.Password,
		addressbook: cfg.Addressbook,
		enabled:     cfg.URL != "",
	}
}

// Enabled reports whether a CardDAV endpoint is configured.
func (c *Client) Enabled() bool { return c.enabled }

// Upload writes or replaces the vCard for the sender.
func (c *Client) Upload(ctx context.Context, phone, name string) error {
	if !c.enabled {
		return nil
	}
	card := buildVCard(phone, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.cardURL(phone), strings.NewReader(card))
	if err != nil {
		return fmt.Errorf("carddav put: %w", err)
	}
	req.Header.Set("Content-Type", "text/vcard; charset=utf-8")
	req.SetBasicAuth(c.user, c.password)

	return c.do(req, "contact.upload", phone, nil)
}

// Delete removes the sender's vCard. A missing card is not an error, so
// repeated purges stay idempotent.
func (c *Client) Delete(ctx context.Context, phone string) error {
	if !c.enabled {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cardURL(phone), nil)
	if err != nil {
		return fmt.Errorf("carddav delete: %w", err)
	}
	req.SetBasicAuth(c.user, c.password)

	return c.do(req, "contact.delete", phone, map[int]bool{http.StatusNotFound: true})
}

func (c *Client) do(req *http.Request, event, phone string, tolerated map[int]bool) error {
	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		logger.DAV.Error("carddav request failed",
			slog.String("event", event),
			slog.String("sender", logger.MaskSender(phone)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("carddav: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok && tolerated[resp.StatusCode] {
		ok = true
	}
	if !ok {
		logger.DAV.Error("carddav rejected",
			slog.String("event", event),
			slog.String("sender", logger.MaskSender(phone)),
			slog.Int("http_code", resp.StatusCode),
			slog.Duration("duration", logger.Took(start)),
		)
		return fmt.Errorf("carddav: unexpected status %d", resp.StatusCode)
	}

	if logger.ShouldSampleDebug() {
		logger.DAV.Debug("carddav ok",
			slog.String("event", event),
			slog.String("sender", logger.MaskSender(phone)),
			slog.Int("http_code", resp.StatusCode),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	return nil
}

func (c *Client) cardURL(phone string) string {
	return fmt.Sprintf("%s/%s/%s/%s.vcf", c.baseURL, c.user, c.addressbook, phone)
}

func buildVCard(phone, name string) string {
	if name == "" {
		name = phone
	}
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\r\n")
	b.WriteString("VERSION:3.0\r\n")
	b.WriteString("FN:" + escapeVCard(name) + "\r\n")
	b.WriteString("N:" + escapeVCard(name) + ";;;;\r\n")
	b.WriteString("TEL;TYPE=CELL:" + phone + "\r\n")
	b.WriteString("UID:" + phone + "\r\n")
	b.WriteString("END:VCARD\r\n")
	return b.String()
}

func escapeVCard(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n")
	return r.Replace(s)
}
