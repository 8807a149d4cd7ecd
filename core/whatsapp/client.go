package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/logger"
	"log/slog"
)

// Cloud API message constraints.
const (
	maxBodyLen        = 4096
	maxButtonTitleLen = 20
	maxButtons        = 3
)

var tokenRe = regexp.MustCompile(`(access_token=|Bearer )[A-Za-z0-9._-]+`)

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api: %s (code %d, http %d)", e.Message, e.Code, e.HTTPStatus)
}

// Button is one quick-reply option attached to an outbound message.
type Button struct {
	ID    string
	Title string
}

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	httpc         *http.Client
	baseURL       string
	version       string
	phoneNumberID string
	token         string
}

// NewClient builds a Cloud API client from the configuration.
func NewClient(cfg config.WhatsAppConfig) *Client {
	return &Client{
		httpc:         BuildHTTPClient(),
		baseURL:       strings.TrimRight(cfg.APIBaseURL, "/"),
		version:       cfg.APIVersion,
		phoneNumberID: cfg.PhoneNumberID,
		token:         cfg.Token,
	}
}

// SendText delivers a plain text message to the recipient.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": truncate(body, maxBodyLen)},
	}
	return c.post(ctx, "send_text", to, payload)
}

// SendButtons delivers a message with up to three quick-reply buttons.
// Extra buttons are dropped and long titles shortened to what the API allows.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) error {
	if len(buttons) == 0 {
		return c.SendText(ctx, to, body)
	}
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	btns := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		btns = append(btns, map[string]any{
			"type": "reply",
			"reply": map[string]any{
				"id":    b.ID,
				"title": truncate(b.Title, maxButtonTitleLen),
			},
		})
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": truncate(body, maxBodyLen)},
			"action": map[string]any{"buttons": btns},
		},
	}
	return c.post(ctx, "send_buttons", to, payload)
}

func (c *Client) post(ctx context.Context, action, to string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wa encode: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("wa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		logger.WA.Error("send failed",
			slog.String("event", "wa.send"),
			slog.String("action", action),
			slog.String("sender", logger.MaskSender(to)),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", SanitizeError(err)),
		)
		return fmt.Errorf("wa send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if logger.ShouldSampleDebug() {
			logger.WA.Debug("send ok",
				slog.String("event", "wa.send"),
				slog.String("action", action),
				slog.String("sender", logger.MaskSender(to)),
				slog.Int("http_code", resp.StatusCode),
				slog.Duration("duration", logger.Took(start)),
			)
		}
		return nil
	}

	apiErr := decodeAPIError(resp)
	logger.WA.Error("send rejected",
		slog.String("event", "wa.send"),
		slog.String("action", action),
		slog.String("sender", logger.MaskSender(to)),
		slog.Int("http_code", resp.StatusCode),
		slog.Int("code", apiErr.Code),
		slog.Duration("duration", logger.Took(start)),
		slog.String("err", SanitizeError(apiErr)),
	)
	return apiErr
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{HTTPStatus: resp.StatusCode, Message: resp.Status}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	if err != nil {
		return apiErr
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Code = body.Error.Code
	}
	return apiErr
}

// SanitizeError strips access tokens from error text before logging.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "$1<redacted>")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
