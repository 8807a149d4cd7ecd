package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/m3rciful/wabot/core/bot"
	"github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/store"
	"log/slog"
)

// TurnHandler processes one normalized inbound event.
type TurnHandler interface {
	HandleEvent(ctx context.Context, ev bot.Event) error
}

// DeletionService executes externally triggered purges and reports
// their status.
type DeletionService interface {
	PurgeByExternalID(ctx context.Context, externalID string) (string, error)
	Status(ctx context.Context, code string) (*store.Deletion, error)
}

// Server is the webhook front door: provider handshake, signed inbound
// messages, and the data-deletion callback endpoints.
type Server struct {
	echo        *echo.Echo
	turns       TurnHandler
	deletions   DeletionService
	verifyToken string
	appSecret   string
	publicURL   string
	listenAddr  string
}

// NewServer builds the HTTP server and registers its routes.
func NewServer(cfg *config.Config, turns TurnHandler, deletions DeletionService) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:        e,
		turns:       turns,
		deletions:   deletions,
		verifyToken: cfg.WhatsApp.VerifyToken,
		appSecret:   cfg.WhatsApp.AppSecret,
		publicURL:   cfg.HTTP.PublicURL,
		listenAddr:  fmt.Sprintf("%s:%d", cfg.HTTP.Listen, cfg.HTTP.Port),
	}

	e.GET("/webhook", s.handshake)
	e.POST("/webhook", s.inbound)
	e.POST("/data-deletion", s.dataDeletion)
	e.GET("/data-deletion/status/:code", s.deletionStatus)
	e.GET("/healthz", s.health)

	return s
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	logger.HTTP.Info("listening",
		slog.String("event", "http.start"),
		slog.String("listen", s.listenAddr),
		slog.String("public_url", s.publicURL),
	)
	err := s.echo.Start(s.listenAddr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handshake answers the provider's subscription challenge.
func (s *Server) handshake(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode != "subscribe" || token != s.verifyToken {
		logger.HTTP.Warn("handshake rejected",
			slog.String("event", "http.handshake"),
			slog.String("mode", mode),
		)
		return c.NoContent(http.StatusForbidden)
	}
	return c.String(http.StatusOK, challenge)
}

// inbound verifies the webhook signature, normalizes every message in
// the batch, and runs the turns. The provider retries on non-2xx, so the
// answer is 200 even when individual turns fail; failures are logged and
// the dedup gate absorbs the redelivery.
func (s *Server) inbound(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if !VerifyWebhookSignature(body, c.Request().Header.Get("X-Hub-Signature-256"), s.appSecret) {
		logger.HTTP.Warn("signature rejected",
			slog.String("event", "http.webhook"),
			slog.Int("http_code", http.StatusForbidden),
		)
		return c.NoContent(http.StatusForbidden)
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.HTTP.Warn("payload rejected",
			slog.String("event", "http.webhook"),
			slog.String("err", err.Error()),
		)
		return c.NoContent(http.StatusBadRequest)
	}

	if n := payload.statusCount(); n > 0 {
		logger.HTTP.Debug("status updates skipped",
			slog.String("event", "http.webhook"),
			slog.Int("statuses", n),
		)
	}

	ctx := c.Request().Context()
	for _, ev := range normalizeEvents(payload) {
		if err := s.turns.HandleEvent(ctx, ev); err != nil {
			logger.HTTP.Error("turn failed",
				slog.String("event", "http.webhook"),
				slog.String("sender", logger.MaskSender(ev.Sender)),
				slog.String("err", err.Error()),
			)
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func normalizeEvents(payload webhookPayload) []bot.Event {
	var events []bot.Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := map[string]string{}
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}
			// Delivery receipts arrive as statuses and carry no message.
			for _, msg := range change.Value.Messages {
				ev := bot.Event{
					Sender:      msg.From,
					EventID:     msg.ID,
					ProfileName: names[msg.From],
				}
				switch {
				case msg.Type == "text":
					ev.Type = bot.EventText
					ev.Text = msg.Text.Body
				case msg.Type == "interactive" && msg.Interactive.Type == "button_reply":
					ev.Type = bot.EventButton
					ev.ButtonID = msg.Interactive.ButtonReply.ID
				case msg.Type == "interactive" && msg.Interactive.Type == "list_reply":
					ev.Type = bot.EventList
					ev.ButtonID = msg.Interactive.ListReply.ID
				case msg.isMedia():
					ev.Type = bot.EventMedia
					ev.Caption = msg.caption()
				default:
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events
}

// dataDeletion handles the platform's signed deletion callback. The
// signature must verify before any purge runs; a failure is a hard 403
// with no side effects.
func (s *Server) dataDeletion(c echo.Context) error {
	signed := c.FormValue("signed_request")
	if signed == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing signed_request"})
	}

	req, err := ParseSignedRequest(signed, s.appSecret)
	if err != nil {
		logger.HTTP.Warn("deletion callback rejected",
			slog.String("event", "http.deletion"),
			slog.String("err", err.Error()),
		)
		return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid signature"})
	}

	start := time.Now()
	code, err := s.deletions.PurgeByExternalID(c.Request().Context(), req.UserID)
	if err != nil {
		logger.HTTP.Error("deletion failed",
			slog.String("event", "http.deletion"),
			slog.String("err", err.Error()),
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "deletion failed"})
	}

	logger.HTTP.Info("deletion accepted",
		slog.String("event", "http.deletion"),
		slog.String("code", code),
		slog.Duration("duration", logger.Took(start)),
	)
	return c.JSON(http.StatusOK, map[string]string{
		"url":               fmt.Sprintf("%s/data-deletion/status/%s", s.publicURL, code),
		"confirmation_code": code,
	})
}

func (s *Server) deletionStatus(c echo.Context) error {
	code := c.Param("code")
	d, err := s.deletions.Status(c.Request().Context(), code)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
	}
	if d == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown code"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"confirmation_code": d.ConfirmationCode,
		"status":            d.Status,
		"requested_at":      d.RequestedAt.UTC().Format(time.RFC3339),
	})
}
