package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/wabot/core/bot"
	"github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTurns struct {
	events []bot.Event
}

func (f *fakeTurns) HandleEvent(_ context.Context, ev bot.Event) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeDeletions struct {
	purged []string
	known  map[string]*store.Deletion
}

func (f *fakeDeletions) PurgeByExternalID(_ context.Context, externalID string) (string, error) {
	f.purged = append(f.purged, externalID)
	return "code-123", nil
}

func (f *fakeDeletions) Status(_ context.Context, code string) (*store.Deletion, error) {
	return f.known[code], nil
}

func testServer() (*Server, *fakeTurns, *fakeDeletions) {
	turns := &fakeTurns{}
	deletions := &fakeDeletions{known: map[string]*store.Deletion{}}
	cfg := &config.Config{}
	cfg.WhatsApp.VerifyToken = "verify-me"
	cfg.WhatsApp.AppSecret = "appsecret"
	cfg.HTTP.Listen = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.HTTP.PublicURL = "https://bot.example.org"
	return NewServer(cfg, turns, deletions), turns, deletions
}

func TestHandshakeAcceptsValidToken(t *testing.T) {
	s, _, _ := testServer()
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42abc", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42abc", rec.Body.String())
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	s, _, _ := testServer()
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func signBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const sampleWebhook = `{
  "entry": [{
    "changes": [{
      "value": {
        "contacts": [{"wa_id": "491701234567", "profile": {"name": "Alex"}}],
        "messages": [{
          "from": "491701234567",
          "id": "wamid.test1",
          "type": "text",
          "text": {"body": "hello"}
        }]
      }
    }]
  }]
}`

func TestInboundDispatchesTextEvent(t *testing.T) {
	s, turns, _ := testServer()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(sampleWebhook))
	req.Header.Set("X-Hub-Signature-256", signBody(sampleWebhook, "appsecret"))
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, turns.events, 1)
	ev := turns.events[0]
	assert.Equal(t, "491701234567", ev.Sender)
	assert.Equal(t, "wamid.test1", ev.EventID)
	assert.Equal(t, bot.EventText, ev.Type)
	assert.Equal(t, "hello", ev.Text)
	assert.Equal(t, "Alex", ev.ProfileName)
}

func TestInboundRejectsBadSignature(t *testing.T) {
	s, turns, _ := testServer()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(sampleWebhook))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, turns.events)
}

func TestInboundSkipsStatuses(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.x","status":"delivered"}]}}]}]}`
	s, turns, _ := testServer()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody(body, "appsecret"))
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, turns.events)
}

func TestStatusCountTalliesAcrossChanges(t *testing.T) {
	body := `{"entry":[
	  {"changes":[{"value":{"statuses":[{"id":"wamid.a","status":"sent"},{"id":"wamid.a","status":"delivered"}]}}]},
	  {"changes":[{"value":{"statuses":[{"id":"wamid.b","status":"read"}]}}]}
	]}`
	var payload webhookPayload
	require.NoError(t, json.Unmarshal([]byte(body), &payload))

	assert.Equal(t, 3, payload.statusCount())
	assert.Empty(t, normalizeEvents(payload))
}

func TestInboundButtonReply(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{"messages":[{
	  "from":"491701234567","id":"wamid.b1","type":"interactive",
	  "interactive":{"type":"button_reply","button_reply":{"id":"menu_callback","title":"Request callback"}}
	}]}}]}]}`
	s, turns, _ := testServer()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody(body, "appsecret"))
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Len(t, turns.events, 1)
	assert.Equal(t, bot.EventButton, turns.events[0].Type)
	assert.Equal(t, "menu_callback", turns.events[0].ButtonID)
}

func TestInboundMediaCaption(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{"messages":[{
	  "from":"491701234567","id":"wamid.m1","type":"image",
	  "image":{"id":"media-1","caption":"please call me"}
	}]}}]}]}`
	s, turns, _ := testServer()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody(body, "appsecret"))
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Len(t, turns.events, 1)
	assert.Equal(t, bot.EventMedia, turns.events[0].Type)
	assert.Equal(t, "please call me", turns.events[0].Caption)
}

func TestDataDeletionEndpoint(t *testing.T) {
	s, _, deletions := testServer()
	signed := signRequest(t, `{"user_id":"1029384756"}`, "appsecret")
	form := url.Values{"signed_request": {signed}}
	req := httptest.NewRequest(http.MethodPost, "/data-deletion", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"1029384756"}, deletions.purged)
	assert.Contains(t, rec.Body.String(), "code-123")
	assert.Contains(t, rec.Body.String(), "https://bot.example.org/data-deletion/status/code-123")
}

func TestDataDeletionRejectsBadSignature(t *testing.T) {
	s, _, deletions := testServer()
	signed := signRequest(t, `{"user_id":"1029384756"}`, "wrongsecret")
	form := url.Values{"signed_request": {signed}}
	req := httptest.NewRequest(http.MethodPost, "/data-deletion", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, deletions.purged)
}

func TestDeletionStatus(t *testing.T) {
	s, _, deletions := testServer()
	deletions.known["code-123"] = &store.Deletion{
		ConfirmationCode: "code-123",
		SubjectID:        "1029384756",
		RequestedAt:      time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		Status:           store.DeletionCompleted,
	}

	req := httptest.NewRequest(http.MethodGet, "/data-deletion/status/code-123", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)

	req = httptest.NewRequest(http.MethodGet, "/data-deletion/status/unknown", nil)
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
