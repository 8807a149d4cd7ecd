package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m3rciful/wabot/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.WhatsAppConfig{
		Token:         "secret-token",
		PhoneNumberID: "1234567890",
		APIBaseURL:    srv.URL,
		APIVersion:    "v21.0",
	})
}

func TestSendTextPayload(t *testing.T) {
	var got map[string]any
	var auth, path string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.SendText(context.Background(), "491701234567", "hello"))
	assert.Equal(t, "Bearer secret-token", auth)
	assert.Equal(t, "/v21.0/1234567890/messages", path)
	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "text", got["type"])
	assert.Equal(t, "491701234567", got["to"])
	text := got["text"].(map[string]any)
	assert.Equal(t, "hello", text["body"])
}

func TestSendButtonsPayload(t *testing.T) {
	var got map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.WriteHeader(http.StatusOK)
	})

	err := c.SendButtons(context.Background(), "491701234567", "pick one", []Button{
		{ID: "yes", Title: "Yes"},
		{ID: "no", Title: "a very long button title that exceeds limits"},
	})
	require.NoError(t, err)

	assert.Equal(t, "interactive", got["type"])
	inter := got["interactive"].(map[string]any)
	action := inter["action"].(map[string]any)
	btns := action["buttons"].([]any)
	require.Len(t, btns, 2)
	second := btns[1].(map[string]any)["reply"].(map[string]any)
	assert.Len(t, second["title"].(string), maxButtonTitleLen)
}

func TestSendButtonsCapsAtThree(t *testing.T) {
	var got map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.WriteHeader(http.StatusOK)
	})

	btns := []Button{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}, {ID: "c", Title: "C"}, {ID: "d", Title: "D"}}
	require.NoError(t, c.SendButtons(context.Background(), "491701234567", "pick", btns))
	inter := got["interactive"].(map[string]any)
	action := inter["action"].(map[string]any)
	assert.Len(t, action["buttons"].([]any), maxButtons)
}

func TestSendTextTruncatesBody(t *testing.T) {
	var got map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.SendText(context.Background(), "491701234567", strings.Repeat("x", maxBodyLen+50)))
	text := got["text"].(map[string]any)
	assert.Len(t, text["body"].(string), maxBodyLen)
}

func TestSendTextAPIError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid recipient","code":131026}}`))
	})

	err := c.SendText(context.Background(), "0", "hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, 131026, apiErr.Code)
	assert.Contains(t, apiErr.Message, "Invalid recipient")
}

func TestSanitizeError(t *testing.T) {
	err := errors.New(`Get "https://graph.example/v21.0/me?access_token=abc.DEF-123": boom`)
	assert.NotContains(t, SanitizeError(err), "abc.DEF-123")
	assert.Contains(t, SanitizeError(err), "access_token=<redacted>")
}

func TestShouldRetryAPIError(t *testing.T) {
	assert.True(t, ShouldRetry(&APIError{HTTPStatus: 503}))
	assert.True(t, ShouldRetry(&APIError{HTTPStatus: 429}))
	assert.False(t, ShouldRetry(&APIError{HTTPStatus: 400}))
	assert.False(t, ShouldRetry(nil))
}
