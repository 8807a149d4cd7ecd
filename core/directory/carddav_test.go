package directory

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m3rciful/wabot/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectory(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.DirectoryConfig{
		URL:         srv.URL,
		User:        "bot",
		Password:    "pw",
		Addressbook: "contacts",
	})
}

func TestUploadPutsVCard(t *testing.T) {
	var method, path, body string
	c := testDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, c.Upload(context.Background(), "491701234567", "Alex Example"))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/bot/contacts/491701234567.vcf", path)
	assert.Contains(t, body, "BEGIN:VCARD")
	assert.Contains(t, body, "FN:Alex Example")
	assert.Contains(t, body, "TEL;TYPE=CELL:491701234567")
}

func TestDeleteToleratesNotFound(t *testing.T) {
	c := testDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, c.Delete(context.Background(), "491701234567"))
}

func TestDeleteSurfacesServerError(t *testing.T) {
	c := testDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	assert.Error(t, c.Delete(context.Background(), "491701234567"))
}

func TestDisabledClientIsNoop(t *testing.T) {
	c := NewClient(config.DirectoryConfig{})
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Upload(context.Background(), "491701234567", "x"))
	assert.NoError(t, c.Delete(context.Background(), "491701234567"))
}

func TestBuildVCardEscapes(t *testing.T) {
	card := buildVCard("4917012345", "Doe; John")
	assert.Contains(t, card, "FN:Doe\\; John")
}
