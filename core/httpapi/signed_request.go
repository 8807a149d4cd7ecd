package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errBadSignature = errors.New("signed request: signature mismatch")

// SignedRequest is the decoded payload of a platform deletion callback.
type SignedRequest struct {
	UserID    string `json:"user_id"`
	Algorithm string `json:"algorithm"`
	IssuedAt  int64  `json:"issued_at"`
}

// ParseSignedRequest verifies and decodes a Meta signed_request value:
// two base64url segments, a raw HMAC-SHA256 signature over the encoded
// payload and the JSON payload itself. The comparison is constant time.
func ParseSignedRequest(signed, appSecret string) (*SignedRequest, error) {
	parts := strings.SplitN(signed, ".", 2)
	if len(parts) != 2 {
		return nil, errors.New("signed request: malformed")
	}
	sig, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[0], "="))
	if err != nil {
		return nil, fmt.Errorf("signed request: bad signature encoding: %w", err)
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("signed request: bad payload encoding: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, errBadSignature
	}

	var req SignedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("signed request: bad payload: %w", err)
	}
	if req.UserID == "" {
		return nil, errors.New("signed request: missing user_id")
	}
	return &req, nil
}

// VerifyWebhookSignature checks the X-Hub-Signature-256 header against
// the raw request body. An empty secret disables verification.
func VerifyWebhookSignature(body []byte, header, appSecret string) bool {
	if appSecret == "" {
		return true
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(want, mac.Sum(nil))
}
