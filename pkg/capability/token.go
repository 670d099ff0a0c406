// Package capability implements the capability token authority: minting,
// verifying and revoking short-lived HMAC-signed tokens that grant a caller
// scoped access to a named tool.
package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Token is the payload of a capability token. A token grants Caller the
// AllowedActions on ToolID between Iat and Exp (unix seconds). Tokens are
// immutable once minted.
type Token struct {
	ToolID         string         `json:"tool_id"`
	Caller         string         `json:"caller"`
	AllowedActions []string       `json:"allowed_actions"`
	Exp            int64          `json:"exp"`
	Iat            int64          `json:"iat"`
	Scope          map[string]any `json:"scope,omitempty"`
}

// ExpiredAt reports whether the token is expired at the given instant.
// A token is valid strictly before Exp, so a zero-TTL token (Exp == Iat) is
// never valid.
func (t Token) ExpiredAt(now time.Time) bool {
	return now.Unix() >= t.Exp
}

// Allows reports whether the token permits action on toolID. The wildcard
// action "*" permits every action on the token's tool.
func (t Token) Allows(toolID, action string) bool {
	if t.ToolID != toolID {
		return false
	}
	for _, a := range t.AllowedActions {
		if a == action || a == "*" {
			return true
		}
	}
	return false
}

// encode serializes and signs a token. The wire format is
// base64(JSON payload) + "." + hex(HMAC-SHA256(payload, key)).
func encode(token Token, key []byte) (string, error) {
	payload, err := json.Marshal(token)
	if err != nil {
		return "", errors.Wrap(err, "marshaling token payload")
	}
	return base64.StdEncoding.EncodeToString(payload) + "." + signPayload(payload, key), nil
}

// decode parses a token string and verifies its signature. The signature
// comparison is constant time.
func decode(tokenString string, key []byte) (Token, error) {
	var token Token

	parts := strings.Split(tokenString, ".")
	if len(parts) != 2 {
		return token, errors.New("malformed token: expected payload.signature")
	}

	payload, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return token, errors.Wrap(err, "decoding token payload")
	}

	expected := signPayload(payload, key)
	if !hmac.Equal([]byte(parts[1]), []byte(expected)) {
		return token, errors.New("token signature mismatch")
	}

	if err := json.Unmarshal(payload, &token); err != nil {
		return token, errors.Wrap(err, "unmarshaling token payload")
	}
	return token, nil
}

func signPayload(payload, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// fingerprint returns a short non-reversible identifier for a token string,
// safe to include in logs and audit events.
func fingerprint(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])[:12]
}
