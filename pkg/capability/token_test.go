package capability

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

func TestTokenWireFormat(t *testing.T) {
	token := Token{
		ToolID:         "scanner",
		Caller:         "agent-1",
		AllowedActions: []string{"read", "write"},
		Exp:            time.Now().Unix() + 60,
		Iat:            time.Now().Unix(),
	}

	tokenString, err := encode(token, testKey)
	require.NoError(t, err)

	t.Run("payload dot signature", func(t *testing.T) {
		parts := strings.Split(tokenString, ".")
		require.Len(t, parts, 2)

		payload, err := base64.StdEncoding.DecodeString(parts[0])
		require.NoError(t, err)
		assert.Contains(t, string(payload), `"tool_id":"scanner"`)
		assert.Contains(t, string(payload), `"caller":"agent-1"`)

		// hex HMAC-SHA256 is 64 characters
		assert.Len(t, parts[1], 64)
	})

	t.Run("round trip", func(t *testing.T) {
		decoded, err := decode(tokenString, testKey)
		require.NoError(t, err)
		assert.Equal(t, token, decoded)
	})
}

func TestDecodeRejections(t *testing.T) {
	token := Token{ToolID: "scanner", Caller: "agent-1", Exp: time.Now().Unix() + 60, Iat: time.Now().Unix()}
	tokenString, err := encode(token, testKey)
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := decode(tokenString, []byte("other-key"))
		assert.Error(t, err)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(tokenString, ".")
		forged := Token{ToolID: "admin-tool", Caller: "agent-1", Exp: token.Exp, Iat: token.Iat}
		forgedString, err := encode(forged, []byte("attacker-key"))
		require.NoError(t, err)
		forgedPayload := strings.Split(forgedString, ".")[0]

		_, err = decode(forgedPayload+"."+parts[1], testKey)
		assert.Error(t, err)
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := decode("notatoken", testKey)
		assert.Error(t, err)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := decode("!!!.deadbeef", testKey)
		assert.Error(t, err)
	})
}

func TestTokenExpiredAt(t *testing.T) {
	now := time.Now()

	t.Run("valid strictly before exp", func(t *testing.T) {
		token := Token{Iat: now.Unix(), Exp: now.Unix() + 10}
		assert.False(t, token.ExpiredAt(now))
	})

	t.Run("expired at exp", func(t *testing.T) {
		token := Token{Iat: now.Unix() - 10, Exp: now.Unix()}
		assert.True(t, token.ExpiredAt(now))
	})

	t.Run("zero ttl is never valid", func(t *testing.T) {
		token := Token{Iat: now.Unix(), Exp: now.Unix()}
		assert.True(t, token.ExpiredAt(now))
	})
}

func TestTokenAllows(t *testing.T) {
	token := Token{ToolID: "scanner", AllowedActions: []string{"read", "list"}}

	assert.True(t, token.Allows("scanner", "read"))
	assert.True(t, token.Allows("scanner", "list"))
	assert.False(t, token.Allows("scanner", "delete"))
	assert.False(t, token.Allows("other-tool", "read"))

	wildcard := Token{ToolID: "scanner", AllowedActions: []string{"*"}}
	assert.True(t, wildcard.Allows("scanner", "anything"))
	assert.False(t, wildcard.Allows("other-tool", "anything"))
}
