package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	secret := "token-test-secret"

	payload := &Payload{ID: "u1", Username: "alice"}
	tokenString, err := GenerateToken(payload, secret, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	parsed, err := ParseToken(tokenString, secret)
	require.NoError(t, err)
	require.Equal(t, "u1", parsed.ID)
	require.Equal(t, "alice", parsed.Username)
	require.Equal(t, TokenIssuer, parsed.Issuer)
	require.Greater(t, parsed.ExpiresAt, time.Now().Unix())
}

func TestParseToken_WrongSecret(t *testing.T) {
	tokenString, err := GenerateToken(&Payload{ID: "u1"}, "secret-a", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(tokenString, "secret-b")
	require.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	tokenString, err := GenerateToken(&Payload{ID: "u1"}, "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(tokenString, "secret")
	require.Error(t, err)
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken("definitely-not-a-token", "secret")
	require.Error(t, err)
}
