package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_UsesConfiguredTTL(t *testing.T) {
	ttl := 2 * time.Hour
	tm := NewTokenManager("test-secret", ttl)

	start := time.Now()

	token, err := tm.GenerateToken("42", "EMPLOYEE", "7")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	require.NotNil(t, claims.ExpiresAt)

	expectedExpiry := start.Add(ttl)
	assert.WithinDuration(t, expectedExpiry, claims.ExpiresAt.Time, 2*time.Second)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, "7", claims.TeamID)
}

func TestTokenManager_RejectsForeignSecret(t *testing.T) {
	token, err := NewTokenManager("secret-a", time.Hour).GenerateToken("42", "ADMIN", "")
	require.NoError(t, err)

	_, err = NewTokenManager("secret-b", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestIdentityFromToken(t *testing.T) {
	t.Run("explicit claims", func(t *testing.T) {
		token, err := NewTokenManager("s", time.Hour).GenerateToken("42", "TEAM_LEAD", "7")
		require.NoError(t, err)

		identity, claims, err := IdentityFromToken(token)

		require.NoError(t, err)
		assert.Equal(t, "42", identity.UserID)
		assert.Equal(t, "TEAM_LEAD", identity.Role)
		assert.Equal(t, token, identity.Token)
		assert.Equal(t, "7", claims.TeamID)
	})

	t.Run("subject and scope", func(t *testing.T) {
		raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":   "99",
			"scope": "ROLE_PROJECT_MANAGER task:read",
		})
		token, err := raw.SignedString([]byte("unknown-to-client"))
		require.NoError(t, err)

		identity, _, err := IdentityFromToken(token)

		require.NoError(t, err)
		assert.Equal(t, "99", identity.UserID)
		assert.Equal(t, "PROJECT_MANAGER", identity.Role)
	})

	t.Run("no user", func(t *testing.T) {
		raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"scope": "ROLE_ADMIN"})
		token, err := raw.SignedString([]byte("k"))
		require.NoError(t, err)

		_, _, err = IdentityFromToken(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := IdentityFromToken("not-a-token")
		assert.Error(t, err)
	})
}
