package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-characters-long!!"

func newTestManager() *TokenManager {
	return NewTokenManager(testSecret, "quantcal-auth", "quantcal-app", 15*time.Minute, 7*24*time.Hour)
}

func TestTokenRoundTrip(t *testing.T) {
	tm := newTestManager()

	tokenString, err := tm.GenerateAccessToken("user-1", "user@example.com", "user", "sess-1")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(tokenString)
	require.NoError(t, err)

	assert.Equal(t, TokenTypeAccess, claims.Type)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "quantcal-auth", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_RejectsWrongSecret(t *testing.T) {
	tm := newTestManager()
	other := NewTokenManager("another-secret-32-characters-ok!", "quantcal-auth", "quantcal-app", 15*time.Minute, 7*24*time.Hour)

	tokenString, err := other.GenerateAccessToken("user-1", "user@example.com", "user", "sess-1")
	require.NoError(t, err)

	_, err = tm.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestValidateToken_RejectsExpired(t *testing.T) {
	tm := newTestManager()

	past := time.Now().Add(-time.Hour)
	tm.SetNow(func() time.Time { return past })

	tokenString, err := tm.GenerateAccessToken("user-1", "user@example.com", "user", "sess-1")
	require.NoError(t, err)

	// Restore the real clock; the token issued an hour ago with a
	// 15-minute lifetime is now expired despite a valid signature.
	tm.SetNow(time.Now)

	_, err = tm.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestValidateToken_RejectsWrongIssuer(t *testing.T) {
	issued := NewTokenManager(testSecret, "someone-else", "quantcal-app", 15*time.Minute, 7*24*time.Hour)
	tm := newTestManager()

	tokenString, err := issued.GenerateAccessToken("user-1", "user@example.com", "user", "sess-1")
	require.NoError(t, err)

	_, err = tm.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestValidateToken_RejectsWrongAudience(t *testing.T) {
	issued := NewTokenManager(testSecret, "quantcal-auth", "other-app", 15*time.Minute, 7*24*time.Hour)
	tm := newTestManager()

	tokenString, err := issued.GenerateAccessToken("user-1", "user@example.com", "user", "sess-1")
	require.NoError(t, err)

	_, err = tm.ValidateToken(tokenString)
	assert.Error(t, err)
}

func TestValidateToken_RejectsMalformed(t *testing.T) {
	tm := newTestManager()

	for _, token := range []string{"", "garbage", "a.b", "a.b.c"} {
		_, err := tm.ValidateToken(token)
		assert.Error(t, err, "token %q should be rejected", token)
	}
}

func TestRefreshTokenType(t *testing.T) {
	tm := newTestManager()

	tokenString, err := tm.GenerateRefreshToken("user-1", "user@example.com", "user", "sess-1")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, claims.Type)
}
