package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhub/fanout/internal/apperr"
	"github.com/relayhub/fanout/internal/cache"
	"github.com/relayhub/fanout/internal/config"
	"github.com/relayhub/fanout/internal/identity"
)

func identityFixture() identity.Identity {
	return identity.Identity{UserID: 99, Role: identity.RoleMember}
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	disabledCache, err := cache.NewCache(cache.Config{Enabled: false})
	require.NoError(t, err)
	cfg := &config.Config{
		JWTSecret:          "test-secret-test-secret-32bytes",
		CredentialCacheTTL: 30 * time.Second,
	}
	return New(cfg, disabledCache)
}

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerify_MissingCredential(t *testing.T) {
	v := newTestVerifier(t)
	_, err := v.Verify(context.Background(), "")
	require.Error(t, err)
	appErr, ok := err.(*apperr.AppError)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeAuthMissing, appErr.Code)
}

func TestVerify_ValidJWT(t *testing.T) {
	v := newTestVerifier(t)
	now := time.Now()
	claims := Claims{
		UserID: 42,
		Role:   "member",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := signToken(t, "test-secret-test-secret-32bytes", claims)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.UserID)
	assert.Equal(t, "member", string(id.Role))
}

func TestVerify_ExpiredJWT(t *testing.T) {
	v := newTestVerifier(t)
	now := time.Now()
	claims := Claims{
		UserID: 1,
		Role:   "member",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	}
	token := signToken(t, "test-secret-test-secret-32bytes", claims)

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	appErr, ok := err.(*apperr.AppError)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeAuthExpired, appErr.Code)
}

func TestVerify_MalformedCredential(t *testing.T) {
	v := newTestVerifier(t)
	_, err := v.Verify(context.Background(), "not-a-valid-token")
	require.Error(t, err)
	appErr, ok := err.(*apperr.AppError)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeAuthMalformed, appErr.Code)
}

func TestVerify_CachesResult(t *testing.T) {
	v := newTestVerifier(t)
	now := time.Now()
	claims := Claims{
		UserID: 7,
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := signToken(t, "test-secret-test-secret-32bytes", claims)

	_, err := v.Verify(context.Background(), token)
	require.NoError(t, err)

	fp := fingerprint(token)
	id, ok := v.getCached(context.Background(), fp)
	require.True(t, ok)
	assert.Equal(t, int64(7), id.UserID)
}

func TestFlushCache(t *testing.T) {
	v := newTestVerifier(t)
	v.setCached(context.Background(), "abc", identityFixture(), time.Minute)
	v.FlushCache(context.Background())
	_, ok := v.getCached(context.Background(), "abc")
	assert.False(t, ok)
}

func TestParseOpaqueUserID(t *testing.T) {
	id, ok := parseOpaqueUserID("123|opaque-value")
	require.True(t, ok)
	assert.Equal(t, int64(123), id)

	_, ok = parseOpaqueUserID("not-opaque")
	assert.False(t, ok)
}
