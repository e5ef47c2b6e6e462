package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saferoute/internal/models"
)

func newTestVerifier(t *testing.T, secret, audience string) *Verifier {
	t.Helper()
	v, err := NewVerifier(secret, audience, "")
	require.NoError(t, err)
	return v
}

func signWith(t *testing.T, key []byte, subject string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(key)
	require.NoError(t, err)
	return tok
}

func TestVerify(t *testing.T) {
	v := newTestVerifier(t, "super-secret", "authenticated")

	t.Run("round trip", func(t *testing.T) {
		tok, err := v.Issue(models.User{ID: "u1", Email: "priya@example.com", Name: "Priya"}, time.Hour)
		require.NoError(t, err)

		u, err := v.Verify(tok)
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
		assert.Equal(t, "priya@example.com", u.Email)
		assert.Equal(t, "Priya", u.Name)
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := v.Issue(models.User{ID: "u1"}, -time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := newTestVerifier(t, "other", "authenticated").Issue(models.User{ID: "u1"}, time.Hour)
		require.NoError(t, err)

		_, err = v.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		tok, err := newTestVerifier(t, "super-secret", "anon").Issue(models.User{ID: "u1"}, time.Hour)
		require.NoError(t, err)

		_, err = v.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects other algorithms", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
			Subject:   "u1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte("super-secret"))
		require.NoError(t, err)

		_, err = v.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := v.Verify("  ")
		assert.ErrorIs(t, err, ErrMissingToken)
	})
}

func TestVerifyFullNameMetadata(t *testing.T) {
	v := newTestVerifier(t, "s", "")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:        "a@example.com",
		UserMetadata: map[string]any{"full_name": "Asha Rao"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("s"))
	require.NoError(t, err)

	u, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", u.DisplayName())
}

func TestNewVerifierRejectsEmptySecret(t *testing.T) {
	_, err := NewVerifier("", "", "")
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, err = NewVerifier("   ", "", "")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestEmptyKeyTokenRejected(t *testing.T) {
	forged := signWith(t, []byte(""), "victim-user-id")

	t.Run("configured verifier", func(t *testing.T) {
		_, err := newTestVerifier(t, "super-secret", "").Verify(forged)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("zero value verifier", func(t *testing.T) {
		var v Verifier
		_, err := v.Verify(forged)
		assert.ErrorIs(t, err, ErrInvalidToken)

		_, err = v.Issue(models.User{ID: "u1"}, time.Hour)
		assert.ErrorIs(t, err, ErrEmptySecret)
	})
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", TokenFromRequest(r))
}

func TestUserContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, UserFrom(ctx))

	u := &models.User{ID: "u1"}
	assert.Same(t, u, UserFrom(WithUser(ctx, u)))
}
