// Package auth verifies access tokens issued by the managed auth service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"saferoute/internal/models"
)

// CookieName holds the access token for browser sessions
const CookieName = "sb-access-token"

// MinSecretLength is the shortest signing secret accepted from configuration
const MinSecretLength = 32

var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
	ErrEmptySecret  = errors.New("token signing secret is empty")
)

// Claims mirrors the fields the auth service puts in its tokens
type Claims struct {
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens
type Verifier struct {
	secret   []byte
	audience string
	issuer   string
}

// NewVerifier creates a verifier; audience and issuer are checked when set
func NewVerifier(secret, audience, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	return &Verifier{secret: []byte(secret), audience: audience, issuer: issuer}, nil
}

// Verify parses token and returns the user it identifies
func (v *Verifier) Verify(token string) (*models.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, ErrEmptySecret)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	user := &models.User{ID: claims.Subject, Email: claims.Email}
	if name, ok := claims.UserMetadata["name"].(string); ok {
		user.Name = name
	} else if name, ok := claims.UserMetadata["full_name"].(string); ok {
		user.Name = name
	}
	return user, nil
}

// Issue signs a token for user; used for local development and tests
func (v *Verifier) Issue(user models.User, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrEmptySecret
	}
	now := time.Now()
	claims := Claims{
		Email:        user.Email,
		UserMetadata: map[string]any{"name": user.Name},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	if v.issuer != "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest returns the bearer token or the session cookie value
func TokenFromRequest(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("Bearer "):])
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

type ctxKey struct{}

// WithUser stores user on ctx
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFrom returns the authenticated user, or nil
func UserFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(ctxKey{}).(*models.User)
	return u
}
