// Package auth issues and validates the JWT session tokens the single web
// user carries when calling admin routes and starting a pairing exchange
// (spec §11's golang-jwt wiring). There is no user store: this system is
// explicitly single-user (non-goal: multi-tenancy), so a session is just a
// signed assertion that the bearer holds the configured signing key's
// matching login secret.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fernfall/dayline/internal/platform/apperr"
)

type contextKey string

const claimsContextKey contextKey = "session_claims"

// Claims is the session payload issued after login.
type Claims struct {
	jwt.RegisteredClaims
	Subject string `json:"sub"`
}

// SessionManager signs and validates the web session bearer token.
type SessionManager struct {
	signingKey []byte
	ttl        time.Duration
}

// NewSessionManager builds a SessionManager. ttl defaults to 24h.
func NewSessionManager(signingKey string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{signingKey: []byte(signingKey), ttl: ttl}
}

// Issue mints a signed session token for subject (the configured admin
// user's login name).
func (m *SessionManager) Issue(subject string) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.ttl)
	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.ClassServerTransient, "sign session token", err)
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies a bearer token string.
func (m *SessionManager) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return m.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, apperr.Wrap(apperr.ClassAuth, "invalid session token", err)
	}
	return claims, nil
}

// ValidateRequest extracts and validates the bearer token from an
// Authorization header.
func (m *SessionManager) ValidateRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, apperr.New(apperr.ClassAuth, "missing bearer session token")
	}
	return m.Validate(strings.TrimPrefix(header, prefix))
}

// WithClaims attaches validated claims to a request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFrom retrieves claims previously attached by WithClaims.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}
