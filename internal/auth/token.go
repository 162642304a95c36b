// Package auth issues and verifies identity tokens, hashes passwords and
// guards HTTP routes with the verified identity.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/dmchat/internal/apperr"
)

// CookieName is the cookie that carries the identity token.
const CookieName = "jwt"

// DefaultTTL is the fixed lifetime of an issued token.
const DefaultTTL = 7 * 24 * time.Hour

// Tokens issues and verifies HS256 identity tokens bound to a user id.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures Tokens.
type Option func(*Tokens)

// WithClock overrides the clock used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokens creates a token issuer. A non-positive ttl falls back to DefaultTTL.
func NewTokens(secret []byte, ttl time.Duration, opts ...Option) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tokens{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TTL returns the lifetime of issued tokens.
func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token embedding userID and its expiry.
func (t *Tokens) Issue(userID string) (string, error) {
	if userID == "" {
		return "", apperr.Validation("user id is required")
	}

	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify returns the user id bound to a valid, unexpired token.
func (t *Tokens) Verify(token string) (string, error) {
	if token == "" {
		return "", apperr.Unauthenticated("Unauthorized - No Token Provided")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperr.Unauthenticated("Unauthorized - Token Expired")
		}
		return "", apperr.Unauthenticated("Unauthorized - Invalid Token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", apperr.Unauthenticated("Unauthorized - Invalid Token")
	}

	return claims.Subject, nil
}

// SetCookie stores the token as an HTTP-only cookie so it rides along on
// every request and on the realtime handshake.
func (t *Tokens) SetCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(t.ttl / time.Second),
		Expires:  t.now().Add(t.ttl),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie overwrites the token cookie with an already-expired value.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// TokenFromRequest reads the token from the cookie, falling back to a
// bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
