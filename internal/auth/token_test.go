package auth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/dmchat/internal/apperr"
	"github.com/Tyrowin/dmchat/internal/auth"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	tokens := auth.NewTokens([]byte("test-secret"), 0)

	for _, userID := range []string{"u1", "u2", "0192f2a4-7b1c-7c3e-9a55-3e1f0b6c2d11", "user with spaces"} {
		t.Run(userID, func(t *testing.T) {
			token, err := tokens.Issue(userID)
			if err != nil {
				t.Fatalf("Issue failed: %v", err)
			}

			got, err := tokens.Verify(token)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if got != userID {
				t.Errorf("Expected user id %q, got %q", userID, got)
			}
		})
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	tokens := auth.NewTokens([]byte("test-secret"), time.Hour, auth.WithClock(clock.Now))

	token, err := tokens.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	clock.Advance(59 * time.Minute)
	if _, err := tokens.Verify(token); err != nil {
		t.Fatalf("Expected token to be valid before expiry, got %v", err)
	}

	clock.Advance(2 * time.Minute)
	_, err = tokens.Verify(token)
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("Expected ErrUnauthenticated after expiry, got %v", err)
	}
	if !strings.Contains(apperr.Message(err), "Expired") {
		t.Errorf("Expected expiry message, got %q", apperr.Message(err))
	}
}

func TestDefaultTTLIsSevenDays(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tokens := auth.NewTokens([]byte("test-secret"), 0, auth.WithClock(clock.Now))

	if tokens.TTL() != 7*24*time.Hour {
		t.Fatalf("Expected 7 day TTL, got %v", tokens.TTL())
	}

	token, err := tokens.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	clock.Advance(7*24*time.Hour - time.Minute)
	if _, err := tokens.Verify(token); err != nil {
		t.Fatalf("Expected token valid just before 7 days, got %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := tokens.Verify(token); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("Expected token expired after 7 days, got %v", err)
	}
}

func TestVerifyRejectsInvalidTokens(t *testing.T) {
	tokens := auth.NewTokens([]byte("test-secret"), time.Hour)
	other := auth.NewTokens([]byte("other-secret"), time.Hour)

	valid, err := tokens.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	foreign, err := other.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "signed with another secret", token: foreign},
		{name: "tampered payload", token: tampered},
		{name: "alg none", token: "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1MSJ9."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tokens.Verify(tt.token); !errors.Is(err, apperr.ErrUnauthenticated) {
				t.Errorf("Expected ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	tokens := auth.NewTokens([]byte("test-secret"), time.Hour)

	if _, err := tokens.Issue(""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected ErrValidation for empty user id, got %v", err)
	}
}

func TestCookieLifecycle(t *testing.T) {
	tokens := auth.NewTokens([]byte("test-secret"), time.Hour)
	token, err := tokens.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	rr := httptest.NewRecorder()
	tokens.SetCookie(rr, token, true)

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Expected one cookie, got %d", len(cookies))
	}
	cookie := cookies[0]
	if cookie.Name != auth.CookieName || cookie.Value != token {
		t.Errorf("Unexpected cookie %s=%s", cookie.Name, cookie.Value)
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.MaxAge != 3600 {
		t.Errorf("Unexpected cookie attributes: %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if got := auth.TokenFromRequest(req); got != token {
		t.Errorf("Expected token from cookie, got %q", got)
	}

	rr = httptest.NewRecorder()
	auth.ClearCookie(rr, false)
	cleared := rr.Result().Cookies()
	if len(cleared) != 1 || cleared[0].Value != "" || cleared[0].MaxAge >= 0 {
		t.Errorf("Expected an expired empty cookie, got %+v", cleared)
	}
}

func TestTokenFromBearerHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")

	if got := auth.TokenFromRequest(req); got != "abc.def.ghi" {
		t.Errorf("Expected bearer token, got %q", got)
	}

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := auth.TokenFromRequest(req); got != "" {
		t.Errorf("Expected no token for basic auth, got %q", got)
	}
}
