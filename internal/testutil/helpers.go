// Package testutil provides the helpers shared by the dmchat test suites:
// an in-process server backed by a temporary SQLite database, HTTP
// assertions, and WebSocket event readers.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/dmchat/internal/auth"
	"github.com/Tyrowin/dmchat/internal/config"
	"github.com/Tyrowin/dmchat/internal/messaging"
	"github.com/Tyrowin/dmchat/internal/models"
	"github.com/Tyrowin/dmchat/internal/server"
	"github.com/Tyrowin/dmchat/internal/store"
)

// TestOrigin is the browser origin test dialers present.
const TestOrigin = "http://localhost:5173"

// Env is a running dmchat server for tests.
type Env struct {
	Server *httptest.Server
	Config *config.Config
	Store  store.DataStore
	Hub    *server.Hub
	Tokens *auth.Tokens
	Router *messaging.Router
}

// NewEnv starts a server on a fresh SQLite database. customize may adjust
// the configuration before anything is built. Everything is torn down with
// the test.
func NewEnv(t *testing.T, customize func(cfg *config.Config)) *Env {
	t.Helper()

	cfg := config.NewConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "dmchat.db")
	cfg.AllowedOrigins = []string{TestOrigin}
	cfg.RateLimit = config.RateLimitConfig{Burst: 100, RefillInterval: time.Second}
	if customize != nil {
		customize(cfg)
	}

	st, err := store.NewSQLiteStore(context.Background(), cfg.SQLitePath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	logger := zerolog.Nop()
	hub := server.NewHub(logger)
	go hub.Run()

	tokens := auth.NewTokens([]byte(cfg.JWTSecret), cfg.TokenTTL)
	router := messaging.NewRouter(st, hub, logger)
	handler := server.NewHandler(server.Deps{
		Config: cfg,
		Store:  st,
		Tokens: tokens,
		Router: router,
		Hub:    hub,
		Logger: logger,
	})

	ts := httptest.NewServer(server.SetupRoutes(handler))
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		ts.Close()
		_ = st.Close()
	})

	return &Env{
		Server: ts,
		Config: cfg,
		Store:  st,
		Hub:    hub,
		Tokens: tokens,
		Router: router,
	}
}

// URL returns the absolute HTTP URL for path.
func (e *Env) URL(path string) string {
	return e.Server.URL + path
}

// WSURL returns the WebSocket URL of the realtime endpoint.
func (e *Env) WSURL() string {
	return "ws" + strings.TrimPrefix(e.Server.URL, "http") + "/ws"
}

// Account is a signed-up user and its session token.
type Account struct {
	User  models.User
	Token string
}

// Signup registers a user through the API and returns it with its token.
func (e *Env) Signup(t *testing.T, fullName, email, password string) Account {
	t.Helper()

	resp := DoJSON(t, http.MethodPost, e.URL("/auth/signup"), "", map[string]string{
		"fullName": fullName,
		"email":    email,
		"password": password,
	})
	defer func() { _ = resp.Body.Close() }()
	AssertStatusCode(t, resp, http.StatusCreated)

	var user models.User
	DecodeJSON(t, resp, &user)

	token := CookieValue(resp, auth.CookieName)
	if token == "" {
		t.Fatalf("Signup for %s did not set a session cookie", email)
	}
	return Account{User: user, Token: token}
}

// Dial opens the realtime channel for a session token.
func (e *Env) Dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := DialWebSocket(e.WSURL(), token, TestOrigin)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Failed to connect to WebSocket (status %d): %v", status, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("Expected status code %d, got %d: %s", expected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// AssertErrorMessage decodes a {"error": ...} body and compares the message.
func AssertErrorMessage(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	var body map[string]string
	DecodeJSON(t, resp, &body)
	if body["error"] != expected {
		t.Errorf("Expected error %q, got %q", expected, body["error"])
	}
}

// DoJSON sends body as JSON with an optional session token and returns the response.
func DoJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}

// CookieValue returns the value of the named cookie set by resp.
func CookieValue(resp *http.Response, name string) string {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

// DialWebSocket connects to url presenting token as the session cookie.
func DialWebSocket(url, token, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	if token != "" {
		headers.Set("Cookie", (&http.Cookie{Name: auth.CookieName, Value: token}).String())
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// EventReader splits realtime frames into events. Frames may carry several
// newline-separated events.
type EventReader struct {
	conn    *websocket.Conn
	pending []server.Event
}

// NewEventReader wraps conn.
func NewEventReader(conn *websocket.Conn) *EventReader {
	return &EventReader{conn: conn}
}

// Next returns the next event or an error when none arrives within timeout.
func (r *EventReader) Next(timeout time.Duration) (server.Event, error) {
	for len(r.pending) == 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return server.Event{}, err
		}
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return server.Event{}, err
		}
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var event server.Event
			if err := json.Unmarshal(line, &event); err != nil {
				return server.Event{}, err
			}
			r.pending = append(r.pending, event)
		}
	}

	event := r.pending[0]
	r.pending = r.pending[1:]
	return event, nil
}

// Await skips events until one named name arrives and match accepts it.
func (r *EventReader) Await(t *testing.T, name string, timeout time.Duration, match func(data json.RawMessage) bool) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s event", name)
		}
		event, err := r.Next(remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %s event: %v", name, err)
		}
		if event.Event == name && (match == nil || match(event.Data)) {
			return event.Data
		}
	}
}

// ExpectNoEvent fails if an event named name arrives within timeout. A read
// timeout leaves the connection unusable, so call it last on a connection.
func (r *EventReader) ExpectNoEvent(t *testing.T, name string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		event, err := r.Next(remaining)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			t.Fatalf("Unexpected error while waiting for absence of %s: %v", name, err)
		}
		if event.Event == name {
			t.Fatalf("Expected no %s event, got %s", name, string(event.Data))
		}
	}
}

// UserIDs decodes a getOnlineUsers payload.
func UserIDs(t *testing.T, data json.RawMessage) []string {
	t.Helper()
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		t.Fatalf("Failed to decode online users: %v", err)
	}
	return ids
}

// Contains reports whether ids includes id.
func Contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
