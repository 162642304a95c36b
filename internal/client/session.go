package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/dmchat/internal/apperr"
	"github.com/Tyrowin/dmchat/internal/models"
)

const (
	requestTimeout   = 15 * time.Second
	handshakeTimeout = 10 * time.Second
	closeWait        = time.Second
)

// ErrNoPeer is returned by SendMessage when no conversation is open.
var ErrNoPeer = apperr.Validation("No conversation selected")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dmchat: %d: %s", e.Status, e.Message)
}

// NoticeLevel separates success notices from failures.
type NoticeLevel int

const (
	NoticeSuccess NoticeLevel = iota
	NoticeError
)

// Notice is a user-facing message about the outcome of an action.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Option configures a Session.
type Option func(*Session)

// WithOrigin sets the Origin header presented on the realtime handshake.
// Without it no Origin is sent, as for any non-browser client.
func WithOrigin(origin string) Option {
	return func(s *Session) { s.origin = origin }
}

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithNotify installs the notice callback.
func WithNotify(fn func(Notice)) Option {
	return func(s *Session) { s.notify = fn }
}

// WithEventHook is called after each realtime event has been applied.
func WithEventHook(fn func(Event)) Option {
	return func(s *Session) { s.onEvent = fn }
}

// Session talks to one dmchat server on behalf of one user.
type Session struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	origin  string
	logger  zerolog.Logger
	notify  func(Notice)
	onEvent func(Event)

	state *State

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewSession prepares a session against baseURL, e.g. "http://localhost:5001".
func NewSession(baseURL string, opts ...Option) (*Session, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	s := &Session{
		baseURL: u,
		http:    &http.Client{Jar: jar, Timeout: requestTimeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Jar:              jar,
		},
		logger: zerolog.Nop(),
		notify: func(Notice) {},
		state:  NewState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the session's local state.
func (s *Session) State() *State {
	return s.state
}

func (s *Session) success(text string) {
	s.notify(Notice{Level: NoticeSuccess, Text: text})
}

// failure reports err to the notice callback, falling back to text when the
// server gave no message.
func (s *Session) failure(err error, fallback string) {
	text := fallback
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		text = apiErr.Message
	}
	s.notify(Notice{Level: NoticeError, Text: text})
}

// do performs a JSON request. out may be nil.
func (s *Session) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL.String()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return apperr.Transport("request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Transport("read response", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CheckAuth restores a session from the cookie jar and connects the realtime
// channel when it is still valid.
func (s *Session) CheckAuth(ctx context.Context) error {
	s.state.SetLoading(CheckingAuth, true)
	defer s.state.SetLoading(CheckingAuth, false)

	var user models.User
	if err := s.do(ctx, http.MethodGet, "/auth/check", nil, &user); err != nil {
		s.logger.Debug().Err(err).Msg("Auth check failed")
		s.state.SetAuthUser(nil)
		return err
	}
	s.state.SetAuthUser(&user)
	return s.ConnectSocket(ctx)
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup creates an account, signs in and connects.
func (s *Session) Signup(ctx context.Context, req SignupRequest) error {
	s.state.SetLoading(SigningUp, true)
	defer s.state.SetLoading(SigningUp, false)

	var user models.User
	if err := s.do(ctx, http.MethodPost, "/auth/signup", req, &user); err != nil {
		s.failure(err, "Signup failed")
		return err
	}
	s.state.SetAuthUser(&user)
	s.success("Account created successfully")
	return s.ConnectSocket(ctx)
}

// Login signs in and connects.
func (s *Session) Login(ctx context.Context, email, password string) error {
	s.state.SetLoading(LoggingIn, true)
	defer s.state.SetLoading(LoggingIn, false)

	var user models.User
	body := map[string]string{"email": email, "password": password}
	if err := s.do(ctx, http.MethodPost, "/auth/login", body, &user); err != nil {
		s.failure(err, "Login failed")
		return err
	}
	s.state.SetAuthUser(&user)
	s.success("Logged in successfully")
	return s.ConnectSocket(ctx)
}

// Logout ends the server session, closes the realtime channel and clears the
// local state.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		s.failure(err, "Logout failed")
		return err
	}
	s.DisconnectSocket()
	s.state.Reset()
	s.success("Logged out successfully")
	return nil
}

// UpdateProfile replaces the profile picture.
func (s *Session) UpdateProfile(ctx context.Context, profilePic string) error {
	s.state.SetLoading(UpdatingProfile, true)
	defer s.state.SetLoading(UpdatingProfile, false)

	var user models.User
	body := map[string]string{"profilePic": profilePic}
	if err := s.do(ctx, http.MethodPut, "/auth/update-profile", body, &user); err != nil {
		s.failure(err, "Profile update failed")
		return err
	}
	s.state.SetAuthUser(&user)
	s.success("Profile updated successfully")
	return nil
}

// GetUsers loads the contact list.
func (s *Session) GetUsers(ctx context.Context) error {
	s.state.SetLoading(UsersLoading, true)
	defer s.state.SetLoading(UsersLoading, false)

	var users []models.User
	if err := s.do(ctx, http.MethodGet, "/messages/users", nil, &users); err != nil {
		s.failure(err, "Error fetching users")
		return err
	}
	s.state.SetUsers(users)
	return nil
}

// GetMessages loads the history with peerID into the open conversation.
func (s *Session) GetMessages(ctx context.Context, peerID string) error {
	s.state.SetLoading(MessagesLoading, true)
	defer s.state.SetLoading(MessagesLoading, false)

	var msgs []models.Message
	if err := s.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(peerID), nil, &msgs); err != nil {
		s.failure(err, "Error fetching messages")
		return err
	}
	if !s.state.SetMessages(peerID, msgs) {
		s.logger.Debug().Str("peer", peerID).Msg("Discarding history for a deselected peer")
	}
	return nil
}

// SelectPeer opens the conversation with peer and fetches its history. nil
// closes the conversation.
func (s *Session) SelectPeer(ctx context.Context, peer *models.User) error {
	s.state.SelectPeer(peer)
	if peer == nil {
		return nil
	}
	return s.GetMessages(ctx, peer.ID)
}

// SendMessage sends draft to the selected peer. The message list only grows
// with the server's stored copy.
func (s *Session) SendMessage(ctx context.Context, draft Draft) (*models.Message, error) {
	peer := s.state.SelectedPeer()
	if peer == nil {
		s.failure(ErrNoPeer, apperr.Message(ErrNoPeer))
		return nil, ErrNoPeer
	}

	id := s.state.BeginSend(peer.ID, draft)

	var msg models.Message
	if err := s.do(ctx, http.MethodPost, "/messages/send/"+url.PathEscape(peer.ID), draft, &msg); err != nil {
		s.state.FailSend(id, err)
		s.failure(err, "Error sending message")
		return nil, err
	}
	s.state.CompleteSend(id, msg)
	return &msg, nil
}

func (s *Session) wsURL() string {
	u := *s.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// Connected reports whether the realtime channel is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// ConnectSocket opens the realtime channel. It does nothing without a
// signed-in user or when already connected.
func (s *Session) ConnectSocket(ctx context.Context) error {
	if s.state.AuthUser() == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	headers := http.Header{}
	if s.origin != "" {
		headers.Set("Origin", s.origin)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.wsURL(), headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return apperr.Transport(fmt.Sprintf("websocket handshake failed with status %d", resp.StatusCode), err)
		}
		return apperr.Transport("websocket handshake failed", err)
	}

	done := make(chan struct{})
	s.conn = conn
	s.done = done
	go s.readLoop(conn, done)

	s.logger.Debug().Str("url", s.wsURL()).Msg("Realtime channel connected")
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
				s.done = nil
			}
			s.mu.Unlock()

			if current {
				s.state.ClearOnlineUsers()
				s.logger.Info().Err(err).Msg("Realtime channel closed by server")
			}
			_ = conn.Close()
			return
		}

		events, err := s.state.HandleFrame(frame)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Malformed realtime frame")
		}
		if s.onEvent != nil {
			for _, ev := range events {
				s.onEvent(ev)
			}
		}
	}
}

// DisconnectSocket closes the realtime channel and forgets who is online.
func (s *Session) DisconnectSocket() {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn, s.done = nil, nil
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(closeWait)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
		<-done
	}
	s.state.ClearOnlineUsers()
}

// Close releases the realtime channel.
func (s *Session) Close() {
	s.DisconnectSocket()
}
