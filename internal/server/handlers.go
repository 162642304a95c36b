package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/dmchat/internal/apperr"
	"github.com/Tyrowin/dmchat/internal/auth"
	"github.com/Tyrowin/dmchat/internal/config"
	"github.com/Tyrowin/dmchat/internal/messaging"
	"github.com/Tyrowin/dmchat/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	cfg      *config.Config
	store    store.UserStore
	tokens   *auth.Tokens
	router   *messaging.Router
	hub      *Hub
	limiter  Limiter
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// Deps are the collaborators a Handler is built from.
type Deps struct {
	Config  *config.Config
	Store   store.UserStore
	Tokens  *auth.Tokens
	Router  *messaging.Router
	Hub     *Hub
	Limiter Limiter
	Logger  zerolog.Logger
}

// NewHandler creates a Handler. A nil Limiter defaults to an in-memory
// per-user token bucket.
func NewHandler(deps Deps) *Handler {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewMemoryLimiter(deps.Config.RateLimit)
	}

	origins := newOriginPolicy(deps.Config.AllowedOrigins, deps.Logger)

	return &Handler{
		cfg:     deps.Config,
		store:   deps.Store,
		tokens:  deps.Tokens,
		router:  deps.Router,
		hub:     deps.Hub,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger: deps.Logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Fail maps err onto its status code and client message. Unexpected
// failures are logged with the request id.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	h.Error(w, status, apperr.Message(err))
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("Request body too large")
		}
		return apperr.Validation("Invalid JSON body")
	}
	return nil
}

// Health provides a simple health check endpoint that returns server status.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("dmchat server is running!"))
}

// WebSocket upgrades an authenticated request into the caller's realtime
// channel. The identity comes from the verified token only.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "Unauthorized - No Token Provided")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, userID, r.RemoteAddr, h.cfg)

	// The hub starts the pumps once the client is registered.
	if err := h.hub.Register(client); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("rejecting connection")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}
