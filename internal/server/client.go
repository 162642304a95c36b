package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/dmchat/internal/config"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Client is one user's realtime connection. The hub owns its send channel
// and its registration; the pumps own the socket.
type Client struct {
	id             string
	userID         string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	inbound        *rateLimiter
	unregisterOnce sync.Once
	logger         zerolog.Logger
}

// NewClient creates a Client for an upgraded connection bound to userID.
// conn may be nil in tests, in which case no pumps are started and events
// are read from GetSendChan.
func NewClient(conn *websocket.Conn, hub *Hub, userID, addr string, cfg *config.Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := ulid.Make().String()
	return &Client{
		id:             id,
		userID:         userID,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		inbound:        newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		logger: hub.logger.With().
			Str("conn_id", id).
			Str("user_id", userID).
			Str("addr", addr).
			Logger(),
	}
}

// ID returns the connection id used in logs.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the authenticated user bound to this connection.
func (c *Client) UserID() string {
	return c.userID
}

// GetSendChan returns the client's outbound event channel. It is closed
// when the hub drops the client.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// unregister removes the client from the hub exactly once.
func (c *Client) unregister() {
	c.unregisterOnce.Do(func() {
		if err := c.hub.Unregister(c); err != nil && !errors.Is(err, ErrHubClosed) {
			c.logger.Error().Err(err).Msg("failed to unregister client")
		}
	})
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Debug().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("max_bytes", c.maxMessageSize).Msg("inbound frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug().Err(err).Msg("client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.logger.Warn().Err(err).Msg("websocket read error")
	}
}

// readPump keeps the read side alive for control frames. Clients only push
// through the HTTP API, so data frames are discarded.
func (c *Client) readPump() {
	defer func() {
		c.unregister()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.inbound.allow() {
			c.logger.Debug().Int("bytes", len(raw)).Msg("discarding inbound frame")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("error closing connection in writePump")
	}
}

// handleMessage writes an outgoing event, or a close frame once the hub has
// closed the channel. It returns false when the connection should close.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("error writing close message")
	}
	return false
}

// writeTextMessage writes message and any events already queued behind it
// into one frame, separated by newlines.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logger.Debug().Err(err).Msg("error creating writer")
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.logger.Debug().Err(err).Msg("error writing message")
		return false
	}

	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			break
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.logger.Debug().Err(err).Msg("error writing separator")
			return false
		}
		if _, err := w.Write(queued); err != nil {
			c.logger.Debug().Err(err).Msg("error writing queued message")
			return false
		}
	}

	if err := w.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("error closing writer")
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("error writing ping message")
		return false
	}
	return true
}
