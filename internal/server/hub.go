// Package server hosts the dmchat HTTP API and the realtime presence hub.
// The Hub keeps at most one live Client per user, broadcasts the online
// user list on every change and pushes new messages to their receivers.
package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/dmchat/internal/apperr"
	"github.com/Tyrowin/dmchat/internal/metrics"
	"github.com/Tyrowin/dmchat/internal/models"
)

// ErrHubClosed is returned by Register and Unregister after Shutdown.
var ErrHubClosed = errors.New("hub is shut down")

// errSendBufferFull marks a client whose outbound buffer could not take another event.
var errSendBufferFull = errors.New("send buffer full")

type hubRequest struct {
	client *Client
	done   chan struct{}
}

// Hub is the presence registry. Registration changes are serialized by Run;
// readers such as Snapshot and Deliver take the read lock.
type Hub struct {
	clients    map[string]*Client
	register   chan hubRequest
	unregister chan hubRequest
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     zerolog.Logger
}

// NewHub creates a Hub. Call Run in its own goroutine before registering clients.
func NewHub(logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan hubRequest),
		unregister: make(chan hubRequest),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Register binds c to its user, closing any connection it supersedes, and
// broadcasts the new presence snapshot. It returns once the hub has
// processed the request.
func (h *Hub) Register(c *Client) error {
	return h.submit(h.register, c)
}

// Unregister removes c if it is still the user's current client. Calling it
// for a superseded or already removed client is a no-op.
func (h *Hub) Unregister(c *Client) error {
	return h.submit(h.unregister, c)
}

func (h *Hub) submit(ch chan hubRequest, c *Client) error {
	if c == nil {
		return apperr.Validation("nil client")
	}

	req := hubRequest{client: c, done: make(chan struct{})}
	select {
	case ch <- req:
	case <-h.ctx.Done():
		return ErrHubClosed
	}

	<-req.done
	return nil
}

// Run starts the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case req := <-h.register:
			h.addClient(req.client)
			close(req.done)

		case req := <-h.unregister:
			if h.removeClient(req.client) {
				h.broadcastPresence()
			}
			close(req.done)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mutex.Lock()
	old := h.clients[c.userID]
	if old != nil && old != c {
		delete(h.clients, old.userID)
		old.closed = true
		close(old.send)
	}
	c.closed = false
	h.clients[c.userID] = c
	clientCount := len(h.clients)
	h.mutex.Unlock()

	metrics.ConnectedClients.Set(float64(clientCount))

	if old != nil && old != c {
		metrics.ClientsDropped.WithLabelValues("replaced").Inc()
		h.logger.Info().
			Str("user_id", c.userID).
			Str("replaced_conn", old.id).
			Msg("closed superseded connection")
	}

	h.logger.Info().
		Str("user_id", c.userID).
		Str("conn_id", c.id).
		Str("addr", c.addr).
		Int("clients", clientCount).
		Msg("client registered")

	if c.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
	}

	h.broadcastPresence()
}

// removeClient deletes c and closes its send channel. It reports whether
// the registry changed.
func (h *Hub) removeClient(c *Client) bool {
	h.mutex.Lock()
	current, ok := h.clients[c.userID]
	if !ok || current != c {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, c.userID)
	c.closed = true
	close(c.send)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	metrics.ConnectedClients.Set(float64(clientCount))
	h.logger.Info().
		Str("user_id", c.userID).
		Str("conn_id", c.id).
		Int("clients", clientCount).
		Msg("client unregistered")
	return true
}

// Snapshot returns the sorted ids of every user with a live connection.
func (h *Hub) Snapshot() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

// Online reports whether userID has a live connection.
func (h *Hub) Online(userID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Count returns the number of registered users.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// safeSend enqueues message without blocking. It fails when c is no longer
// registered or its buffer is full.
func (h *Hub) safeSend(c *Client, message []byte) error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if current, ok := h.clients[c.userID]; !ok || current != c || c.closed {
		return ErrHubClosed
	}

	select {
	case c.send <- message:
		return nil
	default:
		return errSendBufferFull
	}
}

// broadcastPresence sends the current snapshot to every client. Clients
// with a full buffer are dropped and the reduced snapshot is sent again.
func (h *Hub) broadcastPresence() {
	for {
		payload, err := OnlineUsersEvent(h.Snapshot())
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to encode presence snapshot")
			return
		}

		metrics.PresenceBroadcasts.Inc()

		var failed []*Client
		for _, client := range h.getClientSnapshot() {
			if err := h.safeSend(client, payload); errors.Is(err, errSendBufferFull) {
				failed = append(failed, client)
			}
		}

		if !h.removeSlowClients(failed) {
			return
		}
	}
}

func (h *Hub) removeSlowClients(clients []*Client) bool {
	removed := false
	for _, client := range clients {
		if h.removeClient(client) {
			removed = true
			metrics.ClientsDropped.WithLabelValues("slow").Inc()
			h.logger.Warn().
				Str("user_id", client.userID).
				Str("conn_id", client.id).
				Msg("client removed due to full send buffer")
		}
	}
	return removed
}

// Deliver enqueues payload on userID's connection without blocking. It
// reports false with a nil error when the user is offline, and an
// apperr.ErrTransport error when the connection's buffer is full. A full
// client is unregistered.
func (h *Hub) Deliver(userID string, payload []byte) (bool, error) {
	h.mutex.RLock()
	client, ok := h.clients[userID]
	h.mutex.RUnlock()
	if !ok {
		return false, nil
	}

	err := h.safeSend(client, payload)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errSendBufferFull):
		metrics.ClientsDropped.WithLabelValues("slow").Inc()
		if unregErr := h.Unregister(client); unregErr != nil {
			h.logger.Debug().Err(unregErr).Str("user_id", userID).Msg("could not unregister slow client")
		}
		return false, apperr.Transport("receiver connection is not keeping up", err)
	default:
		// Replaced or removed between lookup and send.
		return false, nil
	}
}

// NotifyMessage pushes a newMessage event to the message's receiver.
func (h *Hub) NotifyMessage(_ context.Context, receiverID string, msg *models.Message) (bool, error) {
	payload, err := NewMessageEvent(msg)
	if err != nil {
		return false, apperr.Transport("failed to encode message event", err)
	}
	return h.Deliver(receiverID, payload)
}

// shutdownClients closes every registered client. Each write pump sends a
// close frame and closes its socket.
func (h *Hub) shutdownClients() {
	h.logger.Info().Msg("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for userID, client := range h.clients {
		delete(h.clients, userID)
		client.closed = true
		close(client.send)
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	metrics.ConnectedClients.Set(0)
	metrics.ClientsDropped.WithLabelValues("shutdown").Add(float64(len(clients)))

	h.logger.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown stops the event loop, closes every connection and waits for the
// client goroutines to finish or the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
