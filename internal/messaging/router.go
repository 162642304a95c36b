// Package messaging persists direct messages and hands them to the realtime
// layer for delivery to a connected receiver.
package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/dmchat/internal/apperr"
	"github.com/Tyrowin/dmchat/internal/metrics"
	"github.com/Tyrowin/dmchat/internal/models"
	"github.com/Tyrowin/dmchat/internal/store"
)

// Store is the slice of the data store the router needs.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	Conversation(ctx context.Context, userA, userB string) ([]models.Message, error)
}

// Notifier pushes a persisted message to its receiver's live connection.
// It reports false with a nil error when the receiver is offline.
type Notifier interface {
	NotifyMessage(ctx context.Context, receiverID string, msg *models.Message) (bool, error)
}

// Draft is the client-supplied content of a new message.
type Draft struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// Router validates, persists and delivers direct messages.
type Router struct {
	store    Store
	notifier Notifier
	logger   zerolog.Logger
}

// NewRouter creates a Router. notifier may be nil, in which case messages
// are only persisted.
func NewRouter(s Store, notifier Notifier, logger zerolog.Logger) *Router {
	return &Router{
		store:    s,
		notifier: notifier,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// Send stores a message from senderID to receiverID and, if the receiver is
// connected, pushes it as a newMessage event. Delivery failures are logged
// and never undo a successful store.
func (r *Router) Send(ctx context.Context, senderID, receiverID string, draft Draft) (*models.Message, error) {
	if senderID == "" {
		return nil, apperr.Unauthenticated("Unauthorized - No Token Provided")
	}
	if receiverID == "" {
		return nil, apperr.Validation("Receiver is required")
	}
	text, image := blankToEmpty(draft.Text), blankToEmpty(draft.Image)
	if text == "" && image == "" {
		return nil, apperr.Validation("Message must contain text or an image")
	}

	if _, err := r.store.GetUserByID(ctx, receiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Persistence("failed to look up receiver", err)
	}

	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return nil, apperr.Persistence("failed to store message", err)
	}
	metrics.MessagesSent.Inc()

	r.deliver(ctx, msg)
	return msg, nil
}

// blankToEmpty drops whitespace-only content and keeps anything else as sent.
func blankToEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

func (r *Router) deliver(ctx context.Context, msg *models.Message) {
	if r.notifier == nil {
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryOffline).Inc()
		return
	}

	delivered, err := r.notifier.NotifyMessage(ctx, msg.ReceiverID, msg)
	switch {
	case err != nil:
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryDropped).Inc()
		r.logger.Warn().
			Err(err).
			Str("message_id", msg.ID).
			Str("receiver_id", msg.ReceiverID).
			Msg("realtime delivery failed")
	case delivered:
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryDelivered).Inc()
	default:
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryOffline).Inc()
	}
}

// Conversation returns the history between userID and peerID, oldest first.
// An unknown peer is a NotFound error.
func (r *Router) Conversation(ctx context.Context, userID, peerID string) ([]models.Message, error) {
	if peerID == "" {
		return nil, apperr.Validation("Peer is required")
	}

	if _, err := r.store.GetUserByID(ctx, peerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Persistence("failed to look up peer", err)
	}

	messages, err := r.store.Conversation(ctx, userID, peerID)
	if err != nil {
		return nil, apperr.Persistence("failed to load conversation", err)
	}
	return messages, nil
}
