package server

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/dmchat/internal/models"
)

// Event names pushed to realtime clients.
const (
	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
)

// Event is the JSON envelope of every server-to-client frame.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeEvent(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Event: name, Data: raw})
}

// OnlineUsersEvent encodes a presence snapshot.
func OnlineUsersEvent(userIDs []string) ([]byte, error) {
	if userIDs == nil {
		userIDs = []string{}
	}
	return encodeEvent(EventOnlineUsers, userIDs)
}

// NewMessageEvent encodes a message pushed to its receiver.
func NewMessageEvent(msg *models.Message) ([]byte, error) {
	return encodeEvent(EventNewMessage, msg)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
