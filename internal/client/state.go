// Package client keeps the local view of a dmchat session: the signed-in
// user, who is online, the selected conversation and the outgoing sends.
// State holds the data and its transitions; Session drives it from the HTTP
// API and the realtime channel.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/Tyrowin/dmchat/internal/models"
)

// Realtime event names pushed by the server.
const (
	EventOnlineUsers = "getOnlineUsers"
	EventNewMessage  = "newMessage"
)

// maxOutbox bounds how many finished sends are remembered.
const maxOutbox = 100

// Event is one realtime envelope.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutboundStatus tracks a single send.
type OutboundStatus int

const (
	OutboundIdle OutboundStatus = iota
	OutboundSending
	OutboundSent
	OutboundFailed
)

func (s OutboundStatus) String() string {
	switch s {
	case OutboundIdle:
		return "idle"
	case OutboundSending:
		return "sending"
	case OutboundSent:
		return "sent"
	case OutboundFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutboundStatus(%d)", int(s))
	}
}

// Draft is the body of a message before the server accepts it.
type Draft struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// Outbound is one send attempt. Message is set once the server accepted it.
type Outbound struct {
	ID      int
	PeerID  string
	Draft   Draft
	Status  OutboundStatus
	Message *models.Message
	Err     error
}

// Flag names a loading indicator.
type Flag int

const (
	CheckingAuth Flag = iota
	SigningUp
	LoggingIn
	UpdatingProfile
	UsersLoading
	MessagesLoading
)

// View is a point-in-time copy of State.
type View struct {
	AuthUser     *models.User
	OnlineUsers  []string
	Users        []models.User
	SelectedPeer *models.User
	Messages     []models.Message
	Unread       map[string]int
	Outbox       []Outbound

	IsCheckingAuth    bool
	IsSigningUp       bool
	IsLoggingIn       bool
	IsUpdatingProfile bool
	IsUsersLoading    bool
	IsMessagesLoading bool
}

// IsOnline reports whether userID is in the last presence snapshot.
func (v View) IsOnline(userID string) bool {
	return slices.Contains(v.OnlineUsers, userID)
}

// State is safe for concurrent use.
type State struct {
	mu sync.RWMutex

	authUser     *models.User
	onlineUsers  []string
	users        []models.User
	selectedPeer *models.User
	messages     []models.Message
	unread       map[string]int
	outbox       []Outbound
	nextOutbound int
	loading      map[Flag]bool
}

// NewState returns an empty state. Auth is considered "being checked" until
// the first CheckAuth completes.
func NewState() *State {
	return &State{
		unread:  make(map[string]int),
		loading: map[Flag]bool{CheckingAuth: true},
	}
}

// View copies the current state.
func (s *State) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		AuthUser:     copyUser(s.authUser),
		OnlineUsers:  slices.Clone(s.onlineUsers),
		Users:        slices.Clone(s.users),
		SelectedPeer: copyUser(s.selectedPeer),
		Messages:     slices.Clone(s.messages),
		Unread:       make(map[string]int, len(s.unread)),
		Outbox:       slices.Clone(s.outbox),

		IsCheckingAuth:    s.loading[CheckingAuth],
		IsSigningUp:       s.loading[SigningUp],
		IsLoggingIn:       s.loading[LoggingIn],
		IsUpdatingProfile: s.loading[UpdatingProfile],
		IsUsersLoading:    s.loading[UsersLoading],
		IsMessagesLoading: s.loading[MessagesLoading],
	}
	for peer, n := range s.unread {
		v.Unread[peer] = n
	}
	return v
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// SetLoading flips a loading indicator.
func (s *State) SetLoading(f Flag, on bool) {
	s.mu.Lock()
	s.loading[f] = on
	s.mu.Unlock()
}

// SetAuthUser records the signed-in user. nil signs out locally.
func (s *State) SetAuthUser(u *models.User) {
	s.mu.Lock()
	s.authUser = copyUser(u)
	s.mu.Unlock()
}

// AuthUser returns the signed-in user or nil.
func (s *State) AuthUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.authUser)
}

// Reset forgets everything tied to the signed-in user.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authUser = nil
	s.onlineUsers = nil
	s.users = nil
	s.selectedPeer = nil
	s.messages = nil
	s.unread = make(map[string]int)
	s.outbox = nil
}

// SetOnlineUsers replaces the presence snapshot.
func (s *State) SetOnlineUsers(ids []string) {
	s.mu.Lock()
	s.onlineUsers = slices.Clone(ids)
	s.mu.Unlock()
}

// ClearOnlineUsers empties the presence snapshot; used on disconnect.
func (s *State) ClearOnlineUsers() {
	s.SetOnlineUsers(nil)
}

// SetUsers replaces the contact list.
func (s *State) SetUsers(users []models.User) {
	s.mu.Lock()
	s.users = slices.Clone(users)
	s.mu.Unlock()
}

// SelectPeer switches the open conversation. The message list is emptied
// until history is loaded and the peer's unread count is cleared. nil closes
// the conversation.
func (s *State) SelectPeer(peer *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedPeer = copyUser(peer)
	s.messages = nil
	if peer != nil {
		delete(s.unread, peer.ID)
	}
}

// SelectedPeer returns the open conversation's peer or nil.
func (s *State) SelectedPeer() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.selectedPeer)
}

// SetMessages installs fetched history for peerID. Messages that arrived
// live and are missing from the fetch stay after the history. It is ignored
// when the selection changed while the fetch was in flight.
func (s *State) SetMessages(peerID string, msgs []models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedPeer == nil || s.selectedPeer.ID != peerID {
		return false
	}

	fetched := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		fetched[m.ID] = struct{}{}
	}
	merged := slices.Clone(msgs)
	for _, m := range s.messages {
		if _, ok := fetched[m.ID]; !ok {
			merged = append(merged, m)
		}
	}
	s.messages = merged
	return true
}

func (s *State) appendMessageLocked(msg models.Message) bool {
	for _, existing := range s.messages {
		if existing.ID == msg.ID {
			return false
		}
	}
	s.messages = append(s.messages, msg)
	return true
}

// ReceiveMessage applies a pushed message: it joins the open conversation
// when it comes from the selected peer and counts as unread otherwise.
func (s *State) ReceiveMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedPeer != nil && msg.SenderID == s.selectedPeer.ID {
		s.appendMessageLocked(msg)
		return
	}
	s.unread[msg.SenderID]++
}

// BeginSend records a new send for peerID and returns its outbox id.
func (s *State) BeginSend(peerID string, draft Draft) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOutbound++
	s.outbox = append(s.outbox, Outbound{
		ID:     s.nextOutbound,
		PeerID: peerID,
		Draft:  draft,
		Status: OutboundSending,
	})
	if len(s.outbox) > maxOutbox {
		s.outbox = slices.Clone(s.outbox[len(s.outbox)-maxOutbox:])
	}
	return s.nextOutbound
}

func (s *State) outboundLocked(id int) *Outbound {
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			return &s.outbox[i]
		}
	}
	return nil
}

// CompleteSend marks a send as accepted. The stored message is appended to
// the open conversation only if its receiver is still the selected peer.
func (s *State) CompleteSend(id int, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out := s.outboundLocked(id); out != nil && out.Status == OutboundSending {
		out.Status = OutboundSent
		stored := msg
		out.Message = &stored
	}
	if s.selectedPeer != nil && s.selectedPeer.ID == msg.ReceiverID {
		s.appendMessageLocked(msg)
	}
}

// FailSend marks a send as rejected.
func (s *State) FailSend(id int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out := s.outboundLocked(id); out != nil && out.Status == OutboundSending {
		out.Status = OutboundFailed
		out.Err = err
	}
}

// HandleEvent applies one realtime event. Unknown events are ignored.
func (s *State) HandleEvent(ev Event) error {
	switch ev.Event {
	case EventOnlineUsers:
		var ids []string
		if err := json.Unmarshal(ev.Data, &ids); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Event, err)
		}
		s.SetOnlineUsers(ids)
	case EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Event, err)
		}
		s.ReceiveMessage(msg)
	}
	return nil
}

// HandleFrame applies every newline-separated event in a frame and returns
// the events it decoded. Decoding stops at the first malformed event.
func (s *State) HandleFrame(frame []byte) ([]Event, error) {
	var events []Event
	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return events, fmt.Errorf("decode event: %w", err)
		}
		if err := s.HandleEvent(ev); err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}
