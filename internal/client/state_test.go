package client

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/Tyrowin/dmchat/internal/models"
)

func event(t *testing.T, name string, data any) Event {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal event data: %v", err)
	}
	return Event{Event: name, Data: raw}
}

func TestNewStateIsCheckingAuth(t *testing.T) {
	v := NewState().View()
	if !v.IsCheckingAuth {
		t.Error("Expected auth check to be pending on a new state")
	}
	if v.AuthUser != nil || len(v.Messages) != 0 || len(v.OnlineUsers) != 0 {
		t.Errorf("Expected empty state, got %+v", v)
	}
}

func TestOnlineUsersEventReplacesSnapshot(t *testing.T) {
	s := NewState()

	if err := s.HandleEvent(event(t, EventOnlineUsers, []string{"a", "b"})); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if err := s.HandleEvent(event(t, EventOnlineUsers, []string{"b"})); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	v := s.View()
	if !reflect.DeepEqual(v.OnlineUsers, []string{"b"}) {
		t.Errorf("Expected [b], got %v", v.OnlineUsers)
	}
	if v.IsOnline("a") || !v.IsOnline("b") {
		t.Errorf("Unexpected presence: %v", v.OnlineUsers)
	}

	s.ClearOnlineUsers()
	if got := s.View().OnlineUsers; len(got) != 0 {
		t.Errorf("Expected no online users after clear, got %v", got)
	}
}

func TestNewMessageEvent(t *testing.T) {
	bob := &models.User{ID: "bob", FullName: "Bob"}

	tests := []struct {
		name         string
		selected     *models.User
		msg          models.Message
		wantMessages int
		wantUnread   map[string]int
	}{
		{
			name:         "from selected peer",
			selected:     bob,
			msg:          models.Message{ID: "m1", SenderID: "bob", ReceiverID: "me", Text: "hi"},
			wantMessages: 1,
			wantUnread:   map[string]int{},
		},
		{
			name:         "from another peer",
			selected:     bob,
			msg:          models.Message{ID: "m1", SenderID: "carol", ReceiverID: "me", Text: "hi"},
			wantMessages: 0,
			wantUnread:   map[string]int{"carol": 1},
		},
		{
			name:         "no conversation open",
			selected:     nil,
			msg:          models.Message{ID: "m1", SenderID: "bob", ReceiverID: "me", Text: "hi"},
			wantMessages: 0,
			wantUnread:   map[string]int{"bob": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			s.SelectPeer(tt.selected)

			if err := s.HandleEvent(event(t, EventNewMessage, tt.msg)); err != nil {
				t.Fatalf("HandleEvent failed: %v", err)
			}

			v := s.View()
			if len(v.Messages) != tt.wantMessages {
				t.Errorf("Expected %d messages, got %d", tt.wantMessages, len(v.Messages))
			}
			if !reflect.DeepEqual(v.Unread, tt.wantUnread) {
				t.Errorf("Expected unread %v, got %v", tt.wantUnread, v.Unread)
			}
		})
	}
}

func TestSelectPeerClearsUnreadAndMessages(t *testing.T) {
	s := NewState()
	s.SelectPeer(&models.User{ID: "bob"})
	s.ReceiveMessage(models.Message{ID: "m1", SenderID: "bob", Text: "hi"})
	s.ReceiveMessage(models.Message{ID: "m2", SenderID: "carol", Text: "hey"})
	s.ReceiveMessage(models.Message{ID: "m3", SenderID: "carol", Text: "you there?"})

	if got := s.View().Unread["carol"]; got != 2 {
		t.Fatalf("Expected 2 unread from carol, got %d", got)
	}

	s.SelectPeer(&models.User{ID: "carol"})
	v := s.View()
	if len(v.Messages) != 0 {
		t.Errorf("Expected message list to reset on switch, got %d", len(v.Messages))
	}
	if _, ok := v.Unread["carol"]; ok {
		t.Errorf("Expected carol's unread count to be cleared, got %v", v.Unread)
	}
	if v.SelectedPeer == nil || v.SelectedPeer.ID != "carol" {
		t.Errorf("Expected carol selected, got %+v", v.SelectedPeer)
	}
}

func TestSetMessagesIgnoresStaleFetch(t *testing.T) {
	s := NewState()
	s.SelectPeer(&models.User{ID: "bob"})
	s.SelectPeer(&models.User{ID: "carol"})

	if s.SetMessages("bob", []models.Message{{ID: "m1", SenderID: "bob"}}) {
		t.Error("Expected history for a deselected peer to be discarded")
	}
	if !s.SetMessages("carol", []models.Message{{ID: "m2", SenderID: "carol"}}) {
		t.Error("Expected history for the selected peer to be installed")
	}
	if got := s.View().Messages; len(got) != 1 || got[0].ID != "m2" {
		t.Errorf("Unexpected messages: %+v", got)
	}
}

func TestSetMessagesKeepsLiveMessages(t *testing.T) {
	s := NewState()
	s.SelectPeer(&models.User{ID: "bob"})

	// Both arrive live, but only m2 was stored before the history query ran.
	s.ReceiveMessage(models.Message{ID: "m2", SenderID: "bob", Text: "second"})
	s.ReceiveMessage(models.Message{ID: "m3", SenderID: "bob", Text: "third"})

	history := []models.Message{
		{ID: "m1", SenderID: "bob", Text: "first"},
		{ID: "m2", SenderID: "bob", Text: "second"},
	}
	if !s.SetMessages("bob", history) {
		t.Fatal("Expected history for the selected peer to be installed")
	}

	var ids []string
	for _, m := range s.View().Messages {
		ids = append(ids, m.ID)
	}
	if want := []string{"m1", "m2", "m3"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("Expected %v, got %v", want, ids)
	}
}

func TestOutboundLifecycle(t *testing.T) {
	s := NewState()
	s.SelectPeer(&models.User{ID: "bob"})

	id := s.BeginSend("bob", Draft{Text: "hello"})
	v := s.View()
	if len(v.Outbox) != 1 || v.Outbox[0].Status != OutboundSending {
		t.Fatalf("Expected one sending entry, got %+v", v.Outbox)
	}
	if len(v.Messages) != 0 {
		t.Fatal("Message list must not grow before the server accepts the send")
	}

	stored := models.Message{ID: "m1", SenderID: "me", ReceiverID: "bob", Text: "hello"}
	s.CompleteSend(id, stored)

	v = s.View()
	if v.Outbox[0].Status != OutboundSent || v.Outbox[0].Message == nil || v.Outbox[0].Message.ID != "m1" {
		t.Errorf("Expected sent entry with stored message, got %+v", v.Outbox[0])
	}
	if len(v.Messages) != 1 || v.Messages[0].ID != "m1" {
		t.Errorf("Expected stored message appended, got %+v", v.Messages)
	}

	// A late failure cannot move a finished send.
	s.FailSend(id, errors.New("late"))
	if got := s.View().Outbox[0].Status; got != OutboundSent {
		t.Errorf("Expected status to stay sent, got %s", got)
	}

	failed := s.BeginSend("bob", Draft{Image: "data:image/png;base64,AAAA"})
	cause := errors.New("boom")
	s.FailSend(failed, cause)
	v = s.View()
	if v.Outbox[1].Status != OutboundFailed || !errors.Is(v.Outbox[1].Err, cause) {
		t.Errorf("Expected failed entry, got %+v", v.Outbox[1])
	}
	if len(v.Messages) != 1 {
		t.Errorf("Failed send must not append, got %d messages", len(v.Messages))
	}
}

func TestCompleteSendAfterPeerSwitch(t *testing.T) {
	s := NewState()
	s.SelectPeer(&models.User{ID: "bob"})
	id := s.BeginSend("bob", Draft{Text: "hello"})
	s.SelectPeer(&models.User{ID: "carol"})

	s.CompleteSend(id, models.Message{ID: "m1", SenderID: "me", ReceiverID: "bob", Text: "hello"})

	v := s.View()
	if len(v.Messages) != 0 {
		t.Errorf("Expected carol's conversation to stay empty, got %+v", v.Messages)
	}
	if v.Outbox[0].Status != OutboundSent {
		t.Errorf("Expected send to be recorded as sent, got %s", v.Outbox[0].Status)
	}
}

func TestSelfMessageIsNotDuplicated(t *testing.T) {
	s := NewState()
	s.SelectPeer(&models.User{ID: "me"})

	msg := models.Message{ID: "m1", SenderID: "me", ReceiverID: "me", Text: "note to self"}
	id := s.BeginSend("me", Draft{Text: msg.Text})
	s.CompleteSend(id, msg)
	s.ReceiveMessage(msg)

	if got := s.View().Messages; len(got) != 1 {
		t.Errorf("Expected one message, got %d", len(got))
	}
}

func TestOutboxIsBounded(t *testing.T) {
	s := NewState()
	for i := 0; i < maxOutbox+10; i++ {
		s.BeginSend("bob", Draft{Text: "x"})
	}
	v := s.View()
	if len(v.Outbox) != maxOutbox {
		t.Fatalf("Expected %d entries, got %d", maxOutbox, len(v.Outbox))
	}
	if v.Outbox[len(v.Outbox)-1].ID != maxOutbox+10 {
		t.Errorf("Expected newest entry to be kept, got id %d", v.Outbox[len(v.Outbox)-1].ID)
	}
}

func TestHandleFrame(t *testing.T) {
	s := NewState()
	s.SelectPeer(&models.User{ID: "bob"})

	frame := []byte(`{"event":"getOnlineUsers","data":["bob","me"]}` + "\n" +
		`{"event":"newMessage","data":{"id":"m1","senderId":"bob","receiverId":"me","text":"hi"}}` + "\n" +
		`{"event":"somethingElse","data":{}}`)

	events, err := s.HandleFrame(frame)
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("Expected 3 events, got %d", len(events))
	}

	v := s.View()
	if !reflect.DeepEqual(v.OnlineUsers, []string{"bob", "me"}) {
		t.Errorf("Unexpected online users: %v", v.OnlineUsers)
	}
	if len(v.Messages) != 1 || v.Messages[0].Text != "hi" {
		t.Errorf("Unexpected messages: %+v", v.Messages)
	}

	if _, err := s.HandleFrame([]byte(`{"event":"getOnlineUsers","data":"nope"}`)); err == nil {
		t.Error("Expected error for malformed presence payload")
	}
	if _, err := s.HandleFrame([]byte(`not json`)); err == nil {
		t.Error("Expected error for malformed frame")
	}
}

func TestResetClearsSession(t *testing.T) {
	s := NewState()
	s.SetAuthUser(&models.User{ID: "me"})
	s.SetOnlineUsers([]string{"me"})
	s.SetUsers([]models.User{{ID: "bob"}})
	s.SelectPeer(&models.User{ID: "bob"})
	s.ReceiveMessage(models.Message{ID: "m1", SenderID: "carol"})

	s.Reset()

	v := s.View()
	if v.AuthUser != nil || v.SelectedPeer != nil || len(v.Users) != 0 || len(v.OnlineUsers) != 0 || len(v.Unread) != 0 {
		t.Errorf("Expected cleared state, got %+v", v)
	}
}

func TestViewIsACopy(t *testing.T) {
	s := NewState()
	s.SetOnlineUsers([]string{"a"})
	s.SetAuthUser(&models.User{ID: "me", FullName: "Me"})

	v := s.View()
	v.OnlineUsers[0] = "mutated"
	v.AuthUser.FullName = "mutated"

	again := s.View()
	if again.OnlineUsers[0] != "a" || again.AuthUser.FullName != "Me" {
		t.Errorf("View must not alias internal state, got %+v", again)
	}
}

func TestOutboundStatusString(t *testing.T) {
	tests := map[OutboundStatus]string{
		OutboundIdle:       "idle",
		OutboundSending:    "sending",
		OutboundSent:       "sent",
		OutboundFailed:     "failed",
		OutboundStatus(42): "OutboundStatus(42)",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
