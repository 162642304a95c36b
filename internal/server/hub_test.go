package server_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/dmchat/internal/apperr"
	"github.com/Tyrowin/dmchat/internal/config"
	"github.com/Tyrowin/dmchat/internal/models"
	"github.com/Tyrowin/dmchat/internal/server"
)

func startHub(t *testing.T) *server.Hub {
	t.Helper()
	hub := server.NewHub(zerolog.Nop())
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })
	return hub
}

// newTestClient creates a client without a socket; events are read from its send channel.
func newTestClient(hub *server.Hub, userID string) *server.Client {
	return server.NewClient(nil, hub, userID, "test:"+userID, config.NewConfig())
}

func readEvent(t *testing.T, c *server.Client) server.Event {
	t.Helper()
	select {
	case payload, ok := <-c.GetSendChan():
		if !ok {
			t.Fatalf("Send channel of %s closed unexpectedly", c.UserID())
		}
		var event server.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("Failed to decode event: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatalf("Timed out waiting for event on %s", c.UserID())
	}
	return server.Event{}
}

func readPresence(t *testing.T, c *server.Client) []string {
	t.Helper()
	event := readEvent(t, c)
	if event.Event != server.EventOnlineUsers {
		t.Fatalf("Expected %s event, got %s", server.EventOnlineUsers, event.Event)
	}
	var ids []string
	if err := json.Unmarshal(event.Data, &ids); err != nil {
		t.Fatalf("Failed to decode online users: %v", err)
	}
	return ids
}

func expectClosed(t *testing.T, c *server.Client) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-c.GetSendChan():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("Expected send channel of %s to be closed", c.UserID())
		}
	}
}

func expectNoEvent(t *testing.T, c *server.Client) {
	t.Helper()
	select {
	case payload, ok := <-c.GetSendChan():
		if ok {
			t.Fatalf("Expected no event for %s, got %s", c.UserID(), string(payload))
		}
		t.Fatalf("Send channel of %s closed unexpectedly", c.UserID())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegisterBroadcastsPresence(t *testing.T) {
	hub := startHub(t)

	alice := newTestClient(hub, "alice")
	if err := hub.Register(alice); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if got := readPresence(t, alice); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Expected [alice], got %v", got)
	}

	bob := newTestClient(hub, "bob")
	if err := hub.Register(bob); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	want := []string{"alice", "bob"}
	for _, c := range []*server.Client{alice, bob} {
		if got := readPresence(t, c); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: expected %v, got %v", c.UserID(), want, got)
		}
	}

	if got := hub.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected snapshot %v, got %v", want, got)
	}
	if hub.Count() != 2 || !hub.Online("bob") || hub.Online("carol") {
		t.Errorf("Unexpected registry state: count=%d", hub.Count())
	}
}

func TestUnregisterBroadcastsPresence(t *testing.T) {
	hub := startHub(t)

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	_ = hub.Register(alice)
	_ = hub.Register(bob)
	readPresence(t, alice)
	readPresence(t, alice)
	readPresence(t, bob)

	if err := hub.Unregister(bob); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	if got := readPresence(t, alice); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Expected [alice], got %v", got)
	}
	expectClosed(t, bob)

	// A second unregister changes nothing and broadcasts nothing.
	if err := hub.Unregister(bob); err != nil {
		t.Fatalf("Second unregister failed: %v", err)
	}
	expectNoEvent(t, alice)

	if got := hub.Snapshot(); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Expected snapshot [alice], got %v", got)
	}
}

func TestRegisterReplacesPreviousConnection(t *testing.T) {
	hub := startHub(t)

	first := newTestClient(hub, "alice")
	_ = hub.Register(first)
	readPresence(t, first)

	second := newTestClient(hub, "alice")
	if err := hub.Register(second); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	expectClosed(t, first)
	if got := readPresence(t, second); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Expected [alice], got %v", got)
	}
	if hub.Count() != 1 {
		t.Errorf("Expected 1 registered user, got %d", hub.Count())
	}

	// The superseded client unregistering late must not evict its replacement.
	if err := hub.Unregister(first); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if !hub.Online("alice") {
		t.Error("Expected alice to stay online")
	}
	expectNoEvent(t, second)

	payload, _ := server.NewMessageEvent(&models.Message{ID: "m1", SenderID: "bob", ReceiverID: "alice", Text: "hi"})
	delivered, err := hub.Deliver("alice", payload)
	if err != nil || !delivered {
		t.Fatalf("Expected delivery to the replacement, got %v, %v", delivered, err)
	}
	if event := readEvent(t, second); event.Event != server.EventNewMessage {
		t.Errorf("Expected %s, got %s", server.EventNewMessage, event.Event)
	}
}

func TestDeliver(t *testing.T) {
	hub := startHub(t)

	bob := newTestClient(hub, "bob")
	_ = hub.Register(bob)
	readPresence(t, bob)

	msg := &models.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Text: "hello"}

	t.Run("offline receiver", func(t *testing.T) {
		delivered, err := hub.NotifyMessage(t.Context(), "carol", msg)
		if err != nil || delivered {
			t.Errorf("Expected (false, nil) for offline user, got (%v, %v)", delivered, err)
		}
	})

	t.Run("online receiver", func(t *testing.T) {
		delivered, err := hub.NotifyMessage(t.Context(), "bob", msg)
		if err != nil || !delivered {
			t.Fatalf("Expected delivery, got (%v, %v)", delivered, err)
		}

		event := readEvent(t, bob)
		if event.Event != server.EventNewMessage {
			t.Fatalf("Expected %s, got %s", server.EventNewMessage, event.Event)
		}
		var got models.Message
		if err := json.Unmarshal(event.Data, &got); err != nil {
			t.Fatalf("Failed to decode message: %v", err)
		}
		if got.ID != "m1" || got.Text != "hello" || got.SenderID != "alice" {
			t.Errorf("Unexpected message: %+v", got)
		}
	})
}

func TestDeliverDropsSlowClient(t *testing.T) {
	hub := startHub(t)

	alice := newTestClient(hub, "alice")
	slow := newTestClient(hub, "slow")
	_ = hub.Register(alice)
	_ = hub.Register(slow)
	readPresence(t, alice)
	readPresence(t, alice)

	// The slow client never drains; one presence event already sits in its buffer.
	payload := []byte(`{"event":"newMessage","data":{}}`)
	var lastErr error
	for i := 0; i < 300; i++ {
		if _, err := hub.Deliver("slow", payload); err != nil {
			lastErr = err
			break
		}
	}

	if !errors.Is(lastErr, apperr.ErrTransport) {
		t.Fatalf("Expected transport error once the buffer is full, got %v", lastErr)
	}
	if hub.Online("slow") {
		t.Error("Expected slow client to be unregistered")
	}
	if got := readPresence(t, alice); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Expected [alice] after slow client removal, got %v", got)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	go hub.Run()

	alice := newTestClient(hub, "alice")
	_ = hub.Register(alice)
	readPresence(t, alice)

	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	expectClosed(t, alice)
	if hub.Count() != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d", hub.Count())
	}
	if err := hub.Register(newTestClient(hub, "bob")); !errors.Is(err, server.ErrHubClosed) {
		t.Errorf("Expected ErrHubClosed, got %v", err)
	}
	if err := hub.Unregister(alice); !errors.Is(err, server.ErrHubClosed) {
		t.Errorf("Expected ErrHubClosed, got %v", err)
	}
}

func TestConcurrentHubOperations(t *testing.T) {
	hub := startHub(t)

	const users = 20
	clients := make([]*server.Client, users)
	for i := range clients {
		clients[i] = newTestClient(hub, fmt.Sprintf("user-%02d", i))
	}

	// Drain every client so presence broadcasts never fill a buffer.
	var drainers sync.WaitGroup
	for _, c := range clients {
		drainers.Add(1)
		go func(c *server.Client) {
			defer drainers.Done()
			for range c.GetSendChan() {
			}
		}(c)
	}

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *server.Client) {
			defer wg.Done()
			if err := hub.Register(c); err != nil {
				t.Errorf("Register failed: %v", err)
				return
			}
			if i%2 == 0 {
				if err := hub.Unregister(c); err != nil {
					t.Errorf("Unregister failed: %v", err)
				}
			}
		}(i, c)
	}
	wg.Wait()

	if hub.Count() != users/2 {
		t.Errorf("Expected %d registered users, got %d", users/2, hub.Count())
	}
	for i, c := range clients {
		if hub.Online(c.UserID()) != (i%2 == 1) {
			t.Errorf("Unexpected presence for %s", c.UserID())
		}
	}

	if err := hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	drainers.Wait()
}
